package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"finitefield.org/pcshop/internal/cart"
	"finitefield.org/pcshop/internal/domain"
	pfirestore "finitefield.org/pcshop/internal/platform/firestore"
)

const cartCollection = "carts"

// CartRepository stores one document per (email, product id) in the carts collection.
type CartRepository struct {
	provider *pfirestore.Provider
	now      func() time.Time
}

var _ cart.Remote = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		provider: provider,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

type cartLineDocument struct {
	Email     string    `firestore:"email"`
	ProductID string    `firestore:"productId"`
	Name      string    `firestore:"name,omitempty"`
	Price     float64   `firestore:"price"`
	Currency  string    `firestore:"currency,omitempty"`
	Image     string    `firestore:"image,omitempty"`
	Quantity  int       `firestore:"quantity"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// Lines returns the user's lines ordered by creation time.
func (r *CartRepository) Lines(ctx context.Context, email string) (domain.Lines, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	iter := client.Collection(cartCollection).Where("email", "==", email).Documents(ctx)
	defer iter.Stop()

	docs := make([]cartLineDocument, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, pfirestore.WrapError("carts.lines", err)
		}
		var doc cartLineDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("carts.lines: decode %s: %w", snap.Ref.ID, err)
		}
		docs = append(docs, doc)
	}
	return linesFromDocuments(docs), nil
}

// Add creates the line document or increments its quantity inside a transaction.
func (r *CartRepository) Add(ctx context.Context, email string, line domain.LineItem) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	email = normalizeEmail(email)
	productID := strings.TrimSpace(line.ProductID)
	if email == "" || productID == "" || line.Quantity <= 0 {
		return fmt.Errorf("%w: email, product id and positive quantity are required", cart.ErrCartInvalidInput)
	}
	ref := client.Collection(cartCollection).Doc(DocumentID(email, productID))
	now := r.now()

	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return tx.Create(ref, cartLineDocument{
				Email:     email,
				ProductID: productID,
				Name:      line.Name,
				Price:     line.Price,
				Currency:  line.Currency,
				Image:     line.Image,
				Quantity:  line.Quantity,
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
		if err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "quantity", Value: firestore.Increment(line.Quantity)},
			{Path: "updatedAt", Value: now},
		})
	})
}

// Remove deletes the line document. A missing document wraps cart.ErrCartNotFound.
func (r *CartRepository) Remove(ctx context.Context, email, productID string) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	ref := client.Collection(cartCollection).Doc(DocumentID(email, productID))
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(ref); err != nil {
			return err
		}
		return tx.Delete(ref)
	})
	if pfirestore.IsNotFound(err) {
		return fmt.Errorf("carts.remove %s: %w", productID, cart.ErrCartNotFound)
	}
	return err
}

// DocumentID derives the stable document id sha256(email)[:16]_productId.
func DocumentID(email, productID string) string {
	sum := sha256.Sum256([]byte(normalizeEmail(email)))
	id := strings.ReplaceAll(strings.TrimSpace(productID), "/", "_")
	return hex.EncodeToString(sum[:])[:16] + "_" + id
}

func linesFromDocuments(docs []cartLineDocument) domain.Lines {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})
	lines := domain.Lines{}
	for _, doc := range docs {
		if doc.ProductID == "" || doc.Quantity <= 0 {
			continue
		}
		lines = lines.Add(domain.LineItem{
			ProductID: doc.ProductID,
			Name:      doc.Name,
			Price:     doc.Price,
			Currency:  doc.Currency,
			Image:     doc.Image,
			Quantity:  doc.Quantity,
		})
	}
	return lines
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
