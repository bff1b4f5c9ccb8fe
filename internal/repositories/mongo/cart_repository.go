package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"finitefield.org/pcshop/internal/cart"
	"finitefield.org/pcshop/internal/domain"
)

const cartCollection = "carts"

// Connect dials uri and verifies the primary is reachable.
func Connect(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, nil, errors.New("mongo: uri is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return client, client.Database(database), nil
}

// CartRepository stores one document per (email, productId) in the carts collection.
type CartRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

var _ cart.Remote = (*CartRepository)(nil)

// NewCartRepository constructs a Mongo-backed cart repository.
func NewCartRepository(db *mongo.Database) (*CartRepository, error) {
	if db == nil {
		return nil, errors.New("cart repository requires mongo database")
	}
	return &CartRepository{
		collection: db.Collection(cartCollection),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

type cartLineDocument struct {
	Email     string    `bson:"email"`
	ProductID string    `bson:"productId"`
	Name      string    `bson:"name,omitempty"`
	Price     float64   `bson:"price"`
	Currency  string    `bson:"currency,omitempty"`
	Image     string    `bson:"image,omitempty"`
	Quantity  int       `bson:"quantity"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// EnsureIndexes creates the unique (email, productId) index.
func (r *CartRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}, {Key: "productId", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("email_product_unique"),
	})
	if err != nil {
		return fmt.Errorf("carts: ensure indexes: %w", err)
	}
	return nil
}

// Lines returns the user's lines ordered by creation time.
func (r *CartRepository) Lines(ctx context.Context, email string) (domain.Lines, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"email": normalizeEmail(email)}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("carts.lines: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []cartLineDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("carts.lines: decode: %w", err)
	}
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
	return lines, nil
}

// Add upserts the line, incrementing quantity when it already exists.
func (r *CartRepository) Add(ctx context.Context, email string, line domain.LineItem) error {
	filter, update, err := addUpdate(normalizeEmail(email), line, r.now())
	if err != nil {
		return err
	}
	if _, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("carts.add: %w", err)
	}
	return nil
}

// Remove deletes the line. Nothing deleted wraps cart.ErrCartNotFound.
func (r *CartRepository) Remove(ctx context.Context, email, productID string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{
		"email":     normalizeEmail(email),
		"productId": strings.TrimSpace(productID),
	})
	if err != nil {
		return fmt.Errorf("carts.remove: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("carts.remove %s: %w", productID, cart.ErrCartNotFound)
	}
	return nil
}

func addUpdate(email string, line domain.LineItem, now time.Time) (bson.M, bson.M, error) {
	productID := strings.TrimSpace(line.ProductID)
	if email == "" || productID == "" || line.Quantity <= 0 {
		return nil, nil, fmt.Errorf("%w: email, product id and positive quantity are required", cart.ErrCartInvalidInput)
	}
	filter := bson.M{"email": email, "productId": productID}
	update := bson.M{
		"$inc": bson.M{"quantity": line.Quantity},
		"$set": bson.M{
			"name":      line.Name,
			"price":     line.Price,
			"updatedAt": now,
		},
		"$setOnInsert": bson.M{
			"currency":  line.Currency,
			"image":     line.Image,
			"createdAt": now,
		},
	}
	return filter, update, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
