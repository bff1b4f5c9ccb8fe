package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"finitefield.org/pcshop/internal/domain"
)

const metricNamespace = "finitefield.org/pcshop/internal/cart"

var (
	errStoreRemoteRequired = errors.New("cart store: remote is required")
	errStoreHubRequired    = errors.New("cart store: hub is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart store: invalid input")

// ErrCartUnavailable indicates the cart backend could not complete the request.
var ErrCartUnavailable = errors.New("cart store: unavailable")

// ErrCartNotFound indicates the requested cart line does not exist.
var ErrCartNotFound = errors.New("cart store: not found")

// StoreDeps wires the cart store.
type StoreDeps struct {
	Remote   Remote
	Hub      *Hub
	Events   EventPublisher
	Currency string
	Clock    func() time.Time
	Logger   func(context.Context, string, map[string]any)
	Meter    metric.Meter
}

// Store coordinates the guest blob, the remote cart and the broadcast hub.
type Store struct {
	remote    Remote
	hub       *Hub
	events    EventPublisher
	currency  string
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
	rollbacks metric.Int64Counter
}

// AddResult reports the outcome of a successful add.
type AddResult struct {
	Line  domain.LineItem
	Count int
}

// MergeResult reports how many guest lines moved into the user's remote cart.
type MergeResult struct {
	Merged int
	Failed int
	Count  int
}

// NewStore validates deps and constructs a Store.
func NewStore(deps StoreDeps) (*Store, error) {
	if deps.Remote == nil {
		return nil, errStoreRemoteRequired
	}
	if deps.Hub == nil {
		return nil, errStoreHubRequired
	}

	events := deps.Events
	if events == nil {
		events = NoopEventPublisher{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	rollbacks, err := meter.Int64Counter(
		"cart.optimistic_rollbacks",
		metric.WithDescription("Count of optimistic cart counter updates rolled back after a failed add"),
	)
	if err != nil {
		return nil, fmt.Errorf("cart store: register rollback counter: %w", err)
	}
	hub := deps.Hub
	if _, err := meter.Int64ObservableGauge(
		"cart.tracked_counters",
		metric.WithDescription("Cart counters held for owners with an open event stream"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(hub.Tracked()))
			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("cart store: register tracked counter gauge: %w", err)
	}

	return &Store{
		remote:    deps.Remote,
		hub:       deps.Hub,
		events:    events,
		currency:  currency,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
		rollbacks: rollbacks,
	}, nil
}

// Hub exposes the broadcast hub for subscribers.
func (s *Store) Hub() *Hub {
	return s.hub
}

// Lines returns the owner's cart. Guests read the local blob; malformed blobs are
// treated as empty.
func (s *Store) Lines(ctx context.Context, owner Owner, local LocalStorage) (domain.Lines, error) {
	if owner.Authenticated() {
		lines, err := s.remote.Lines(ctx, owner.Email)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
		if lines == nil {
			lines = domain.Lines{}
		}
		return lines, nil
	}
	return s.guestLines(ctx, local), nil
}

// Count returns the total quantity in the owner's cart.
func (s *Store) Count(ctx context.Context, owner Owner, local LocalStorage) (int, error) {
	lines, err := s.Lines(ctx, owner, local)
	if err != nil {
		return 0, err
	}
	return lines.Count(), nil
}

// DisplayCount returns the counter shown in the layout. Guests always read their blob,
// which may have been written by another instance, and open tabs are reconciled with
// it. Signed-in shoppers reuse the broadcast count while a tab is listening and read
// the remote cart otherwise. Storage failures read as zero.
func (s *Store) DisplayCount(ctx context.Context, owner Owner, local LocalStorage) int {
	key := owner.Key()
	if !owner.Authenticated() {
		n := s.guestLines(ctx, local).Count()
		s.hub.Sync(key, n)
		return n
	}
	if n, ok := s.hub.Count(key); ok {
		return n
	}
	n, err := s.Count(ctx, owner, nil)
	if err != nil {
		s.logger(ctx, "cart.count_failed", map[string]any{
			"ownerKey": key,
			"error":    err.Error(),
		})
		return 0
	}
	s.hub.Seed(key, n)
	return n
}

// AddItem adds qty of product to the owner's cart. The displayed count is raised
// before persisting and lowered again if persisting fails, in which case the error
// wraps ErrCartUnavailable.
func (s *Store) AddItem(ctx context.Context, owner Owner, local LocalStorage, product domain.Product, qty int) (AddResult, error) {
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return AddResult{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if qty <= 0 {
		return AddResult{}, fmt.Errorf("%w: quantity must be greater than zero", ErrCartInvalidInput)
	}
	if !owner.Authenticated() && strings.TrimSpace(owner.SessionID) == "" {
		return AddResult{}, fmt.Errorf("%w: session is required", ErrCartInvalidInput)
	}

	key := owner.Key()
	s.seed(ctx, owner, local)
	line := domain.LineFromProduct(product, qty, s.currency)
	s.hub.Adjust(key, qty, KindOptimistic, "")

	count, err := s.persistAdd(ctx, owner, local, line)
	if err != nil {
		s.hub.Adjust(key, -qty, KindRollback, RollbackMessage(product.Name))
		s.rollbacks.Add(ctx, 1, metric.WithAttributes(attribute.Bool("authenticated", owner.Authenticated())))
		s.logger(ctx, "cart.add_failed", map[string]any{
			"ownerKey":  key,
			"productId": productID,
			"quantity":  qty,
			"error":     err.Error(),
		})
		return AddResult{}, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
	}

	var evt Event
	if count >= 0 {
		evt = s.hub.Set(key, count, KindConfirmed)
	} else if _, ok := s.hub.Count(key); ok {
		evt = s.hub.Adjust(key, 0, KindConfirmed, "")
	} else {
		evt = s.hub.Set(key, qty, KindConfirmed)
	}

	s.publish(ctx, DomainEvent{
		Type:      EventLineAdded,
		OwnerKey:  key,
		ProductID: productID,
		Quantity:  qty,
		Count:     evt.Count,
	})
	return AddResult{Line: line, Count: evt.Count}, nil
}

// persistAdd writes the line and returns the exact new count, or -1 when the remote
// cart could not be read back after a successful write.
func (s *Store) persistAdd(ctx context.Context, owner Owner, local LocalStorage, line domain.LineItem) (int, error) {
	if owner.Authenticated() {
		if err := s.remote.Add(ctx, owner.Email, line); err != nil {
			return 0, err
		}
		n, err := s.Count(ctx, owner, nil)
		if err != nil {
			s.logger(ctx, "cart.recount_failed", map[string]any{
				"ownerKey": owner.Key(),
				"error":    err.Error(),
			})
			return -1, nil
		}
		return n, nil
	}
	lines := s.guestLines(ctx, local).Add(line)
	if err := saveLocal(local, lines); err != nil {
		return 0, err
	}
	return lines.Count(), nil
}

// RemoveItem deletes the line for productID and broadcasts the new count.
func (s *Store) RemoveItem(ctx context.Context, owner Owner, local LocalStorage, productID string) (int, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	key := owner.Key()

	var count int
	if owner.Authenticated() {
		if err := s.remote.Remove(ctx, owner.Email, productID); err != nil {
			if errors.Is(err, ErrCartNotFound) {
				return 0, fmt.Errorf("%w: product %s is not in the cart", ErrCartNotFound, productID)
			}
			return 0, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
		n, err := s.Count(ctx, owner, local)
		if err != nil {
			s.logger(ctx, "cart.recount_failed", map[string]any{
				"ownerKey": key,
				"error":    err.Error(),
			})
			current, _ := s.hub.Count(key)
			n = current
		}
		count = n
	} else {
		lines, removed := s.guestLines(ctx, local).Remove(productID)
		if !removed {
			return 0, fmt.Errorf("%w: product %s is not in the cart", ErrCartNotFound, productID)
		}
		if err := saveLocal(local, lines); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrCartUnavailable, err)
		}
		count = lines.Count()
	}

	s.hub.Set(key, count, KindChanged)
	s.publish(ctx, DomainEvent{
		Type:      EventLineRemoved,
		OwnerKey:  key,
		ProductID: productID,
		Count:     count,
	})
	return count, nil
}

// MergeOnLogin moves the guest cart of guestSessionID into the remote cart of user,
// whose SessionID is the regenerated post-login session. Lines that fail to merge
// stay in the local blob; merged lines are removed from it. Subscribers of the guest
// session are re-pointed to the user key.
func (s *Store) MergeOnLogin(ctx context.Context, guestSessionID string, user Owner, local LocalStorage) (MergeResult, error) {
	email := strings.TrimSpace(user.Email)
	if email == "" {
		return MergeResult{}, fmt.Errorf("%w: email is required", ErrCartInvalidInput)
	}
	owner := Owner{SessionID: user.SessionID, Email: email}

	pending := s.guestLines(ctx, local)
	var failed domain.Lines
	result := MergeResult{}
	for _, line := range pending {
		if err := s.remote.Add(ctx, email, line); err != nil {
			failed = append(failed, line)
			s.logger(ctx, "cart.merge_line_failed", map[string]any{
				"productId": line.ProductID,
				"error":     err.Error(),
			})
			continue
		}
		result.Merged++
	}
	result.Failed = len(failed)

	if len(pending) > 0 {
		if err := saveLocal(local, failed); err != nil {
			s.logger(ctx, "cart.merge_local_save_failed", map[string]any{
				"error": err.Error(),
			})
		}
	}

	userKey := owner.Key()
	s.hub.Rekey(GuestKey(guestSessionID), userKey, owner)
	count, err := s.Count(ctx, owner, nil)
	if err != nil {
		s.logger(ctx, "cart.merge_recount_failed", map[string]any{
			"ownerKey": userKey,
			"error":    err.Error(),
		})
	} else {
		result.Count = count
		s.hub.Set(userKey, count, KindChanged)
	}

	if result.Merged > 0 || result.Failed > 0 {
		s.publish(ctx, DomainEvent{
			Type:     EventMerged,
			OwnerKey: userKey,
			Count:    result.Count,
			Merged:   result.Merged,
			Failed:   result.Failed,
		})
	}
	return result, nil
}

// SignOut re-points the tabs of the signing-out session from the user key to the
// fresh guest session and sends them the guest count. Tabs of the shopper's other
// sessions stay on the user key. It returns the guest count.
func (s *Store) SignOut(ctx context.Context, user Owner, guestSessionID string, local LocalStorage) int {
	guest := Owner{SessionID: guestSessionID}
	count := s.guestLines(ctx, local).Count()
	if !user.Authenticated() {
		return count
	}
	if moved := s.hub.RekeySession(user.Key(), guest.Key(), user.SessionID, guest); moved > 0 {
		s.hub.Set(guest.Key(), count, KindChanged)
	}
	return count
}

// seed gives a listening owner a baseline before an optimistic adjustment. Guests are
// reconciled with their blob; signed-in owners read the remote cart once.
func (s *Store) seed(ctx context.Context, owner Owner, local LocalStorage) {
	key := owner.Key()
	if !s.hub.Subscribed(key) {
		return
	}
	if !owner.Authenticated() {
		s.hub.Sync(key, s.guestLines(ctx, local).Count())
		return
	}
	if _, ok := s.hub.Count(key); ok {
		return
	}
	n, err := s.Count(ctx, owner, nil)
	if err != nil {
		return
	}
	s.hub.Seed(key, n)
}

func (s *Store) guestLines(ctx context.Context, local LocalStorage) domain.Lines {
	lines, err := loadLocal(local)
	if err != nil {
		s.logger(ctx, "cart.local_blob_malformed", map[string]any{
			"severity": "debug",
			"reason":   err.Error(),
		})
	}
	return lines
}

func (s *Store) publish(ctx context.Context, evt DomainEvent) {
	evt.ID = ulid.Make().String()
	evt.OccurredAt = s.now()
	if err := s.events.PublishCartEvent(ctx, evt); err != nil {
		s.logger(ctx, "cart.event_publish_failed", map[string]any{
			"type":  evt.Type,
			"error": err.Error(),
		})
	}
}

// RollbackMessage is the shopper-facing text shown when an optimistic add is undone.
func RollbackMessage(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "We couldn't add that item to your cart. Please try again."
	}
	return fmt.Sprintf("We couldn't add %s to your cart. Please try again.", name)
}
