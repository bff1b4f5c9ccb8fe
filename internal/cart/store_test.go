package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"finitefield.org/pcshop/internal/domain"
)

type stubRemote struct {
	mu        sync.Mutex
	carts     map[string]domain.Lines
	addErr    error
	failIDs   map[string]bool
	linesErr  error
	linesFail int
	addCalls  int
	removeErr error
}

func newStubRemote() *stubRemote {
	return &stubRemote{carts: make(map[string]domain.Lines), failIDs: make(map[string]bool)}
}

func (s *stubRemote) Lines(_ context.Context, email string) (domain.Lines, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.linesErr != nil {
		return nil, s.linesErr
	}
	if s.linesFail > 0 {
		s.linesFail--
		return nil, errors.New("remote timeout")
	}
	return s.carts[email].Clone(), nil
}

func (s *stubRemote) Add(_ context.Context, email string, line domain.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addCalls++
	if s.addErr != nil {
		return s.addErr
	}
	if s.failIDs[line.ProductID] {
		return fmt.Errorf("remote rejected %s", line.ProductID)
	}
	s.carts[email] = s.carts[email].Add(line)
	return nil
}

func (s *stubRemote) Remove(_ context.Context, email, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}
	lines, removed := s.carts[email].Remove(productID)
	if !removed {
		return fmt.Errorf("remote: %w", ErrCartNotFound)
	}
	s.carts[email] = lines
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []DomainEvent
	err    error
}

func (r *recordingPublisher) PublishCartEvent(_ context.Context, evt DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Type)
	}
	return out
}

func newTestStore(t *testing.T, remote Remote, events EventPublisher) *Store {
	t.Helper()
	store, err := NewStore(StoreDeps{
		Remote:   remote,
		Hub:      NewHub(WithSubscriberBuffer(16)),
		Events:   events,
		Currency: "usd",
		Clock: func() time.Time {
			return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func laptop(id string) domain.Product {
	return domain.Product{ID: id, Name: "Laptop " + id, Price: domain.Float(999)}
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestNewStoreRequiresDeps(t *testing.T) {
	if _, err := NewStore(StoreDeps{Hub: NewHub()}); !errors.Is(err, errStoreRemoteRequired) {
		t.Fatalf("expected remote required error, got %v", err)
	}
	if _, err := NewStore(StoreDeps{Remote: newStubRemote()}); !errors.Is(err, errStoreHubRequired) {
		t.Fatalf("expected hub required error, got %v", err)
	}
}

func TestAddItemGuestMergesSameProduct(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newStubRemote(), nil)
	local := NewMemoryStorage()
	owner := Owner{SessionID: "sess-1"}

	if _, err := store.AddItem(ctx, owner, local, laptop("7"), 1); err != nil {
		t.Fatalf("first add: %v", err)
	}
	res, err := store.AddItem(ctx, owner, local, laptop("7"), 1)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("expected count 2, got %d", res.Count)
	}

	lines, err := store.Lines(ctx, owner, local)
	if err != nil {
		t.Fatalf("Lines: %v", err)
	}
	if len(lines) != 1 || lines[0].ProductID != "7" || lines[0].Quantity != 2 {
		t.Fatalf("unexpected lines %#v", lines)
	}
	if lines[0].Currency != "USD" {
		t.Fatalf("expected fallback currency, got %q", lines[0].Currency)
	}
	raw, ok := local.Get(LocalCartKey)
	if !ok || !strings.Contains(raw, `"productId":"7"`) {
		t.Fatalf("expected blob under %s, got %q", LocalCartKey, raw)
	}
}

func TestAddItemBroadcastsOptimisticThenConfirmed(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	remote.carts["a@example.com"] = domain.Lines{{ProductID: "1", Quantity: 2}}
	store := newTestStore(t, remote, nil)
	owner := Owner{SessionID: "s", Email: "a@example.com"}

	events, cancel := store.Hub().Subscribe(owner.Key(), owner)
	defer cancel()

	res, err := store.AddItem(ctx, owner, nil, laptop("9"), 3)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if res.Count != 5 {
		t.Fatalf("expected count previous+qty=5, got %d", res.Count)
	}

	got := drain(events)
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %#v", got)
	}
	if got[0].Kind != KindOptimistic || got[0].Count != 5 {
		t.Fatalf("unexpected optimistic event %#v", got[0])
	}
	if got[1].Kind != KindConfirmed || got[1].Count != 5 {
		t.Fatalf("unexpected confirmed event %#v", got[1])
	}
}

func TestAddItemRollsBackOnRemoteFailure(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	remote.carts["a@example.com"] = domain.Lines{{ProductID: "1", Quantity: 4}}
	store := newTestStore(t, remote, nil)
	owner := Owner{SessionID: "s", Email: "a@example.com"}

	events, cancel := store.Hub().Subscribe(owner.Key(), owner)
	defer cancel()

	remote.addErr = errors.New("upstream 503")
	_, err := store.AddItem(ctx, owner, nil, laptop("9"), 2)
	if !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected ErrCartUnavailable, got %v", err)
	}

	got := drain(events)
	if len(got) != 2 {
		t.Fatalf("expected optimistic and rollback events, got %#v", got)
	}
	if got[0].Kind != KindOptimistic || got[0].Count != 6 {
		t.Fatalf("unexpected optimistic event %#v", got[0])
	}
	if got[1].Kind != KindRollback || got[1].Count != 4 {
		t.Fatalf("expected rollback to pre-add count 4, got %#v", got[1])
	}
	if !strings.Contains(got[1].Message, "Laptop 9") {
		t.Fatalf("expected rollback message to name the product, got %q", got[1].Message)
	}
	if n, _ := store.Hub().Count(owner.Key()); n != 4 {
		t.Fatalf("hub count = %d, want 4", n)
	}
}

func TestAddItemConfirmsRemoteTotal(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	remote.carts["a@example.com"] = domain.Lines{{ProductID: "1", Quantity: 4}}
	store := newTestStore(t, remote, nil)
	owner := Owner{SessionID: "s", Email: "a@example.com"}

	// Nobody listening: nothing is seeded, the confirmed count still comes from the remote cart.
	res, err := store.AddItem(ctx, owner, nil, laptop("2"), 1)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if res.Count != 5 {
		t.Fatalf("expected remote total 5, got %d", res.Count)
	}

	// A listening tab whose baseline read failed is corrected by the confirmation.
	events, cancel := store.Hub().Subscribe(owner.Key(), owner)
	defer cancel()
	remote.linesFail = 1
	res, err = store.AddItem(ctx, owner, nil, laptop("3"), 2)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if res.Count != 7 {
		t.Fatalf("expected remote total 7, got %d", res.Count)
	}
	got := drain(events)
	if len(got) != 2 || got[0].Count != 2 || got[1].Kind != KindConfirmed || got[1].Count != 7 {
		t.Fatalf("unexpected events %#v", got)
	}
}

func TestAddItemValidatesInput(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newStubRemote(), nil)
	owner := Owner{SessionID: "s"}

	if _, err := store.AddItem(ctx, owner, NewMemoryStorage(), domain.Product{}, 1); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for empty id, got %v", err)
	}
	if _, err := store.AddItem(ctx, owner, NewMemoryStorage(), laptop("1"), 0); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for zero qty, got %v", err)
	}
	if _, err := store.AddItem(ctx, Owner{}, NewMemoryStorage(), laptop("1"), 1); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input without session, got %v", err)
	}
}

func TestGuestMalformedBlobIsEmptyCart(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newStubRemote(), nil)
	local := NewMemoryStorage()
	_ = local.Set(LocalCartKey, "{not json")

	lines, err := store.Lines(ctx, Owner{SessionID: "s"}, local)
	if err != nil {
		t.Fatalf("Lines: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected empty cart, got %#v", lines)
	}

	res, err := store.AddItem(ctx, Owner{SessionID: "s"}, local, laptop("3"), 1)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if res.Count != 1 {
		t.Fatalf("expected count 1, got %d", res.Count)
	}
}

func TestRemoveItem(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	remote.carts["a@example.com"] = domain.Lines{{ProductID: "1", Quantity: 1}, {ProductID: "2", Quantity: 3}}
	events := &recordingPublisher{}
	store := newTestStore(t, remote, events)
	user := Owner{SessionID: "s", Email: "a@example.com"}

	count, err := store.RemoveItem(ctx, user, nil, "1")
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
	if _, err := store.RemoveItem(ctx, user, nil, "1"); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	remote.removeErr = errors.New("boom")
	if _, err := store.RemoveItem(ctx, user, nil, "2"); !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}

	guest := Owner{SessionID: "g"}
	local := NewMemoryStorage()
	if _, err := store.AddItem(ctx, guest, local, laptop("5"), 1); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if count, err := store.RemoveItem(ctx, guest, local, "5"); err != nil || count != 0 {
		t.Fatalf("guest remove = %d, %v", count, err)
	}
	if _, ok := local.Get(LocalCartKey); ok {
		t.Fatalf("expected blob removed once the cart is empty")
	}
	if _, err := store.RemoveItem(ctx, guest, local, "5"); !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected not found for guest, got %v", err)
	}

	want := []string{EventLineRemoved, EventLineAdded, EventLineRemoved}
	if got := events.types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestMergeOnLogin(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	remote.carts["a@example.com"] = domain.Lines{{ProductID: "1", Quantity: 1}}
	remote.failIDs["3"] = true
	events := &recordingPublisher{}
	store := newTestStore(t, remote, events)

	local := NewMemoryStorage()
	guest := Owner{SessionID: "sess"}
	for _, id := range []string{"1", "2", "3"} {
		if _, err := store.AddItem(ctx, guest, local, laptop(id), 1); err != nil {
			t.Fatalf("AddItem %s: %v", id, err)
		}
	}
	tab, cancel := store.Hub().Subscribe(guest.Key(), guest)
	defer cancel()

	user := Owner{SessionID: "sess-2", Email: "a@example.com"}
	res, err := store.MergeOnLogin(ctx, "sess", user, local)
	if err != nil {
		t.Fatalf("MergeOnLogin: %v", err)
	}
	if res.Merged != 2 || res.Failed != 1 || res.Count != 3 {
		t.Fatalf("unexpected merge result %#v", res)
	}

	merged := remote.carts["a@example.com"]
	if line, ok := merged.Find("1"); !ok || line.Quantity != 2 {
		t.Fatalf("expected product 1 quantities to add up, got %#v", merged)
	}
	if len(merged) != 2 {
		t.Fatalf("expected one line per product, got %#v", merged)
	}

	leftover, _ := DecodeBlob(mustGet(t, local))
	if len(leftover) != 1 || leftover[0].ProductID != "3" {
		t.Fatalf("expected failed line to stay local, got %#v", leftover)
	}

	got := drain(tab)
	if len(got) == 0 || got[len(got)-1].Key != UserKey("a@example.com") || got[len(got)-1].Count != 3 {
		t.Fatalf("expected guest tab to be re-pointed at the user key, got %#v", got)
	}
	owners := store.Hub().ActiveOwners()
	if len(owners) != 1 || owners[0].Email != "a@example.com" || owners[0].SessionID != "sess-2" {
		t.Fatalf("unexpected active owners %#v", owners)
	}
	if types := events.types(); types[len(types)-1] != EventMerged {
		t.Fatalf("expected merged event last, got %v", types)
	}

	if _, err := store.MergeOnLogin(ctx, "sess", Owner{SessionID: "sess-2", Email: " "}, local); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input for empty email, got %v", err)
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	events := &recordingPublisher{err: errors.New("pubsub down")}
	store := newTestStore(t, newStubRemote(), events)
	if _, err := store.AddItem(context.Background(), Owner{SessionID: "s"}, NewMemoryStorage(), laptop("1"), 1); err != nil {
		t.Fatalf("AddItem should succeed despite publish failure: %v", err)
	}
}

func mustGet(t *testing.T, storage LocalStorage) string {
	t.Helper()
	raw, ok := storage.Get(LocalCartKey)
	if !ok {
		t.Fatalf("expected %s in storage", LocalCartKey)
	}
	return raw
}

func TestDisplayCountFollowsStorage(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	store := newTestStore(t, remote, nil)
	owner := Owner{SessionID: "s", Email: "a@example.com"}
	remote.carts["a@example.com"] = domain.Lines{{ProductID: "1", Quantity: 2}}

	if n := store.DisplayCount(ctx, owner, nil); n != 2 {
		t.Fatalf("DisplayCount = %d", n)
	}
	remote.carts["a@example.com"] = domain.Lines{{ProductID: "1", Quantity: 5}}
	if n := store.DisplayCount(ctx, owner, nil); n != 5 {
		t.Fatalf("expected a fresh remote read without listeners, got %d", n)
	}

	_, cancel := store.Hub().Subscribe(owner.Key(), owner)
	defer cancel()
	if n := store.DisplayCount(ctx, owner, nil); n != 5 {
		t.Fatalf("DisplayCount = %d", n)
	}
	remote.carts["a@example.com"] = domain.Lines{{ProductID: "1", Quantity: 6}}
	if n := store.DisplayCount(ctx, owner, nil); n != 5 {
		t.Fatalf("expected the broadcast count while a tab listens, got %d", n)
	}

	remote.linesErr = errors.New("timeout")
	other := Owner{SessionID: "s2", Email: "b@example.com"}
	if n := store.DisplayCount(ctx, other, nil); n != 0 {
		t.Fatalf("remote failure should read as zero, got %d", n)
	}

	guest := Owner{SessionID: "g"}
	local := NewMemoryStorage()
	_ = local.Set(LocalCartKey, "{broken")
	if n := store.DisplayCount(ctx, guest, local); n != 0 {
		t.Fatalf("malformed blob should count as empty, got %d", n)
	}
}

func TestGuestDisplayCountRereadsBlob(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, newStubRemote(), nil)
	guest := Owner{SessionID: "g"}
	local := NewMemoryStorage()

	if _, err := store.AddItem(ctx, guest, local, laptop("1"), 2); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if n := store.DisplayCount(ctx, guest, local); n != 2 {
		t.Fatalf("DisplayCount = %d", n)
	}
	if _, ok := store.Hub().Count(guest.Key()); ok {
		t.Fatalf("page views without a listening tab must not be tracked")
	}

	tab, cancel := store.Hub().Subscribe(guest.Key(), guest)
	defer cancel()
	if n := store.DisplayCount(ctx, guest, local); n != 2 {
		t.Fatalf("DisplayCount = %d", n)
	}

	// Another instance wrote the same cookie blob.
	blob, _ := EncodeBlob(domain.Lines{{ProductID: "1", Quantity: 2}, {ProductID: "4", Quantity: 1}})
	_ = local.Set(LocalCartKey, blob)
	if n := store.DisplayCount(ctx, guest, local); n != 3 {
		t.Fatalf("expected the blob to be re-read, got %d", n)
	}
	got := drain(tab)
	if len(got) != 1 || got[0].Kind != KindReconciled || got[0].Count != 3 {
		t.Fatalf("expected the open tab reconciled, got %#v", got)
	}
}

func TestSignOutMovesOnlyThatSession(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	remote.carts["a@example.com"] = domain.Lines{{ProductID: "1", Quantity: 3}}
	store := newTestStore(t, remote, nil)
	hub := store.Hub()

	laptopUser := Owner{SessionID: "laptop", Email: "a@example.com"}
	phoneUser := Owner{SessionID: "phone", Email: "a@example.com"}
	laptopTab, cancelLaptop := hub.Subscribe(laptopUser.Key(), laptopUser)
	defer cancelLaptop()
	phoneTab, cancelPhone := hub.Subscribe(phoneUser.Key(), phoneUser)
	defer cancelPhone()

	local := NewMemoryStorage()
	blob, _ := EncodeBlob(domain.Lines{{ProductID: "9", Quantity: 1}})
	_ = local.Set(LocalCartKey, blob)

	if n := store.SignOut(ctx, laptopUser, "laptop-guest", local); n != 1 {
		t.Fatalf("SignOut = %d, want guest count 1", n)
	}
	got := drain(laptopTab)
	if len(got) != 1 || got[0].Key != GuestKey("laptop-guest") || got[0].Count != 1 {
		t.Fatalf("expected the signed-out tab to get the guest count, got %#v", got)
	}
	if got := drain(phoneTab); len(got) != 0 {
		t.Fatalf("other session should not be touched, got %#v", got)
	}

	if _, err := store.AddItem(ctx, phoneUser, nil, laptop("2"), 1); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if got := drain(laptopTab); len(got) != 0 {
		t.Fatalf("signed-out tab must not follow the user cart, got %#v", got)
	}
	if got := drain(phoneTab); len(got) != 2 || got[1].Count != 4 {
		t.Fatalf("expected the phone tab to follow the user cart, got %#v", got)
	}

	if n := store.SignOut(ctx, Owner{SessionID: "anon"}, "anon-2", NewMemoryStorage()); n != 0 {
		t.Fatalf("guest sign-out = %d", n)
	}
}
