package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"finitefield.org/pcshop/internal/domain"
)

type captureRelay struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *captureRelay) Publish(_ context.Context, evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return c.err
}

func TestHubFanOutPerKey(t *testing.T) {
	hub := NewHub()
	a1, cancelA1 := hub.Subscribe("guest:a", Owner{SessionID: "a"})
	defer cancelA1()
	a2, cancelA2 := hub.Subscribe("guest:a", Owner{SessionID: "a"})
	defer cancelA2()
	b, cancelB := hub.Subscribe("guest:b", Owner{SessionID: "b"})
	defer cancelB()

	hub.Set("guest:a", 3, KindChanged)

	for _, ch := range []<-chan Event{a1, a2} {
		select {
		case evt := <-ch:
			if evt.Count != 3 || evt.Kind != KindChanged || evt.ID == "" {
				t.Fatalf("unexpected event %#v", evt)
			}
		default:
			t.Fatalf("expected event for every tab of the owner")
		}
	}
	select {
	case evt := <-b:
		t.Fatalf("other owner received %#v", evt)
	default:
	}
}

func TestHubSlowSubscriberDropsOldest(t *testing.T) {
	hub := NewHub(WithSubscriberBuffer(2))
	ch, cancel := hub.Subscribe("k", Owner{SessionID: "k"})
	defer cancel()

	for i := 1; i <= 5; i++ {
		hub.Set("k", i, KindChanged)
	}
	got := drain(ch)
	if len(got) != 2 || got[0].Count != 4 || got[1].Count != 5 {
		t.Fatalf("expected newest two events, got %#v", got)
	}
}

func TestHubAdjustNeverNegative(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("k", Owner{SessionID: "k"})
	defer cancel()
	hub.Seed("k", 1)
	hub.Seed("k", 10)
	if evt := hub.Adjust("k", -5, KindRollback, "oops"); evt.Count != 0 || evt.Message != "oops" {
		t.Fatalf("unexpected event %#v", evt)
	}
	if n, ok := hub.Count("k"); !ok || n != 0 {
		t.Fatalf("Count = %d, %v", n, ok)
	}
}

func TestHubCancelIsIdempotentAndCloses(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe("k", Owner{SessionID: "k"})
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if owners := hub.ActiveOwners(); len(owners) != 0 {
		t.Fatalf("expected no active owners, got %#v", owners)
	}
	hub.Set("k", 1, KindChanged)
	if _, ok := hub.Count("k"); ok {
		t.Fatalf("closed key must not keep a count")
	}
}

func TestHubTracksCountsOnlyWhileSubscribed(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 100; i++ {
		key := GuestKey(fmt.Sprintf("visitor-%d", i))
		hub.Seed(key, 1)
		hub.Set(key, 2, KindChanged)
		hub.Adjust(key, 1, KindOptimistic, "")
		hub.Sync(key, 4)
	}
	if len(hub.counts) != 0 {
		t.Fatalf("expected no tracked counts without subscribers, got %d", len(hub.counts))
	}

	ch, cancel := hub.Subscribe("guest:tab", Owner{SessionID: "tab"})
	hub.Seed("guest:tab", 2)
	if n, ok := hub.Count("guest:tab"); !ok || n != 2 {
		t.Fatalf("Count = %d, %v", n, ok)
	}
	if hub.Sync("guest:tab", 2) {
		t.Fatalf("unchanged count must not broadcast")
	}
	if !hub.Sync("guest:tab", 5) {
		t.Fatalf("changed count must broadcast")
	}
	got := drain(ch)
	if len(got) != 1 || got[0].Kind != KindReconciled || got[0].Count != 5 {
		t.Fatalf("unexpected sync events %#v", got)
	}

	cancel()
	if _, ok := hub.Count("guest:tab"); ok || len(hub.counts) != 0 {
		t.Fatalf("expected count dropped with the last subscriber, got %v", hub.counts)
	}
}

func TestHubRekeySessionMovesOnlyThatSession(t *testing.T) {
	hub := NewHub()
	laptopTab, cancelLaptop := hub.Subscribe(UserKey("a@example.com"), Owner{SessionID: "laptop", Email: "a@example.com"})
	defer cancelLaptop()
	phoneTab, cancelPhone := hub.Subscribe(UserKey("a@example.com"), Owner{SessionID: "phone", Email: "a@example.com"})
	defer cancelPhone()
	hub.Seed(UserKey("a@example.com"), 3)

	guest := Owner{SessionID: "laptop-guest"}
	if moved := hub.RekeySession(UserKey("a@example.com"), guest.Key(), "laptop", guest); moved != 1 {
		t.Fatalf("expected one subscriber moved, got %d", moved)
	}
	hub.Set(guest.Key(), 0, KindChanged)
	hub.Set(UserKey("a@example.com"), 4, KindChanged)

	if got := drain(laptopTab); len(got) != 1 || got[0].Key != guest.Key() || got[0].Count != 0 {
		t.Fatalf("signed-out tab should follow the guest key, got %#v", got)
	}
	if got := drain(phoneTab); len(got) != 1 || got[0].Key != UserKey("a@example.com") || got[0].Count != 4 {
		t.Fatalf("other session should stay on the user key, got %#v", got)
	}
	owners := hub.ActiveOwners()
	if len(owners) != 2 || owners[0].SessionID != "laptop-guest" || owners[1].SessionID != "phone" {
		t.Fatalf("unexpected owners %#v", owners)
	}
}

func TestHubRelaysOnlyLocalEvents(t *testing.T) {
	relay := &captureRelay{}
	hub := NewHub(WithHubClock(func() time.Time { return time.Unix(0, 0) }))
	hub.SetRelay(relay)
	_, cancel := hub.Subscribe("k", Owner{SessionID: "k"})
	defer cancel()

	hub.Set("k", 1, KindChanged)
	hub.Publish(Event{Key: "k", Count: 2, Kind: KindChanged, Origin: "other-instance"})

	if len(relay.events) != 1 || relay.events[0].Count != 1 {
		t.Fatalf("expected only the local event relayed, got %#v", relay.events)
	}
	if n, _ := hub.Count("k"); n != 2 {
		t.Fatalf("remote event should update the count, got %d", n)
	}

	relay.err = errors.New("redis down")
	hub.Set("k", 3, KindChanged)
	if n, _ := hub.Count("k"); n != 3 {
		t.Fatalf("relay failure must not affect local delivery, got %d", n)
	}
}

func TestRedisRelayHandleIgnoresEcho(t *testing.T) {
	hub := NewHub()
	relay := newRedisRelay(nil, hub, nil)
	ch, cancel := hub.Subscribe("user:a@example.com", Owner{Email: "a@example.com"})
	defer cancel()

	own := `{"key":"user:a@example.com","count":9,"kind":"changed","origin":"` + relay.Origin() + `"}`
	if relay.handle(context.Background(), own) {
		t.Fatalf("own echo should be ignored")
	}
	if relay.handle(context.Background(), "not-json") {
		t.Fatalf("malformed payload should be ignored")
	}
	remote := `{"key":"user:a@example.com","count":4,"kind":"confirmed","origin":"peer"}`
	if !relay.handle(context.Background(), remote) {
		t.Fatalf("expected remote event delivered")
	}
	got := drain(ch)
	if len(got) != 1 || got[0].Count != 4 || got[0].Kind != KindConfirmed {
		t.Fatalf("unexpected delivery %#v", got)
	}
}

func TestPollerReconcilesAuthenticatedOwners(t *testing.T) {
	ctx := context.Background()
	remote := newStubRemote()
	store := newTestStore(t, remote, nil)
	hub := store.Hub()

	user := Owner{SessionID: "s1", Email: "a@example.com"}
	userCh, cancelUser := hub.Subscribe(user.Key(), user)
	defer cancelUser()
	guest := Owner{SessionID: "s2"}
	_, cancelGuest := hub.Subscribe(guest.Key(), guest)
	defer cancelGuest()
	hub.Seed(user.Key(), 1)

	remote.carts["a@example.com"] = domain.Lines{{ProductID: "1", Quantity: 1}, {ProductID: "2", Quantity: 2}}
	poller := NewPoller(store, time.Hour, nil)

	if changed := poller.Reconcile(ctx); changed != 1 {
		t.Fatalf("expected 1 change, got %d", changed)
	}
	got := drain(userCh)
	if len(got) != 1 || got[0].Kind != KindReconciled || got[0].Count != 3 {
		t.Fatalf("unexpected reconcile event %#v", got)
	}
	if changed := poller.Reconcile(ctx); changed != 0 {
		t.Fatalf("expected no change on second pass, got %d", changed)
	}

	remote.linesErr = errors.New("timeout")
	if changed := poller.Reconcile(ctx); changed != 0 {
		t.Fatalf("expected failures to be skipped, got %d", changed)
	}
}

func TestDecodeBlobCollapsesDuplicates(t *testing.T) {
	lines, err := DecodeBlob(`[{"productId":"7","quantity":1},{"productId":"7","quantity":1},{"productId":"","quantity":3},{"productId":"8","quantity":0}]`)
	if err != nil {
		t.Fatalf("DecodeBlob: %v", err)
	}
	if len(lines) != 1 || lines[0].Quantity != 2 {
		t.Fatalf("unexpected lines %#v", lines)
	}
	if _, err := DecodeBlob(`{"productId":"7"}`); err == nil {
		t.Fatalf("expected error for non-array blob")
	}
	blob, err := EncodeBlob(nil)
	if err != nil || blob != "[]" {
		t.Fatalf("EncodeBlob(nil) = %q, %v", blob, err)
	}
}

func TestOwnerKeys(t *testing.T) {
	if got := (Owner{SessionID: "abc", Email: " A@Example.com "}).Key(); got != "user:a@example.com" {
		t.Fatalf("user key = %q", got)
	}
	if got := (Owner{SessionID: "abc"}).Key(); got != "guest:abc" {
		t.Fatalf("guest key = %q", got)
	}
}
