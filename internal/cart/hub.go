package cart

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventKind classifies a counter update.
type EventKind string

const (
	KindOptimistic EventKind = "optimistic"
	KindConfirmed  EventKind = "confirmed"
	KindRollback   EventKind = "rollback"
	KindReconciled EventKind = "reconciled"
	KindChanged    EventKind = "changed"
)

const defaultSubscriberBuffer = 8

// Event is a cart counter update broadcast to every open tab of an owner.
type Event struct {
	ID      string    `json:"id"`
	Key     string    `json:"key"`
	Count   int       `json:"count"`
	Kind    EventKind `json:"kind"`
	Message string    `json:"message,omitempty"`
	Origin  string    `json:"origin,omitempty"`
	At      time.Time `json:"at"`
}

// Relay forwards locally produced events to other instances.
type Relay interface {
	Publish(ctx context.Context, evt Event) error
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithSubscriberBuffer sets the per-subscriber channel capacity.
func WithSubscriberBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithHubLogger sets the structured logging hook.
func WithHubLogger(logger func(context.Context, string, map[string]any)) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHubClock overrides the event timestamp source.
func WithHubClock(now func() time.Time) HubOption {
	return func(h *Hub) {
		if now != nil {
			h.now = now
		}
	}
}

type subscriber struct {
	id    uint64
	owner Owner
	ch    chan Event
}

// Hub is an in-process broadcast of cart counts keyed by owner key. Slow subscribers
// lose their oldest buffered event instead of blocking publishers. A count is only
// tracked while its key has live subscribers, so plain page views leave nothing behind.
type Hub struct {
	mu     sync.Mutex
	counts map[string]int
	subs   map[string]map[uint64]*subscriber
	nextID uint64
	buffer int
	relay  Relay
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewHub constructs an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		counts: make(map[string]int),
		subs:   make(map[string]map[uint64]*subscriber),
		buffer: defaultSubscriberBuffer,
		now:    time.Now,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// SetRelay attaches a cross-instance relay. Pass nil to detach.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Subscribe registers a listener for key. The returned cancel function is idempotent
// and closes the channel.
func (h *Hub) Subscribe(key string, owner Owner) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &subscriber{id: h.nextID, owner: owner, ch: make(chan Event, h.buffer)}
	if h.subs[key] == nil {
		h.subs[key] = make(map[uint64]*subscriber)
	}
	h.subs[key][sub.id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.removeLocked(sub.id)
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

func (h *Hub) removeLocked(id uint64) {
	for key, group := range h.subs {
		if _, ok := group[id]; ok {
			delete(group, id)
			if len(group) == 0 {
				delete(h.subs, key)
				delete(h.counts, key)
			}
			return
		}
	}
}

// Subscribed reports whether key has at least one live subscriber.
func (h *Hub) Subscribed(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key]) > 0
}

// Tracked reports how many keys currently hold a count.
func (h *Hub) Tracked() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.counts)
}

// Count returns the last broadcast count for key while it has subscribers.
func (h *Hub) Count(key string) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.counts[key]
	return n, ok
}

// Seed records a baseline count without broadcasting. Existing counts are kept and
// keys without subscribers are ignored.
func (h *Hub) Seed(key string, count int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs[key]) == 0 {
		return
	}
	if _, ok := h.counts[key]; !ok {
		h.counts[key] = count
	}
}

// Sync reconciles the tracked count for key with a fresh read from storage. An
// untracked key is seeded silently; a differing count is broadcast as reconciled.
// It reports whether an event went out.
func (h *Hub) Sync(key string, count int) bool {
	if count < 0 {
		count = 0
	}
	h.mu.Lock()
	if len(h.subs[key]) == 0 {
		h.mu.Unlock()
		return false
	}
	current, ok := h.counts[key]
	if !ok || current == count {
		h.counts[key] = count
		h.mu.Unlock()
		return false
	}
	evt := h.newEventLocked(key, count, KindReconciled, "")
	relay := h.deliverLocked(evt)
	h.mu.Unlock()
	h.relayOut(relay, evt)
	return true
}

// Adjust moves the count for key by delta, never below zero, and broadcasts it.
func (h *Hub) Adjust(key string, delta int, kind EventKind, message string) Event {
	h.mu.Lock()
	count := h.counts[key] + delta
	if count < 0 {
		count = 0
	}
	evt := h.newEventLocked(key, count, kind, message)
	relay := h.deliverLocked(evt)
	h.mu.Unlock()
	h.relayOut(relay, evt)
	return evt
}

// Set replaces the count for key and broadcasts it.
func (h *Hub) Set(key string, count int, kind EventKind) Event {
	if count < 0 {
		count = 0
	}
	h.mu.Lock()
	evt := h.newEventLocked(key, count, kind, "")
	relay := h.deliverLocked(evt)
	h.mu.Unlock()
	h.relayOut(relay, evt)
	return evt
}

// Publish broadcasts a fully formed event. Events without an origin are local and are
// forwarded to the relay; events with an origin came from the relay and are not.
func (h *Hub) Publish(evt Event) {
	h.mu.Lock()
	if evt.ID == "" {
		evt.ID = ulid.Make().String()
	}
	if evt.At.IsZero() {
		evt.At = h.now().UTC()
	}
	relay := h.deliverLocked(evt)
	h.mu.Unlock()
	if evt.Origin == "" {
		h.relayOut(relay, evt)
	}
}

// Rekey moves every subscriber from one key to another and re-points them at owner.
// It is used when a guest session signs in.
func (h *Hub) Rekey(from, to string, owner Owner) int {
	return h.move(from, to, owner, func(*subscriber) bool { return true })
}

// RekeySession moves only the subscribers of from that were opened by sessionID. It
// is used on sign-out, where the shopper's other sessions keep the user key.
func (h *Hub) RekeySession(from, to, sessionID string, owner Owner) int {
	return h.move(from, to, owner, func(sub *subscriber) bool {
		return sub.owner.SessionID == sessionID
	})
}

func (h *Hub) move(from, to string, owner Owner, match func(*subscriber) bool) int {
	if from == to {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	moved := 0
	for id, sub := range h.subs[from] {
		if !match(sub) {
			continue
		}
		if h.subs[to] == nil {
			h.subs[to] = make(map[uint64]*subscriber)
		}
		sub.owner = owner
		h.subs[to][id] = sub
		delete(h.subs[from], id)
		moved++
	}
	if len(h.subs[from]) == 0 {
		delete(h.subs, from)
		delete(h.counts, from)
	}
	return moved
}

// ActiveOwners returns one owner per key that has at least one live subscriber,
// ordered by key.
func (h *Hub) ActiveOwners() []Owner {
	h.mu.Lock()
	defer h.mu.Unlock()
	keys := make([]string, 0, len(h.subs))
	for key, group := range h.subs {
		if len(group) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	owners := make([]Owner, 0, len(keys))
	for _, key := range keys {
		var first *subscriber
		for _, sub := range h.subs[key] {
			if first == nil || sub.id < first.id {
				first = sub
			}
		}
		owners = append(owners, first.owner)
	}
	return owners
}

func (h *Hub) newEventLocked(key string, count int, kind EventKind, message string) Event {
	return Event{
		ID:      ulid.Make().String(),
		Key:     key,
		Count:   count,
		Kind:    kind,
		Message: message,
		At:      h.now().UTC(),
	}
}

// deliverLocked fans evt out and tracks its count while the key has subscribers. It
// returns the relay to use.
func (h *Hub) deliverLocked(evt Event) Relay {
	group := h.subs[evt.Key]
	if len(group) == 0 {
		delete(h.counts, evt.Key)
		return h.relay
	}
	h.counts[evt.Key] = evt.Count
	for _, sub := range group {
		offer(sub.ch, evt)
	}
	return h.relay
}

func (h *Hub) relayOut(relay Relay, evt Event) {
	if relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := relay.Publish(ctx, evt); err != nil {
		h.logger(ctx, "cart.relay_publish_failed", map[string]any{
			"key":   evt.Key,
			"kind":  string(evt.Kind),
			"error": err.Error(),
		})
	}
}

// offer sends without blocking, discarding the oldest buffered event when full.
func offer(ch chan Event, evt Event) {
	for i := 0; i < 2; i++ {
		select {
		case ch <- evt:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
