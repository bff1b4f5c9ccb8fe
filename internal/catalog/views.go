package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"finitefield.org/pcshop/internal/domain"
)

// DefaultViewTTL is how long an idle live view survives before the sweeper drops it.
const DefaultViewTTL = 15 * time.Minute

// View is one live catalog session owned by a browser tab.
type View struct {
	ID         string
	Collection string
	Controller *Controller
	Updates    <-chan Result

	updates  chan Result
	lastSeen time.Time
}

// Views tracks live catalog controllers by opaque id.
type Views struct {
	mu    sync.Mutex
	views map[string]*View
	ttl   time.Duration
	now   func() time.Time
}

// NewViews builds an empty registry. A non-positive ttl uses DefaultViewTTL.
func NewViews(ttl time.Duration) *Views {
	if ttl <= 0 {
		ttl = DefaultViewTTL
	}
	return &Views{
		views: make(map[string]*View),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Open creates a controller for products and returns its view. Published results are
// delivered on View.Updates; if the reader falls behind, only the newest result is kept.
func (v *Views) Open(collection string, products []domain.Product, opts ...ControllerOption) *View {
	updates := make(chan Result, 1)
	view := &View{
		ID:         ulid.Make().String(),
		Collection: collection,
		updates:    updates,
		Updates:    updates,
	}
	handler := func(r Result) {
		for {
			select {
			case updates <- r:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	opts = append(opts, WithResultHandler(handler))
	view.Controller = NewController(products, opts...)

	v.mu.Lock()
	view.lastSeen = v.now()
	v.views[view.ID] = view
	v.mu.Unlock()
	return view
}

// Get returns the view and marks it as recently used.
func (v *Views) Get(id string) (*View, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	view, ok := v.views[id]
	if ok {
		view.lastSeen = v.now()
	}
	return view, ok
}

// Close removes the view and stops its controller.
func (v *Views) Close(id string) {
	v.mu.Lock()
	view, ok := v.views[id]
	delete(v.views, id)
	v.mu.Unlock()
	if ok {
		view.Controller.Close()
	}
}

// Len reports the number of open views.
func (v *Views) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.views)
}

// Sweep closes views idle for longer than the ttl and returns how many were removed.
func (v *Views) Sweep() int {
	cutoff := v.now().Add(-v.ttl)
	v.mu.Lock()
	stale := make([]*View, 0)
	for id, view := range v.views {
		if view.lastSeen.Before(cutoff) {
			stale = append(stale, view)
			delete(v.views, id)
		}
	}
	v.mu.Unlock()
	for _, view := range stale {
		view.Controller.Close()
	}
	return len(stale)
}

// Run sweeps on interval until ctx is cancelled.
func (v *Views) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.Sweep()
		}
	}
}
