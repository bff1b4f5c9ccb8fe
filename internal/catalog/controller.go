package catalog

import (
	"sync"
	"sync/atomic"
	"time"

	"finitefield.org/pcshop/internal/domain"
)

// ResultHandler receives every result a controller publishes.
type ResultHandler func(Result)

// ControllerOption customises a Controller.
type ControllerOption func(*Controller)

// WithDebounce overrides the query debounce delay.
func WithDebounce(delay time.Duration) ControllerOption {
	return func(c *Controller) {
		c.debounce = delay
	}
}

// WithLanguage sets the collation language for name and brand sorting.
func WithLanguage(lang string) ControllerOption {
	return func(c *Controller) {
		c.lang = lang
	}
}

// WithInitialState seeds category, query, sort and page size.
func WithInitialState(state State) ControllerOption {
	return func(c *Controller) {
		c.state = state
	}
}

// WithResultHandler registers the callback invoked after each accepted recompute.
func WithResultHandler(fn ResultHandler) ControllerOption {
	return func(c *Controller) {
		c.onResult = fn
	}
}

// Controller holds the interactive catalog state for one open view. Category and sort
// changes recompute immediately; query changes are debounced. Every recompute resets
// the page to 1. A generation counter discards results that finish after a newer
// recompute was requested.
type Controller struct {
	mu       sync.Mutex
	products []domain.Product
	state    State
	lang     string
	debounce time.Duration
	onResult ResultHandler

	generation atomic.Uint64
	deliverMu  sync.Mutex
	last       Result

	debouncer *Debouncer
}

// NewController evaluates the initial state synchronously so Snapshot is usable at once.
func NewController(products []domain.Product, opts ...ControllerOption) *Controller {
	c := &Controller{
		products: products,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.state = c.state.Normalize()
	c.state.Page = 1
	c.debouncer = NewDebouncer(c.debounce)
	c.last = Evaluate(c.products, c.state, c.lang)
	return c
}

// Snapshot returns the most recently published result.
func (c *Controller) Snapshot() Result {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	return c.last
}

// SetCategory applies a category filter immediately.
func (c *Controller) SetCategory(category string) {
	c.mu.Lock()
	c.state.Category = category
	c.mu.Unlock()
	c.recompute(c.generation.Add(1))
}

// SetSort applies a sort key immediately.
func (c *Controller) SetSort(key SortKey) {
	c.mu.Lock()
	c.state.Sort = key
	c.mu.Unlock()
	c.recompute(c.generation.Add(1))
}

// SetQuery records the query and schedules a debounced recompute.
func (c *Controller) SetQuery(query string) {
	c.mu.Lock()
	c.state.Query = query
	c.mu.Unlock()
	gen := c.generation.Add(1)
	c.debouncer.Trigger(func() { c.recompute(gen) })
}

// SetProducts swaps the source list, for example after a refetch, and recomputes.
func (c *Controller) SetProducts(products []domain.Product) {
	c.mu.Lock()
	c.products = products
	c.mu.Unlock()
	c.recompute(c.generation.Add(1))
}

// GoTo changes page without re-filtering. Pages outside [1, TotalPages] are ignored
// and report false.
func (c *Controller) GoTo(page int) bool {
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if !InRange(page, c.last.Page.TotalItems, c.last.State.PageSize) {
		return false
	}
	if page == c.last.Page.Page {
		return true
	}
	c.last = c.last.repage(page)
	c.mu.Lock()
	c.state.Page = page
	c.mu.Unlock()
	if c.onResult != nil {
		c.onResult(c.last)
	}
	return true
}

// Close cancels any pending debounced recompute.
func (c *Controller) Close() {
	c.debouncer.Stop()
}

func (c *Controller) recompute(gen uint64) {
	c.mu.Lock()
	state := c.state
	state.Page = 1
	c.state.Page = 1
	products := c.products
	lang := c.lang
	c.mu.Unlock()

	result := Evaluate(products, state, lang)

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if gen != c.generation.Load() {
		return
	}
	c.last = result
	if c.onResult != nil {
		c.onResult(result)
	}
}
