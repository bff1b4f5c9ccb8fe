package catalog

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before a query change triggers a recompute.
const DefaultDebounce = 250 * time.Millisecond

// Debouncer runs the most recently triggered function once no new trigger has arrived
// for the configured delay.
type Debouncer struct {
	mu     sync.Mutex
	delay  time.Duration
	timer  *time.Timer
	closed bool
}

// NewDebouncer constructs a trailing-edge debouncer. A non-positive delay fires on the
// next scheduler tick.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay < 0 {
		delay = 0
	}
	return &Debouncer{delay: delay}
}

// Trigger cancels any pending call and schedules fn. A call whose timer already fired
// is not interrupted; callers guard against late completions themselves.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fn)
}

// Stop cancels the pending call and rejects future triggers.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
