package cart

import (
	"context"
	"time"
)

// DefaultPollInterval is how often authenticated counters are reconciled.
const DefaultPollInterval = 10 * time.Second

// Poller periodically re-reads remote carts for authenticated owners that have a live
// subscriber and broadcasts any drift as a reconciled count.
type Poller struct {
	store    *Store
	interval time.Duration
	logger   func(context.Context, string, map[string]any)
}

// NewPoller constructs a poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(store *Store, interval time.Duration, logger func(context.Context, string, map[string]any)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Poller{store: store, interval: interval, logger: logger}
}

// Run reconciles on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Reconcile(ctx)
		}
	}
}

// Reconcile performs one pass and returns how many counters changed.
func (p *Poller) Reconcile(ctx context.Context) int {
	if p == nil || p.store == nil {
		return 0
	}
	hub := p.store.Hub()
	changed := 0
	for _, owner := range hub.ActiveOwners() {
		if !owner.Authenticated() {
			continue
		}
		if ctx.Err() != nil {
			return changed
		}
		count, err := p.store.Count(ctx, owner, nil)
		if err != nil {
			p.logger(ctx, "cart.reconcile_failed", map[string]any{
				"ownerKey": owner.Key(),
				"error":    err.Error(),
			})
			continue
		}
		if current, ok := hub.Count(owner.Key()); ok && current == count {
			continue
		}
		hub.Set(owner.Key(), count, KindReconciled)
		changed++
	}
	return changed
}
