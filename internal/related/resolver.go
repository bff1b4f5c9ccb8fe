package related

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"finitefield.org/pcshop/internal/domain"
	"finitefield.org/pcshop/internal/productapi"
)

// Defaults applied when the resolver is built without explicit limits.
const (
	DefaultLimit        = 8
	DefaultFetchTimeout = 5 * time.Second
)

var errResolverSourceRequired = errors.New("related resolver: source is required")

// Source is the slice of the product API the resolver needs.
type Source interface {
	Get(ctx context.Context, collection, id string) (domain.Product, error)
	List(ctx context.Context, q productapi.Query) ([]domain.Product, error)
}

// Deps wires the resolver.
type Deps struct {
	Source       Source
	Limit        int
	FetchTimeout time.Duration
	Logger       func(context.Context, string, map[string]any)
}

// Resolver assembles the related-products strip for a detail page.
type Resolver struct {
	source  Source
	limit   int
	timeout time.Duration
	logger  func(context.Context, string, map[string]any)
}

// NewResolver validates deps and applies defaults.
func NewResolver(deps Deps) (*Resolver, error) {
	if deps.Source == nil {
		return nil, errResolverSourceRequired
	}
	limit := deps.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	timeout := deps.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Resolver{source: deps.Source, limit: limit, timeout: timeout, logger: logger}, nil
}

// Resolve fetches the explicit related ids concurrently, each under its own timeout,
// keeping whichever succeed in their listed order. Remaining slots are filled from
// the same category in list order. The product itself and duplicates are skipped and
// the result never exceeds the limit.
func (r *Resolver) Resolve(ctx context.Context, product domain.Product, collection string) []domain.Product {
	selfID := strings.TrimSpace(product.ID)
	seen := map[string]struct{}{selfID: {}}
	out := make([]domain.Product, 0, r.limit)

	for _, p := range r.fetchExplicit(ctx, product.RelatedIDs, collection) {
		if len(out) == r.limit {
			return out
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}

	category := strings.TrimSpace(product.Category)
	if len(out) >= r.limit || category == "" || ctx.Err() != nil {
		return out
	}

	listCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	candidates, err := r.source.List(listCtx, productapi.Query{Collection: collection, Category: category})
	if err != nil {
		r.logger(ctx, "related.backfill_failed", map[string]any{
			"productId": selfID,
			"category":  category,
			"error":     err.Error(),
		})
		return out
	}
	for _, p := range candidates {
		if len(out) == r.limit {
			break
		}
		if p.Category != category {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

type fetchResult struct {
	product domain.Product
	ok      bool
}

// fetchExplicit waits for every fetch to settle and returns the successes in input order.
func (r *Resolver) fetchExplicit(ctx context.Context, ids []string, collection string) []domain.Product {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		return nil
	}

	results := make([]fetchResult, len(clean))
	var wg sync.WaitGroup
	for i, id := range clean {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			p, err := r.source.Get(fetchCtx, collection, id)
			if err != nil {
				r.logger(ctx, "related.fetch_failed", map[string]any{
					"relatedId": id,
					"error":     err.Error(),
				})
				return
			}
			if p.ID == "" {
				p.ID = id
			}
			results[i] = fetchResult{product: p, ok: true}
		}(i, id)
	}
	wg.Wait()

	out := make([]domain.Product, 0, len(results))
	for _, res := range results {
		if res.ok {
			out = append(out, res.product)
		}
	}
	return out
}
