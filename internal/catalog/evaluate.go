package catalog

import (
	"strings"

	"finitefield.org/pcshop/internal/domain"
)

// State is the per-view filter, search, sort and page selection.
type State struct {
	Category string
	Query    string
	Sort     SortKey
	Page     int
	PageSize int
}

// Normalize fills defaults: the "all" category, page 1 and the default page size.
func (s State) Normalize() State {
	s.Category = strings.TrimSpace(s.Category)
	if s.Category == "" {
		s.Category = AllCategories
	}
	if s.Page < 1 {
		s.Page = 1
	}
	if s.PageSize <= 0 {
		s.PageSize = DefaultPageSize
	}
	return s
}

// Result is the outcome of evaluating a State against a product list.
type Result struct {
	State      State
	Page       Page
	Categories []string
	// Empty signals that the source list itself was empty, as opposed to a query
	// that matched nothing.
	Empty bool

	filtered []domain.Product
}

// NoMatches reports whether the source had products but none survived filtering.
func (r Result) NoMatches() bool {
	return !r.Empty && r.Page.TotalItems == 0
}

// Evaluate applies category filter, search, sort and pagination in that order.
// An absent or empty product list yields an empty-state result, never an error.
func Evaluate(products []domain.Product, state State, lang string) Result {
	state = state.Normalize()
	if len(products) == 0 {
		return Result{
			State: state,
			Page:  Paginate(nil, 1, state.PageSize),
			Empty: true,
		}
	}

	filtered := FilterCategory(products, state.Category)
	filtered = Search(filtered, state.Query)
	filtered = SortProducts(filtered, state.Sort, lang)

	page := Paginate(filtered, state.Page, state.PageSize)
	state.Page = page.Page
	return Result{
		State:      state,
		Page:       page,
		Categories: Categories(products),
		filtered:   filtered,
	}
}

// repage re-slices an existing result without re-filtering.
func (r Result) repage(page int) Result {
	r.Page = Paginate(r.filtered, page, r.State.PageSize)
	r.State.Page = r.Page.Page
	return r
}
