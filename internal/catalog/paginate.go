package catalog

import "finitefield.org/pcshop/internal/domain"

// DefaultPageSize is used when a caller passes a non-positive page size.
const DefaultPageSize = 12

// Page is one slice of a filtered product list.
type Page struct {
	Items      []domain.Product
	Page       int
	PageSize   int
	TotalPages int
	TotalItems int
}

// HasPrev reports whether a previous page exists.
func (p Page) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether a following page exists.
func (p Page) HasNext() bool { return p.Page < p.TotalPages }

// TotalPages returns ceil(total/pageSize).
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

// InRange reports whether page is a valid page number for total items.
func InRange(page, total, pageSize int) bool {
	return page >= 1 && page <= TotalPages(total, pageSize)
}

// Paginate slices products[(page-1)*size : page*size]. Pages outside [1, TotalPages]
// are clamped into range so stateless requests always render something.
func Paginate(products []domain.Product, page, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	total := len(products)
	pages := TotalPages(total, pageSize)
	switch {
	case page < 1:
		page = 1
	case pages > 0 && page > pages:
		page = pages
	case pages == 0:
		page = 1
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return Page{
		Items:      products[start:end:end],
		Page:       page,
		PageSize:   pageSize,
		TotalPages: pages,
		TotalItems: total,
	}
}
