package catalog

import (
	"strings"

	"finitefield.org/pcshop/internal/domain"
)

// AllCategories is the category sentinel that disables category filtering.
const AllCategories = "all"

// FilterCategory keeps products whose category equals category exactly. The "all"
// sentinel and the empty string return the input unchanged.
func FilterCategory(products []domain.Product, category string) []domain.Product {
	category = strings.TrimSpace(category)
	if category == "" || category == AllCategories {
		return products
	}
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

// Search keeps products where at least one searchable field contains the trimmed,
// lower-cased query as a substring. Searchable fields are name, the concatenated spec
// values, each feature, brand, badge, description and category. An empty query
// returns the input unchanged.
func Search(products []domain.Product, query string) []domain.Product {
	q := NormalizeQuery(query)
	if q == "" {
		return products
	}
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if Matches(p, q) {
			out = append(out, p)
		}
	}
	return out
}

// NormalizeQuery trims and lower-cases a raw search string.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Matches reports whether p matches an already-normalised query.
func Matches(p domain.Product, q string) bool {
	if q == "" {
		return true
	}
	for _, field := range SearchableFields(p) {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

// SearchableFields lists the text a query is matched against.
func SearchableFields(p domain.Product) []string {
	fields := make([]string, 0, 6+len(p.Features))
	fields = append(fields, p.Name, p.Specs.Text())
	fields = append(fields, p.Features...)
	fields = append(fields, p.Brand, p.Badge, p.Description, p.Category)
	return fields
}

// Categories returns the distinct categories in list order, for building filter tabs.
func Categories(products []domain.Product) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, p := range products {
		c := strings.TrimSpace(p.Category)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
