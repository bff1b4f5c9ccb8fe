package catalog

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"finitefield.org/pcshop/internal/domain"
)

// SortKey names a supported ordering.
type SortKey string

const (
	SortNone        SortKey = ""
	SortName        SortKey = "name"
	SortPriceLow    SortKey = "price-low"
	SortPriceHigh   SortKey = "price-high"
	SortRating      SortKey = "rating"
	SortPerformance SortKey = "performance"
	SortBrand       SortKey = "brand"
	SortPopularity  SortKey = "popularity"
)

// SortKeys lists the orderings offered to shoppers, in menu order.
var SortKeys = []SortKey{SortName, SortPriceLow, SortPriceHigh, SortRating, SortPerformance, SortBrand, SortPopularity}

// ParseSortKey returns the matching key, or SortNone for unknown input.
func ParseSortKey(raw string) SortKey {
	key := SortKey(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range SortKeys {
		if key == known {
			return key
		}
	}
	return SortNone
}

type lessFunc func(a, b domain.Product) bool

func comparator(key SortKey, lang string) lessFunc {
	switch key {
	case SortName:
		col := newCollator(lang)
		return func(a, b domain.Product) bool { return col.CompareString(a.Name, b.Name) < 0 }
	case SortBrand:
		col := newCollator(lang)
		return func(a, b domain.Product) bool { return col.CompareString(a.Brand, b.Brand) < 0 }
	case SortPriceLow:
		return func(a, b domain.Product) bool { return domain.Number(a.Price) < domain.Number(b.Price) }
	case SortPriceHigh:
		return func(a, b domain.Product) bool { return domain.Number(a.Price) > domain.Number(b.Price) }
	case SortRating:
		return func(a, b domain.Product) bool { return domain.Number(a.Rating) > domain.Number(b.Rating) }
	case SortPerformance:
		return func(a, b domain.Product) bool { return domain.Number(a.Performance) > domain.Number(b.Performance) }
	case SortPopularity:
		return func(a, b domain.Product) bool { return domain.Number(a.Popularity) > domain.Number(b.Popularity) }
	default:
		return nil
	}
}

// SortProducts returns a stably sorted copy ordered by key. Missing numeric fields
// compare as zero; names and brands use the collation rules of lang. Unknown keys keep
// list order. The input slice is never modified.
func SortProducts(products []domain.Product, key SortKey, lang string) []domain.Product {
	out := make([]domain.Product, len(products))
	copy(out, products)
	less := comparator(key, lang)
	if less == nil {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// newCollator builds a case-insensitive collator. Collators are not safe for concurrent
// use, so each sort gets its own.
func newCollator(lang string) *collate.Collator {
	tag, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		tag = language.English
	}
	return collate.New(tag, collate.IgnoreCase)
}
