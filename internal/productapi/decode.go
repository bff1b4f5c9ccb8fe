package productapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"finitefield.org/pcshop/internal/domain"
)

// decodeProducts accepts a bare JSON array, a {"products": [...]} wrapper, or a single
// product object.
func decodeProducts(raw []byte) ([]domain.Product, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var records []map[string]any
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("productapi: decode list: %w", err)
		}
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("productapi: decode object: %w", err)
		}
		if list, ok := obj["products"]; ok {
			items, ok := list.([]any)
			if !ok && list != nil {
				return nil, errors.New("productapi: products field is not an array")
			}
			for _, item := range items {
				if m, ok := item.(map[string]any); ok {
					records = append(records, m)
				}
			}
		} else {
			records = append(records, obj)
		}
	default:
		return nil, errors.New("productapi: unexpected response body")
	}

	products := make([]domain.Product, 0, len(records))
	for _, rec := range records {
		products = append(products, productFromMap(rec))
	}
	return products, nil
}

var knownProductKeys = map[string]struct{}{
	"id": {}, "_id": {}, "name": {}, "title": {}, "price": {}, "originalPrice": {}, "original_price": {},
	"currency": {}, "category": {}, "brand": {}, "badge": {}, "description": {}, "image": {}, "imageUrl": {},
	"images": {}, "rating": {}, "discount": {}, "performance": {}, "performanceScore": {}, "popularity": {},
	"specs": {}, "details": {}, "features": {}, "relatedProducts": {}, "relatedIds": {},
}

// productFromMap converts a loosely typed record (JSON or YAML) into a Product.
func productFromMap(rec map[string]any) domain.Product {
	p := domain.Product{
		ID:            firstString(rec, "id", "_id"),
		Name:          firstString(rec, "name", "title"),
		Price:         firstNumber(rec, "price"),
		OriginalPrice: firstNumber(rec, "originalPrice", "original_price"),
		Currency:      strings.ToUpper(firstString(rec, "currency")),
		Category:      firstString(rec, "category"),
		Brand:         firstString(rec, "brand"),
		Badge:         firstString(rec, "badge"),
		Description:   firstString(rec, "description"),
		Image:         firstString(rec, "image", "imageUrl"),
		Images:        stringList(rec["images"]),
		Rating:        firstNumber(rec, "rating"),
		Discount:      firstNumber(rec, "discount"),
		Performance:   firstNumber(rec, "performance", "performanceScore"),
		Popularity:    firstNumber(rec, "popularity"),
		Features:      stringList(rec["features"]),
		RelatedIDs:    stringList(firstPresent(rec, "relatedProducts", "relatedIds")),
	}

	if specs, ok := firstPresent(rec, "specs", "details").(map[string]any); ok && len(specs) > 0 {
		p.Specs = make(domain.Specs, len(specs))
		for k, v := range specs {
			p.Specs[k] = domain.SpecFromAny(v)
		}
	}

	for k, v := range rec {
		if _, known := knownProductKeys[k]; known {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}
	return p
}

func firstPresent(rec map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(rec map[string]any, keys ...string) string {
	return toString(firstPresent(rec, keys...))
}

func firstNumber(rec map[string]any, keys ...string) *float64 {
	return toNumber(firstPresent(rec, keys...))
}

func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func toNumber(v any) *float64 {
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		cleaned := strings.TrimSpace(strings.ReplaceAll(val, ",", ""))
		cleaned = strings.TrimLeft(cleaned, "$€£¥₹")
		if cleaned == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

func stringList(v any) []string {
	switch val := v.(type) {
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := toString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return []string{s}
		}
	}
	return nil
}

// lineFromMap converts a cart record into a line item. Records without a product id
// or with a non-positive quantity are dropped.
func lineFromMap(rec map[string]any) (domain.LineItem, bool) {
	line := domain.LineItem{
		ProductID: firstString(rec, "productId", "product_id", "id"),
		Name:      firstString(rec, "name"),
		Currency:  strings.ToUpper(firstString(rec, "currency")),
		Image:     firstString(rec, "image"),
	}
	if line.ProductID == "" {
		return domain.LineItem{}, false
	}
	line.Price = domain.Number(firstNumber(rec, "price"))
	qty := firstNumber(rec, "quantity")
	if qty == nil {
		line.Quantity = 1
	} else {
		line.Quantity = int(*qty)
	}
	if line.Quantity <= 0 {
		return domain.LineItem{}, false
	}
	return line, true
}
