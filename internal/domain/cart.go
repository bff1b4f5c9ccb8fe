package domain

import "strings"

// LineItem is one product/quantity pair within a cart.
type LineItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency,omitempty"`
	Image     string  `json:"image,omitempty"`
	Quantity  int     `json:"quantity"`
}

// LineFromProduct snapshots the product fields a cart line needs.
func LineFromProduct(p Product, quantity int, fallbackCurrency string) LineItem {
	currency := strings.TrimSpace(p.Currency)
	if currency == "" {
		currency = fallbackCurrency
	}
	return LineItem{
		ProductID: strings.TrimSpace(p.ID),
		Name:      p.Name,
		Price:     Number(p.Price),
		Currency:  currency,
		Image:     p.Image,
		Quantity:  quantity,
	}
}

// Lines is an ordered cart holding at most one line per product id.
type Lines []LineItem

// Add merges item into the cart: an existing line for the same product has its quantity
// increased, otherwise item is appended. The receiver is not modified.
func (l Lines) Add(item LineItem) Lines {
	id := strings.TrimSpace(item.ProductID)
	out := make(Lines, len(l), len(l)+1)
	copy(out, l)
	for i := range out {
		if strings.TrimSpace(out[i].ProductID) == id {
			out[i].Quantity += item.Quantity
			return out
		}
	}
	item.ProductID = id
	return append(out, item)
}

// Merge folds every line of other into l using the same rule as Add.
func (l Lines) Merge(other Lines) Lines {
	out := l.Clone()
	for _, item := range other {
		out = out.Add(item)
	}
	return out
}

// Remove drops the line for productID. It reports whether a line was removed.
func (l Lines) Remove(productID string) (Lines, bool) {
	id := strings.TrimSpace(productID)
	out := make(Lines, 0, len(l))
	removed := false
	for _, item := range l {
		if strings.TrimSpace(item.ProductID) == id {
			removed = true
			continue
		}
		out = append(out, item)
	}
	return out, removed
}

// Find returns the line for productID.
func (l Lines) Find(productID string) (LineItem, bool) {
	id := strings.TrimSpace(productID)
	for _, item := range l {
		if strings.TrimSpace(item.ProductID) == id {
			return item, true
		}
	}
	return LineItem{}, false
}

// Count sums quantities across lines.
func (l Lines) Count() int {
	total := 0
	for _, item := range l {
		total += item.Quantity
	}
	return total
}

// Subtotal sums price*quantity across lines.
func (l Lines) Subtotal() float64 {
	var total float64
	for _, item := range l {
		total += item.Price * float64(item.Quantity)
	}
	return total
}

// Clone returns an independent copy.
func (l Lines) Clone() Lines {
	if l == nil {
		return nil
	}
	out := make(Lines, len(l))
	copy(out, l)
	return out
}
