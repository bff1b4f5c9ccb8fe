package handlers

import (
	"finitefield.org/pcshop/internal/catalog"
	"finitefield.org/pcshop/internal/domain"
)

type productPayload struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Price         *float64          `json:"price,omitempty"`
	OriginalPrice *float64          `json:"originalPrice,omitempty"`
	Currency      string            `json:"currency,omitempty"`
	Category      string            `json:"category,omitempty"`
	Brand         string            `json:"brand,omitempty"`
	Badge         string            `json:"badge,omitempty"`
	Image         string            `json:"image,omitempty"`
	Images        []string          `json:"images,omitempty"`
	Rating        *float64          `json:"rating,omitempty"`
	Discount      *float64          `json:"discount,omitempty"`
	Description   string            `json:"description,omitempty"`
	Specs         map[string]string `json:"specs,omitempty"`
	Features      []string          `json:"features,omitempty"`
	RelatedIDs    []string          `json:"relatedProducts,omitempty"`
}

func newProductPayload(p domain.Product) productPayload {
	out := productPayload{
		ID:            p.ID,
		Name:          p.Name,
		Price:         p.Price,
		OriginalPrice: p.OriginalPrice,
		Currency:      p.Currency,
		Category:      p.Category,
		Brand:         p.Brand,
		Badge:         p.Badge,
		Image:         p.Image,
		Images:        p.Images,
		Rating:        p.Rating,
		Discount:      p.Discount,
		Description:   p.Description,
		Features:      p.Features,
		RelatedIDs:    p.RelatedIDs,
	}
	if len(p.Specs) > 0 {
		out.Specs = make(map[string]string, len(p.Specs))
		for k, v := range p.Specs {
			out.Specs[k] = v.String()
		}
	}
	return out
}

func newProductPayloads(products []domain.Product) []productPayload {
	out := make([]productPayload, 0, len(products))
	for _, p := range products {
		out = append(out, newProductPayload(p))
	}
	return out
}

type catalogPayload struct {
	Collection string           `json:"collection"`
	Category   string           `json:"category"`
	Query      string           `json:"query,omitempty"`
	Sort       string           `json:"sort,omitempty"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalPages int              `json:"totalPages"`
	TotalItems int              `json:"totalItems"`
	Categories []string         `json:"categories"`
	Empty      bool             `json:"empty"`
	NoMatches  bool             `json:"noMatches"`
	Products   []productPayload `json:"products"`
}

func newCatalogPayload(collection string, result catalog.Result) catalogPayload {
	categories := result.Categories
	if categories == nil {
		categories = []string{}
	}
	return catalogPayload{
		Collection: collection,
		Category:   result.State.Category,
		Query:      result.State.Query,
		Sort:       string(result.State.Sort),
		Page:       result.Page.Page,
		PageSize:   result.Page.PageSize,
		TotalPages: result.Page.TotalPages,
		TotalItems: result.Page.TotalItems,
		Categories: categories,
		Empty:      result.Empty,
		NoMatches:  result.NoMatches(),
		Products:   newProductPayloads(result.Page.Items),
	}
}

type cartPayload struct {
	Lines    domain.Lines `json:"lines"`
	Count    int          `json:"count"`
	Subtotal float64      `json:"subtotal"`
	Currency string       `json:"currency"`
}
