package render

import (
	"bytes"
	"html/template"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"finitefield.org/pcshop/internal/catalog"
	"finitefield.org/pcshop/internal/domain"
	"finitefield.org/pcshop/internal/format"
	"finitefield.org/pcshop/internal/gallery"
	"finitefield.org/pcshop/internal/messaging"
)

// AddToCartURL is the POST target shared by every add-to-cart button.
const AddToCartURL = "/cart/items"

var (
	markdown          = goldmark.New(goldmark.WithExtensions(extension.GFM))
	descriptionPolicy = newDescriptionPolicy()
)

func newDescriptionPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("loading").OnElements("img")
	policy.RequireNoFollowOnLinks(true)
	return policy
}

// Options carries shop-level settings used while rendering.
type Options struct {
	Collection string
	Currency   string
	Phone      string
	// BaseURL is the public origin used for absolute links in chat messages.
	BaseURL    string
	CSRFToken  string
}

// CardView is the display model for a product tile.
type CardView struct {
	ID            string
	Name          string
	Price         string
	HasPrice      bool
	OriginalPrice string
	Discount      string
	Image         string
	Rating        string
	HasRating     bool
	Badge         string
	Brand         string
	Category      string
	Collection    string
	AddToCartURL  string
	ContactURL    string
	DetailURL     string
	CSRFToken     string
}

// Card builds the tile for p. It never fails: missing fields render as placeholders.
func Card(p domain.Product, opts Options) CardView {
	currency := strings.TrimSpace(p.Currency)
	if currency == "" {
		currency = opts.Currency
	}
	view := CardView{
		ID:           p.ID,
		Name:         p.Name,
		Price:        format.Price(p.Price, currency),
		HasPrice:     p.Price != nil,
		Discount:     format.Discount(p.Discount),
		Image:        p.Image,
		Rating:       format.Rating(p.Rating),
		HasRating:    p.Rating != nil,
		Badge:        p.Badge,
		Brand:        p.Brand,
		Category:     p.Category,
		Collection:   opts.Collection,
		AddToCartURL: AddToCartURL,
		DetailURL:    DetailURL(opts.Collection, p.ID),
		CSRFToken:    opts.CSRFToken,
	}
	if p.OriginalPrice != nil && (p.Price == nil || *p.OriginalPrice > *p.Price) {
		view.OriginalPrice = format.Price(p.OriginalPrice, currency)
	}
	if view.Image == "" && len(p.Images) > 0 {
		view.Image = p.Images[0]
	}
	if view.Name == "" {
		view.Name = "Untitled product"
	}
	if p.Currency == "" {
		p.Currency = currency
	}
	if link, err := messaging.WhatsAppLink(opts.Phone, p, absoluteURL(opts.BaseURL, view.DetailURL)); err == nil {
		view.ContactURL = link
	}
	return view
}

// Cards maps Card over products.
func Cards(products []domain.Product, opts Options) []CardView {
	out := make([]CardView, 0, len(products))
	for _, p := range products {
		out = append(out, Card(p, opts))
	}
	return out
}

// DetailURL is the product page path.
func DetailURL(collection, id string) string {
	return "/products/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
}

func absoluteURL(base, path string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return base + path
}

// GalleryImage is one thumbnail.
type GalleryImage struct {
	Src     string
	Index   int
	Active  bool
	OpenURL string
}

// GalleryView renders the lightbox without JavaScript by linking each transition.
type GalleryView struct {
	Images   []GalleryImage
	Open     bool
	Current  string
	Position int
	Total    int
	NextURL  string
	PrevURL  string
	CloseURL string
}

// DetailView is the display model for the product page.
type DetailView struct {
	Card        CardView
	Description template.HTML
	Specs       []domain.SpecRow
	Features    []string
	Gallery     GalleryView
	Related     []CardView
}

// Detail builds the product page model.
func Detail(p domain.Product, related []domain.Product, lb gallery.Lightbox, opts Options) DetailView {
	card := Card(p, opts)
	return DetailView{
		Card:        card,
		Description: Description(p.Description),
		Specs:       p.Specs.Rows(),
		Features:    p.Features,
		Gallery:     Gallery(lb, card.DetailURL),
		Related:     Cards(related, opts),
	}
}

// Gallery builds the lightbox view; links carry ?lightbox=N for server-side transitions.
func Gallery(lb gallery.Lightbox, pageURL string) GalleryView {
	images := lb.Images()
	view := GalleryView{
		Images:   make([]GalleryImage, 0, len(images)),
		Open:     lb.IsOpen(),
		Total:    len(images),
		CloseURL: pageURL,
	}
	for i, src := range images {
		view.Images = append(view.Images, GalleryImage{
			Src:     src,
			Index:   i,
			Active:  lb.Index() == i,
			OpenURL: lightboxURL(pageURL, i),
		})
	}
	if current, ok := lb.Current(); ok {
		view.Current = current
		view.Position = lb.Index() + 1
		view.NextURL = lightboxURL(pageURL, lb.NextIndex())
		view.PrevURL = lightboxURL(pageURL, lb.PrevIndex())
	}
	return view
}

func lightboxURL(pageURL string, i int) string {
	return pageURL + "?" + url.Values{"lightbox": {itoa(i)}}.Encode()
}

// Description converts Markdown to sanitised HTML.
func Description(src string) template.HTML {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(descriptionPolicy.SanitizeBytes(buf.Bytes()))
}

// CartLineView is one row of the cart page.
type CartLineView struct {
	ProductID string
	Name      string
	Image     string
	Quantity  int
	UnitPrice string
	LineTotal string
}

// CartView is the cart page model.
type CartView struct {
	Lines    []CartLineView
	Count    int
	Subtotal string
	Empty    bool
}

// Cart builds the cart page model.
func Cart(lines domain.Lines, currency string) CartView {
	view := CartView{
		Lines: make([]CartLineView, 0, len(lines)),
		Count: lines.Count(),
		Empty: len(lines) == 0,
	}
	for _, line := range lines {
		cur := line.Currency
		if cur == "" {
			cur = currency
		}
		view.Lines = append(view.Lines, CartLineView{
			ProductID: line.ProductID,
			Name:      line.Name,
			Image:     line.Image,
			Quantity:  line.Quantity,
			UnitPrice: format.Amount(line.Price, cur),
			LineTotal: format.Amount(line.Price*float64(line.Quantity), cur),
		})
	}
	view.Subtotal = format.Amount(lines.Subtotal(), currency)
	return view
}

// PageLink is a pagination or filter link.
type PageLink struct {
	Label  string
	URL    string
	Active bool
}

// CatalogView is the listing page model.
type CatalogView struct {
	Collection string
	State      catalog.State
	Cards      []CardView
	Page       catalog.Page
	Empty      bool
	NoMatches  bool
	Categories []PageLink
	Sorts      []PageLink
	Pages      []PageLink
	PrevURL    string
	NextURL    string
}

// Catalog builds the listing page model from an evaluated result.
func Catalog(result catalog.Result, opts Options) CatalogView {
	base := "/products/" + url.PathEscape(opts.Collection)
	view := CatalogView{
		Collection: opts.Collection,
		State:      result.State,
		Cards:      Cards(result.Page.Items, opts),
		Page:       result.Page,
		Empty:      result.Empty,
		NoMatches:  result.NoMatches(),
	}

	categories := append([]string{catalog.AllCategories}, result.Categories...)
	for _, c := range categories {
		st := result.State
		st.Category = c
		st.Page = 1
		view.Categories = append(view.Categories, PageLink{Label: c, URL: CatalogURL(base, st), Active: result.State.Category == c})
	}
	for _, key := range catalog.SortKeys {
		st := result.State
		st.Sort = key
		st.Page = 1
		view.Sorts = append(view.Sorts, PageLink{Label: string(key), URL: CatalogURL(base, st), Active: result.State.Sort == key})
	}
	for i := 1; i <= result.Page.TotalPages; i++ {
		st := result.State
		st.Page = i
		view.Pages = append(view.Pages, PageLink{Label: itoa(i), URL: CatalogURL(base, st), Active: result.Page.Page == i})
	}
	if result.Page.HasPrev() {
		st := result.State
		st.Page = result.Page.Page - 1
		view.PrevURL = CatalogURL(base, st)
	}
	if result.Page.HasNext() {
		st := result.State
		st.Page = result.Page.Page + 1
		view.NextURL = CatalogURL(base, st)
	}
	return view
}

// CatalogURL encodes state as query parameters on base, omitting defaults.
func CatalogURL(base string, st catalog.State) string {
	q := url.Values{}
	if st.Category != "" && st.Category != catalog.AllCategories {
		q.Set("category", st.Category)
	}
	if strings.TrimSpace(st.Query) != "" {
		q.Set("q", strings.TrimSpace(st.Query))
	}
	if st.Sort != catalog.SortNone {
		q.Set("sort", string(st.Sort))
	}
	if st.Page > 1 {
		q.Set("page", itoa(st.Page))
	}
	if st.PageSize > 0 && st.PageSize != catalog.DefaultPageSize {
		q.Set("per_page", itoa(st.PageSize))
	}
	if len(q) == 0 {
		return base
	}
	return base + "?" + q.Encode()
}
