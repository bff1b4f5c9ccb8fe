package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"finitefield.org/pcshop/internal/catalog"
	"finitefield.org/pcshop/internal/domain"
	"finitefield.org/pcshop/internal/format"
	"finitefield.org/pcshop/internal/gallery"
)

func renderDoc(t *testing.T, name string, data any) *goquery.Document {
	t.Helper()
	r, err := NewRenderer()
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, r.Render(&buf, name, data))
	doc, err := goquery.NewDocumentFromReader(&buf)
	require.NoError(t, err)
	return doc
}

func TestCardPlaceholdersForMissingFields(t *testing.T) {
	card := Card(domain.Product{ID: "9"}, Options{Collection: "laptops", Currency: "USD"})

	require.Equal(t, "Untitled product", card.Name)
	require.Equal(t, format.Missing, card.Price)
	require.False(t, card.HasPrice)
	require.False(t, card.HasRating)
	require.Empty(t, card.OriginalPrice)
	require.Empty(t, card.ContactURL)
	require.Equal(t, "/products/laptops/9", card.DetailURL)
}

func TestCardPricingAndContactLink(t *testing.T) {
	p := domain.Product{
		ID:            "101",
		Name:          "Aero 14",
		Price:         domain.Float(1299),
		OriginalPrice: domain.Float(1499),
		Discount:      domain.Float(13),
		Rating:        domain.Float(4.55),
		Images:        []string{"a.jpg"},
	}
	card := Card(p, Options{Collection: "laptops", Currency: "USD", Phone: "+1 (555) 010-2000", BaseURL: "https://shop.example.com/"})

	require.Equal(t, "$1,299.00", card.Price)
	require.Equal(t, "$1,499.00", card.OriginalPrice)
	require.Equal(t, "-13%", card.Discount)
	require.Equal(t, "a.jpg", card.Image)
	require.True(t, strings.HasPrefix(card.ContactURL, "https://wa.me/15550102000?text="))
	require.Contains(t, card.ContactURL, "shop.example.com")

	// An original price at or below the current price is not a markdown.
	p.OriginalPrice = domain.Float(1299)
	require.Empty(t, Card(p, Options{Currency: "USD"}).OriginalPrice)
}

func TestDescriptionIsSanitised(t *testing.T) {
	html := string(Description("**Fast** laptop <script>alert(1)</script> [site](https://example.com)"))

	require.Contains(t, html, "<strong>Fast</strong>")
	require.NotContains(t, html, "<script>")
	require.Contains(t, html, `rel="nofollow"`)
	require.Empty(t, Description("   "))
}

func TestGalleryLinks(t *testing.T) {
	lb := gallery.New([]string{"a.jpg", "b.jpg", "c.jpg"})

	closed := Gallery(lb, "/products/laptops/101")
	require.False(t, closed.Open)
	require.Len(t, closed.Images, 3)
	require.Equal(t, "/products/laptops/101?lightbox=2", closed.Images[2].OpenURL)
	require.Empty(t, closed.NextURL)

	open := Gallery(lb.Open(0), "/products/laptops/101")
	require.True(t, open.Open)
	require.Equal(t, "a.jpg", open.Current)
	require.Equal(t, 1, open.Position)
	require.Equal(t, "/products/laptops/101?lightbox=1", open.NextURL)
	require.Equal(t, "/products/laptops/101?lightbox=2", open.PrevURL)
	require.Equal(t, "/products/laptops/101", open.CloseURL)
	require.True(t, open.Images[0].Active)
}

func TestCatalogURLOmitsDefaults(t *testing.T) {
	require.Equal(t, "/products/laptops", CatalogURL("/products/laptops", catalog.State{Category: catalog.AllCategories, Page: 1}))
	got := CatalogURL("/products/laptops", catalog.State{Category: "gaming", Query: " rtx ", Sort: catalog.SortPriceLow, Page: 2})
	require.Equal(t, "/products/laptops?category=gaming&page=2&q=rtx&sort=price-low", got)
}

func sampleProducts(n int) []domain.Product {
	out := make([]domain.Product, 0, n)
	for i := 1; i <= n; i++ {
		cat := "office"
		if i%2 == 0 {
			cat = "gaming"
		}
		out = append(out, domain.Product{ID: itoa(i), Name: "PC " + itoa(i), Category: cat, Price: domain.Float(float64(100 * i))})
	}
	return out
}

func TestCatalogPageRendersGridAndPagination(t *testing.T) {
	result := catalog.Evaluate(sampleProducts(15), catalog.State{Page: 2}, "")
	view := Catalog(result, Options{Collection: "pc-builds", Currency: "USD"})

	doc := renderDoc(t, PageCatalog, CatalogPage{
		Layout:  Layout{Title: "PC Builds", CartCount: 4, CSRFToken: "tok", Collections: []string{"laptops", "pc-builds"}},
		Catalog: view,
		LiveURL: "/products/pc-builds/live",
	})

	require.Equal(t, 3, doc.Find("article.product-card").Length())
	require.Equal(t, "4", strings.TrimSpace(doc.Find("#cart-count").Text()))
	require.Equal(t, "Pc Builds", strings.TrimSpace(doc.Find("main h1").First().Text()))

	prev, ok := doc.Find(`.pagination a[rel="prev"]`).Attr("href")
	require.True(t, ok)
	require.Equal(t, "/products/pc-builds", prev)
	require.Equal(t, 0, doc.Find(`.pagination a[rel="next"]`).Length())
	require.Equal(t, "2", doc.Find(`.pagination a[aria-current="page"]`).Text())

	require.Equal(t, 3, doc.Find(".category-tabs a").Length())
	require.Equal(t, "All", strings.TrimSpace(doc.Find(".category-tabs a.active").Text()))

	form := doc.Find("article.product-card form").First()
	action, _ := form.Attr("action")
	require.Equal(t, AddToCartURL, action)
	collection, _ := form.Find(`input[name="collection"]`).Attr("value")
	require.Equal(t, "pc-builds", collection)
}

func TestCatalogGridEmptyStates(t *testing.T) {
	empty := Catalog(catalog.Evaluate(nil, catalog.State{}, ""), Options{Collection: "others"})
	doc := renderDoc(t, PartialGrid, empty)
	require.Contains(t, doc.Find(".empty-state").Text(), "No products are available")

	noMatch := Catalog(catalog.Evaluate(sampleProducts(3), catalog.State{Query: "zzz"}, ""), Options{Collection: "laptops"})
	doc = renderDoc(t, PartialGrid, noMatch)
	require.Contains(t, doc.Find(".empty-state").Text(), "No products match")
	require.Equal(t, 0, doc.Find(".pagination").Length())
}

func TestDetailPageRendersLightboxAndRelated(t *testing.T) {
	p := domain.Product{
		ID:          "101",
		Name:        "Aero 14",
		Price:       domain.Float(999),
		Image:       "a.jpg",
		Images:      []string{"b.jpg"},
		Description: "Thin *and* light",
		Specs:       domain.Specs{"ram": domain.SpecFromAny("16GB")},
		Features:    []string{"Backlit keyboard"},
	}
	related := []domain.Product{{ID: "102", Name: "Aero 16"}}
	detail := Detail(p, related, gallery.New(p.Gallery()).Open(1), Options{Collection: "laptops", Currency: "USD"})

	doc := renderDoc(t, PageDetail, DetailPage{Layout: Layout{Title: p.Name}, Detail: detail, Collection: "laptops"})

	require.Equal(t, "Aero 14", strings.TrimSpace(doc.Find(".summary h1").Text()))
	src, _ := doc.Find(".lightbox-image").Attr("src")
	require.Equal(t, "b.jpg", src)
	require.Equal(t, "2 / 2", strings.TrimSpace(doc.Find(".lightbox-position").Text()))
	require.Equal(t, 1, doc.Find(".description em").Length())
	require.Equal(t, "16GB", doc.Find(".specs td").First().Text())
	require.Equal(t, "Backlit keyboard", doc.Find(".features li").Text())
	require.Equal(t, 1, doc.Find(".related article.product-card").Length())
	require.Equal(t, 0, doc.Find(".contact").Length())
}

func TestCartPage(t *testing.T) {
	lines := domain.Lines{
		{ProductID: "1", Name: "Mouse", Price: 25, Quantity: 2},
		{ProductID: "2", Name: "Pad", Price: 10, Quantity: 1},
	}
	view := Cart(lines, "USD")
	require.Equal(t, 3, view.Count)
	require.Equal(t, "$60.00", view.Subtotal)
	require.Equal(t, "$50.00", view.Lines[0].LineTotal)

	doc := renderDoc(t, PageCart, CartPage{Cart: view})
	require.Equal(t, 2, doc.Find("tbody tr").Length())
	require.Contains(t, doc.Find(".subtotal").Text(), "$60.00")

	doc = renderDoc(t, PageCart, CartPage{Cart: Cart(nil, "USD")})
	require.Contains(t, doc.Find(".empty-state").Text(), "empty")
}

func TestErrorPage(t *testing.T) {
	doc := renderDoc(t, PageError, ErrorPage{Layout: Layout{Title: "Not found"}, Status: 404, Message: "That product is gone."})
	status, _ := doc.Find(".error-page").Attr("data-status")
	require.Equal(t, "404", status)
	require.Equal(t, "That product is gone.", doc.Find(".error-page p").First().Text())
}
