package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/pcshop/internal/catalog"
	"finitefield.org/pcshop/internal/domain"
	"finitefield.org/pcshop/internal/gallery"
	"finitefield.org/pcshop/internal/messaging"
	"finitefield.org/pcshop/internal/middleware"
	"finitefield.org/pcshop/internal/platform/httpx"
	"finitefield.org/pcshop/internal/platform/requestctx"
	"finitefield.org/pcshop/internal/productapi"
	"finitefield.org/pcshop/internal/render"
)

const (
	maxPageSize       = 96
	maxLiveInputBytes = 4 * 1024
	gridTarget        = "product-grid"
)

// RelatedResolver picks the products shown under a product page.
type RelatedResolver interface {
	Resolve(ctx context.Context, product domain.Product, collection string) []domain.Product
}

// CatalogDeps wires the catalog handlers.
type CatalogDeps struct {
	Pages     *Pages
	Products  ProductSource
	Views     *catalog.Views
	Related   RelatedResolver
	Debounce  time.Duration
	PageSize  int
	Heartbeat time.Duration
}

// CatalogHandlers serves listing, live search and product detail pages.
type CatalogHandlers struct {
	pages     *Pages
	products  ProductSource
	views     *catalog.Views
	related   RelatedResolver
	debounce  time.Duration
	pageSize  int
	heartbeat time.Duration
}

// NewCatalogHandlers constructs the handlers.
func NewCatalogHandlers(deps CatalogDeps) *CatalogHandlers {
	views := deps.Views
	if views == nil {
		views = catalog.NewViews(0)
	}
	pageSize := deps.PageSize
	if pageSize <= 0 {
		pageSize = catalog.DefaultPageSize
	}
	heartbeat := deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &CatalogHandlers{
		pages:     deps.Pages,
		products:  deps.Products,
		views:     views,
		related:   deps.Related,
		debounce:  deps.Debounce,
		pageSize:  pageSize,
		heartbeat: heartbeat,
	}
}

// Routes wires the /products endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{collection}", h.list)
	r.Get("/{collection}/live", h.live)
	r.Post("/{collection}/live/{viewID}", h.liveInput)
	r.Get("/{collection}/{productID}", h.detail)
	r.Get("/{collection}/{productID}/contact", h.contact)
}

func (h *CatalogHandlers) list(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	if !h.pages.Site.HasCollection(collection) {
		h.pages.unknownCollection(w, r, collection)
		return
	}

	products, err := h.products.List(r.Context(), productapi.Query{Collection: collection})
	if err != nil {
		h.pages.failProduct(w, r, err)
		return
	}

	result := catalog.Evaluate(products, h.parseState(r), h.pages.language(r))
	if httpx.WantsJSON(r) {
		httpx.WriteJSON(w, http.StatusOK, newCatalogPayload(collection, result))
		return
	}

	view := render.Catalog(result, h.pages.renderOptions(r, collection))
	if middleware.HTMXTarget(r.Context()) == gridTarget {
		h.pages.render(w, r, http.StatusOK, render.PartialGrid, view)
		return
	}
	h.pages.render(w, r, http.StatusOK, render.PageCatalog, render.CatalogPage{
		Layout:  h.pages.layout(w, r, render.Title(collection)),
		Catalog: view,
		LiveURL: "/products/" + collection + "/live",
	})
}

// live opens a debounced controller for the tab and streams every published result
// as a rendered grid fragment.
func (h *CatalogHandlers) live(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collection := chi.URLParam(r, "collection")
	if !h.pages.Site.HasCollection(collection) {
		h.pages.unknownCollection(w, r, collection)
		return
	}

	products, err := h.products.List(ctx, productapi.Query{Collection: collection})
	if err != nil {
		h.pages.failProduct(w, r, err)
		return
	}

	view := h.views.Open(collection, products,
		catalog.WithDebounce(h.debounce),
		catalog.WithLanguage(h.pages.language(r)),
		catalog.WithInitialState(h.parseState(r)),
	)
	defer h.views.Close(view.ID)

	stream, err := openEventStream(w)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("streaming_unsupported", "event streams are not supported", http.StatusInternalServerError))
		return
	}

	logger := requestctx.Logger(ctx).With(zap.String("view_id", view.ID), zap.String("collection", collection))
	logger.Debug("live catalog view opened")

	hello, _ := json.Marshal(map[string]string{
		"id":       view.ID,
		"inputUrl": "/products/" + collection + "/live/" + view.ID,
	})
	if err := stream.send("view", view.ID, hello); err != nil {
		return
	}
	opts := h.pages.renderOptions(r, collection)
	if err := h.sendResult(stream, view.Controller.Snapshot(), opts); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("live catalog view closed")
			return
		case result := <-view.Updates:
			if err := h.sendResult(stream, result, opts); err != nil {
				logger.Debug("live catalog stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if _, ok := h.views.Get(view.ID); !ok {
				return
			}
			if err := stream.ping(); err != nil {
				return
			}
		}
	}
}

func (h *CatalogHandlers) sendResult(stream *eventStream, result catalog.Result, opts render.Options) error {
	var buf bytes.Buffer
	if err := h.pages.Renderer.Render(&buf, render.PartialGrid, render.Catalog(result, opts)); err != nil {
		return err
	}
	return stream.send("results", "", buf.Bytes())
}

type liveInput struct {
	Query    *string `json:"q"`
	Category *string `json:"category"`
	Sort     *string `json:"sort"`
	Page     *int    `json:"page"`
}

func (h *CatalogHandlers) liveInput(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collection := chi.URLParam(r, "collection")
	view, ok := h.views.Get(chi.URLParam(r, "viewID"))
	if !ok || view.Collection != collection {
		httpx.WriteError(ctx, w, httpx.NewError("live_view_not_found", "live view not found or expired", http.StatusNotFound))
		return
	}

	input, err := parseLiveInput(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	c := view.Controller
	if input.Category != nil {
		c.SetCategory(strings.TrimSpace(*input.Category))
	}
	if input.Sort != nil {
		c.SetSort(catalog.ParseSortKey(*input.Sort))
	}
	if input.Query != nil {
		c.SetQuery(*input.Query)
	}
	pageAccepted := true
	if input.Page != nil {
		pageAccepted = c.GoTo(*input.Page)
	}

	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"pageAccepted": pageAccepted,
	})
}

func parseLiveInput(r *http.Request) (liveInput, error) {
	var input liveInput
	if isJSONRequest(r) {
		body, err := readLimitedBody(r, maxLiveInputBytes)
		if err != nil {
			return input, err
		}
		if err := json.Unmarshal(body, &input); err != nil {
			return input, errInvalidJSON
		}
		return input, nil
	}

	if err := r.ParseForm(); err != nil {
		return input, err
	}
	str := func(key string) *string {
		if _, ok := r.PostForm[key]; !ok {
			return nil
		}
		v := r.PostForm.Get(key)
		return &v
	}
	input.Query = str("q")
	input.Category = str("category")
	input.Sort = str("sort")
	if raw := str("page"); raw != nil {
		page, err := strconv.Atoi(strings.TrimSpace(*raw))
		if err != nil {
			return input, errInvalidPage
		}
		input.Page = &page
	}
	return input, nil
}

func (h *CatalogHandlers) detail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collection := chi.URLParam(r, "collection")
	if !h.pages.Site.HasCollection(collection) {
		h.pages.unknownCollection(w, r, collection)
		return
	}

	product, err := h.products.Get(ctx, collection, chi.URLParam(r, "productID"))
	if err != nil {
		h.pages.failProduct(w, r, err)
		return
	}

	var related []domain.Product
	if h.related != nil {
		related = h.related.Resolve(ctx, product, collection)
	}

	if httpx.WantsJSON(r) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"product": newProductPayload(product),
			"related": newProductPayloads(related),
		})
		return
	}

	lb := gallery.New(product.Gallery())
	if raw := r.URL.Query().Get("lightbox"); raw != "" {
		if i, err := strconv.Atoi(raw); err == nil {
			lb = lb.Open(i)
		}
	}

	title := product.Name
	if title == "" {
		title = render.Title(collection)
	}
	h.pages.render(w, r, http.StatusOK, render.PageDetail, render.DetailPage{
		Layout:     h.pages.layout(w, r, title),
		Detail:     render.Detail(product, related, lb, h.pages.renderOptions(r, collection)),
		Collection: collection,
	})
}

func (h *CatalogHandlers) contact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collection := chi.URLParam(r, "collection")
	if !h.pages.Site.HasCollection(collection) {
		h.pages.unknownCollection(w, r, collection)
		return
	}
	product, err := h.products.Get(ctx, collection, chi.URLParam(r, "productID"))
	if err != nil {
		h.pages.failProduct(w, r, err)
		return
	}
	pageURL := ""
	if base := strings.TrimRight(h.pages.Site.BaseURL, "/"); base != "" {
		pageURL = base + render.DetailURL(collection, product.ID)
	}
	if product.Currency == "" {
		product.Currency = h.pages.Site.Currency
	}
	link, err := messaging.WhatsAppLink(h.pages.Site.WhatsAppPhone, product, pageURL)
	if err != nil {
		h.pages.fail(w, r, httpx.NewError("contact_unavailable", "contact by chat is not configured", http.StatusNotFound))
		return
	}
	http.Redirect(w, r, link, http.StatusFound)
}

func (h *CatalogHandlers) parseState(r *http.Request) catalog.State {
	q := r.URL.Query()
	state := catalog.State{
		Category: strings.TrimSpace(q.Get("category")),
		Query:    q.Get("q"),
		Sort:     catalog.ParseSortKey(q.Get("sort")),
		PageSize: h.pageSize,
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		state.Page = page
	}
	if size, err := strconv.Atoi(q.Get("per_page")); err == nil && size > 0 {
		state.PageSize = min(size, maxPageSize)
	}
	return state
}
