package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/pcshop/internal/cart"
	"finitefield.org/pcshop/internal/domain"
	"finitefield.org/pcshop/internal/middleware"
	"finitefield.org/pcshop/internal/platform/httpx"
	"finitefield.org/pcshop/internal/platform/requestctx"
	"finitefield.org/pcshop/internal/productapi"
	"finitefield.org/pcshop/internal/render"
)

const (
	maxCartBodySize = 16 * 1024
	maxQuantity     = 99

	triggerCartChanged = "cart:changed"
	triggerCartError   = "cart:error"
)

// CartHandlers exposes the shopper's cart, its counter and the live counter stream.
type CartHandlers struct {
	pages     *Pages
	store     *cart.Store
	products  ProductSource
	heartbeat time.Duration
}

// NewCartHandlers constructs the handlers. products resolves the name and price stored
// on new lines.
func NewCartHandlers(pages *Pages, store *cart.Store, products ProductSource) *CartHandlers {
	return &CartHandlers{pages: pages, store: store, products: products, heartbeat: defaultHeartbeat}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.show)
	r.Get("/count", h.count)
	r.Get("/events", h.events)
	r.Post("/items", h.add)
	r.Delete("/items/{productID}", h.remove)
}

func (h *CartHandlers) show(w http.ResponseWriter, r *http.Request) {
	owner := h.pages.owner(r)
	lines, err := h.store.Lines(r.Context(), owner, h.pages.local(w, r))
	if err != nil {
		h.writeCartError(w, r, err)
		return
	}
	if httpx.WantsJSON(r) {
		if lines == nil {
			lines = domain.Lines{}
		}
		httpx.WriteJSON(w, http.StatusOK, cartPayload{
			Lines:    lines,
			Count:    lines.Count(),
			Subtotal: lines.Subtotal(),
			Currency: h.pages.Site.Currency,
		})
		return
	}
	h.pages.render(w, r, http.StatusOK, render.PageCart, render.CartPage{
		Layout: h.pages.layout(w, r, "Cart"),
		Cart:   render.Cart(lines, h.pages.Site.Currency),
	})
}

func (h *CartHandlers) count(w http.ResponseWriter, r *http.Request) {
	n := h.store.DisplayCount(r.Context(), h.pages.owner(r), h.pages.local(w, r))
	if middleware.IsHTMX(r.Context()) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte(strconv.Itoa(n)))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"count": n})
}

type addItemRequest struct {
	ProductID  string `json:"productId"`
	Collection string `json:"collection"`
	Quantity   int    `json:"quantity"`
}

func (h *CartHandlers) add(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := parseAddItemRequest(r)
	if err != nil {
		h.pages.fail(w, r, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	product, ok := h.lookupProduct(w, r, req)
	if !ok {
		return
	}

	owner := h.pages.owner(r)
	result, err := h.store.AddItem(ctx, owner, h.pages.local(w, r), product, req.Quantity)
	if err != nil {
		if errors.Is(err, cart.ErrCartUnavailable) {
			message := cart.RollbackMessage(product.Name)
			setTrigger(w, triggerCartError, map[string]any{"message": message, "productId": product.ID, "retry": true})
			httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", message, http.StatusServiceUnavailable).
				WithDetails(map[string]any{"retry": true}))
			return
		}
		h.writeCartError(w, r, err)
		return
	}

	setTrigger(w, triggerCartChanged, map[string]any{"count": result.Count})
	switch {
	case middleware.IsHTMX(ctx):
		w.WriteHeader(http.StatusOK)
	case httpx.WantsJSON(r) || isJSONRequest(r):
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"count": result.Count, "line": result.Line})
	default:
		http.Redirect(w, r, "/cart", http.StatusSeeOther)
	}
}

// lookupProduct snapshots the product for the new line. An upstream outage degrades
// to an id-only line rather than blocking the add.
func (h *CartHandlers) lookupProduct(w http.ResponseWriter, r *http.Request, req addItemRequest) (domain.Product, bool) {
	fallback := domain.Product{ID: req.ProductID}
	if h.products == nil || req.Collection == "" {
		return fallback, true
	}
	if !h.pages.Site.HasCollection(req.Collection) {
		h.pages.unknownCollection(w, r, req.Collection)
		return domain.Product{}, false
	}
	product, err := h.products.Get(r.Context(), req.Collection, req.ProductID)
	switch {
	case err == nil:
		return product, true
	case errors.Is(err, productapi.ErrNotFound):
		h.pages.fail(w, r, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		return domain.Product{}, false
	default:
		requestctx.Logger(r.Context()).Warn("product lookup for cart failed", zap.String("product_id", req.ProductID), zap.Error(err))
		return fallback, true
	}
}

func parseAddItemRequest(r *http.Request) (addItemRequest, error) {
	var req addItemRequest
	if isJSONRequest(r) {
		body, err := readLimitedBody(r, maxCartBodySize)
		if err != nil {
			return req, err
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return req, errInvalidJSON
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.ProductID = r.PostForm.Get("productId")
		req.Collection = r.PostForm.Get("collection")
		if raw := strings.TrimSpace(r.PostForm.Get("quantity")); raw != "" {
			qty, err := strconv.Atoi(raw)
			if err != nil {
				return req, errors.New("quantity must be an integer")
			}
			req.Quantity = qty
		}
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.Collection = strings.TrimSpace(req.Collection)
	if req.ProductID == "" {
		return req, errors.New("productId is required")
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.Quantity < 0 || req.Quantity > maxQuantity {
		return req, errors.New("quantity must be between 1 and 99")
	}
	return req, nil
}

func (h *CartHandlers) remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	count, err := h.store.RemoveItem(ctx, h.pages.owner(r), h.pages.local(w, r), chi.URLParam(r, "productID"))
	if err != nil {
		h.writeCartError(w, r, err)
		return
	}
	setTrigger(w, triggerCartChanged, map[string]any{"count": count})
	if middleware.IsHTMX(ctx) {
		w.WriteHeader(http.StatusOK)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"count": count})
}

// events streams counter updates for the session's owner until the client disconnects.
func (h *CartHandlers) events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner := h.pages.owner(r)
	ch, cancel := h.store.Hub().Subscribe(owner.Key(), owner)
	defer cancel()
	initial := h.store.DisplayCount(ctx, owner, h.pages.local(w, r))

	stream, err := openEventStream(w)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("streaming_unsupported", "event streams are not supported", http.StatusInternalServerError))
		return
	}

	snapshot, _ := json.Marshal(cart.Event{Key: owner.Key(), Count: initial, Kind: cart.KindChanged})
	if err := stream.send("cart", "", snapshot); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := stream.send("cart", evt.ID, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := stream.ping(); err != nil {
				return
			}
		}
	}
}

func (h *CartHandlers) writeCartError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, cart.ErrCartInvalidInput):
		h.pages.fail(w, r, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, cart.ErrCartNotFound):
		h.pages.fail(w, r, httpx.NewError("cart_item_not_found", "item is not in the cart", http.StatusNotFound))
	case errors.Is(err, cart.ErrCartUnavailable):
		requestctx.Logger(r.Context()).Warn("cart backend unavailable", zap.Error(err))
		h.pages.fail(w, r, httpx.NewError("cart_unavailable", "the cart is temporarily unavailable, please retry", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(r.Context()).Error("cart request failed", zap.Error(err))
		h.pages.fail(w, r, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func setTrigger(w http.ResponseWriter, name string, detail map[string]any) {
	payload, err := json.Marshal(map[string]any{name: detail})
	if err != nil {
		return
	}
	w.Header().Set("HX-Trigger", string(payload))
}
