package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/pcshop/internal/cart"
	"finitefield.org/pcshop/internal/domain"
	"finitefield.org/pcshop/internal/middleware"
	"finitefield.org/pcshop/internal/platform/httpx"
	"finitefield.org/pcshop/internal/platform/requestctx"
	"finitefield.org/pcshop/internal/productapi"
	"finitefield.org/pcshop/internal/render"
)

// Site holds shop-wide settings shared by every handler group.
type Site struct {
	Collections   []string
	Currency      string
	WhatsAppPhone string
	BaseURL       string
	Language      string
	SecureCookies bool
}

// HasCollection reports whether name is one of the configured collections.
func (s Site) HasCollection(name string) bool {
	return slices.Contains(s.Collections, name)
}

// ProductSource reads products from the upstream product API.
type ProductSource interface {
	List(ctx context.Context, q productapi.Query) ([]domain.Product, error)
	Get(ctx context.Context, collection, id string) (domain.Product, error)
}

// Renderer executes named page templates.
type Renderer interface {
	Render(w io.Writer, name string, data any) error
}

// Pages bundles what full-page handlers need to build the shared layout.
type Pages struct {
	Site     Site
	Renderer Renderer
	Carts    *cart.Store
}

func (p *Pages) owner(r *http.Request) cart.Owner {
	sd := middleware.GetSession(r)
	return cart.Owner{SessionID: sd.ID, Email: sd.Email}
}

func (p *Pages) local(w http.ResponseWriter, r *http.Request) cart.LocalStorage {
	return middleware.NewCookieStorage(w, r, p.Site.SecureCookies)
}

func (p *Pages) language(r *http.Request) string {
	return requestctx.Language(r.Context(), p.Site.Language)
}

func (p *Pages) layout(w http.ResponseWriter, r *http.Request, title string) render.Layout {
	sd := middleware.GetSession(r)
	layout := render.Layout{
		Title:       title,
		Lang:        p.language(r),
		CSRFToken:   sd.CSRFToken,
		SignedIn:    sd.Email != "",
		Email:       sd.Email,
		Collections: p.Site.Collections,
	}
	if p.Carts != nil {
		layout.CartCount = p.Carts.DisplayCount(r.Context(), p.owner(r), p.local(w, r))
	}
	return layout
}

func (p *Pages) renderOptions(r *http.Request, collection string) render.Options {
	return render.Options{
		Collection: collection,
		Currency:   p.Site.Currency,
		Phone:      p.Site.WhatsAppPhone,
		BaseURL:    p.Site.BaseURL,
		CSRFToken:  middleware.CSRFToken(r),
	}
}

func (p *Pages) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	var buf strings.Builder
	if err := p.Renderer.Render(&buf, name, data); err != nil {
		requestctx.Logger(r.Context()).Error("render page failed", zap.String("page", name), zap.Error(err))
		httpx.WriteError(r.Context(), w, httpx.NewError("render_failed", "unable to render page", http.StatusInternalServerError))
		return
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, buf.String())
}

// fail writes a JSON envelope for API/htmx callers and the error page for browsers.
func (p *Pages) fail(w http.ResponseWriter, r *http.Request, herr httpx.Error) {
	if httpx.WantsJSON(r) || middleware.IsHTMX(r.Context()) || p.Renderer == nil {
		httpx.WriteError(r.Context(), w, herr)
		return
	}
	page := render.ErrorPage{
		Layout:  p.layout(w, r, http.StatusText(herr.Status)),
		Status:  herr.Status,
		Message: herr.Message,
	}
	p.render(w, r, herr.Status, render.PageError, page)
}

func (p *Pages) failProduct(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, productapi.ErrNotFound):
		p.fail(w, r, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to write
	default:
		requestctx.Logger(r.Context()).Warn("product api request failed", zap.Error(err))
		p.fail(w, r, httpx.NewError("upstream_unavailable", "the product catalogue is temporarily unavailable", http.StatusBadGateway))
	}
}

func (p *Pages) unknownCollection(w http.ResponseWriter, r *http.Request, collection string) {
	p.fail(w, r, httpx.NewError("collection_not_found", "unknown collection "+collection, http.StatusNotFound))
}
