package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/pcshop/internal/cart"
	"finitefield.org/pcshop/internal/middleware"
	"finitefield.org/pcshop/internal/platform/auth"
	"finitefield.org/pcshop/internal/platform/httpx"
	"finitefield.org/pcshop/internal/platform/observability"
	"finitefield.org/pcshop/internal/platform/requestctx"
)

const maxLoginBodySize = 8 * 1024

// SessionHandlers signs shoppers in and out. Signing in merges the guest cart into
// the shopper's remote cart.
type SessionHandlers struct {
	pages    *Pages
	verifier auth.Verifier
	store    *cart.Store
}

// NewSessionHandlers constructs the handlers.
func NewSessionHandlers(pages *Pages, verifier auth.Verifier, store *cart.Store) *SessionHandlers {
	return &SessionHandlers{pages: pages, verifier: verifier, store: store}
}

// Routes wires the /session endpoints onto the provided router.
func (h *SessionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
}

func (h *SessionHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth_unavailable", "sign-in is not configured", http.StatusServiceUnavailable))
		return
	}

	token, err := parseIDToken(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	identity, err := h.verifier.Verify(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenMissing):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "idToken is required", http.StatusBadRequest))
		case errors.Is(err, auth.ErrTokenExpired):
			httpx.WriteError(ctx, w, httpx.NewError("token_expired", "sign-in expired, please sign in again", http.StatusUnauthorized))
		default:
			requestctx.Logger(ctx).Info("sign-in rejected", zap.Error(err))
			httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "sign-in could not be verified", http.StatusUnauthorized))
		}
		return
	}

	sd := middleware.GetSession(r)
	guestSession := sd.ID
	sd.SignIn(identity.Email)
	merge, err := h.store.MergeOnLogin(ctx, guestSession, h.pages.owner(r), h.pages.local(w, r))
	if err != nil {
		requestctx.Logger(ctx).Warn("cart merge on login failed", zap.Error(err))
	}

	requestctx.Logger(ctx).Info("shopper signed in",
		zap.String("email", observability.SanitizeEmail(identity.Email)),
		zap.Int("merged", merge.Merged),
		zap.Int("failed", merge.Failed),
	)

	setTrigger(w, triggerCartChanged, map[string]any{"count": merge.Count})
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"email":  sd.Email,
		"merged": merge.Merged,
		"failed": merge.Failed,
		"count":  merge.Count,
	})
}

func (h *SessionHandlers) logout(w http.ResponseWriter, r *http.Request) {
	sd := middleware.GetSession(r)
	user := h.pages.owner(r)
	sd.SignOut()
	count := h.store.SignOut(r.Context(), user, sd.ID, h.pages.local(w, r))
	if httpx.WantsJSON(r) || middleware.IsHTMX(r.Context()) {
		setTrigger(w, triggerCartChanged, map[string]any{"count": count})
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func parseIDToken(r *http.Request) (string, error) {
	if isJSONRequest(r) {
		body, err := readLimitedBody(r, maxLoginBodySize)
		if err != nil {
			return "", err
		}
		var req struct {
			IDToken string `json:"idToken"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			return "", errInvalidJSON
		}
		return strings.TrimSpace(req.IDToken), nil
	}
	if err := r.ParseForm(); err != nil {
		return "", err
	}
	return strings.TrimSpace(r.PostForm.Get("idToken")), nil
}
