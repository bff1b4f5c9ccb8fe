package middleware

import (
	"net/http"
	"strings"
)

// HTMX marks requests coming from htmx and records the element id they target, so
// handlers can answer a grid swap with a fragment instead of the full page.
// Both renditions share a URL, hence the Vary header.
func HTMX(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "HX-Request")
		is := r.Header.Get("HX-Request") == "true"
		ctx := WithHTMX(r.Context(), is)
		if is {
			ctx = WithHTMXTarget(ctx, strings.TrimPrefix(strings.TrimSpace(r.Header.Get("HX-Target")), "#"))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
