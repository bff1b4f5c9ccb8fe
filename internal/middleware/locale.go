package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/text/language"

	"finitefield.org/pcshop/internal/platform/requestctx"
)

// Locale negotiates the collation language from ?hl=, the hl cookie or Accept-Language
// against the supported set, and stores the base language on the request context.
func Locale(fallback string, supported ...string) func(http.Handler) http.Handler {
	tags := make([]language.Tag, 0, len(supported)+1)
	fallbackTag, err := language.Parse(fallback)
	if err != nil {
		fallbackTag = language.English
	}
	tags = append(tags, fallbackTag)
	for _, s := range supported {
		if tag, err := language.Parse(s); err == nil && tag != fallbackTag {
			tags = append(tags, tag)
		}
	}
	matcher := language.NewMatcher(tags)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var prefs []string
			if q := strings.TrimSpace(r.URL.Query().Get("hl")); q != "" {
				prefs = append(prefs, q)
			}
			if c, err := r.Cookie("hl"); err == nil && c.Value != "" {
				prefs = append(prefs, c.Value)
			}
			prefs = append(prefs, r.Header.Get("Accept-Language"))

			tag, _ := language.MatchStrings(matcher, prefs...)
			base, _ := tag.Base()
			lang := base.String()

			w.Header().Add("Vary", "Accept-Language")
			w.Header().Set("Content-Language", lang)
			next.ServeHTTP(w, r.WithContext(requestctx.WithLanguage(r.Context(), lang)))
		})
	}
}
