package middleware

import "context"

// context keys are unexported to avoid collisions
type ctxKey string

const (
	ctxKeyIsHTMX     ctxKey = "is_htmx"
	ctxKeyHTMXTarget ctxKey = "htmx_target"
	ctxKeySession    ctxKey = "session"
)

// WithHTMX marks request as HTMX
func WithHTMX(ctx context.Context, is bool) context.Context {
	return context.WithValue(ctx, ctxKeyIsHTMX, is)
}

// IsHTMX returns whether this is an htmx request
func IsHTMX(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKeyIsHTMX).(bool)
	return v
}

// WithHTMXTarget records the id of the element an htmx request swaps into.
func WithHTMXTarget(ctx context.Context, target string) context.Context {
	return context.WithValue(ctx, ctxKeyHTMXTarget, target)
}

// HTMXTarget returns the swap target id without a leading "#", or "" for plain requests.
func HTMXTarget(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyHTMXTarget).(string)
	return v
}

// WithSession stores session data on ctx. Handlers normally get it from the Session middleware.
func WithSession(ctx context.Context, s *SessionData) context.Context {
	return context.WithValue(ctx, ctxKeySession, s)
}

// SessionFromContext returns the request session, or nil outside the Session middleware.
func SessionFromContext(ctx context.Context) *SessionData {
	s, _ := ctx.Value(ctxKeySession).(*SessionData)
	return s
}
