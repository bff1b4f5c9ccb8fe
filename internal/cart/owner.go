package cart

import (
	"context"
	"strings"

	"finitefield.org/pcshop/internal/domain"
)

// Owner identifies whose cart an operation targets. An owner with an email is
// authenticated and uses the remote cart; otherwise the browser-local blob is used.
type Owner struct {
	SessionID string
	Email     string
}

// Authenticated reports whether the owner has a signed-in email.
func (o Owner) Authenticated() bool {
	return strings.TrimSpace(o.Email) != ""
}

// Key is the broadcast key shared by every tab of the same owner.
func (o Owner) Key() string {
	if o.Authenticated() {
		return UserKey(o.Email)
	}
	return GuestKey(o.SessionID)
}

// UserKey returns the broadcast key for an authenticated user.
func UserKey(email string) string {
	return "user:" + strings.ToLower(strings.TrimSpace(email))
}

// GuestKey returns the broadcast key for an anonymous session.
func GuestKey(sessionID string) string {
	return "guest:" + strings.TrimSpace(sessionID)
}

// Remote persists authenticated carts: one line per (email, product id).
// Add creates the line or increments its quantity. Remove wraps ErrCartNotFound when
// the line does not exist.
type Remote interface {
	Lines(ctx context.Context, email string) (domain.Lines, error)
	Add(ctx context.Context, email string, line domain.LineItem) error
	Remove(ctx context.Context, email, productID string) error
}
