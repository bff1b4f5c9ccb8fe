package auth

import (
	"context"
	"strings"
)

// DebugTokenPrefix marks development tokens of the form "debug:<email>".
const DebugTokenPrefix = "debug:"

// DebugVerifier accepts "debug:<email>" tokens. It is only wired outside production
// when no Firebase project is configured.
type DebugVerifier struct{}

// Verify implements Verifier.
func (DebugVerifier) Verify(_ context.Context, idToken string) (Identity, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return Identity{}, ErrTokenMissing
	}
	if !strings.HasPrefix(idToken, DebugTokenPrefix) {
		return Identity{}, ErrTokenInvalid
	}
	email := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(idToken, DebugTokenPrefix)))
	if email == "" || !strings.Contains(email, "@") {
		return Identity{}, ErrEmailMissing
	}
	return Identity{UID: "debug-" + email, Email: email}, nil
}
