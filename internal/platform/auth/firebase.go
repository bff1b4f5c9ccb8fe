package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

const (
	defaultVerifyTimeout = 5 * time.Second
	defaultEmailClaim    = "email"
)

var (
	// ErrTokenMissing is returned for an empty ID token.
	ErrTokenMissing = errors.New("auth: id token missing")
	// ErrTokenExpired signals that the provided Firebase ID token has expired.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid signals that the provided Firebase ID token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
	// ErrEmailMissing is returned when a verified token carries no email claim.
	ErrEmailMissing = errors.New("auth: identity has no email")
)

// Identity is the signed-in shopper extracted from a verified ID token.
type Identity struct {
	UID   string
	Email string
}

// Verifier turns a client-supplied ID token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (Identity, error)
}

// FirebaseConfig carries the project settings needed by the Admin SDK.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirebaseVerifier coordinates Firebase Admin SDK initialisation for token verification.
type FirebaseVerifier struct {
	client  tokenVerifier
	timeout time.Duration
}

type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseOption customises FirebaseVerifier instances.
type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseTimeout overrides the timeout used for Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewFirebaseVerifier constructs a FirebaseVerifier backed by the Admin SDK.
func NewFirebaseVerifier(ctx context.Context, cfg FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}

	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	return newFirebaseVerifier(authClient, opts...), nil
}

func newFirebaseVerifier(client tokenVerifier, opts ...FirebaseOption) *FirebaseVerifier {
	verifier := &FirebaseVerifier{client: client, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}
	return verifier
}

// Verify checks the ID token with a bounded context and extracts the email claim.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (Identity, error) {
	if v == nil || v.client == nil {
		return Identity{}, errors.New("firebase verifier not initialised")
	}
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return Identity{}, ErrTokenMissing
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		if firebaseauth.IsIDTokenExpired(err) {
			return Identity{}, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	identity := Identity{UID: token.UID, Email: claimAsString(token.Claims, defaultEmailClaim)}
	if identity.Email == "" {
		return Identity{}, ErrEmailMissing
	}
	return identity, nil
}

func claimAsString(claims map[string]interface{}, key string) string {
	if claims == nil {
		return ""
	}
	value, ok := claims[key]
	if !ok {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}
