package middleware

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"
)

// MaxCartCookieBytes keeps the encoded guest cart inside common per-cookie limits.
const MaxCartCookieBytes = 3800

// ErrCartCookieTooLarge is returned when the guest cart no longer fits in a cookie.
var ErrCartCookieTooLarge = errors.New("middleware: guest cart exceeds cookie size")

// CookieStorage is a browser-scoped key/value store backed by cookies, one cookie per key.
// It satisfies cart.LocalStorage. Writes are visible to later reads in the same request.
type CookieStorage struct {
	w       http.ResponseWriter
	r       *http.Request
	secure  bool
	pending map[string]*string
}

// NewCookieStorage binds storage to one request/response pair.
func NewCookieStorage(w http.ResponseWriter, r *http.Request, secure bool) *CookieStorage {
	return &CookieStorage{w: w, r: r, secure: secure, pending: make(map[string]*string)}
}

// Get returns the decoded value for key.
func (c *CookieStorage) Get(key string) (string, bool) {
	if v, ok := c.pending[key]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	cookie, err := c.r.Cookie(key)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		// Surface the undecodable value so the cart layer treats it as malformed.
		return cookie.Value, true
	}
	return string(raw), true
}

// Set writes value under key.
func (c *CookieStorage) Set(key, value string) error {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(value))
	if len(encoded) > MaxCartCookieBytes {
		return ErrCartCookieTooLarge
	}
	http.SetCookie(c.w, &http.Cookie{
		Name:     key,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(sessionTTL),
	})
	v := value
	c.pending[key] = &v
	return nil
}

// Remove expires the cookie for key.
func (c *CookieStorage) Remove(key string) error {
	http.SetCookie(c.w, &http.Cookie{
		Name:     key,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	c.pending[key] = nil
	return nil
}
