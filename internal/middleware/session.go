package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SessionCookieName is the signed session cookie.
const SessionCookieName = "PCSHOP_SESSION"

const sessionTTL = 30 * 24 * time.Hour

// SessionData is the signed, cookie-borne session. Email is set once the shopper signs in.
type SessionData struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	CSRFToken string    `json:"csrf,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// internal dirty flag; not serialized
	dirty bool
}

// SessionOptions configures the session middleware.
type SessionOptions struct {
	SigningKey string
	Secure     bool
	Logger     *zap.Logger
}

// Sessions signs and verifies session cookies.
type Sessions struct {
	key    []byte
	secure bool
	now    func() time.Time
}

// NewSessions builds the session codec. Without a signing key a process-ephemeral key
// is generated, which only suits development.
func NewSessions(opts SessionOptions) *Sessions {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	key := []byte(strings.TrimSpace(opts.SigningKey))
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			logger.Warn("session: failed to generate signing key", zap.Error(err))
			key = []byte("insecure-dev-key-please-set-STOREFRONT_SESSION_SIGNING_KEY")
		}
		logger.Warn("session: using ephemeral signing key (dev); set STOREFRONT_SESSION_SIGNING_KEY for production")
	}
	return &Sessions{key: key, secure: opts.Secure, now: time.Now}
}

// Middleware loads or initializes a session and stores it in request context.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sd, fromCookie := s.read(r)
		if sd.ID == "" {
			now := s.now().UTC()
			sd.ID = randID()
			sd.CreatedAt = now
			sd.UpdatedAt = now
			sd.CSRFToken = newCSRFToken()
			sd.dirty = true
		}
		rw := NewResponseRecorder(w)
		// ensure cookie is set just before first write if needed
		rw.SetBeforeWrite(func(w http.ResponseWriter) {
			if sd.dirty || !fromCookie {
				s.write(w, sd)
			}
		})
		next.ServeHTTP(rw, r.WithContext(WithSession(r.Context(), sd)))
		// If nothing was written yet (e.g., HEAD), persist cookie now
		if !rw.Wrote() && (sd.dirty || !fromCookie) {
			s.write(w, sd)
		}
	})
}

// GetSession returns session data from the request context.
func GetSession(r *http.Request) *SessionData {
	if sd := SessionFromContext(r.Context()); sd != nil {
		return sd
	}
	return &SessionData{}
}

// MarkDirty flags the session for writing at end of request
func (sd *SessionData) MarkDirty() { sd.dirty = true; sd.UpdatedAt = time.Now().UTC() }

// RegenerateID assigns a new session ID and CSRF token to prevent fixation after auth.
func (sd *SessionData) RegenerateID() {
	sd.ID = randID()
	sd.CSRFToken = newCSRFToken()
	sd.MarkDirty()
}

// SignIn records the email and regenerates the session id.
func (sd *SessionData) SignIn(email string) {
	sd.Email = strings.ToLower(strings.TrimSpace(email))
	sd.RegenerateID()
}

// SignOut clears the email and regenerates the session id.
func (sd *SessionData) SignOut() {
	sd.Email = ""
	sd.RegenerateID()
}

func (s *Sessions) read(r *http.Request) (*SessionData, bool) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return &SessionData{}, false
	}
	payload, ok := s.verify(c.Value)
	if !ok {
		return &SessionData{}, false
	}
	var sd SessionData
	if err := json.Unmarshal(payload, &sd); err != nil {
		return &SessionData{}, false
	}
	return &sd, true
}

func (s *Sessions) verify(value string) ([]byte, bool) {
	encoded, sig, ok := strings.Cut(value, ".")
	if !ok {
		return nil, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}
	sigB, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, false
	}
	if !hmac.Equal(sigB, s.sign(payload)) {
		return nil, false
	}
	return payload, true
}

func (s *Sessions) encode(sd *SessionData) string {
	b, _ := json.Marshal(sd)
	return base64.RawURLEncoding.EncodeToString(b) + "." + base64.RawURLEncoding.EncodeToString(s.sign(b))
}

func (s *Sessions) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

func (s *Sessions) write(w http.ResponseWriter, sd *SessionData) {
	// httpOnly to prevent JS access
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    s.encode(sd),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  s.now().Add(sessionTTL),
	})
}

func randID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
