package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"finitefield.org/pcshop/internal/cart"
	"finitefield.org/pcshop/internal/catalog"
	"finitefield.org/pcshop/internal/domain"
	"finitefield.org/pcshop/internal/middleware"
	"finitefield.org/pcshop/internal/platform/auth"
	"finitefield.org/pcshop/internal/productapi"
	"finitefield.org/pcshop/internal/render"
)

type stubProducts struct {
	mu       sync.Mutex
	products map[string][]domain.Product
	listErr  error
	getErr   error
}

func newStubProducts() *stubProducts {
	return &stubProducts{products: map[string][]domain.Product{
		"laptops": {
			{ID: "1", Name: "Aero", Category: "gaming", Price: domain.Float(1000), Image: "a.jpg", Images: []string{"b.jpg"}, RelatedIDs: []string{"3"}},
			{ID: "2", Name: "Desk", Category: "office", Price: domain.Float(500)},
			{ID: "3", Name: "Blade", Category: "gaming", Price: domain.Float(1500)},
		},
	}}
}

func (s *stubProducts) List(_ context.Context, q productapi.Query) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Product
	for _, p := range s.products[q.Collection] {
		if q.Category != "" && p.Category != q.Category {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *stubProducts) Get(_ context.Context, collection, id string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return domain.Product{}, s.getErr
	}
	for _, p := range s.products[collection] {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Product{}, productapi.ErrNotFound
}

type stubRelated struct{ products []domain.Product }

func (s stubRelated) Resolve(context.Context, domain.Product, string) []domain.Product {
	return s.products
}

type testAppOptions struct {
	remote cart.Remote
	phone  string
	jar    http.CookieJar
}

type testApp struct {
	server   *httptest.Server
	client   *http.Client
	products *stubProducts
	store    *cart.Store
}

func newTestApp(t *testing.T, opts testAppOptions) *testApp {
	t.Helper()
	remote := opts.remote
	if remote == nil {
		remote = productapi.NewCartClient("")
	}
	store, err := cart.NewStore(cart.StoreDeps{Remote: remote, Hub: cart.NewHub(), Currency: "USD"})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	renderer, err := render.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	products := newStubProducts()
	pages := &Pages{
		Site: Site{
			Collections:   []string{"laptops", "monitors"},
			Currency:      "USD",
			WhatsAppPhone: opts.phone,
			BaseURL:       "https://shop.example.com",
			Language:      "en",
		},
		Renderer: renderer,
		Carts:    store,
	}
	catalogHandlers := NewCatalogHandlers(CatalogDeps{
		Pages:    pages,
		Products: products,
		Views:    catalog.NewViews(time.Minute),
		Related:  stubRelated{products: []domain.Product{{ID: "3", Name: "Blade"}}},
		Debounce: 5 * time.Millisecond,
	})
	sessions := middleware.NewSessions(middleware.SessionOptions{SigningKey: "test-signing-key"})
	router := NewRouter(
		WithMiddlewares(sessions.Middleware, sessions.CSRF, middleware.HTMX),
		WithHomeRedirect("/products/laptops"),
		WithCatalogRoutes(catalogHandlers.Routes),
		WithCartRoutes(NewCartHandlers(pages, store, products).Routes),
		WithSessionRoutes(NewSessionHandlers(pages, auth.DebugVerifier{}, store).Routes),
	)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	jar := opts.jar
	if jar == nil {
		jar, _ = cookiejar.New(nil)
	}
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testApp{server: srv, client: client, products: products, store: store}
}

func (a *testApp) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.server.URL+path, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// csrf primes the session and returns the double-submit token.
func (a *testApp) csrf(t *testing.T) string {
	t.Helper()
	a.do(t, http.MethodGet, "/healthz", nil, nil)
	u, _ := url.Parse(a.server.URL)
	for _, c := range a.client.Jar.Cookies(u) {
		if c.Name == "csrf_token" {
			return c.Value
		}
	}
	t.Fatalf("csrf cookie not issued")
	return ""
}

func (a *testApp) postJSON(t *testing.T, path string, payload any, extra map[string]string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(payload)
	headers := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
		"X-CSRF-Token": a.csrf(t),
	}
	for k, v := range extra {
		headers[k] = v
	}
	return a.do(t, http.MethodPost, path, strings.NewReader(string(body)), headers)
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func document(t *testing.T, resp *http.Response) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var evt sseEvent
	var data []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if evt.name == "" && len(data) == 0 {
				continue
			}
			evt.data = strings.Join(data, "\n")
			return evt
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			evt.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
}

func (a *testApp) openStream(t *testing.T, path string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, a.server.URL+path, nil)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := a.client.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected stream response %d %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	return bufio.NewReader(resp.Body)
}

func TestHealthHandlers(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.2.3", Environment: "dev", StartedAt: start}),
		WithHealthClock(func() time.Time { return start.Add(90 * time.Second) }),
		WithReadinessCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
		WithReadinessCheck("upstream", func(context.Context) error { return nil }),
	)

	rr := httptest.NewRecorder()
	h.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rr.Code != http.StatusOK || body["status"] != "ok" || body["uptime"] != "1m30s" || body["version"] != "1.2.3" {
		t.Fatalf("unexpected healthz %d %v", rr.Code, body)
	}

	rr = httptest.NewRecorder()
	h.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var ready struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &ready)
	if ready.Status != "degraded" || ready.Checks["upstream"] != "ok" || ready.Checks["redis"] != "connection refused" {
		t.Fatalf("unexpected readiness %#v", ready)
	}
}

func TestRouterNotFoundAndHome(t *testing.T) {
	app := newTestApp(t, testAppOptions{})

	resp := app.do(t, http.MethodGet, "/nope", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var envelope map[string]any
	decodeJSON(t, resp, &envelope)
	if envelope["error"] != errorNotFoundCode || envelope["request_id"] == "" {
		t.Fatalf("unexpected envelope %v", envelope)
	}

	resp = app.do(t, http.MethodGet, "/", nil, nil)
	if resp.StatusCode != http.StatusFound || resp.Header.Get("Location") != "/products/laptops" {
		t.Fatalf("unexpected home redirect %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}
