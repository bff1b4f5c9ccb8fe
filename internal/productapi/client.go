package productapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"finitefield.org/pcshop/internal/domain"
)

const (
	defaultTimeout = 8 * time.Second
	dataPath       = "/api/data"
	maxBodyBytes   = 8 << 20
)

// ErrNotFound is returned when the upstream has no product for the requested id.
var ErrNotFound = errors.New("productapi: not found")

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("productapi: upstream status %d", e.Status)
	}
	return fmt.Sprintf("productapi: upstream status %d: %s", e.Status, e.Body)
}

// Query narrows a product listing.
type Query struct {
	Collection string
	Category   string
	Limit      int
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client reads products from the upstream product API.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	fake    *fixtureStore
}

// NewClient constructs an upstream client. When baseURL is empty, the client serves the
// bundled fixture catalog.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.http == nil {
		c.http = &http.Client{
			Timeout:   c.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if c.baseURL == "" {
		c.fake = defaultFixtures()
	}
	return c
}

// Fake reports whether the client serves bundled fixtures.
func (c *Client) Fake() bool {
	return c.fake != nil
}

// List fetches the products of a collection, optionally filtered by category and limit.
func (c *Client) List(ctx context.Context, q Query) ([]domain.Product, error) {
	collection := strings.TrimSpace(q.Collection)
	if collection == "" {
		return nil, errors.New("productapi: collection is required")
	}
	if c.fake != nil {
		return c.fake.list(q), nil
	}

	params := url.Values{}
	params.Set("collection", collection)
	if category := strings.TrimSpace(q.Category); category != "" {
		params.Set("category", category)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	body, status, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	products, err := decodeProducts(body)
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(products) > q.Limit {
		products = products[:q.Limit]
	}
	return products, nil
}

// Get fetches a single product. A 404, an empty body or a response without the
// requested id yields ErrNotFound.
func (c *Client) Get(ctx context.Context, collection, id string) (domain.Product, error) {
	collection = strings.TrimSpace(collection)
	id = strings.TrimSpace(id)
	if collection == "" || id == "" {
		return domain.Product{}, ErrNotFound
	}
	if c.fake != nil {
		if p, ok := c.fake.get(collection, id); ok {
			return p, nil
		}
		return domain.Product{}, ErrNotFound
	}

	params := url.Values{}
	params.Set("collection", collection)
	params.Set("id", id)
	body, status, err := c.get(ctx, params)
	if err != nil {
		return domain.Product{}, err
	}
	if status == http.StatusNotFound {
		return domain.Product{}, ErrNotFound
	}
	products, err := decodeProducts(body)
	if err != nil {
		return domain.Product{}, err
	}
	for _, p := range products {
		if p.ID == id {
			return p, nil
		}
	}
	if len(products) == 1 && products[0].ID == "" {
		p := products[0]
		p.ID = id
		return p, nil
	}
	return domain.Product{}, ErrNotFound
}

func (c *Client) get(ctx context.Context, params url.Values) ([]byte, int, error) {
	endpoint := c.baseURL + dataPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("productapi: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, nil
	}
	if resp.StatusCode >= 400 {
		return nil, resp.StatusCode, &StatusError{Status: resp.StatusCode, Body: drainError(resp.Body)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("productapi: read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
