package productapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"finitefield.org/pcshop/internal/cart"
	"finitefield.org/pcshop/internal/domain"
)

const cartCollection = "carts"

// CartClient stores authenticated carts through the upstream Cart API. With no base URL
// it keeps carts in memory.
type CartClient struct {
	api *Client

	mu     sync.Mutex
	memory map[string]domain.Lines
}

var _ cart.Remote = (*CartClient)(nil)

// NewCartClient constructs the Cart API client with the same options as NewClient.
func NewCartClient(baseURL string, opts ...Option) *CartClient {
	return &CartClient{
		api:    NewClient(baseURL, opts...),
		memory: make(map[string]domain.Lines),
	}
}

type cartLinePayload struct {
	Email     string  `json:"email"`
	ProductID string  `json:"productId"`
	Name      string  `json:"name,omitempty"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency,omitempty"`
	Image     string  `json:"image,omitempty"`
	Quantity  int     `json:"quantity"`
}

// Lines returns the user's cart lines. A 404 is an empty cart.
func (c *CartClient) Lines(ctx context.Context, email string) (domain.Lines, error) {
	email = normalizeEmail(email)
	if c.api.fake != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		lines := c.memory[email].Clone()
		if lines == nil {
			lines = domain.Lines{}
		}
		return lines, nil
	}

	params := url.Values{}
	params.Set("collection", cartCollection)
	params.Set("email", email)
	body, status, err := c.api.get(ctx, params)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return domain.Lines{}, nil
	}
	return decodeLines(body)
}

// Add creates the line or increments its quantity upstream.
func (c *CartClient) Add(ctx context.Context, email string, line domain.LineItem) error {
	email = normalizeEmail(email)
	if c.api.fake != nil {
		c.mu.Lock()
		c.memory[email] = c.memory[email].Add(line)
		c.mu.Unlock()
		return nil
	}

	payload, err := json.Marshal(cartLinePayload{
		Email:     email,
		ProductID: line.ProductID,
		Name:      line.Name,
		Price:     line.Price,
		Currency:  line.Currency,
		Image:     line.Image,
		Quantity:  line.Quantity,
	})
	if err != nil {
		return err
	}
	params := url.Values{}
	params.Set("collection", cartCollection)
	_, err = c.send(ctx, http.MethodPost, params, payload)
	return err
}

// Remove deletes the line for productID. A 404 wraps cart.ErrCartNotFound.
func (c *CartClient) Remove(ctx context.Context, email, productID string) error {
	email = normalizeEmail(email)
	if c.api.fake != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		lines, removed := c.memory[email].Remove(productID)
		if !removed {
			return fmt.Errorf("productapi: cart line %q: %w", productID, cart.ErrCartNotFound)
		}
		c.memory[email] = lines
		return nil
	}

	params := url.Values{}
	params.Set("collection", cartCollection)
	params.Set("id", strings.TrimSpace(productID))
	params.Set("email", email)
	status, err := c.send(ctx, http.MethodDelete, params, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return fmt.Errorf("productapi: cart line %q: %w", productID, cart.ErrCartNotFound)
	}
	return nil
}

func (c *CartClient) send(ctx context.Context, method string, params url.Values, payload []byte) (int, error) {
	endpoint := c.api.baseURL + dataPath + "?" + params.Encode()
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.api.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("productapi: cart request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, &StatusError{Status: resp.StatusCode, Body: drainError(resp.Body)}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}

// decodeLines accepts a bare array or an {"items"|"lines"|"products": [...]} wrapper.
func decodeLines(raw []byte) (domain.Lines, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return domain.Lines{}, nil
	}

	var records []map[string]any
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("productapi: decode cart: %w", err)
		}
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("productapi: decode cart: %w", err)
		}
		items, _ := firstPresent(obj, "items", "lines", "products").([]any)
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				records = append(records, m)
			}
		}
	default:
		return nil, errors.New("productapi: unexpected cart body")
	}

	var lines domain.Lines
	for _, rec := range records {
		if line, ok := lineFromMap(rec); ok {
			lines = lines.Add(line)
		}
	}
	if lines == nil {
		lines = domain.Lines{}
	}
	return lines, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
