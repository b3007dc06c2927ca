// Package tradewind provides a Go SDK for a tradewind API server.
package tradewind

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Order is the API representation of an order.
type Order struct {
	ID             string            `json:"id"`
	Symbol         string            `json:"symbol"`
	Side           string            `json:"side"`
	Type           string            `json:"type"`
	Qty            float64           `json:"qty"`
	LimitPrice     float64           `json:"limit_price,omitempty"`
	StopPrice      float64           `json:"stop_price,omitempty"`
	TimeInForce    string            `json:"time_in_force,omitempty"`
	Status         string            `json:"status"`
	FilledQty      float64           `json:"filled_qty"`
	FilledAvgPrice float64           `json:"filled_avg_price"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// OrderRequest is the payload for submitting a new order.
type OrderRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Type        string  `json:"type"`
	Qty         float64 `json:"qty"`
	LimitPrice  float64 `json:"limit_price,omitempty"`
	StopPrice   float64 `json:"stop_price,omitempty"`
	TimeInForce string  `json:"time_in_force,omitempty"`
}

// BreakerStatus reports one circuit-breaker level.
type BreakerStatus struct {
	Level     string    `json:"level"`
	State     string    `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	TrippedAt time.Time `json:"tripped_at,omitempty"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tradewind: server returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a tradewind API server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SubmitOrder creates and submits a new order.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder retrieves one order by ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+orderID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelOrder cancels one order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/orders/"+orderID, nil, nil)
}

// GetBreakerStatus reports every circuit-breaker level.
func (c *Client) GetBreakerStatus(ctx context.Context) ([]BreakerStatus, error) {
	var out []BreakerStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/breaker", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(data))
}
