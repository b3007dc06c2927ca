package tradewind

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want trailing slash stripped", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestSubmitOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/orders" {
			t.Errorf("got %s %s, want POST /api/v1/orders", r.Method, r.URL.Path)
		}
		var req OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Symbol != "AAPL" || req.Qty != 100 {
			t.Errorf("request = %+v, want AAPL x100", req)
		}
		json.NewEncoder(w).Encode(Order{ID: "o-1", Symbol: req.Symbol, Qty: req.Qty, Status: "submitted"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	order, err := c.SubmitOrder(context.Background(), OrderRequest{
		Symbol: "AAPL", Side: "buy", Type: "market", Qty: 100,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if order.ID != "o-1" || order.Status != "submitted" {
		t.Errorf("order = %+v, want o-1 submitted", order)
	}
}

func TestGetOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/orders/o-7" {
			t.Errorf("path = %s, want /api/v1/orders/o-7", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Order{ID: "o-7", Status: "filled", FilledQty: 50})
	}))
	defer srv.Close()

	order, err := NewClient(srv.URL).GetOrder(context.Background(), "o-7")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.Status != "filled" || order.FilledQty != 50 {
		t.Errorf("order = %+v, want filled x50", order)
	}
}

func TestGetBreakerStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/breaker" {
			t.Errorf("path = %s, want /api/v1/breaker", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]BreakerStatus{{Level: "account", State: "open", Reason: "daily_loss"}})
	}))
	defer srv.Close()

	levels, err := NewClient(srv.URL).GetBreakerStatus(context.Background())
	if err != nil {
		t.Fatalf("GetBreakerStatus: %v", err)
	}
	if len(levels) != 1 || levels[0].State != "open" {
		t.Errorf("levels = %+v, want one open level", levels)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "quantity must be positive"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).SubmitOrder(context.Background(), OrderRequest{Symbol: "AAPL"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", apiErr.StatusCode)
	}
	if apiErr.Message != "quantity must be positive" {
		t.Errorf("message = %q, want decoded error body", apiErr.Message)
	}
}
