package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()

	cfg := DefaultConfig(serverURL, "batchflow-test/1.0")
	cfg.Retry = fastRetry()

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:   "valid",
			config: Config{BaseURL: "https://api.example.com", UserAgent: "app/1.0"},
		},
		{
			name:    "missing base url",
			config:  Config{UserAgent: "app/1.0"},
			wantErr: "base url is required",
		},
		{
			name:    "unsupported scheme",
			config:  Config{BaseURL: "ftp://example.com", UserAgent: "app/1.0"},
			wantErr: "http or https",
		},
		{
			name:    "missing user agent",
			config:  Config{BaseURL: "https://api.example.com"},
			wantErr: "user-agent is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				if c.RateLimiter() != nil {
					t.Error("Expected no rate limiter without Redis")
				}
				if c.config.Retry.MaxAttempts != DefaultRetryConfig().MaxAttempts {
					t.Error("Expected default retry config")
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDo_Headers(t *testing.T) {
	var gotUA, gotAuth, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := DefaultConfig(server.URL, "batchflow-test/1.0")
	cfg.APIKey = "secret"
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var out map[string]any
	if err := c.GetJSON(context.Background(), "/v1/ping", nil, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}

	if gotUA != "batchflow-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
}

func TestGetJSON_QueryAndDecode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/markets" {
			t.Errorf("Path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("offset") != "50" || r.URL.Query().Get("order") != "desc" {
			t.Errorf("Query = %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"id":"btc"},{"id":"eth"}]}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	var out struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	query := url.Values{"offset": {"50"}, "order": {"desc"}}
	if err := c.GetJSON(context.Background(), "/v1/markets", query, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if len(out.Items) != 2 || out.Items[1].ID != "eth" {
		t.Errorf("Items = %+v", out.Items)
	}
}

func TestGetJSON_DecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	var out map[string]any
	err := c.GetJSON(context.Background(), "/v1/markets", nil, &out)
	if err == nil || !strings.Contains(err.Error(), "decode /v1/markets") {
		t.Errorf("err = %v, want decode error", err)
	}
}

func TestDo_RetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.GetJSON(context.Background(), "/v1/quotes", nil, &out); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if !out.OK {
		t.Error("Expected decoded body after retry")
	}
	if attempts.Load() != 3 {
		t.Errorf("Attempts = %d, want 3", attempts.Load())
	}
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"unknown currency"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	err := c.GetJSON(context.Background(), "/v1/markets", nil, &struct{}{})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if apiErr.Class != ErrorClassClient || apiErr.StatusCode != 400 {
		t.Errorf("APIError = %+v", apiErr)
	}
	if apiErr.Message != "unknown currency" {
		t.Errorf("Message = %q, want body error", apiErr.Message)
	}
	if attempts.Load() != 1 {
		t.Errorf("Attempts = %d, want 1", attempts.Load())
	}
}

func TestDo_RetryOnTooManyRequests(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	if err := c.GetJSON(context.Background(), "/v1/markets", nil, &struct{}{}); err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("Attempts = %d, want 2", attempts.Load())
	}
}

func TestDo_RetryExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	err := c.GetJSON(context.Background(), "/v1/markets", nil, &struct{}{})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("Attempts = %d, want 3", attempts.Load())
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.GetJSON(ctx, "/v1/markets", nil, &struct{}{})
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/v1/markets", "/v1/markets"},
		{"/v1/networks/eth/addresses/0xab12cd/transactions", "/v1/networks/eth/addresses/:id/transactions"},
		{"/v1/cards/7f9c2ba4-e88f-11e4-b1b5-6c4008a2f9f0/history", "/v1/cards/:id/history"},
		{"/v2/quotes", "/v2/quotes"},
	}

	for _, tt := range tests {
		if got := routeLabel(tt.path); got != tt.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return nil, req.Context().Err()
}

func TestDo_CancelledRateLimitCheck(t *testing.T) {
	// Nothing listens here; the cancelled context fails the lookup before a dial.
	redisClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer redisClient.Close()

	cfg := DefaultConfig("http://backend.invalid", "batchflow-test/1.0")
	cfg.Redis = redisClient
	cfg.Retry = fastRetry()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	transport := &countingTransport{}
	c.SetHTTPClient(&http.Client{Transport: transport})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = c.GetJSON(ctx, "/v1/markets", nil, &struct{}{})
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if n := transport.calls.Load(); n != 0 {
		t.Errorf("Transport calls = %d, want 0", n)
	}
}
