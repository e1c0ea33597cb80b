// Package client is the HTTP client for the list backend, with retry,
// error classification and optional rate limit gating.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/batchflow/pkg/logging"
	"github.com/Sternrassler/batchflow/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for backend requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchflow_client_requests_total",
		Help: "Total backend requests by route and status",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batchflow_client_request_duration_seconds",
		Help:    "Backend request duration in seconds by route, retries included",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"route"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchflow_client_errors_total",
		Help: "Total backend errors by class",
	}, []string{"class"})
)

// maxErrorBody bounds how much of an error response is read for the message.
const maxErrorBody = 4 << 10

// Client talks to the list backend.
type Client struct {
	httpClient  *http.Client
	baseURL     *url.URL
	rateLimiter *ratelimit.Tracker
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Redis enables shared rate limit gating. Optional.
	Redis *redis.Client

	// BaseURL of the backend, e.g. "https://api.example.com".
	BaseURL string

	// UserAgent header (required).
	UserAgent string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout per attempt.
	Timeout time.Duration

	Retry RetryConfig
}

// DefaultConfig returns the configuration used by the feed server.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   10 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// New creates a new backend client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = DefaultRetryConfig()
	}

	logger := logging.NewLogger("client")

	var rateLimiter *ratelimit.Tracker
	if cfg.Redis != nil {
		rateLimiter = ratelimit.NewTracker(cfg.Redis, logger)
	}

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     base,
		rateLimiter: rateLimiter,
		config:      cfg,
		logger:      logger,
	}, nil
}

// Do performs a request with rate limit gating, retries and error
// classification. A non-2xx response is returned as *APIError with the body
// already closed.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	route := routeLabel(req.URL.Path)

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}()

	if c.rateLimiter != nil {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			requestsTotal.WithLabelValues(route, "cancelled").Inc()
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
		if err != nil {
			// Redis trouble must not take the backend down with it.
			c.logger.Warn().Err(err).Str("path", req.URL.Path).Msg("Rate limit check failed, sending request")
		} else if !allowed {
			requestsTotal.WithLabelValues(route, "rate_limited").Inc()
			return nil, &APIError{
				StatusCode: http.StatusTooManyRequests,
				Class:      ErrorClassRateLimit,
				Message:    "blocked locally",
				Err:        ErrRateLimited,
			}
		}
	}

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	var resp *http.Response
	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		r, err := c.httpClient.Do(req.Clone(ctx))
		if err != nil {
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(route, "network_error").Inc()
			c.logger.Debug().Err(err).Str("path", req.URL.Path).Msg("Request failed")
			return err
		}

		if c.rateLimiter != nil {
			if err := c.rateLimiter.UpdateFromHeaders(ctx, r.Header); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
			}
		}

		requestsTotal.WithLabelValues(route, strconv.Itoa(r.StatusCode)).Inc()
		if r.StatusCode >= 400 {
			apiErr := responseError(r)
			errorsTotal.WithLabelValues(string(apiErr.Class)).Inc()
			c.logger.Debug().
				Str("path", req.URL.Path).
				Int("status_code", r.StatusCode).
				Str("error_class", string(apiErr.Class)).
				Msg("Backend returned error")
			return apiErr
		}

		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("path", req.URL.Path).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Request completed")

	return resp, nil
}

// GetJSON sends GET baseURL+path?query and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// RateLimiter returns the tracker, nil when the client runs without Redis.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}

// responseError reads and closes an error response.
func responseError(resp *http.Response) *APIError {
	defer resp.Body.Close()

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Class:      classifyStatus(resp.StatusCode),
		Message:    http.StatusText(resp.StatusCode),
	}

	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Error != "":
			apiErr.Message = payload.Error
		case payload.Message != "":
			apiErr.Message = payload.Message
		}
	}

	return apiErr
}

// routeLabel replaces id-like path segments so metric labels stay bounded.
//
//	/v1/networks/eth/addresses/0xab12/transactions -> /v1/networks/eth/addresses/:id/transactions
func routeLabel(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if isIDSegment(s) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func isIDSegment(s string) bool {
	if len(s) > 24 {
		return true
	}
	// Version prefixes like v1 stay.
	if len(s) >= 2 && s[0] == 'v' && strings.Trim(s[1:], "0123456789") == "" {
		return false
	}
	return strings.ContainsAny(s, "0123456789")
}
