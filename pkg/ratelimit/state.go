// Package ratelimit tracks the backend request budget and gates requests.
// It reads the X-RateLimit-Remaining and X-RateLimit-Reset response headers
// and shares the resulting state between processes through Redis.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining      = "batchflow:rate_limit:remaining"
	RedisKeyResetTimestamp = "batchflow:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "batchflow:rate_limit:last_update"
)

// Response headers carrying the budget.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Thresholds for rate limit decisions.
const (
	// ThresholdCritical blocks requests below this many remaining requests.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests below this many remaining requests.
	ThresholdWarning = 20

	// ThresholdHealthy and above is normal operation.
	ThresholdHealthy = 50
)

// RateLimitState is the request budget of the current window.
type RateLimitState struct {
	// Remaining requests in the window (X-RateLimit-Remaining).
	Remaining int `json:"remaining"`

	// ResetAt is when the window restarts (now + X-RateLimit-Reset seconds).
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when the state was last read from a response.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is Remaining >= ThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock reports whether requests must wait for the reset.
// A window that has already reset never blocks.
func (s *RateLimitState) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling reports whether requests should be slowed down.
func (s *RateLimitState) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && !s.NeedsCriticalBlock() && s.TimeUntilReset() > 0
}

// TimeUntilReset returns the duration until the window resets, or 0.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
