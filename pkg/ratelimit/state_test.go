package ratelimit

import (
	"testing"
	"time"
)

func TestRateLimitState_IsStale(t *testing.T) {
	tests := []struct {
		name       string
		lastUpdate time.Time
		maxAge     time.Duration
		want       bool
	}{
		{"fresh state", time.Now(), 5 * time.Minute, false},
		{"stale state", time.Now().Add(-10 * time.Minute), 5 * time.Minute, true},
		{"just under max age", time.Now().Add(-4 * time.Minute), 5 * time.Minute, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{LastUpdate: tt.lastUpdate}
			if got := state.IsStale(tt.maxAge); got != tt.want {
				t.Errorf("IsStale() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateLimitState_Decisions(t *testing.T) {
	tests := []struct {
		name          string
		remaining     int
		resetIn       time.Duration
		wantBlock     bool
		wantThrottle  bool
		wantIsHealthy bool
	}{
		{"healthy", 100, time.Minute, false, false, true},
		{"at healthy threshold", ThresholdHealthy, time.Minute, false, false, true},
		{"between warning and healthy", 30, time.Minute, false, false, false},
		{"warning", 15, time.Minute, false, true, false},
		{"at critical threshold", ThresholdCritical, time.Minute, false, true, false},
		{"critical", 3, time.Minute, true, false, false},
		{"zero remaining", 0, time.Minute, true, false, false},
		{"critical but window reset", 0, -time.Second, false, false, false},
		{"warning but window reset", 10, -time.Second, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &RateLimitState{
				Remaining: tt.remaining,
				ResetAt:   time.Now().Add(tt.resetIn),
			}
			state.UpdateHealth()

			if got := state.NeedsCriticalBlock(); got != tt.wantBlock {
				t.Errorf("NeedsCriticalBlock() = %v, want %v", got, tt.wantBlock)
			}
			if got := state.NeedsThrottling(); got != tt.wantThrottle {
				t.Errorf("NeedsThrottling() = %v, want %v", got, tt.wantThrottle)
			}
			if state.IsHealthy != tt.wantIsHealthy {
				t.Errorf("IsHealthy = %v, want %v", state.IsHealthy, tt.wantIsHealthy)
			}
		})
	}
}

func TestRateLimitState_TimeUntilReset(t *testing.T) {
	future := &RateLimitState{ResetAt: time.Now().Add(30 * time.Second)}
	if d := future.TimeUntilReset(); d < 29*time.Second || d > 30*time.Second {
		t.Errorf("TimeUntilReset() = %v, want ~30s", d)
	}

	past := &RateLimitState{ResetAt: time.Now().Add(-time.Minute)}
	if d := past.TimeUntilReset(); d != 0 {
		t.Errorf("TimeUntilReset() = %v, want 0", d)
	}
}

func TestThresholdOrdering(t *testing.T) {
	if !(ThresholdCritical < ThresholdWarning && ThresholdWarning < ThresholdHealthy) {
		t.Errorf("Thresholds out of order: critical=%d warning=%d healthy=%d",
			ThresholdCritical, ThresholdWarning, ThresholdHealthy)
	}
}
