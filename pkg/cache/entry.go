package cache

import (
	"encoding/json"
	"time"
)

// CacheEntry is one cached batch.
type CacheEntry struct {
	// Data is the JSON encoded batch payload. Empty for end markers.
	Data json.RawMessage `json:"data,omitempty"`

	// End marks a page the source reported as past the last one.
	End bool `json:"end,omitempty"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when the entry was written.
	CachedAt time.Time `json:"cached_at"`
}

// NewBatchEntry wraps an encoded batch that stays fresh for ttl.
func NewBatchEntry(data json.RawMessage, ttl time.Duration) *CacheEntry {
	now := time.Now()
	return &CacheEntry{Data: data, CachedAt: now, Expires: now.Add(ttl)}
}

// NewEndEntry records that the page lies past the end of the source.
func NewEndEntry(ttl time.Duration) *CacheEntry {
	now := time.Now()
	return &CacheEntry{End: true, CachedAt: now, Expires: now.Add(ttl)}
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
