package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Feed names known to the server.
const (
	FeedMarkets      = "markets"
	FeedTransactions = "transactions"
	FeedPayHistory   = "payhistory"
)

// FeedConfig tunes one feed.
//
//	feeds:
//	  markets:
//	    page_size: 50
//	    prefetch: 2
//	    max_concurrency: 4
//	    fetch_timeout: 15s
//	    cache_ttl: 2m
type FeedConfig struct {
	PageSize int `yaml:"page_size"`
	// Prefetch is the number of pages loaded when a session opens.
	Prefetch       int           `yaml:"prefetch"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	// CacheTTL of zero disables the page cache for the feed.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Validate checks the feed settings.
func (f FeedConfig) Validate() error {
	switch {
	case f.PageSize <= 0:
		return &ConfigError{Field: "page_size", Message: "must be positive"}
	case f.Prefetch < 0:
		return &ConfigError{Field: "prefetch", Message: "must not be negative"}
	case f.MaxConcurrency <= 0:
		return &ConfigError{Field: "max_concurrency", Message: "must be positive"}
	case f.FetchTimeout <= 0:
		return &ConfigError{Field: "fetch_timeout", Message: "must be positive"}
	case f.CacheTTL < 0:
		return &ConfigError{Field: "cache_ttl", Message: "must not be negative"}
	}
	return nil
}

// DefaultFeeds returns the settings of every known feed.
func DefaultFeeds() map[string]FeedConfig {
	return map[string]FeedConfig{
		FeedMarkets: {
			PageSize:       50,
			Prefetch:       1,
			MaxConcurrency: 4,
			FetchTimeout:   15 * time.Second,
			CacheTTL:       2 * time.Minute,
		},
		FeedTransactions: {
			PageSize:       25,
			Prefetch:       1,
			MaxConcurrency: 1,
			FetchTimeout:   15 * time.Second,
			CacheTTL:       30 * time.Second,
		},
		FeedPayHistory: {
			PageSize:       20,
			Prefetch:       1,
			MaxConcurrency: 2,
			FetchTimeout:   15 * time.Second,
		},
	}
}

type feedsFile struct {
	Feeds map[string]FeedConfig `yaml:"feeds"`
}

// LoadFeeds reads a YAML feeds file. Fields left out of a known feed keep
// their defaults.
func LoadFeeds(path string) (map[string]FeedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading feeds file %s: %w", path, err)
	}
	feeds, err := ParseFeeds(data)
	if err != nil {
		return nil, fmt.Errorf("parsing feeds file %s: %w", path, err)
	}
	return feeds, nil
}

// ParseFeeds decodes feeds YAML over DefaultFeeds. Unknown keys are rejected.
func ParseFeeds(data []byte) (map[string]FeedConfig, error) {
	defaults := DefaultFeeds()

	var raw struct {
		Feeds map[string]yaml.Node `yaml:"feeds"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	feeds := make(map[string]FeedConfig, len(raw.Feeds))
	for name, node := range raw.Feeds {
		feed, known := defaults[name]
		if !known {
			return nil, &ConfigError{Field: "feeds." + name, Message: "unknown feed"}
		}

		// Re-encode the node so the strict decoder sees it on its own.
		body, err := yaml.Marshal(&node)
		if err != nil {
			return nil, err
		}
		dec := yaml.NewDecoder(bytes.NewReader(body))
		dec.KnownFields(true)
		if err := dec.Decode(&feed); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("feed %s: %w", name, err)
		}
		feeds[name] = feed
	}
	return feeds, nil
}

// MarshalFeeds renders feeds in the file format read by LoadFeeds.
func MarshalFeeds(feeds map[string]FeedConfig) ([]byte, error) {
	return yaml.Marshal(feedsFile{Feeds: feeds})
}
