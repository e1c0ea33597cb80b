package config

import (
	"errors"
	"testing"
	"time"
)

func TestParseFeeds(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		check   func(t *testing.T, feeds map[string]FeedConfig)
		wantErr bool
	}{
		{
			name: "partial override",
			yaml: "feeds:\n  payhistory:\n    prefetch: 3\n    fetch_timeout: 5s\n",
			check: func(t *testing.T, feeds map[string]FeedConfig) {
				got := feeds[FeedPayHistory]
				if got.Prefetch != 3 || got.FetchTimeout != 5*time.Second {
					t.Errorf("payhistory = %+v", got)
				}
				if got.PageSize != 20 {
					t.Errorf("PageSize = %d, want default 20", got.PageSize)
				}
			},
		},
		{
			name: "empty file",
			yaml: "",
			check: func(t *testing.T, feeds map[string]FeedConfig) {
				if len(feeds) != 0 {
					t.Errorf("feeds = %v, want none", feeds)
				}
			},
		},
		{
			name:    "unknown feed",
			yaml:    "feeds:\n  weather:\n    page_size: 5\n",
			wantErr: true,
		},
		{
			name:    "unknown field",
			yaml:    "feeds:\n  markets:\n    pagesize: 5\n",
			wantErr: true,
		},
		{
			name:    "bad duration",
			yaml:    "feeds:\n  markets:\n    cache_ttl: soon\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feeds, err := ParseFeeds([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFeeds() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, feeds)
			}
		})
	}
}

func TestParseFeeds_UnknownFeedIsConfigError(t *testing.T) {
	_, err := ParseFeeds([]byte("feeds:\n  weather: {}\n"))

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
	if cfgErr.Field != "feeds.weather" {
		t.Errorf("Field = %q, want feeds.weather", cfgErr.Field)
	}
}

func TestMarshalFeeds_RoundTripsThroughParse(t *testing.T) {
	in := DefaultFeeds()
	in[FeedMarkets] = FeedConfig{PageSize: 7, Prefetch: 2, MaxConcurrency: 3, FetchTimeout: time.Second, CacheTTL: time.Minute}

	data, err := MarshalFeeds(in)
	if err != nil {
		t.Fatalf("MarshalFeeds() error = %v", err)
	}
	out, err := ParseFeeds(data)
	if err != nil {
		t.Fatalf("ParseFeeds() error = %v\n%s", err, data)
	}
	if out[FeedMarkets] != in[FeedMarkets] {
		t.Errorf("markets = %+v, want %+v", out[FeedMarkets], in[FeedMarkets])
	}
}

func TestFeedConfig_Validate(t *testing.T) {
	valid := DefaultFeeds()[FeedMarkets]

	tests := []struct {
		name   string
		mutate func(*FeedConfig)
		field  string
	}{
		{"page size", func(f *FeedConfig) { f.PageSize = 0 }, "page_size"},
		{"prefetch", func(f *FeedConfig) { f.Prefetch = -1 }, "prefetch"},
		{"concurrency", func(f *FeedConfig) { f.MaxConcurrency = 0 }, "max_concurrency"},
		{"timeout", func(f *FeedConfig) { f.FetchTimeout = 0 }, "fetch_timeout"},
		{"cache ttl", func(f *FeedConfig) { f.CacheTTL = -time.Second }, "cache_ttl"},
	}

	if err := valid.Validate(); err != nil {
		t.Fatalf("default markets config invalid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid
			tt.mutate(&f)

			var cfgErr *ConfigError
			if err := f.Validate(); !errors.As(err, &cfgErr) || cfgErr.Field != tt.field {
				t.Errorf("Validate() error = %v, want field %s", err, tt.field)
			}
		})
	}
}
