// Package config loads the feed server configuration from the environment
// and an optional YAML feeds file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by Load.
const (
	EnvListenAddr     = "BATCHFLOW_LISTEN_ADDR"
	EnvBackendURL     = "BATCHFLOW_BACKEND_URL"
	EnvUserAgent      = "BATCHFLOW_USER_AGENT"
	EnvAPIKey         = "BATCHFLOW_API_KEY"
	EnvRedisURL       = "BATCHFLOW_REDIS_URL"
	EnvLogLevel       = "BATCHFLOW_LOG_LEVEL"
	EnvLogPretty      = "BATCHFLOW_LOG_PRETTY"
	EnvRequestTimeout = "BATCHFLOW_REQUEST_TIMEOUT"
	EnvSessionIdle    = "BATCHFLOW_SESSION_IDLE"
	EnvFeedsFile      = "BATCHFLOW_FEEDS_FILE"
	EnvCORSOrigins    = "BATCHFLOW_CORS_ORIGINS"
)

// Config is the feed server configuration.
type Config struct {
	ListenAddr string
	BackendURL string
	UserAgent  string
	APIKey     string
	// RedisURL is optional. Without it the server runs with no page cache and
	// no rate limit gating.
	RedisURL string

	LogLevel  string
	LogPretty bool

	RequestTimeout time.Duration
	// SessionIdle closes sessions that saw no request for this long.
	SessionIdle time.Duration

	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string

	FeedsFile string
	Feeds     map[string]FeedConfig
}

// Default returns the configuration used when no variable is set.
func Default() *Config {
	return &Config{
		ListenAddr:     ":8080",
		UserAgent:      "batchflow/1.0",
		LogLevel:       "info",
		RequestTimeout: 10 * time.Second,
		SessionIdle:    15 * time.Minute,
		CORSOrigins:    []string{"*"},
		Feeds:          DefaultFeeds(),
	}
}

// Load reads envFile (if it exists) into the environment, then builds and
// validates the configuration. An empty envFile means ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds the configuration from environment variables without
// validating it.
func FromEnv() (*Config, error) {
	cfg := Default()

	cfg.ListenAddr = getEnv(EnvListenAddr, cfg.ListenAddr)
	cfg.BackendURL = getEnv(EnvBackendURL, cfg.BackendURL)
	cfg.UserAgent = getEnv(EnvUserAgent, cfg.UserAgent)
	cfg.APIKey = getEnv(EnvAPIKey, cfg.APIKey)
	cfg.RedisURL = getEnv(EnvRedisURL, cfg.RedisURL)
	cfg.LogLevel = getEnv(EnvLogLevel, cfg.LogLevel)
	cfg.FeedsFile = getEnv(EnvFeedsFile, cfg.FeedsFile)
	if v := os.Getenv(EnvCORSOrigins); v != "" {
		cfg.CORSOrigins = splitList(v)
	}

	var err error
	if cfg.LogPretty, err = getBool(EnvLogPretty, cfg.LogPretty); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getDuration(EnvRequestTimeout, cfg.RequestTimeout); err != nil {
		return nil, err
	}
	if cfg.SessionIdle, err = getDuration(EnvSessionIdle, cfg.SessionIdle); err != nil {
		return nil, err
	}

	if cfg.FeedsFile != "" {
		feeds, err := LoadFeeds(cfg.FeedsFile)
		if err != nil {
			return nil, err
		}
		for name, feed := range feeds {
			cfg.Feeds[name] = feed
		}
	}

	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return &ConfigError{Field: EnvBackendURL, Message: "required"}
	}
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ConfigError{Field: EnvBackendURL, Message: "must be an http(s) URL", Err: err}
	}
	if c.UserAgent == "" {
		return &ConfigError{Field: EnvUserAgent, Message: "required"}
	}
	if c.RedisURL != "" {
		if _, err := url.Parse(c.RedisURL); err != nil {
			return &ConfigError{Field: EnvRedisURL, Message: "invalid URL", Err: err}
		}
	}
	if c.RequestTimeout <= 0 {
		return &ConfigError{Field: EnvRequestTimeout, Message: "must be positive"}
	}
	if c.SessionIdle <= 0 {
		return &ConfigError{Field: EnvSessionIdle, Message: "must be positive"}
	}

	for name, feed := range c.Feeds {
		if err := feed.Validate(); err != nil {
			return fmt.Errorf("feed %s: %w", name, err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitList splits a comma separated value, dropping empty entries.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &ConfigError{Field: key, Message: "must be a boolean", Err: err}
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be a duration", Err: err}
	}
	return d, nil
}
