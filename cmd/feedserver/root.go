package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/batchflow/internal/config"
	"github.com/Sternrassler/batchflow/internal/feeds"
	"github.com/Sternrassler/batchflow/pkg/cache"
	"github.com/Sternrassler/batchflow/pkg/client"
	"github.com/Sternrassler/batchflow/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// rootOptions is shared by every subcommand. cfg is filled in by the root
// PersistentPreRunE.
type rootOptions struct {
	envFile  string
	logLevel string
	pretty   bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "feedserver",
		Short:        "Serve paged feeds as list sessions",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = opts.logLevel
			}
			if opts.pretty {
				cfg.LogPretty = true
			}

			logging.Setup(logging.Config{
				Level:  logging.Level(cfg.LogLevel),
				Pretty: cfg.LogPretty,
				Output: cmd.ErrOrStderr(),
			})
			opts.cfg = cfg
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "environment file loaded before reading variables")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.BoolVar(&opts.pretty, "pretty", false, "human readable console logs")

	cmd.AddCommand(newServeCmd(opts), newDumpCmd(opts), newFeedsCmd(opts))
	return cmd
}

// deps are the long-lived objects built from the configuration.
type deps struct {
	redis   *redis.Client
	api     *client.Client
	catalog *feeds.Catalog
}

// buildDeps connects Redis (when configured) and builds the backend client
// and the feed catalog.
func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	d := &deps{}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		d.redis = redis.NewClient(redisOpts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := d.redis.Ping(pingCtx).Err(); err != nil {
			d.redis.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}

	clientCfg := client.DefaultConfig(cfg.BackendURL, cfg.UserAgent)
	clientCfg.Redis = d.redis
	clientCfg.APIKey = cfg.APIKey
	clientCfg.Timeout = cfg.RequestTimeout

	api, err := client.New(clientCfg)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("create backend client: %w", err)
	}
	d.api = api

	var cacheManager *cache.Manager
	if d.redis != nil {
		cacheManager = cache.NewManager(d.redis)
	}
	d.catalog = feeds.NewCatalog(api, cacheManager, cfg.Feeds)

	return d, nil
}

func (d *deps) close() {
	if d.redis != nil {
		d.redis.Close()
	}
}

func newFeedsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "Print the effective feed settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := config.MarshalFeeds(opts.cfg.Feeds)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
