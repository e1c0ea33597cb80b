package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/batchflow/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP feed server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listen
			}
			return serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":8080", "listen address (overrides BATCHFLOW_LISTEN_ADDR)")
	return cmd
}

// serve runs until ctx ends, then drains HTTP requests and closes every session.
func serve(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg

	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.close()

	// Sessions outlive the request that opened them but not the process.
	base, stopSessions := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSessions()

	registry := session.NewRegistry(base)
	go registry.Run(base, sweepInterval, cfg.SessionIdle)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newServer(d.catalog, registry, d.redis, cfg.RequestTimeout, cfg.CORSOrigins).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Str("backend", cfg.BackendURL).
			Bool("redis", d.redis != nil).
			Strs("feeds", d.catalog.Names()).
			Msg("Feed server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	registry.CloseAll()
	return nil
}
