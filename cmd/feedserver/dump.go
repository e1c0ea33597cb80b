package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// maxParallelDumps bounds how many feeds are loaded at once.
const maxParallelDumps = 4

func newDumpCmd(opts *rootOptions) *cobra.Command {
	var feedConfigs []string

	cmd := &cobra.Command{
		Use:   "dump <feed>...",
		Short: "Load every page of the named feeds and print them as JSON",
		Example: `  feedserver dump markets
  feedserver dump transactions --config 'transactions={"network":"eth","address":"0xabc"}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := parseFeedConfigs(feedConfigs)
			if err != nil {
				return err
			}

			d, err := buildDeps(cmd.Context(), opts.cfg)
			if err != nil {
				return err
			}
			defer d.close()

			return dump(cmd.Context(), cmd.OutOrStdout(), d.catalog, args, raw)
		},
	}
	cmd.Flags().StringArrayVar(&feedConfigs, "config", nil, "feed configuration as feed=<json>, repeatable")
	return cmd
}

// parseFeedConfigs turns feed=<json> flags into a map.
func parseFeedConfigs(flags []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(flags))
	for _, f := range flags {
		name, body, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("config %q: want feed=<json>", f)
		}
		if !json.Valid([]byte(body)) {
			return nil, fmt.Errorf("config %q: invalid JSON", f)
		}
		out[name] = json.RawMessage(body)
	}
	return out, nil
}

// dump loads the feeds concurrently and writes one JSON object keyed by feed.
func dump(ctx context.Context, out io.Writer, catalog opener, names []string, configs map[string]json.RawMessage) error {
	var (
		mu    sync.Mutex
		lists = make(map[string]any, len(names))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDumps)

	for _, name := range names {
		g.Go(func() error {
			items, err := loadFeed(gctx, catalog, name, configs[name])
			if err != nil {
				return fmt.Errorf("dump %s: %w", name, err)
			}
			mu.Lock()
			lists[name] = items
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(lists)
}

// loadFeed opens a session and loads pages until the feed is exhausted.
func loadFeed(ctx context.Context, catalog opener, name string, raw json.RawMessage) (any, error) {
	scope, cancel := context.WithCancel(ctx)
	defer cancel()

	sess, err := catalog.Open(scope, name, raw)
	if err != nil {
		return nil, err
	}

	for {
		view, err := sess.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if len(view.Errors) > 0 {
			return nil, errors.New(view.Errors[0])
		}
		if !view.CanLoadMore {
			return view.Items, nil
		}
		if err := sess.LoadMore(ctx); err != nil {
			return nil, err
		}
	}
}
