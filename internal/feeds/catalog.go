// Package feeds implements the paged data sources served by the feed server:
// token markets, address transaction history and card payment history.
package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/Sternrassler/batchflow/internal/config"
	"github.com/Sternrassler/batchflow/internal/session"
	"github.com/Sternrassler/batchflow/pkg/cache"
	"github.com/Sternrassler/batchflow/pkg/client"
	"github.com/Sternrassler/batchflow/pkg/logging"
	"github.com/Sternrassler/batchflow/pkg/pagination"
	"github.com/rs/zerolog"
)

// ErrUnknownFeed is returned by Open for a feed name the catalog does not serve.
var ErrUnknownFeed = errors.New("unknown feed")

// Catalog opens feed sessions.
type Catalog struct {
	api    *client.Client
	cache  *cache.Manager
	feeds  map[string]config.FeedConfig
	logger zerolog.Logger
}

// NewCatalog returns a catalog serving the configured feeds. A nil cache
// manager disables the page cache.
func NewCatalog(api *client.Client, cacheManager *cache.Manager, feeds map[string]config.FeedConfig) *Catalog {
	return &Catalog{
		api:    api,
		cache:  cacheManager,
		feeds:  feeds,
		logger: logging.NewLogger("feeds"),
	}
}

// Names returns the served feed names in order.
func (c *Catalog) Names() []string {
	return slices.Sorted(maps.Keys(c.feeds))
}

// Open starts a session of feed bound to scope. raw is merged over the feed's
// default configuration. The configured number of pages is requested before
// Open returns.
func (c *Catalog) Open(scope context.Context, feed string, raw json.RawMessage) (session.Session, error) {
	fc, ok := c.feeds[feed]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, feed)
	}

	var (
		s   session.Session
		err error
	)
	switch feed {
	case config.FeedMarkets:
		s, err = openFeed(scope, c, feed, fc, raw, feedDef[MarketsPage, MarketsConfig, QuotesRefresh, Market]{
			initial: DefaultMarketsConfig(),
			fetcher: NewMarketsFetcher(c.api, fc.PageSize),
			updater: NewMarketsQuotesUpdater(c.api),
			params:  MarketsConfig.Params,
			flatten: func(s pagination.BatchingState[int, MarketsPage]) pagination.ListState[Market] {
				return pagination.FlattenUnique(s, MarketItems, func(m Market) string { return m.ID })
			},
			refresh: func(cfg MarketsConfig) QuotesRefresh { return QuotesRefresh{Currency: cfg.Currency} },
		})
	case config.FeedTransactions:
		s, err = openFeed(scope, c, feed, fc, raw, feedDef[TransactionsPage, TransactionsConfig, struct{}, Transaction]{
			fetcher: NewTransactionsFetcher(c.api, fc.PageSize),
			params:  TransactionsConfig.Params,
			flatten: func(s pagination.BatchingState[int, TransactionsPage]) pagination.ListState[Transaction] {
				return pagination.FlattenUnique(s, TransactionItems, TransactionHash)
			},
			sequential: true,
		})
	case config.FeedPayHistory:
		s, err = openFeed(scope, c, feed, fc, raw, feedDef[PayHistoryPage, PayHistoryConfig, struct{}, Payment]{
			fetcher: NewPayHistoryFetcher(c.api, fc.PageSize),
			params:  PayHistoryConfig.Params,
			flatten: func(s pagination.BatchingState[int, PayHistoryPage]) pagination.ListState[Payment] {
				return pagination.FlattenUnique(s, PaymentItems, PaymentID)
			},
			// has_more lives on the previous page.
			sequential: true,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, feed)
	}
	if err != nil {
		return nil, err
	}

	if fc.Prefetch > 0 {
		if err := s.Prefetch(scope, fc.Prefetch); err != nil {
			return nil, fmt.Errorf("prefetch %s: %w", feed, err)
		}
	}

	c.logger.Debug().Str("feed", feed).Int("prefetch", fc.Prefetch).Msg("Feed session started")
	return s, nil
}

// feedDef is what differs between the feeds.
type feedDef[D any, C any, U any, T any] struct {
	initial    C
	fetcher    pagination.BatchFetcher[int, D, C]
	updater    pagination.BatchUpdateFetcher[int, D, U]
	params     func(C) map[string]string
	flatten    func(pagination.BatchingState[int, D]) pagination.ListState[T]
	refresh    func(C) U
	sequential bool
}

func openFeed[D any, C any, U any, T any](scope context.Context, c *Catalog, name string, fc config.FeedConfig, raw json.RawMessage, def feedDef[D, C, U, T]) (session.Session, error) {
	initial, err := session.DecodeConfig(def.initial, raw)
	if err != nil {
		return nil, err
	}

	fetcher := def.fetcher
	if c.cache != nil && fc.CacheTTL > 0 {
		fetcher = cache.NewFetcher(c.cache, name, fc.CacheTTL, def.params, fetcher)
	}

	bctx := pagination.NewBatchingContext[int, C, U](initial)
	flow, err := pagination.New(scope, bctx, pagination.Source[int, D, C, U]{
		Name:    name,
		Fetcher: fetcher,
		Updater: def.updater,
		Keys:    pagination.PageNumbers(0),
	}, pagination.Config{
		MaxConcurrency: fc.MaxConcurrency,
		Timeout:        fc.FetchTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("start %s flow: %w", name, err)
	}

	return session.NewFlowSession(name, flow, def.flatten, def.refresh, def.sequential), nil
}
