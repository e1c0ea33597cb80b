package feeds

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/Sternrassler/batchflow/pkg/client"
	"github.com/Sternrassler/batchflow/pkg/pagination"
	"github.com/shopspring/decimal"
)

// Market is one token row of the markets list.
type Market struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change_24h"`
	MarketCap decimal.Decimal `json:"market_cap"`
}

// MarketsPage is one batch of the markets feed.
type MarketsPage struct {
	Items []Market `json:"items"`
}

// MarketsConfig selects what the markets feed lists.
type MarketsConfig struct {
	Order    string `json:"order"`
	Interval string `json:"interval"`
	Search   string `json:"search"`
	Currency string `json:"currency"`
}

// DefaultMarketsConfig lists USD prices by market cap, largest first.
func DefaultMarketsConfig() MarketsConfig {
	return MarketsConfig{Order: "desc", Interval: "24h", Currency: "usd"}
}

// Validate implements session.Validator.
func (c MarketsConfig) Validate() error {
	switch c.Order {
	case "asc", "desc":
	default:
		return fmt.Errorf("order %q: want asc or desc", c.Order)
	}
	switch c.Interval {
	case "1h", "24h", "7d", "30d":
	default:
		return fmt.Errorf("interval %q: want 1h, 24h, 7d or 30d", c.Interval)
	}
	if c.Currency == "" {
		return fmt.Errorf("currency required")
	}
	return nil
}

// Params returns the query values the data depends on. It doubles as the
// page cache key material.
func (c MarketsConfig) Params() map[string]string {
	return map[string]string{
		"order":    c.Order,
		"interval": c.Interval,
		"search":   strings.TrimSpace(c.Search),
		"currency": strings.ToLower(c.Currency),
	}
}

// MarketsFetcher pages through GET /v1/markets by offset.
type MarketsFetcher struct {
	api      *client.Client
	pageSize int
}

// NewMarketsFetcher returns a fetcher requesting pageSize rows per batch.
func NewMarketsFetcher(api *client.Client, pageSize int) *MarketsFetcher {
	return &MarketsFetcher{api: api, pageSize: pageSize}
}

// FetchBatch implements pagination.BatchFetcher. A short previous page ends
// the list without another request.
func (f *MarketsFetcher) FetchBatch(ctx context.Context, req pagination.FetchRequest[int, MarketsPage, MarketsConfig]) (MarketsPage, error) {
	if req.Key > 0 {
		if prev, ok := req.State.Batch(req.Key - 1); ok && prev.Status == pagination.BatchLoaded && len(prev.Data.Items) < f.pageSize {
			return MarketsPage{}, pagination.ErrEndOfPagination
		}
	}

	query := url.Values{}
	for k, v := range req.Config.Params() {
		if v != "" {
			query.Set(k, v)
		}
	}
	query.Set("offset", strconv.Itoa(req.Key*f.pageSize))
	query.Set("limit", strconv.Itoa(f.pageSize))

	var page MarketsPage
	if err := f.api.GetJSON(ctx, "/v1/markets", query, &page); err != nil {
		return MarketsPage{}, fmt.Errorf("fetch markets page %d: %w", req.Key, err)
	}
	if len(page.Items) == 0 {
		return MarketsPage{}, pagination.ErrEndOfPagination
	}
	return page, nil
}

// QuotesRefresh is the payload of a markets price refresh.
type QuotesRefresh struct {
	Currency string `json:"currency"`
}

// MarketsQuotesUpdater refreshes the prices of loaded market pages.
type MarketsQuotesUpdater struct {
	api *client.Client
}

// NewMarketsQuotesUpdater returns an updater using GET /v1/quotes.
func NewMarketsQuotesUpdater(api *client.Client) *MarketsQuotesUpdater {
	return &MarketsQuotesUpdater{api: api}
}

type quote struct {
	ID        string          `json:"id"`
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change_24h"`
}

// UpdateBatches implements pagination.BatchUpdateFetcher. Rows without a
// quote keep their price.
func (u *MarketsQuotesUpdater) UpdateBatches(ctx context.Context, req pagination.UpdateRequest[int, QuotesRefresh], state pagination.BatchingState[int, MarketsPage]) (map[int]MarketsPage, error) {
	pages := make(map[int]MarketsPage, len(req.Keys))
	var ids []string
	for _, key := range req.Keys {
		b, ok := state.Batch(key)
		if !ok || b.Status != pagination.BatchLoaded {
			continue
		}
		pages[key] = b.Data
		for _, m := range b.Data.Items {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := url.Values{"ids": {strings.Join(ids, ",")}}
	if req.Payload.Currency != "" {
		query.Set("currency", strings.ToLower(req.Payload.Currency))
	}

	var resp struct {
		Quotes []quote `json:"quotes"`
	}
	if err := u.api.GetJSON(ctx, "/v1/quotes", query, &resp); err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}

	byID := make(map[string]quote, len(resp.Quotes))
	for _, q := range resp.Quotes {
		byID[q.ID] = q
	}

	out := make(map[int]MarketsPage, len(pages))
	for key, page := range pages {
		items := make([]Market, len(page.Items))
		for i, m := range page.Items {
			if q, ok := byID[m.ID]; ok {
				m.Price = q.Price
				m.Change24h = q.Change24h
			}
			items[i] = m
		}
		out[key] = MarketsPage{Items: items}
	}
	return out, nil
}

// MarketItems returns the rows of a page.
func MarketItems(p MarketsPage) []Market { return p.Items }
