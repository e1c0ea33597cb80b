package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/batchflow/pkg/client"
	"github.com/Sternrassler/batchflow/pkg/pagination"
	"github.com/shopspring/decimal"
)

// ErrPreviousPageMissing is returned when a cursor page is requested before
// the page carrying its cursor has loaded.
var ErrPreviousPageMissing = errors.New("previous page not loaded")

// Transaction is one entry of an address history.
type Transaction struct {
	Hash      string          `json:"hash"`
	BlockTime time.Time       `json:"block_time"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Status    string          `json:"status"`
}

// TransactionsPage is one batch of an address history. NextCursor is empty on
// the last page.
type TransactionsPage struct {
	Items      []Transaction `json:"items"`
	NextCursor string        `json:"next_cursor"`
}

// TransactionsConfig selects the address whose history is listed.
type TransactionsConfig struct {
	Network string `json:"network"`
	Address string `json:"address"`
}

// Validate implements session.Validator.
func (c TransactionsConfig) Validate() error {
	if c.Network == "" {
		return errors.New("network required")
	}
	if c.Address == "" {
		return errors.New("address required")
	}
	return nil
}

// Params returns the cache key material.
func (c TransactionsConfig) Params() map[string]string {
	return map[string]string{"network": c.Network, "address": c.Address}
}

// TransactionsFetcher pages an address history by cursor. The cursor of page
// n is read from page n-1 in the flow state, so pages load strictly in order.
type TransactionsFetcher struct {
	api      *client.Client
	pageSize int
}

// NewTransactionsFetcher returns a fetcher requesting pageSize entries per batch.
func NewTransactionsFetcher(api *client.Client, pageSize int) *TransactionsFetcher {
	return &TransactionsFetcher{api: api, pageSize: pageSize}
}

// FetchBatch implements pagination.BatchFetcher.
func (f *TransactionsFetcher) FetchBatch(ctx context.Context, req pagination.FetchRequest[int, TransactionsPage, TransactionsConfig]) (TransactionsPage, error) {
	if err := req.Config.Validate(); err != nil {
		return TransactionsPage{}, err
	}

	cursor := ""
	if req.Key > 0 {
		prev, ok := req.State.Batch(req.Key - 1)
		if !ok || prev.Status != pagination.BatchLoaded {
			return TransactionsPage{}, fmt.Errorf("transactions page %d: %w", req.Key, ErrPreviousPageMissing)
		}
		if prev.Data.NextCursor == "" {
			return TransactionsPage{}, pagination.ErrEndOfPagination
		}
		cursor = prev.Data.NextCursor
	}

	query := url.Values{"limit": {strconv.Itoa(f.pageSize)}}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	path := fmt.Sprintf("/v1/networks/%s/addresses/%s/transactions",
		url.PathEscape(req.Config.Network), url.PathEscape(req.Config.Address))

	var page TransactionsPage
	if err := f.api.GetJSON(ctx, path, query, &page); err != nil {
		return TransactionsPage{}, fmt.Errorf("fetch transactions page %d: %w", req.Key, err)
	}
	if len(page.Items) == 0 && req.Key > 0 {
		return TransactionsPage{}, pagination.ErrEndOfPagination
	}
	return page, nil
}

// TransactionItems returns the entries of a page.
func TransactionItems(p TransactionsPage) []Transaction { return p.Items }

// TransactionHash identifies a transaction in a flattened list.
func TransactionHash(t Transaction) string { return t.Hash }
