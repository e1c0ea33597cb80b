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
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment is one card history entry.
type Payment struct {
	ID        uuid.UUID       `json:"id"`
	Merchant  string          `json:"merchant"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// PayHistoryPage is one batch of a card history.
type PayHistoryPage struct {
	Items   []Payment `json:"items"`
	HasMore bool      `json:"has_more"`
}

// PayHistoryConfig selects the card.
type PayHistoryConfig struct {
	CardID string `json:"card_id"`
}

// Validate implements session.Validator.
func (c PayHistoryConfig) Validate() error {
	if c.CardID == "" {
		return errors.New("card_id required")
	}
	return nil
}

// Params returns the cache key material.
func (c PayHistoryConfig) Params() map[string]string {
	return map[string]string{"card": c.CardID}
}

// PayHistoryFetcher pages GET /v1/cards/{card}/history by offset.
type PayHistoryFetcher struct {
	api      *client.Client
	pageSize int
}

// NewPayHistoryFetcher returns a fetcher requesting pageSize entries per batch.
func NewPayHistoryFetcher(api *client.Client, pageSize int) *PayHistoryFetcher {
	return &PayHistoryFetcher{api: api, pageSize: pageSize}
}

// FetchBatch implements pagination.BatchFetcher. The previous page's has_more
// flag ends the list without another request.
func (f *PayHistoryFetcher) FetchBatch(ctx context.Context, req pagination.FetchRequest[int, PayHistoryPage, PayHistoryConfig]) (PayHistoryPage, error) {
	if err := req.Config.Validate(); err != nil {
		return PayHistoryPage{}, err
	}
	if req.Key > 0 {
		if prev, ok := req.State.Batch(req.Key - 1); ok && prev.Status == pagination.BatchLoaded && !prev.Data.HasMore {
			return PayHistoryPage{}, pagination.ErrEndOfPagination
		}
	}

	query := url.Values{
		"offset": {strconv.Itoa(req.Key * f.pageSize)},
		"limit":  {strconv.Itoa(f.pageSize)},
	}
	path := fmt.Sprintf("/v1/cards/%s/history", url.PathEscape(req.Config.CardID))

	var page PayHistoryPage
	if err := f.api.GetJSON(ctx, path, query, &page); err != nil {
		return PayHistoryPage{}, fmt.Errorf("fetch card history page %d: %w", req.Key, err)
	}
	if len(page.Items) == 0 && req.Key > 0 {
		return PayHistoryPage{}, pagination.ErrEndOfPagination
	}
	return page, nil
}

// PaymentItems returns the entries of a page.
func PaymentItems(p PayHistoryPage) []Payment { return p.Items }

// PaymentID identifies a payment in a flattened list.
func PaymentID(p Payment) uuid.UUID { return p.ID }
