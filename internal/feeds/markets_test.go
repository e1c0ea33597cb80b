package feeds

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/batchflow/internal/testutil"
	"github.com/Sternrassler/batchflow/pkg/client"
	"github.com/Sternrassler/batchflow/pkg/pagination"
	"github.com/shopspring/decimal"
)

func TestMarketsConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MarketsConfig
		wantErr bool
	}{
		{"default", DefaultMarketsConfig(), false},
		{"ascending weekly", MarketsConfig{Order: "asc", Interval: "7d", Currency: "eur"}, false},
		{"bad order", MarketsConfig{Order: "up", Interval: "24h", Currency: "usd"}, true},
		{"bad interval", MarketsConfig{Order: "desc", Interval: "2h", Currency: "usd"}, true},
		{"no currency", MarketsConfig{Order: "desc", Interval: "24h"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMarketsConfig_Params(t *testing.T) {
	cfg := MarketsConfig{Order: "desc", Interval: "24h", Search: "  btc ", Currency: "USD"}
	params := cfg.Params()

	if params["search"] != "btc" {
		t.Errorf("search = %q, want btc", params["search"])
	}
	if params["currency"] != "usd" {
		t.Errorf("currency = %q, want usd", params["currency"])
	}
}

func TestMarketsFetcher_LoadsAllPagesInOrder(t *testing.T) {
	backend, api := newTestBackend(t, 25)
	flow := startFlow[MarketsPage, MarketsConfig, QuotesRefresh](t, "markets", DefaultMarketsConfig(), NewMarketsFetcher(api, 10), nil)

	state := loadAll(t, flow)

	list := pagination.FlattenUnique(state, MarketItems, func(m Market) string { return m.ID })
	if len(list.Items) != 25 {
		t.Fatalf("items = %d, want 25", len(list.Items))
	}
	for i, m := range list.Items {
		if m.ID != testutil.GenerateMarkets(25)[i].ID {
			t.Fatalf("item %d = %s, out of order", i, m.ID)
		}
	}
	if state.CanLoadMore {
		t.Error("CanLoadMore = true after the last page")
	}

	// The short third page ends the list without a fourth request.
	if got := backend.Requests(testutil.RouteMarkets); got != 3 {
		t.Errorf("market requests = %d, want 3", got)
	}
}

func TestMarketsFetcher_ExactMultipleEndsOnEmptyPage(t *testing.T) {
	backend, api := newTestBackend(t, 20)
	flow := startFlow[MarketsPage, MarketsConfig, QuotesRefresh](t, "markets", DefaultMarketsConfig(), NewMarketsFetcher(api, 10), nil)

	state := loadAll(t, flow)

	if state.LoadedCount() != 2 {
		t.Errorf("loaded batches = %d, want 2", state.LoadedCount())
	}
	if got := backend.Requests(testutil.RouteMarkets); got != 3 {
		t.Errorf("market requests = %d, want 3", got)
	}
}

func TestMarketsFetcher_SendsConfig(t *testing.T) {
	backend, api := newTestBackend(t, 30)
	cfg := MarketsConfig{Order: "asc", Interval: "24h", Search: "TK02", Currency: "usd"}

	page, err := NewMarketsFetcher(api, 5).FetchBatch(context.Background(), pagination.FetchRequest[int, MarketsPage, MarketsConfig]{
		Key:    0,
		Config: cfg,
		Reason: pagination.ReasonInitial,
	})
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}

	// TK020..TK029 match; ascending order puts TK029 first.
	if len(page.Items) != 5 || page.Items[0].Symbol != "TK029" {
		t.Errorf("page = %+v", page.Items)
	}
	if ua := backend.LastRequestHeader().Get("User-Agent"); ua != "batchflow-tests/1.0" {
		t.Errorf("User-Agent = %q", ua)
	}
}

func TestMarketsFetcher_FailureThenRetry(t *testing.T) {
	backend, api := newTestBackend(t, 5)
	backend.FailNext(testutil.RouteMarkets, 1, testutil.NewNotFoundResponse())

	flow := startFlow[MarketsPage, MarketsConfig, QuotesRefresh](t, "markets", DefaultMarketsConfig(), NewMarketsFetcher(api, 10), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := flow.LoadMore(ctx); err != nil {
		t.Fatal(err)
	}
	state, err := flow.WaitFor(ctx, func(s pagination.BatchingState[int, MarketsPage]) bool { return s.InFlight() == 0 })
	if err != nil {
		t.Fatal(err)
	}

	failed := state.Failed()
	if len(failed) != 1 {
		t.Fatalf("failed batches = %d, want 1", len(failed))
	}
	var apiErr *client.APIError
	if !errors.As(failed[0].Err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("batch error = %v, want 404 APIError", failed[0].Err)
	}

	state = loadAll(t, flow)
	if b, _ := state.Batch(0); b.Status != pagination.BatchLoaded || len(b.Data.Items) != 5 {
		t.Errorf("retried batch = %+v", b)
	}
}

func TestMarketsQuotesUpdater(t *testing.T) {
	backend, api := newTestBackend(t, 12)
	flow := startFlow[MarketsPage, MarketsConfig, QuotesRefresh](t, "markets", DefaultMarketsConfig(), NewMarketsFetcher(api, 5), NewMarketsQuotesUpdater(api))

	before := loadAll(t, flow)
	backend.SetQuoteFactor(decimal.NewFromInt(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := flow.Update(ctx, pagination.UpdateRequest[int, QuotesRefresh]{Keys: []int{1}, Payload: QuotesRefresh{Currency: "usd"}}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	after, err := flow.WaitFor(ctx, func(s pagination.BatchingState[int, MarketsPage]) bool { return s.LastUpdate != nil })
	if err != nil {
		t.Fatal(err)
	}

	if got := after.LastUpdate.Keys; len(got) != 1 || got[0] != 1 {
		t.Errorf("updated keys = %v, want [1]", got)
	}

	b0, _ := before.Batch(1)
	b1, _ := after.Batch(1)
	for i := range b1.Data.Items {
		want := b0.Data.Items[i].Price.Mul(decimal.NewFromInt(2))
		if !b1.Data.Items[i].Price.Equal(want) {
			t.Errorf("item %d price = %s, want %s", i, b1.Data.Items[i].Price, want)
		}
	}

	untouched, _ := after.Batch(0)
	orig, _ := before.Batch(0)
	if !untouched.Data.Items[0].Price.Equal(orig.Data.Items[0].Price) {
		t.Error("batch outside the update changed")
	}
	if backend.Requests(testutil.RouteQuotes) != 1 {
		t.Errorf("quote requests = %d, want 1", backend.Requests(testutil.RouteQuotes))
	}
}
