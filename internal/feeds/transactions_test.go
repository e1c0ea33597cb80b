package feeds

import (
	"context"
	"errors"
	"testing"

	"github.com/Sternrassler/batchflow/internal/testutil"
	"github.com/Sternrassler/batchflow/pkg/pagination"
)

func TestTransactionsFetcher_FollowsCursor(t *testing.T) {
	backend, api := newTestBackend(t, 0)
	backend.AddTransactions("eth", "0xabc", 7)

	flow := startFlow[TransactionsPage, TransactionsConfig, struct{}](t, "transactions",
		TransactionsConfig{Network: "eth", Address: "0xabc"}, NewTransactionsFetcher(api, 3), nil)

	state := loadAll(t, flow)

	list := pagination.FlattenUnique(state, TransactionItems, TransactionHash)
	if len(list.Items) != 7 {
		t.Fatalf("items = %d, want 7", len(list.Items))
	}
	if list.Items[0].Hash != "0xeth000000" || list.Items[6].Hash != "0xeth000006" {
		t.Errorf("first/last = %s/%s", list.Items[0].Hash, list.Items[6].Hash)
	}
	if last, _ := state.Last(); last.Data.NextCursor != "" {
		t.Errorf("last cursor = %q, want empty", last.Data.NextCursor)
	}

	// Three pages; the empty cursor of the third ends the list locally.
	if got := backend.Requests(testutil.RouteTransactions); got != 3 {
		t.Errorf("transaction requests = %d, want 3", got)
	}
}

func TestTransactionsFetcher_NeedsPreviousPage(t *testing.T) {
	_, api := newTestBackend(t, 0)

	_, err := NewTransactionsFetcher(api, 3).FetchBatch(context.Background(), pagination.FetchRequest[int, TransactionsPage, TransactionsConfig]{
		Key:    2,
		Config: TransactionsConfig{Network: "eth", Address: "0xabc"},
		Reason: pagination.ReasonPrefetch,
	})
	if !errors.Is(err, ErrPreviousPageMissing) {
		t.Errorf("error = %v, want ErrPreviousPageMissing", err)
	}
}

func TestTransactionsFetcher_InvalidConfig(t *testing.T) {
	backend, api := newTestBackend(t, 0)

	_, err := NewTransactionsFetcher(api, 3).FetchBatch(context.Background(), pagination.FetchRequest[int, TransactionsPage, TransactionsConfig]{
		Config: TransactionsConfig{Network: "eth"},
	})
	if err == nil {
		t.Fatal("FetchBatch() error = nil for a missing address")
	}
	if backend.Requests(testutil.RouteTransactions) != 0 {
		t.Error("invalid configuration reached the backend")
	}
}

func TestTransactionsFetcher_EmptyHistory(t *testing.T) {
	backend, api := newTestBackend(t, 0)
	backend.AddTransactions("btc", "bc1q", 0)

	flow := startFlow[TransactionsPage, TransactionsConfig, struct{}](t, "transactions",
		TransactionsConfig{Network: "btc", Address: "bc1q"}, NewTransactionsFetcher(api, 3), nil)

	state := loadAll(t, flow)

	if state.LoadedCount() != 1 {
		t.Errorf("loaded batches = %d, want the single empty first page", state.LoadedCount())
	}
	if state.CanLoadMore {
		t.Error("CanLoadMore = true for an empty history")
	}
}
