package feeds

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/batchflow/internal/testutil"
	"github.com/Sternrassler/batchflow/pkg/client"
	"github.com/Sternrassler/batchflow/pkg/pagination"
)

func newTestBackend(t *testing.T, markets int) (*testutil.MockBackend, *client.Client) {
	t.Helper()

	backend := testutil.NewMockBackend(markets)
	t.Cleanup(backend.Close)

	cfg := client.DefaultConfig(backend.URL(), "batchflow-tests/1.0")
	cfg.Retry = client.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    5 * time.Millisecond,
		MaxBackoff:        20 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
	api, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	return backend, api
}

// startFlow runs a flow over fetcher for the duration of the test.
func startFlow[D any, C any, U any](t *testing.T, name string, initial C, fetcher pagination.BatchFetcher[int, D, C], updater pagination.BatchUpdateFetcher[int, D, U]) *pagination.BatchFlow[int, D, C, U] {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	flow, err := pagination.New(ctx, pagination.NewBatchingContext[int, C, U](initial), pagination.Source[int, D, C, U]{
		Name:    name,
		Fetcher: fetcher,
		Updater: updater,
		Keys:    pagination.PageNumbers(0),
	}, pagination.Config{MaxConcurrency: 2, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("pagination.New() error = %v", err)
	}
	return flow
}

func loadAll[D any, C any, U any](t *testing.T, flow *pagination.BatchFlow[int, D, C, U]) pagination.BatchingState[int, D] {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := flow.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	return state
}
