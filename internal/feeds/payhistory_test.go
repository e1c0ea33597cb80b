package feeds

import (
	"testing"

	"github.com/Sternrassler/batchflow/internal/testutil"
	"github.com/Sternrassler/batchflow/pkg/pagination"
)

func TestPayHistoryFetcher_StopsOnHasMore(t *testing.T) {
	backend, api := newTestBackend(t, 0)
	backend.AddCard("card-1", 9)

	flow := startFlow[PayHistoryPage, PayHistoryConfig, struct{}](t, "payhistory",
		PayHistoryConfig{CardID: "card-1"}, NewPayHistoryFetcher(api, 4), nil)

	state := loadAll(t, flow)

	list := pagination.FlattenUnique(state, PaymentItems, PaymentID)
	if len(list.Items) != 9 {
		t.Fatalf("items = %d, want 9", len(list.Items))
	}
	for i, p := range list.Items {
		if p.ID != testutil.HistoryID("card-1", i) {
			t.Fatalf("item %d id = %s, out of order", i, p.ID)
		}
	}
	if got := backend.Requests(testutil.RouteHistory); got != 3 {
		t.Errorf("history requests = %d, want 3", got)
	}
}

func TestPayHistoryConfig_Validate(t *testing.T) {
	if err := (PayHistoryConfig{}).Validate(); err == nil {
		t.Error("Validate() = nil for an empty card id")
	}
	if err := (PayHistoryConfig{CardID: "c"}).Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}
