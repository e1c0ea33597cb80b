package pagination

import (
	"errors"
	"slices"
	"testing"
)

func TestBatchStatus_String(t *testing.T) {
	tests := []struct {
		status BatchStatus
		want   string
	}{
		{BatchNotLoaded, "not_loaded"},
		{BatchLoading, "loading"},
		{BatchLoaded, "loaded"},
		{BatchFailed, "failed"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("BatchStatus(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestPaginationStatus_String(t *testing.T) {
	tests := []struct {
		status PaginationStatus
		want   string
	}{
		{StatusIdle, "idle"},
		{StatusInitialLoading, "initial_loading"},
		{StatusNextBatchLoading, "next_batch_loading"},
		{StatusEndOfPagination, "end_of_pagination"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("PaginationStatus(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestBatchingState_PutKeepsRequestOrder(t *testing.T) {
	var s BatchingState[string, int]

	s.put(Batch[string, int]{Key: "c", Status: BatchLoading, seq: 3})
	s.put(Batch[string, int]{Key: "a", Status: BatchLoading, seq: 1})
	s.put(Batch[string, int]{Key: "b", Status: BatchLoading, seq: 2})
	s.put(Batch[string, int]{Key: "a", Data: 7, Status: BatchLoaded, seq: 1})

	var keys []string
	for _, b := range s.Batches {
		keys = append(keys, b.Key)
	}
	if want := []string{"a", "b", "c"}; !slices.Equal(keys, want) {
		t.Errorf("Keys = %v, want %v", keys, want)
	}
	if len(s.Batches) != 3 {
		t.Errorf("Batches = %d, want 3 (replace must not duplicate)", len(s.Batches))
	}

	b, ok := s.Batch("a")
	if !ok || b.Data != 7 || b.Status != BatchLoaded {
		t.Errorf("Batch(a) = %+v, want loaded with data 7", b)
	}
}

func TestBatchingState_BatchUnknownKey(t *testing.T) {
	var s BatchingState[int, string]

	b, ok := s.Batch(42)
	if ok {
		t.Error("Expected ok=false for unknown key")
	}
	if b.Key != 42 || b.Status != BatchNotLoaded {
		t.Errorf("Batch(42) = %+v, want not loaded", b)
	}
	if _, ok := s.Last(); ok {
		t.Error("Expected Last to report no batch on empty state")
	}
}

func TestBatchingState_Counts(t *testing.T) {
	s := BatchingState[int, string]{
		Batches: []Batch[int, string]{
			{Key: 0, Status: BatchLoaded, seq: 1},
			{Key: 1, Status: BatchFailed, Err: errors.New("boom"), seq: 2},
			{Key: 2, Status: BatchLoaded, seq: 3},
			{Key: 3, Status: BatchLoading, seq: 4},
		},
		CanLoadMore: true,
	}

	if got := s.LoadedCount(); got != 2 {
		t.Errorf("LoadedCount = %d, want 2", got)
	}
	if got := s.InFlight(); got != 1 {
		t.Errorf("InFlight = %d, want 1", got)
	}
	if failed := s.Failed(); len(failed) != 1 || failed[0].Key != 1 {
		t.Errorf("Failed = %+v, want key 1", failed)
	}
	if last, _ := s.Last(); last.Key != 3 {
		t.Errorf("Last key = %d, want 3", last.Key)
	}
}

func TestBatchingState_RefreshStatus(t *testing.T) {
	tests := []struct {
		name        string
		batches     []Batch[int, string]
		canLoadMore bool
		want        PaginationStatus
	}{
		{
			name:        "empty",
			canLoadMore: true,
			want:        StatusIdle,
		},
		{
			name:        "first batch loading",
			batches:     []Batch[int, string]{{Key: 0, Status: BatchLoading}},
			canLoadMore: true,
			want:        StatusInitialLoading,
		},
		{
			name: "next batch loading",
			batches: []Batch[int, string]{
				{Key: 0, Status: BatchLoaded, seq: 1},
				{Key: 1, Status: BatchLoading, seq: 2},
			},
			canLoadMore: true,
			want:        StatusNextBatchLoading,
		},
		{
			name:        "end reached",
			batches:     []Batch[int, string]{{Key: 0, Status: BatchLoaded}},
			canLoadMore: false,
			want:        StatusEndOfPagination,
		},
		{
			name: "loading wins over end",
			batches: []Batch[int, string]{
				{Key: 0, Status: BatchLoaded, seq: 1},
				{Key: 1, Status: BatchLoading, seq: 2},
			},
			canLoadMore: false,
			want:        StatusNextBatchLoading,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := BatchingState[int, string]{Batches: tt.batches, CanLoadMore: tt.canLoadMore}
			s.refreshStatus()
			if s.Status != tt.want {
				t.Errorf("Status = %v, want %v", s.Status, tt.want)
			}
		})
	}
}

func TestBatchingState_CloneIsIndependent(t *testing.T) {
	orig := BatchingState[int, string]{
		Batches:    []Batch[int, string]{{Key: 0, Data: "a", Status: BatchLoaded}},
		LastUpdate: &AppliedUpdate[int]{OperationID: "op", Keys: []int{0}},
	}

	c := orig.clone()
	c.Batches[0].Data = "changed"
	c.LastUpdate.Keys[0] = 9
	c.put(Batch[int, string]{Key: 1, Status: BatchLoading, seq: 1})

	if orig.Batches[0].Data != "a" {
		t.Errorf("Original data = %q, want %q", orig.Batches[0].Data, "a")
	}
	if orig.LastUpdate.Keys[0] != 0 {
		t.Errorf("Original update keys = %v, want [0]", orig.LastUpdate.Keys)
	}
	if len(orig.Batches) != 1 {
		t.Errorf("Original batches = %d, want 1", len(orig.Batches))
	}
}
