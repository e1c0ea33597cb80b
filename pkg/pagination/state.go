package pagination

import (
	"slices"
	"time"
)

// BatchStatus is the load state of a single batch.
type BatchStatus int

const (
	// BatchNotLoaded is the zero value: the key has not been requested.
	BatchNotLoaded BatchStatus = iota
	// BatchLoading means a fetch for the key is in flight.
	BatchLoading
	// BatchLoaded means Data holds the fetched payload.
	BatchLoaded
	// BatchFailed means the last fetch failed; Err holds the cause.
	BatchFailed
)

// String returns the status name used in logs and JSON views.
func (s BatchStatus) String() string {
	switch s {
	case BatchLoading:
		return "loading"
	case BatchLoaded:
		return "loaded"
	case BatchFailed:
		return "failed"
	default:
		return "not_loaded"
	}
}

// PaginationStatus summarises the whole flow.
type PaginationStatus int

const (
	// StatusIdle means nothing is loading and more batches may follow.
	StatusIdle PaginationStatus = iota
	// StatusInitialLoading means a fetch is running and no batch is loaded yet.
	StatusInitialLoading
	// StatusNextBatchLoading means a fetch is running after at least one loaded batch.
	StatusNextBatchLoading
	// StatusEndOfPagination means the source reported its last batch.
	StatusEndOfPagination
)

// String returns the status name used in logs and JSON views.
func (s PaginationStatus) String() string {
	switch s {
	case StatusInitialLoading:
		return "initial_loading"
	case StatusNextBatchLoading:
		return "next_batch_loading"
	case StatusEndOfPagination:
		return "end_of_pagination"
	default:
		return "idle"
	}
}

// Batch is one page of data keyed by K.
type Batch[K comparable, D any] struct {
	Key    K
	Data   D
	Status BatchStatus
	Err    error

	// seq is the request position of Key inside the current generation.
	seq uint64
}

// AppliedUpdate records the last update request merged into the state.
type AppliedUpdate[K comparable] struct {
	OperationID string
	Keys        []K
	AppliedAt   time.Time
}

// BatchingState is an immutable snapshot of a flow.
// Batches are ordered by request order. A snapshot handed out by the flow is
// never modified afterwards; the flow copies before every change.
type BatchingState[K comparable, D any] struct {
	Batches     []Batch[K, D]
	Status      PaginationStatus
	CanLoadMore bool
	Generation  uint64
	LastUpdate  *AppliedUpdate[K]
}

// Batch returns the batch stored under key. A key that was never requested
// yields a zero Batch with status BatchNotLoaded and ok=false.
func (s BatchingState[K, D]) Batch(key K) (Batch[K, D], bool) {
	for _, b := range s.Batches {
		if b.Key == key {
			return b, true
		}
	}
	return Batch[K, D]{Key: key}, false
}

// Last returns the last batch in request order.
func (s BatchingState[K, D]) Last() (Batch[K, D], bool) {
	if len(s.Batches) == 0 {
		return Batch[K, D]{}, false
	}
	return s.Batches[len(s.Batches)-1], true
}

// LoadedCount returns the number of batches with status BatchLoaded.
func (s BatchingState[K, D]) LoadedCount() int {
	n := 0
	for _, b := range s.Batches {
		if b.Status == BatchLoaded {
			n++
		}
	}
	return n
}

// Failed returns the failed batches in request order.
func (s BatchingState[K, D]) Failed() []Batch[K, D] {
	var failed []Batch[K, D]
	for _, b := range s.Batches {
		if b.Status == BatchFailed {
			failed = append(failed, b)
		}
	}
	return failed
}

// InFlight returns the number of batches currently loading.
func (s BatchingState[K, D]) InFlight() int {
	n := 0
	for _, b := range s.Batches {
		if b.Status == BatchLoading {
			n++
		}
	}
	return n
}

// clone copies the parts of the state the flow mutates.
func (s BatchingState[K, D]) clone() BatchingState[K, D] {
	c := s
	c.Batches = slices.Clone(s.Batches)
	if s.LastUpdate != nil {
		u := *s.LastUpdate
		u.Keys = slices.Clone(s.LastUpdate.Keys)
		c.LastUpdate = &u
	}
	return c
}

// put inserts or replaces the batch for b.Key and keeps request order.
func (s *BatchingState[K, D]) put(b Batch[K, D]) {
	for i := range s.Batches {
		if s.Batches[i].Key == b.Key {
			s.Batches[i] = b
			s.sort()
			return
		}
	}
	s.Batches = append(s.Batches, b)
	s.sort()
}

// sort restores request order after out-of-order completions.
func (s *BatchingState[K, D]) sort() {
	slices.SortStableFunc(s.Batches, func(a, b Batch[K, D]) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
}

// refreshStatus derives Status from the batches and CanLoadMore.
func (s *BatchingState[K, D]) refreshStatus() {
	switch {
	case s.InFlight() > 0 && s.LoadedCount() == 0:
		s.Status = StatusInitialLoading
	case s.InFlight() > 0:
		s.Status = StatusNextBatchLoading
	case !s.CanLoadMore:
		s.Status = StatusEndOfPagination
	default:
		s.Status = StatusIdle
	}
}
