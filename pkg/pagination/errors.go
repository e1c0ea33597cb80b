package pagination

import (
	"errors"
	"fmt"
)

var (
	// ErrEndOfPagination is returned by a BatchFetcher when the source has no
	// more batches. The flow turns it into CanLoadMore=false; it never reaches
	// the caller as an error.
	ErrEndOfPagination = errors.New("end of pagination")

	// ErrOperationInProgress is matched by OperationInProgressError.
	ErrOperationInProgress = errors.New("operation with the same id in progress")

	// ErrFlowClosed is returned by every operation after the owning scope ended.
	ErrFlowClosed = errors.New("batch flow closed")

	// ErrUpdatesUnsupported is returned by Update when the source has no updater.
	ErrUpdatesUnsupported = errors.New("batch updates not supported by source")
)

// OperationInProgressError rejects a fetch or update whose id is already running.
// The redundant call fails fast instead of being queued.
type OperationInProgressError struct {
	Source      string
	OperationID string
}

// Error implements the error interface.
func (e *OperationInProgressError) Error() string {
	return fmt.Sprintf("%s: operation %q already in progress", e.Source, e.OperationID)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *OperationInProgressError) Unwrap() error {
	return ErrOperationInProgress
}

// FetchError is stored on a Failed batch.
type FetchError struct {
	Source string
	Key    string
	Reason FetchReason
	Err    error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch batch %s (%s): %v", e.Source, e.Key, e.Reason, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}
