// Package session exposes batch flows of different types behind one
// interface so the HTTP layer can drive them by id.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Sternrassler/batchflow/pkg/pagination"
)

// ErrInvalidConfig is wrapped by Configure when the new configuration is rejected.
var ErrInvalidConfig = errors.New("invalid feed configuration")

// Session is a running feed list.
type Session interface {
	Feed() string
	LoadMore(ctx context.Context) error
	Reload(ctx context.Context) error
	Prefetch(ctx context.Context, n int) error
	// Refresh updates every loaded batch in place.
	Refresh(ctx context.Context) error
	// Configure merges a JSON object into the current configuration.
	Configure(ctx context.Context, raw json.RawMessage) error
	View() View
	// Wait blocks until no batch is loading.
	Wait(ctx context.Context) (View, error)
	Done() <-chan struct{}
}

// Validator is implemented by configurations that can be checked.
type Validator interface {
	Validate() error
}

// View is the JSON form of a session list.
type View struct {
	Feed        string      `json:"feed"`
	Status      string      `json:"status"`
	Items       any         `json:"items"`
	CanLoadMore bool        `json:"can_load_more"`
	Loading     bool        `json:"loading"`
	Errors      []string    `json:"errors,omitempty"`
	Batches     int         `json:"batches"`
	Generation  uint64      `json:"generation"`
	Config      any         `json:"config"`
	LastUpdate  *UpdateView `json:"last_update,omitempty"`
}

// UpdateView describes the last applied refresh.
type UpdateView struct {
	OperationID string `json:"operation_id"`
	Batches     int    `json:"batches"`
}

// FlowSession adapts a BatchFlow to Session.
type FlowSession[K comparable, D any, C any, U any, T any] struct {
	feed       string
	flow       *pagination.BatchFlow[K, D, C, U]
	flatten    func(pagination.BatchingState[K, D]) pagination.ListState[T]
	refresh    func(C) U
	sequential bool
}

// NewFlowSession wraps flow. flatten turns a snapshot into list items.
func NewFlowSession[K comparable, D any, C any, U any, T any](
	feed string,
	flow *pagination.BatchFlow[K, D, C, U],
	flatten func(pagination.BatchingState[K, D]) pagination.ListState[T],
	refresh func(C) U,
	sequential bool,
) *FlowSession[K, D, C, U, T] {
	return &FlowSession[K, D, C, U, T]{
		feed:       feed,
		flow:       flow,
		flatten:    flatten,
		refresh:    refresh,
		sequential: sequential,
	}
}

// Feed returns the feed name.
func (s *FlowSession[K, D, C, U, T]) Feed() string { return s.feed }

// Flow returns the wrapped flow.
func (s *FlowSession[K, D, C, U, T]) Flow() *pagination.BatchFlow[K, D, C, U] { return s.flow }

func (s *FlowSession[K, D, C, U, T]) LoadMore(ctx context.Context) error {
	return s.flow.LoadMore(ctx)
}

func (s *FlowSession[K, D, C, U, T]) Reload(ctx context.Context) error {
	return s.flow.Reload(ctx)
}

// Prefetch loads n more batches. A sequential session issues them one after
// another and stops at the end of the list or at the first failure.
func (s *FlowSession[K, D, C, U, T]) Prefetch(ctx context.Context, n int) error {
	if !s.sequential {
		return s.flow.Prefetch(ctx, n)
	}

	for range n {
		if err := s.flow.LoadMore(ctx); err != nil {
			return err
		}
		state, err := s.flow.WaitFor(ctx, idle[K, D])
		if err != nil {
			return err
		}
		if !state.CanLoadMore || len(state.Failed()) > 0 {
			return nil
		}
	}
	return nil
}

func (s *FlowSession[K, D, C, U, T]) Refresh(ctx context.Context) error {
	var payload U
	if s.refresh != nil {
		payload = s.refresh(s.flow.Context().Config())
	}
	// A fixed id makes a second refresh fail fast while one is running.
	return s.flow.Update(ctx, pagination.UpdateRequest[K, U]{
		OperationID: "refresh",
		Payload:     payload,
	})
}

// Configure decodes raw over the current configuration. A rejected
// configuration leaves the list untouched. Once it returns, views show the
// list of the new configuration.
func (s *FlowSession[K, D, C, U, T]) Configure(ctx context.Context, raw json.RawMessage) error {
	next, err := DecodeConfig(s.flow.Context().Config(), raw)
	if err != nil {
		return err
	}
	return s.flow.ApplyConfig(ctx, next)
}

// DecodeConfig decodes the JSON object raw over a copy of current and
// validates the result. Unknown fields are rejected; empty raw only validates.
func DecodeConfig[C any](current C, raw json.RawMessage) (C, error) {
	next := current
	if len(bytes.TrimSpace(raw)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&next); err != nil {
			return current, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if v, ok := any(next).(Validator); ok {
		if err := v.Validate(); err != nil {
			return current, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return next, nil
}

func (s *FlowSession[K, D, C, U, T]) View() View {
	return s.view(s.flow.State())
}

func (s *FlowSession[K, D, C, U, T]) Wait(ctx context.Context) (View, error) {
	state, err := s.flow.WaitFor(ctx, idle[K, D])
	return s.view(state), err
}

func (s *FlowSession[K, D, C, U, T]) Done() <-chan struct{} {
	return s.flow.Done()
}

func (s *FlowSession[K, D, C, U, T]) view(state pagination.BatchingState[K, D]) View {
	list := s.flatten(state)

	v := View{
		Feed:        s.feed,
		Status:      list.Status.String(),
		Items:       list.Items,
		CanLoadMore: list.CanLoadMore,
		Loading:     list.Loading,
		Batches:     len(state.Batches),
		Generation:  state.Generation,
		Config:      s.flow.Context().Config(),
	}
	for _, err := range list.Errors {
		v.Errors = append(v.Errors, err.Error())
	}
	if u := state.LastUpdate; u != nil {
		v.LastUpdate = &UpdateView{OperationID: u.OperationID, Batches: len(u.Keys)}
	}
	return v
}

func idle[K comparable, D any](s pagination.BatchingState[K, D]) bool {
	return s.InFlight() == 0
}
