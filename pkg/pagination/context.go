package pagination

import (
	"context"
	"sync"
)

// updateQueueSize is the number of update requests a context buffers before
// RequestUpdate blocks.
const updateQueueSize = 16

// BatchingContext carries the configuration of one flow (filters, sort order)
// and its stream of update requests. Changing the configuration invalidates
// every batch loaded under the previous one.
type BatchingContext[K comparable, C any, U any] struct {
	mu      sync.RWMutex
	config  C
	changed chan struct{}
	updates chan UpdateRequest[K, U]
}

// NewBatchingContext creates a context with the initial configuration.
func NewBatchingContext[K comparable, C any, U any](initial C) *BatchingContext[K, C, U] {
	return &BatchingContext[K, C, U]{
		config:  initial,
		changed: make(chan struct{}, 1),
		updates: make(chan UpdateRequest[K, U], updateQueueSize),
	}
}

// Config returns the current configuration.
func (c *BatchingContext[K, C, U]) Config() C {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// SetConfig replaces the configuration and signals the flow to reset.
// Several changes before the flow reacts collapse into one reset.
func (c *BatchingContext[K, C, U]) SetConfig(cfg C) {
	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()

	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// store replaces the configuration without signalling the flow.
func (c *BatchingContext[K, C, U]) store(cfg C) {
	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()
}

// UpdateConfig applies fn to the current configuration atomically.
func (c *BatchingContext[K, C, U]) UpdateConfig(fn func(C) C) {
	c.mu.Lock()
	c.config = fn(c.config)
	c.mu.Unlock()

	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// RequestUpdate queues an update request for the flow.
func (c *BatchingContext[K, C, U]) RequestUpdate(ctx context.Context, req UpdateRequest[K, U]) error {
	select {
	case c.updates <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
