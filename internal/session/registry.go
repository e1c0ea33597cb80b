package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/batchflow/pkg/logging"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned for unknown or closed session ids.
var ErrNotFound = errors.New("session not found")

var (
	sessionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batchflow_sessions_open",
		Help: "Sessions currently open",
	})

	sessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchflow_sessions_closed_total",
		Help: "Closed sessions by cause",
	}, []string{"cause"}) // "client", "idle", "shutdown"
)

// Opener starts a session bound to scope. The session must stop once scope
// is cancelled.
type Opener func(scope context.Context) (Session, error)

type entry struct {
	session  Session
	cancel   context.CancelFunc
	lastUsed time.Time
}

// Registry owns the open sessions. Every session runs in its own scope
// derived from the registry base context.
type Registry struct {
	base   context.Context
	mu     sync.Mutex
	open   map[string]*entry
	now    func() time.Time
	logger zerolog.Logger
}

// NewRegistry returns a registry whose sessions end when base ends.
func NewRegistry(base context.Context) *Registry {
	return &Registry{
		base:   base,
		open:   make(map[string]*entry),
		now:    time.Now,
		logger: logging.NewLogger("session"),
	}
}

// Open starts a session and returns its id.
func (r *Registry) Open(open Opener) (string, Session, error) {
	scope, cancel := context.WithCancel(r.base)
	s, err := open(scope)
	if err != nil {
		cancel()
		return "", nil, err
	}

	id := uuid.NewString()
	r.mu.Lock()
	r.open[id] = &entry{session: s, cancel: cancel, lastUsed: r.now()}
	r.mu.Unlock()

	sessionsOpen.Inc()
	r.logger.Info().Str("session_id", id).Str("feed", s.Feed()).Msg("Session opened")
	return id, s, nil
}

// Get returns the session and marks it used.
func (r *Registry) Get(id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.open[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastUsed = r.now()
	return e.session, nil
}

// Close cancels the session scope.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	e, ok := r.open[id]
	delete(r.open, id)
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	r.stop(id, e, "client")
	return nil
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	open := r.open
	r.open = make(map[string]*entry)
	r.mu.Unlock()

	for id, e := range open {
		r.stop(id, e, "shutdown")
	}
}

// Sweep closes sessions idle for longer than maxIdle and returns how many it closed.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)

	r.mu.Lock()
	expired := make(map[string]*entry)
	for id, e := range r.open {
		if e.lastUsed.Before(cutoff) {
			expired[id] = e
			delete(r.open, id)
		}
	}
	r.mu.Unlock()

	for id, e := range expired {
		r.stop(id, e, "idle")
	}
	return len(expired)
}

// Run sweeps idle sessions every interval until ctx ends.
func (r *Registry) Run(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(maxIdle); n > 0 {
				r.logger.Info().Int("sessions", n).Msg("Closed idle sessions")
			}
		}
	}
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

func (r *Registry) stop(id string, e *entry, cause string) {
	e.cancel()
	sessionsOpen.Dec()
	sessionsClosed.WithLabelValues(cause).Inc()
	r.logger.Info().Str("session_id", id).Str("cause", cause).Msg("Session closed")
}
