package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/batchflow/internal/feeds"
	"github.com/Sternrassler/batchflow/internal/session"
	"github.com/Sternrassler/batchflow/pkg/logging"
	"github.com/Sternrassler/batchflow/pkg/metrics"
	"github.com/Sternrassler/batchflow/pkg/pagination"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// maxConfigBody bounds request bodies carrying a feed configuration.
const maxConfigBody = 64 << 10

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchflow_http_requests_total",
		Help: "HTTP requests by route, method and status",
	}, []string{"route", "method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batchflow_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// opener starts a feed session. *feeds.Catalog implements it.
type opener interface {
	Open(scope context.Context, feed string, raw json.RawMessage) (session.Session, error)
}

type server struct {
	feeds       opener
	sessions    *session.Registry
	redis       *redis.Client
	waitTimeout time.Duration
	corsOrigins []string
	logger      zerolog.Logger
}

func newServer(catalog opener, sessions *session.Registry, redisClient *redis.Client, waitTimeout time.Duration, corsOrigins []string) *server {
	return &server{
		feeds:       catalog,
		sessions:    sessions,
		redis:       redisClient,
		waitTimeout: waitTimeout,
		corsOrigins: corsOrigins,
		logger:      logging.NewLogger("feedserver"),
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/feeds/{feed}/sessions", s.handleOpen)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", s.handleView)
			r.Delete("/", s.handleClose)
			r.Post("/more", s.action(func(ctx context.Context, sess session.Session, _ *http.Request) error {
				return sess.LoadMore(ctx)
			}))
			r.Post("/reload", s.action(func(ctx context.Context, sess session.Session, _ *http.Request) error {
				return sess.Reload(ctx)
			}))
			r.Post("/prefetch", s.action(func(ctx context.Context, sess session.Session, req *http.Request) error {
				n := 1
				if v := req.URL.Query().Get("n"); v != "" {
					var err error
					if n, err = strconv.Atoi(v); err != nil || n < 1 || n > 20 {
						return errBadPrefetch
					}
				}
				return sess.Prefetch(ctx, n)
			}))
			r.Post("/refresh", s.action(func(ctx context.Context, sess session.Session, _ *http.Request) error {
				return sess.Refresh(ctx)
			}))
			r.Put("/config", s.action(func(ctx context.Context, sess session.Session, req *http.Request) error {
				raw, err := io.ReadAll(io.LimitReader(req.Body, maxConfigBody))
				if err != nil {
					return err
				}
				return sess.Configure(ctx, raw)
			}))
		})
	})

	return r
}

var errBadPrefetch = errors.New("n must be between 1 and 20")

// instrument records request metrics and logs every request at debug level.
func (s *server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status_code", status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "sessions": s.sessions.Len()})
}

type openResponse struct {
	ID string `json:"id"`
	session.View
}

func (s *server) handleOpen(w http.ResponseWriter, r *http.Request) {
	feed := chi.URLParam(r, "feed")
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	id, sess, err := s.sessions.Open(func(scope context.Context) (session.Session, error) {
		return s.feeds.Open(scope, feed, raw)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	view, err := s.maybeWait(r, sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+id)
	writeJSON(w, http.StatusCreated, openResponse{ID: id, View: view})
}

func (s *server) handleView(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.maybeWait(r, sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// action runs fn on the session named in the path and answers with the
// session view. With ?wait=true the view is taken once no batch is loading.
func (s *server) action(fn func(ctx context.Context, sess session.Session, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.waitTimeout)
		defer cancel()
		if err := fn(ctx, sess, r); err != nil {
			s.writeError(w, r, err)
			return
		}

		view, err := s.maybeWait(r, sess)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		status := http.StatusAccepted
		if waitRequested(r) {
			status = http.StatusOK
		}
		writeJSON(w, status, view)
	}
}

func waitRequested(r *http.Request) bool {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return wait
}

func (s *server) maybeWait(r *http.Request, sess session.Session) (session.View, error) {
	if !waitRequested(r) {
		return sess.View(), nil
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.waitTimeout)
	defer cancel()
	return sess.Wait(ctx)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, feeds.ErrUnknownFeed):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidConfig), errors.Is(err, errBadPrefetch):
		return http.StatusBadRequest
	case errors.Is(err, pagination.ErrOperationInProgress):
		return http.StatusConflict
	case errors.Is(err, pagination.ErrUpdatesUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, pagination.ErrFlowClosed):
		return http.StatusGone
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error().
			Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
