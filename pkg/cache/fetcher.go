package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/batchflow/pkg/logging"
	"github.com/Sternrassler/batchflow/pkg/pagination"
	"github.com/rs/zerolog"
)

// Fetcher serves batches from Redis and falls through to the wrapped fetcher
// on a miss. End-of-pagination answers are cached as markers so an exhausted
// source is not asked again until the marker expires.
//
// Reads are skipped for reload fetches; the fresh result still replaces the
// cached one. Cache failures never fail a fetch.
type Fetcher[K comparable, D any, C any] struct {
	next    pagination.BatchFetcher[K, D, C]
	manager *Manager
	source  string
	ttl     time.Duration
	params  func(C) map[string]string
	logger  zerolog.Logger
}

// NewFetcher wraps next. params renders the configuration fields that select
// the data; batches fetched under different params never share an entry.
func NewFetcher[K comparable, D any, C any](manager *Manager, source string, ttl time.Duration, params func(C) map[string]string, next pagination.BatchFetcher[K, D, C]) *Fetcher[K, D, C] {
	if params == nil {
		params = func(C) map[string]string { return nil }
	}
	return &Fetcher[K, D, C]{
		next:    next,
		manager: manager,
		source:  source,
		ttl:     ttl,
		params:  params,
		logger:  logging.NewSourceLogger("cache", source),
	}
}

// FetchBatch implements pagination.BatchFetcher.
func (f *Fetcher[K, D, C]) FetchBatch(ctx context.Context, req pagination.FetchRequest[K, D, C]) (D, error) {
	key := CacheKey{
		Source: f.source,
		Params: f.params(req.Config),
		Page:   fmt.Sprint(req.Key),
	}

	if req.Reason != pagination.ReasonReload {
		if data, end, ok := f.lookup(ctx, key); ok {
			if end {
				var zero D
				return zero, pagination.ErrEndOfPagination
			}
			return data, nil
		}
	}

	data, err := f.next.FetchBatch(ctx, req)
	switch {
	case errors.Is(err, pagination.ErrEndOfPagination):
		f.store(ctx, key, NewEndEntry(f.ttl))
	case err != nil:
		return data, err
	default:
		raw, merr := json.Marshal(data)
		if merr != nil {
			f.logger.Warn().Err(merr).Str("key", key.String()).Msg("Batch not cacheable")
			return data, nil
		}
		f.store(ctx, key, NewBatchEntry(raw, f.ttl))
	}

	return data, err
}

func (f *Fetcher[K, D, C]) lookup(ctx context.Context, key CacheKey) (D, bool, bool) {
	var data D

	entry, err := f.manager.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			f.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache read failed, fetching from backend")
		}
		return data, false, false
	}

	if entry.End {
		f.logger.Debug().Str("key", key.String()).Msg("Cache hit (end of pagination)")
		return data, true, true
	}
	if err := json.Unmarshal(entry.Data, &data); err != nil {
		f.logger.Warn().Err(err).Str("key", key.String()).Msg("Cached batch unreadable, fetching from backend")
		return data, false, false
	}

	f.logger.Debug().
		Str("key", key.String()).
		Dur("ttl", entry.TTL()).
		Msg("Cache hit")
	return data, false, true
}

func (f *Fetcher[K, D, C]) store(ctx context.Context, key CacheKey, entry *CacheEntry) {
	if err := f.manager.Set(ctx, key, entry); err != nil {
		f.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache write failed")
	}
}
