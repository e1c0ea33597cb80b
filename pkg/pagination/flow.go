package pagination

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/batchflow/pkg/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fetchJob[K comparable, D any, C any] struct {
	ctx context.Context
	req FetchRequest[K, D, C]
	seq uint64
	gen uint64
}

type fetchResult[K comparable, D any] struct {
	key      K
	seq      uint64
	gen      uint64
	reason   FetchReason
	data     D
	err      error
	duration time.Duration
}

type inflightFetch struct {
	seq    uint64
	cancel context.CancelFunc
}

type runningUpdate struct {
	token  uint64
	cancel context.CancelFunc
}

type updateResult[K comparable, D any] struct {
	id    string
	token uint64
	gen   uint64
	data  map[K]D
	err   error
}

// BatchFlow drives an incrementally loaded list.
//
// A single goroutine owns the state. Public methods hand closures to it and
// wait for the answer; fetches run on worker goroutines and report back over
// a channel. Snapshots are published to subscribers through a conflated
// stream, so a slow subscriber only ever sees the latest state.
type BatchFlow[K comparable, D any, C any, U any] struct {
	src    Source[K, D, C, U]
	bctx   *BatchingContext[K, C, U]
	config Config
	logger zerolog.Logger
	scope  context.Context

	actions chan func()
	results chan fetchResult[K, D]
	updates chan updateResult[K, D]
	done    chan struct{}
	latest  atomic.Pointer[BatchingState[K, D]]

	// Owned by the run goroutine.
	state       BatchingState[K, D]
	seq         uint64
	lastKey     K
	hasLastKey  bool
	inflight    map[K]inflightFetch
	running     map[string]runningUpdate
	updateToken uint64
	subs        map[uint64]chan BatchingState[K, D]
	subID       uint64
}

// New starts a flow bound to the owning scope ctx. Cancelling ctx cancels
// outstanding fetches and stops all emissions; the last state stays readable.
// A nil bctx gets a context holding the zero configuration.
func New[K comparable, D any, C any, U any](ctx context.Context, bctx *BatchingContext[K, C, U], src Source[K, D, C, U], config Config) (*BatchFlow[K, D, C, U], error) {
	if src.Fetcher == nil {
		return nil, fmt.Errorf("batch fetcher is required")
	}
	if src.Keys == nil {
		return nil, fmt.Errorf("key generator is required")
	}
	if src.Name == "" {
		src.Name = "default"
	}
	if bctx == nil {
		var zero C
		bctx = NewBatchingContext[K, C, U](zero)
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	f := &BatchFlow[K, D, C, U]{
		src:      src,
		bctx:     bctx,
		config:   config,
		logger:   logging.NewSourceLogger("batchflow", src.Name),
		scope:    ctx,
		actions:  make(chan func()),
		results:  make(chan fetchResult[K, D]),
		updates:  make(chan updateResult[K, D]),
		done:     make(chan struct{}),
		state:    BatchingState[K, D]{CanLoadMore: true},
		inflight: make(map[K]inflightFetch),
		running:  make(map[string]runningUpdate),
		subs:     make(map[uint64]chan BatchingState[K, D]),
	}
	initial := f.state
	f.latest.Store(&initial)

	go f.run(ctx)
	return f, nil
}

// Name returns the source name.
func (f *BatchFlow[K, D, C, U]) Name() string {
	return f.src.Name
}

// Context returns the batching context the flow listens to.
func (f *BatchFlow[K, D, C, U]) Context() *BatchingContext[K, C, U] {
	return f.bctx
}

// State returns the latest published snapshot.
func (f *BatchFlow[K, D, C, U]) State() BatchingState[K, D] {
	return *f.latest.Load()
}

// Done is closed once the owning scope has ended and the flow stopped.
func (f *BatchFlow[K, D, C, U]) Done() <-chan struct{} {
	return f.done
}

// LoadMore fetches the next batch. It retries the earliest failed batch
// first, even after end of pagination, and is otherwise a no-op once the end
// was reached. It fails fast with *OperationInProgressError while another
// fetch is running.
func (f *BatchFlow[K, D, C, U]) LoadMore(ctx context.Context) error {
	return f.do(ctx, func() error {
		failed := f.state.Failed()
		if !f.state.CanLoadMore && len(failed) == 0 {
			f.logger.Debug().Msg("Load more ignored (end of pagination)")
			return nil
		}
		if err := f.checkIdle(); err != nil {
			return err
		}

		if len(failed) > 0 {
			f.dispatch(f.plan(ReasonRetry, failed[0].Key, failed[0].seq))
			return nil
		}

		reason := ReasonNext
		if len(f.state.Batches) == 0 {
			reason = ReasonInitial
		}
		f.dispatch(f.plan(reason, f.advance(), f.nextSeq()))
		return nil
	})
}

// Reload cancels in-flight work, clears every batch and fetches the first key.
func (f *BatchFlow[K, D, C, U]) Reload(ctx context.Context) error {
	return f.do(ctx, func() error {
		f.reset("reload")
		f.dispatch(f.plan(ReasonReload, f.advance(), f.nextSeq()))
		return nil
	})
}

// Prefetch issues the next n batches at once, retrying failed batches first.
// After end of pagination only failed batches are fetched again.
// Fetches run on at most Config.MaxConcurrency workers and may complete in
// any order; the state is kept in request order.
func (f *BatchFlow[K, D, C, U]) Prefetch(ctx context.Context, n int) error {
	return f.do(ctx, func() error {
		failed := f.state.Failed()
		if n <= 0 || (!f.state.CanLoadMore && len(failed) == 0) {
			return nil
		}
		if err := f.checkIdle(); err != nil {
			return err
		}

		jobs := make([]fetchJob[K, D, C], 0, n)
		for _, b := range failed {
			if len(jobs) == n {
				break
			}
			jobs = append(jobs, f.plan(ReasonRetry, b.Key, b.seq))
		}
		for f.state.CanLoadMore && len(jobs) < n {
			jobs = append(jobs, f.plan(ReasonPrefetch, f.advance(), f.nextSeq()))
		}

		f.logger.Info().
			Int("batches", len(jobs)).
			Int("workers", min(f.config.MaxConcurrency, len(jobs))).
			Msg("Starting prefetch")
		f.dispatch(jobs...)
		return nil
	})
}

// ApplyConfig replaces the configuration and resets the flow before it
// returns, so every snapshot published afterwards belongs to cfg and the
// first key of the new configuration is already loading.
func (f *BatchFlow[K, D, C, U]) ApplyConfig(ctx context.Context, cfg C) error {
	return f.do(ctx, func() error {
		f.bctx.store(cfg)
		// The change is handled here; a pending signal would reset twice.
		select {
		case <-f.bctx.changed:
		default:
		}
		f.reconfigure()
		return nil
	})
}

// Update refreshes loaded batches through the source updater.
func (f *BatchFlow[K, D, C, U]) Update(ctx context.Context, req UpdateRequest[K, U]) error {
	return f.do(ctx, func() error {
		return f.startUpdate(req)
	})
}

// CancelUpdates cancels every running update. Their results are discarded.
func (f *BatchFlow[K, D, C, U]) CancelUpdates(ctx context.Context) error {
	return f.do(ctx, func() error {
		for id, u := range f.running {
			u.cancel()
			delete(f.running, id)
			updatesTotal.WithLabelValues(f.src.Name, "cancelled").Inc()
		}
		return nil
	})
}

// Subscribe returns a conflated stream of snapshots, starting with the
// current one. The channel is closed by the returned cancel function or when
// the flow stops.
func (f *BatchFlow[K, D, C, U]) Subscribe() (<-chan BatchingState[K, D], func()) {
	ch := make(chan BatchingState[K, D], 1)

	var id uint64
	err := f.do(context.Background(), func() error {
		f.subID++
		id = f.subID
		f.subs[id] = ch
		ch <- f.state
		return nil
	})
	if err != nil {
		ch <- f.State()
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			_ = f.do(context.Background(), func() error {
				if _, ok := f.subs[id]; ok {
					delete(f.subs, id)
					close(ch)
				}
				return nil
			})
		})
	}
}

// WaitFor blocks until pred holds for a published snapshot.
func (f *BatchFlow[K, D, C, U]) WaitFor(ctx context.Context, pred func(BatchingState[K, D]) bool) (BatchingState[K, D], error) {
	ch, cancel := f.Subscribe()
	defer cancel()

	last := f.State()
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return last, ErrFlowClosed
			}
			last = s
			if pred(s) {
				return s, nil
			}
		case <-ctx.Done():
			return last, ctx.Err()
		}
	}
}

// LoadAll loads batches one by one until the source is exhausted.
// It stops at the first failed batch and returns its error.
func (f *BatchFlow[K, D, C, U]) LoadAll(ctx context.Context) (BatchingState[K, D], error) {
	for {
		if err := f.LoadMore(ctx); err != nil && !errors.Is(err, ErrOperationInProgress) {
			return f.State(), err
		}

		s, err := f.WaitFor(ctx, func(s BatchingState[K, D]) bool { return s.InFlight() == 0 })
		if err != nil {
			return s, err
		}
		if failed := s.Failed(); len(failed) > 0 {
			return s, failed[0].Err
		}
		if !s.CanLoadMore {
			return s, nil
		}
	}
}

// do runs fn on the owning goroutine and returns its result. Actions that
// reach the loop after the scope ended are not run.
func (f *BatchFlow[K, D, C, U]) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	action := func() {
		if f.scope.Err() != nil {
			reply <- ErrFlowClosed
			return
		}
		reply <- fn()
	}
	select {
	case f.actions <- action:
	case <-f.done:
		return ErrFlowClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-reply
}

func (f *BatchFlow[K, D, C, U]) run(ctx context.Context) {
	defer f.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-f.actions:
			fn()
		case res := <-f.results:
			f.applyFetch(res)
		case res := <-f.updates:
			if ctx.Err() != nil {
				return
			}
			f.applyUpdate(res)
		case <-f.bctx.changed:
			if ctx.Err() != nil {
				return
			}
			f.reconfigure()
		case req := <-f.bctx.updates:
			if ctx.Err() != nil {
				return
			}
			if err := f.startUpdate(req); err != nil {
				f.logger.Warn().
					Err(err).
					Str("operation_id", req.OperationID).
					Msg("Update request rejected")
			}
		}
	}
}

func (f *BatchFlow[K, D, C, U]) shutdown() {
	for key, fl := range f.inflight {
		fl.cancel()
		delete(f.inflight, key)
	}
	for id, u := range f.running {
		u.cancel()
		delete(f.running, id)
	}

	// Merged batches stay visible; cancelled ones are dropped.
	final := f.state.clone()
	final.Batches = slices.DeleteFunc(final.Batches, func(b Batch[K, D]) bool {
		return b.Status == BatchLoading
	})
	final.refreshStatus()
	f.state = final
	f.latest.Store(&final)

	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
	close(f.done)

	f.logger.Debug().
		Int("loaded", final.LoadedCount()).
		Msg("Batch flow stopped")
}

// mutate applies fn to a copy of the state and publishes the result.
func (f *BatchFlow[K, D, C, U]) mutate(fn func(s *BatchingState[K, D])) {
	next := f.state.clone()
	fn(&next)
	f.state = next
	f.publish()
}

func (f *BatchFlow[K, D, C, U]) publish() {
	f.state.refreshStatus()
	snapshot := f.state
	f.latest.Store(&snapshot)

	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snapshot
	}
}

func (f *BatchFlow[K, D, C, U]) checkIdle() error {
	if len(f.inflight) == 0 {
		return nil
	}

	pending := ""
	for _, b := range f.state.Batches {
		if b.Status == BatchLoading {
			pending = fmt.Sprint(b.Key)
			break
		}
	}

	conflictsTotal.WithLabelValues(f.src.Name).Inc()
	f.logger.Debug().Str("key", pending).Msg("Fetch already in progress")
	return &OperationInProgressError{Source: f.src.Name, OperationID: pending}
}

func (f *BatchFlow[K, D, C, U]) advance() K {
	if f.hasLastKey {
		f.lastKey = f.src.Keys.Next(f.lastKey)
	} else {
		f.lastKey = f.src.Keys.First()
		f.hasLastKey = true
	}
	return f.lastKey
}

func (f *BatchFlow[K, D, C, U]) nextSeq() uint64 {
	f.seq++
	return f.seq
}

// plan registers a fetch for key and marks its batch as loading.
// The request carries the state as it was before the mark.
func (f *BatchFlow[K, D, C, U]) plan(reason FetchReason, key K, seq uint64) fetchJob[K, D, C] {
	ctx, cancel := context.WithCancel(f.scope)
	f.inflight[key] = inflightFetch{seq: seq, cancel: cancel}

	req := FetchRequest[K, D, C]{
		Key:    key,
		Config: f.bctx.Config(),
		State:  f.state,
		Reason: reason,
	}
	f.mutate(func(s *BatchingState[K, D]) {
		s.put(Batch[K, D]{Key: key, Status: BatchLoading, seq: seq})
	})

	return fetchJob[K, D, C]{ctx: ctx, req: req, seq: seq, gen: f.state.Generation}
}

// dispatch fans jobs out to a bounded pool of workers.
func (f *BatchFlow[K, D, C, U]) dispatch(jobs ...fetchJob[K, D, C]) {
	if len(jobs) == 0 {
		return
	}

	queue := make(chan fetchJob[K, D, C], len(jobs))
	for _, job := range jobs {
		queue <- job
	}
	close(queue)

	workers := min(f.config.MaxConcurrency, len(jobs))
	for i := range workers {
		go f.worker(queue, i)
	}
}

// worker processes jobs from the queue
func (f *BatchFlow[K, D, C, U]) worker(queue <-chan fetchJob[K, D, C], workerID int) {
	processed := 0

	for job := range queue {
		// Reset or end of pagination cancelled the job while it was queued.
		if job.ctx.Err() != nil {
			continue
		}

		res := f.fetch(job)
		select {
		case f.results <- res:
		case <-f.done:
			f.logger.Debug().
				Int("worker_id", workerID).
				Int("batches_processed", processed).
				Msg("Worker stopping (flow closed)")
			return
		}
		processed++
	}

	if processed > 1 {
		f.logger.Debug().
			Int("worker_id", workerID).
			Int("batches_processed", processed).
			Msg("Worker completed")
	}
}

func (f *BatchFlow[K, D, C, U]) fetch(job fetchJob[K, D, C]) fetchResult[K, D] {
	gauge := inflightFetches.WithLabelValues(f.src.Name)
	gauge.Inc()
	defer gauge.Dec()

	ctx, cancel := context.WithTimeout(job.ctx, f.config.Timeout)
	defer cancel()

	start := time.Now()
	data, err := f.src.Fetcher.FetchBatch(ctx, job.req)
	duration := time.Since(start)
	fetchDuration.WithLabelValues(f.src.Name).Observe(duration.Seconds())

	return fetchResult[K, D]{
		key:      job.req.Key,
		seq:      job.seq,
		gen:      job.gen,
		reason:   job.req.Reason,
		data:     data,
		err:      err,
		duration: duration,
	}
}

func (f *BatchFlow[K, D, C, U]) applyFetch(res fetchResult[K, D]) {
	current, ok := f.inflight[res.key]
	if f.scope.Err() != nil || res.gen != f.state.Generation || !ok || current.seq != res.seq {
		fetchesTotal.WithLabelValues(f.src.Name, "dropped").Inc()
		return
	}
	current.cancel()
	delete(f.inflight, res.key)

	logger := f.logger.With().
		Str("key", fmt.Sprint(res.key)).
		Str("reason", string(res.reason)).
		Dur("duration", res.duration).
		Logger()

	switch {
	case errors.Is(res.err, ErrEndOfPagination):
		fetchesTotal.WithLabelValues(f.src.Name, "end").Inc()

		// Keys requested after the last one cannot exist.
		for key, fl := range f.inflight {
			if fl.seq > res.seq {
				fl.cancel()
				delete(f.inflight, key)
			}
		}
		f.mutate(func(s *BatchingState[K, D]) {
			s.CanLoadMore = false
			s.Batches = slices.DeleteFunc(s.Batches, func(b Batch[K, D]) bool { return b.seq >= res.seq })
		})

		logger.Info().
			Int("batches", len(f.state.Batches)).
			Msg("End of pagination reached")

	case res.err != nil:
		fetchesTotal.WithLabelValues(f.src.Name, "failed").Inc()

		ferr := &FetchError{
			Source: f.src.Name,
			Key:    fmt.Sprint(res.key),
			Reason: res.reason,
			Err:    res.err,
		}
		f.mutate(func(s *BatchingState[K, D]) {
			s.put(Batch[K, D]{Key: res.key, Status: BatchFailed, Err: ferr, seq: res.seq})
		})

		logger.Warn().Err(res.err).Msg("Batch fetch failed")

	default:
		fetchesTotal.WithLabelValues(f.src.Name, "loaded").Inc()

		f.mutate(func(s *BatchingState[K, D]) {
			s.put(Batch[K, D]{Key: res.key, Data: res.data, Status: BatchLoaded, seq: res.seq})
		})

		logger.Debug().
			Int("loaded", f.state.LoadedCount()).
			Msg("Batch loaded")
	}
}

// reconfigure restarts the list under the current configuration.
func (f *BatchFlow[K, D, C, U]) reconfigure() {
	f.reset("config")
	f.dispatch(f.plan(ReasonConfig, f.advance(), f.nextSeq()))
}

// reset invalidates every batch and starts a new generation.
func (f *BatchFlow[K, D, C, U]) reset(cause string) {
	for key, fl := range f.inflight {
		fl.cancel()
		delete(f.inflight, key)
	}
	for id, u := range f.running {
		u.cancel()
		delete(f.running, id)
	}

	var zero K
	f.seq = 0
	f.lastKey = zero
	f.hasLastKey = false
	f.state = BatchingState[K, D]{CanLoadMore: true, Generation: f.state.Generation + 1}

	resetsTotal.WithLabelValues(f.src.Name, cause).Inc()
	f.logger.Info().
		Str("cause", cause).
		Uint64("generation", f.state.Generation).
		Msg("Batch state reset")

	f.publish()
}

func (f *BatchFlow[K, D, C, U]) startUpdate(req UpdateRequest[K, U]) error {
	if f.src.Updater == nil {
		return ErrUpdatesUnsupported
	}
	if req.OperationID == "" {
		req.OperationID = uuid.NewString()
	}
	if _, busy := f.running[req.OperationID]; busy {
		conflictsTotal.WithLabelValues(f.src.Name).Inc()
		return &OperationInProgressError{Source: f.src.Name, OperationID: req.OperationID}
	}

	req.Keys = f.loadedKeys(req.Keys)
	if len(req.Keys) == 0 {
		f.logger.Debug().Str("operation_id", req.OperationID).Msg("Update skipped (no loaded batches)")
		return nil
	}

	f.updateToken++
	token := f.updateToken
	ctx, cancel := context.WithCancel(f.scope)
	f.running[req.OperationID] = runningUpdate{token: token, cancel: cancel}

	state := f.state
	go func() {
		defer cancel()
		data, err := f.src.Updater.UpdateBatches(ctx, req, state)
		select {
		case f.updates <- updateResult[K, D]{id: req.OperationID, token: token, gen: state.Generation, data: data, err: err}:
		case <-f.done:
		}
	}()

	f.logger.Debug().
		Str("operation_id", req.OperationID).
		Int("batches", len(req.Keys)).
		Msg("Update started")
	return nil
}

// loadedKeys filters keys down to loaded batches. No keys means all loaded batches.
func (f *BatchFlow[K, D, C, U]) loadedKeys(keys []K) []K {
	var out []K
	for _, b := range f.state.Batches {
		if b.Status != BatchLoaded {
			continue
		}
		if len(keys) == 0 || slices.Contains(keys, b.Key) {
			out = append(out, b.Key)
		}
	}
	return out
}

func (f *BatchFlow[K, D, C, U]) applyUpdate(res updateResult[K, D]) {
	running, ok := f.running[res.id]
	if !ok || running.token != res.token || res.gen != f.state.Generation {
		updatesTotal.WithLabelValues(f.src.Name, "dropped").Inc()
		return
	}
	delete(f.running, res.id)

	if res.err != nil {
		updatesTotal.WithLabelValues(f.src.Name, "failed").Inc()
		f.logger.Warn().Err(res.err).Str("operation_id", res.id).Msg("Batch update failed")
		return
	}

	var applied []K
	f.mutate(func(s *BatchingState[K, D]) {
		for i := range s.Batches {
			b := &s.Batches[i]
			if b.Status != BatchLoaded {
				continue
			}
			if data, ok := res.data[b.Key]; ok {
				b.Data = data
				applied = append(applied, b.Key)
			}
		}
		s.LastUpdate = &AppliedUpdate[K]{
			OperationID: res.id,
			Keys:        applied,
			AppliedAt:   time.Now(),
		}
	})

	updatesTotal.WithLabelValues(f.src.Name, "applied").Inc()
	f.logger.Debug().
		Str("operation_id", res.id).
		Int("batches", len(applied)).
		Msg("Batch update applied")
}
