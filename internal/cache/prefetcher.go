package cache

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cinefront/cinefront/pkg/errors"
	"github.com/cinefront/cinefront/pkg/types"
)

// DefaultFetchTimeout bounds a single prefetch fetch
const DefaultFetchTimeout = 30 * time.Second

// PrefetcherConfig configures the prefetch scheduler
type PrefetcherConfig struct {
	// FetchTimeout bounds each fetch. Zero disables the deadline.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// RateLimit caps fetch starts per second. Zero means unlimited.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	Logger  *slog.Logger           `yaml:"-"`
	Metrics types.MetricsCollector `yaml:"-"`
	Clock   types.Clock            `yaml:"-"`
}

// PrefetchJob is one queued or in-flight preload
type PrefetchJob struct {
	JobID       string
	ID          string
	Kind        types.ItemKind
	Probability float64
	QueuedAt    time.Time
	StartedAt   time.Time
}

// Prefetcher issues preloads through a fetcher while keeping the number of
// in-flight fetches at or below the store's MaxConcurrentRequests. Requests
// beyond the budget wait in a FIFO queue. Failed fetches are logged and
// dropped; nothing is retried.
type Prefetcher struct {
	store     *PriorityStore
	fetcher   types.Fetcher
	predictor types.Predictor

	limiter      *rate.Limiter
	fetchTimeout time.Duration
	logger       *slog.Logger
	metrics      types.MetricsCollector
	clock        types.Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	queue    *list.List // of *PrefetchJob
	pending  map[string]struct{}
	inFlight int
	idle     chan struct{}
	busy     bool
	closed   bool
	stats    types.PrefetchStats
}

// NewPrefetcher creates a prefetch scheduler writing into store
func NewPrefetcher(store *PriorityStore, fetcher types.Fetcher, predictor types.Predictor, config *PrefetcherConfig) (*Prefetcher, error) {
	if store == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "prefetcher requires a store").
			WithComponent("prefetcher")
	}
	if fetcher == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "prefetcher requires a fetcher").
			WithComponent("prefetcher")
	}
	if config == nil {
		config = &PrefetcherConfig{FetchTimeout: DefaultFetchTimeout}
	}
	if config.FetchTimeout < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "fetch timeout must not be negative, got %s", config.FetchTimeout).
			WithComponent("prefetcher")
	}
	if config.RateLimit < 0 || math.IsNaN(config.RateLimit) {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "rate limit must not be negative, got %v", config.RateLimit).
			WithComponent("prefetcher")
	}
	if predictor == nil {
		predictor = NewBehaviorPredictor(0)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = types.NopMetrics{}
	}
	clock := config.Clock
	if clock == nil {
		clock = types.SystemClock
	}

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	return &Prefetcher{
		store:        store,
		fetcher:      fetcher,
		predictor:    predictor,
		limiter:      limiter,
		fetchTimeout: config.FetchTimeout,
		logger:       logger.With("component", "prefetcher"),
		metrics:      metrics,
		clock:        clock,
		ctx:          ctx,
		cancel:       cancel,
		queue:        list.New(),
		pending:      make(map[string]struct{}),
		idle:         idle,
	}, nil
}

// Preload schedules a fetch of id. It never blocks on the fetch itself. An
// id that is already queued or in flight is skipped.
func (p *Prefetcher) Preload(id string, kind types.ItemKind, probability float64) error {
	if id == "" {
		return errors.NewError(errors.ErrCodeValidationFailed, "preload id must not be empty").
			WithComponent("prefetcher").WithOperation("preload")
	}
	if math.IsNaN(probability) || probability < 0 || probability > 1 {
		return errors.Newf(errors.ErrCodeValidationFailed, "probability %v outside [0,1]", probability).
			WithComponent("prefetcher").WithOperation("preload").WithDetail("id", id)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.NewError(errors.ErrCodeShutdownInProgress, "prefetcher is closed").
			WithComponent("prefetcher").WithOperation("preload")
	}
	if _, dup := p.pending[id]; dup {
		p.stats.Deduplicated++
		p.mu.Unlock()
		return nil
	}

	job := &PrefetchJob{
		JobID:       uuid.NewString(),
		ID:          id,
		Kind:        kind,
		Probability: probability,
		QueuedAt:    p.clock.Now(),
	}
	p.pending[id] = struct{}{}
	p.queue.PushBack(job)
	p.stats.Requested++
	if !p.busy {
		p.busy = true
		p.idle = make(chan struct{})
	}
	p.dispatchLocked()
	p.publishGaugesLocked()
	p.mu.Unlock()

	return nil
}

// RunPredictionCycle predicts from ic with the current threshold and
// preloads every surviving candidate. It returns the candidates that were
// scheduled. A nil ctx is treated as context.Background().
func (p *Prefetcher) RunPredictionCycle(ctx context.Context, ic *types.InteractionContext) []types.PredictionCandidate {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return nil
	}

	threshold := p.store.Config().PredictiveThreshold
	candidates := p.predictor.Predict(ic, threshold)

	scheduled := make([]types.PredictionCandidate, 0, len(candidates))
	for _, c := range candidates {
		if err := p.Preload(c.TargetID, c.Kind, c.Probability); err != nil {
			p.logger.Debug("Candidate not scheduled", "id", c.TargetID, "error", err)
			continue
		}
		scheduled = append(scheduled, c)
	}

	p.mu.Lock()
	p.stats.CyclesRun++
	p.stats.CandidatesHit += uint64(len(scheduled))
	p.mu.Unlock()

	p.logger.Debug("Prediction cycle complete",
		"current", contextID(ic),
		"threshold", threshold,
		"predicted", len(candidates),
		"scheduled", len(scheduled))

	return scheduled
}

// Kick dispatches queued work, for example after MaxConcurrentRequests grew.
func (p *Prefetcher) Kick() {
	p.mu.Lock()
	p.dispatchLocked()
	p.publishGaugesLocked()
	p.mu.Unlock()
}

// Wait blocks until no work is queued or in flight, or ctx is done.
func (p *Prefetcher) Wait(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, drops the queue and waits for in-flight
// fetches. If ctx expires first the remaining fetches are cancelled.
func (p *Prefetcher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for e := p.queue.Front(); e != nil; e = e.Next() {
			job := e.Value.(*PrefetchJob)
			delete(p.pending, job.ID)
			p.stats.Dropped++
		}
		p.queue.Init()
		p.signalIdleLocked()
		p.publishGaugesLocked()
	}
	p.mu.Unlock()

	err := p.Wait(ctx)
	p.cancel()
	return err
}

// Stats returns scheduler statistics
func (p *Prefetcher) Stats() types.PrefetchStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.InFlight = p.inFlight
	stats.QueueDepth = p.queue.Len()
	return stats
}

// dispatchLocked starts queued jobs while the concurrency budget allows.
// Caller must hold p.mu.
func (p *Prefetcher) dispatchLocked() {
	limit := p.store.Config().MaxConcurrentRequests
	for p.inFlight < limit && p.queue.Len() > 0 {
		job := p.queue.Remove(p.queue.Front()).(*PrefetchJob)
		p.inFlight++
		if p.inFlight > p.stats.PeakInFlight {
			p.stats.PeakInFlight = p.inFlight
		}
		go p.run(job)
	}
}

func (p *Prefetcher) run(job *PrefetchJob) {
	job.StartedAt = p.clock.Now()
	start := time.Now()

	size, err := p.execute(job)
	duration := time.Since(start)

	p.metrics.RecordPrefetch(job.Kind.String(), duration, int64(size), err == nil)
	if err != nil {
		p.logger.Warn("Prefetch failed",
			"job_id", job.JobID,
			"id", job.ID,
			"kind", job.Kind.String(),
			"probability", job.Probability,
			"duration", duration,
			"error", err)
	} else {
		p.logger.Debug("Prefetch complete",
			"job_id", job.JobID,
			"id", job.ID,
			"bytes", size,
			"duration", duration)
		p.metrics.SetBufferItems(p.store.Len())
	}

	p.mu.Lock()
	p.inFlight--
	delete(p.pending, job.ID)
	if err != nil {
		p.stats.Failed++
	} else {
		p.stats.Completed++
		p.stats.BytesFetched += int64(size)
	}
	p.dispatchLocked()
	if p.queue.Len() == 0 && p.inFlight == 0 {
		p.signalIdleLocked()
	}
	p.publishGaugesLocked()
	p.mu.Unlock()
}

// execute fetches one job and stores the result. Panics in the fetcher are
// converted to errors.
func (p *Prefetcher) execute(job *PrefetchJob) (size int, err error) {
	defer func() {
		if r := recover(); r != nil {
			perr := errors.Newf(errors.ErrCodePanicRecovered, "fetcher panicked: %v", r).
				WithComponent("prefetcher").WithOperation("fetch").WithDetail("id", job.ID).
				WithStack()
			p.logger.Error("Fetcher panicked", "job_id", job.JobID, "id", job.ID, "stack", perr.Stack)
			err = perr
		}
	}()

	ctx := p.ctx
	if p.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return 0, errors.Wrap(errors.ErrCodePrefetchFailed, "rate limiter wait aborted", err).
				WithComponent("prefetcher").WithOperation("fetch").WithDetail("id", job.ID)
		}
	}

	data, err := p.fetcher.Fetch(ctx, job.ID, job.Kind)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodePrefetchFailed, fmt.Sprintf("fetch %s failed", job.ID), err).
			WithComponent("prefetcher").WithOperation("fetch").WithDetail("id", job.ID)
	}

	p.store.Put(types.BufferItem{
		ID:                   job.ID,
		Kind:                 job.Kind,
		Payload:              data,
		Priority:             types.PriorityForProbability(job.Probability),
		InsertedAt:           p.clock.Now(),
		PredictedProbability: job.Probability,
	})
	return len(data), nil
}

func (p *Prefetcher) signalIdleLocked() {
	if p.busy && p.queue.Len() == 0 && p.inFlight == 0 {
		p.busy = false
		close(p.idle)
	}
}

func (p *Prefetcher) publishGaugesLocked() {
	p.metrics.SetPrefetchInFlight(p.inFlight)
	p.metrics.SetPrefetchQueueDepth(p.queue.Len())
}

func contextID(ic *types.InteractionContext) string {
	if ic == nil {
		return ""
	}
	return ic.CurrentContentID
}
