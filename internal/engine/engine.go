// Package engine assembles the predictive buffer subsystem.
package engine

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/cinefront/cinefront/internal/cache"
	"github.com/cinefront/cinefront/internal/circuit"
	"github.com/cinefront/cinefront/internal/fetch"
	"github.com/cinefront/cinefront/internal/quality"
	"github.com/cinefront/cinefront/pkg/errors"
	"github.com/cinefront/cinefront/pkg/types"
)

// Options configures an Engine. Fetcher is required; every other field has
// a default.
type Options struct {
	Config  types.BufferConfig
	Fetcher types.Fetcher
	Clock   types.Clock
	Logger  *slog.Logger
	Metrics types.MetricsCollector

	// Prefetch tuning passed to the scheduler
	Prefetch cache.PrefetcherConfig

	// MaxCandidates caps predictions per cycle. Zero means no cap.
	MaxCandidates int

	// Acceleration locates the quality kernel. Nil uses the built-in one.
	Acceleration *quality.AcceleratedConfig
}

// Stats is a point-in-time view of the buffer subsystem
type Stats struct {
	Initialized bool                `json:"initialized"`
	Optimizer   string              `json:"optimizer"`
	Config      types.BufferConfig  `json:"config"`
	Cache       types.CacheStats    `json:"cache"`
	Prefetch    types.PrefetchStats `json:"prefetch"`

	// KernelFallbacks counts accelerated calls answered by the reference path
	KernelFallbacks uint64 `json:"kernel_fallbacks"`

	// Origin state, present when the fetcher chain reports it
	Breakers map[string]circuit.Stats `json:"breakers,omitempty"`
	Origin   *fetch.Metrics           `json:"origin,omitempty"`
}

// breakerReporter is implemented by circuit.Fetcher
type breakerReporter interface {
	GetStats() map[string]circuit.Stats
	ResetAll()
}

// originReporter is implemented by fetch.S3Fetcher
type originReporter interface {
	GetMetrics() fetch.Metrics
}

// unwrapper is implemented by fetchers that wrap another fetcher
type unwrapper interface {
	Unwrap() types.Fetcher
}

// Engine wires the predictor, prefetch scheduler, priority store and quality
// optimizer into one subsystem. Reads from the buffer work at any time; the
// accelerated quality kernel becomes available once Initialize completes.
type Engine struct {
	fetcher    types.Fetcher
	store      *cache.PriorityStore
	predictor  *cache.BehaviorPredictor
	prefetcher *cache.Prefetcher
	reference  *quality.Reference

	accelConfig *quality.AcceleratedConfig
	logger      *slog.Logger
	metrics     types.MetricsCollector

	initOnce sync.Once
	initErr  error
	ready    chan struct{}

	mu          sync.RWMutex
	accelerated *quality.Accelerated
	initialized bool
}

// New creates an engine. The engine is usable immediately; call Start or
// Initialize to load the accelerated quality kernel.
func New(opts *Options) (*Engine, error) {
	if opts == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "engine options are required").
			WithComponent("engine")
	}
	if opts.Fetcher == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "engine requires a fetcher").
			WithComponent("engine")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = types.NopMetrics{}
	}

	store, err := cache.NewPriorityStore(opts.Config, opts.Clock)
	if err != nil {
		return nil, err
	}
	store.OnEvict(func(ids []string) {
		metrics.RecordEviction(len(ids))
		metrics.SetBufferItems(store.Len())
		logger.Debug("Buffer items evicted", "component", "engine", "count", len(ids))
	})

	predictor := cache.NewBehaviorPredictor(opts.MaxCandidates)

	prefetchConfig := opts.Prefetch
	prefetchConfig.Logger = logger
	prefetchConfig.Metrics = metrics
	if prefetchConfig.Clock == nil {
		prefetchConfig.Clock = opts.Clock
	}
	prefetcher, err := cache.NewPrefetcher(store, opts.Fetcher, predictor, &prefetchConfig)
	if err != nil {
		return nil, err
	}

	return &Engine{
		fetcher:     opts.Fetcher,
		store:       store,
		predictor:   predictor,
		prefetcher:  prefetcher,
		reference:   quality.NewReference(),
		accelConfig: opts.Acceleration,
		logger:      logger.With("component", "engine"),
		metrics:     metrics,
		ready:       make(chan struct{}),
	}, nil
}

// Initialize loads the accelerated quality kernel when acceleration is
// enabled. It is idempotent: concurrent and repeated calls wait for and
// return the first call's result. An unavailable kernel is not an error;
// the reference optimizer is used instead.
func (e *Engine) Initialize(ctx context.Context) error {
	e.initOnce.Do(func() {
		defer close(e.ready)
		e.initErr = e.initialize(ctx)
	})
	<-e.ready
	return e.initErr
}

// Start runs Initialize in the background. Ready reports completion.
func (e *Engine) Start(ctx context.Context) {
	go func() {
		if err := e.Initialize(ctx); err != nil {
			e.logger.Error("Initialization failed", "error", err)
		}
	}()
}

// Ready returns a channel closed once initialization has finished
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

func (e *Engine) initialize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeNotInitialized, "initialization cancelled", err).
			WithComponent("engine").WithOperation("initialize")
	}

	opt := quality.Select(ctx, e.store.Config().EnableAcceleration, e.accelConfig, e.logger)
	acc, _ := opt.(*quality.Accelerated)

	e.mu.Lock()
	e.accelerated = acc
	e.initialized = true
	e.mu.Unlock()

	e.logger.Info("Buffer subsystem initialized",
		"accelerated", acc != nil,
		"buffer_size", e.store.Config().BufferSize)
	return nil
}

// GetFromBuffer returns the buffered payload for id, or (nil, false) on a
// miss. It never blocks on initialization or prefetching.
func (e *Engine) GetFromBuffer(id string) ([]byte, bool) {
	data, ok := e.store.Get(id)
	if !ok {
		e.metrics.RecordCacheMiss()
		return nil, false
	}

	kind := types.KindMedia
	if item, found := e.store.Peek(id); found {
		kind = item.Kind
	}
	e.metrics.RecordCacheHit(kind.String())
	return data, true
}

// QualityTier maps bandwidth in bytes per second to a tier in [0, 3]
func (e *Engine) QualityTier(bandwidth int64, resolution string) int {
	opt := e.optimizer()
	tier := opt.QualityTier(bandwidth, resolution)
	e.metrics.RecordQualityDecision(opt.Name(), "tier_"+strconv.Itoa(tier))
	return tier
}

// AdaptiveBitrate returns the next target bitrate in bytes per second
func (e *Engine) AdaptiveBitrate(current int64, bufferHealth float64, observedSpeed int64) int64 {
	opt := e.optimizer()
	next := opt.AdaptiveBitrate(current, bufferHealth, observedSpeed)

	decision := "hold"
	switch {
	case next < current:
		decision = "down"
	case next > current:
		decision = "up"
	}
	e.metrics.RecordQualityDecision(opt.Name(), decision)
	return next
}

// optimizer picks the implementation for the current configuration
func (e *Engine) optimizer() quality.Optimizer {
	if !e.store.Config().EnableAcceleration {
		return e.reference
	}
	e.mu.RLock()
	acc := e.accelerated
	e.mu.RUnlock()
	if acc == nil {
		return e.reference
	}
	return acc
}

// SetConfig validates and applies a partial configuration update. An
// invalid update is rejected and the current configuration is kept.
func (e *Engine) SetConfig(update types.ConfigUpdate) error {
	if err := e.store.SetConfig(update); err != nil {
		e.logger.Warn("Configuration update rejected", "error", err)
		return err
	}
	e.prefetcher.Kick()
	e.metrics.SetBufferItems(e.store.Len())

	cfg := e.store.Config()
	e.logger.Info("Configuration updated",
		"max_concurrent_requests", cfg.MaxConcurrentRequests,
		"predictive_threshold", cfg.PredictiveThreshold,
		"buffer_size", cfg.BufferSize,
		"enable_acceleration", cfg.EnableAcceleration)
	return nil
}

// Config returns the current buffer configuration
func (e *Engine) Config() types.BufferConfig {
	return e.store.Config()
}

// RunPredictionCycle predicts likely next content for ic and schedules
// preloads for candidates above the current threshold.
func (e *Engine) RunPredictionCycle(ctx context.Context, ic *types.InteractionContext) []types.PredictionCandidate {
	return e.prefetcher.RunPredictionCycle(ctx, ic)
}

// Preload schedules a single prefetch
func (e *Engine) Preload(id string, kind types.ItemKind, probability float64) error {
	return e.prefetcher.Preload(id, kind, probability)
}

// Wait blocks until the prefetch scheduler is idle or ctx is done
func (e *Engine) Wait(ctx context.Context) error {
	return e.prefetcher.Wait(ctx)
}

// Stats returns a snapshot of the subsystem
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	initialized := e.initialized
	e.mu.RUnlock()

	stats := Stats{
		Initialized: initialized,
		Optimizer:   e.optimizer().Name(),
		Config:      e.store.Config(),
		Cache:       e.store.Stats(),
		Prefetch:    e.prefetcher.Stats(),
	}

	e.mu.RLock()
	if e.accelerated != nil {
		stats.KernelFallbacks = e.accelerated.Fallbacks()
	}
	e.mu.RUnlock()

	e.walkFetchers(func(f types.Fetcher) {
		if b, ok := f.(breakerReporter); ok && stats.Breakers == nil {
			stats.Breakers = b.GetStats()
		}
		if o, ok := f.(originReporter); ok && stats.Origin == nil {
			m := o.GetMetrics()
			stats.Origin = &m
		}
	})
	return stats
}

// ResetBreakers closes every origin circuit breaker. It reports whether the
// fetcher chain has breakers at all.
func (e *Engine) ResetBreakers() bool {
	found := false
	e.walkFetchers(func(f types.Fetcher) {
		if b, ok := f.(breakerReporter); ok {
			b.ResetAll()
			found = true
		}
	})
	if found {
		e.logger.Info("Origin circuit breakers reset")
	}
	return found
}

// walkFetchers visits the fetcher and every fetcher it wraps
func (e *Engine) walkFetchers(visit func(types.Fetcher)) {
	for f := e.fetcher; f != nil; {
		visit(f)
		u, ok := f.(unwrapper)
		if !ok {
			return
		}
		f = u.Unwrap()
	}
}

// Close stops prefetching and releases the quality kernel
func (e *Engine) Close(ctx context.Context) error {
	err := e.prefetcher.Close(ctx)

	e.mu.Lock()
	acc := e.accelerated
	e.accelerated = nil
	e.mu.Unlock()

	if acc != nil {
		if cerr := acc.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
