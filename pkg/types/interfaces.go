package types

import (
	"context"
	"time"
)

// Fetcher supplies payload bytes for an item. Implementations must be safe
// for concurrent use and should honor ctx cancellation.
type Fetcher interface {
	Fetch(ctx context.Context, id string, kind ItemKind) ([]byte, error)
}

// FetcherFunc adapts an ordinary function to the Fetcher interface
type FetcherFunc func(ctx context.Context, id string, kind ItemKind) ([]byte, error)

// Fetch calls f(ctx, id, kind)
func (f FetcherFunc) Fetch(ctx context.Context, id string, kind ItemKind) ([]byte, error) {
	return f(ctx, id, kind)
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface
type ClockFunc func() time.Time

// Now calls f()
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock
var SystemClock Clock = ClockFunc(time.Now)

// Predictor derives ranked prefetch candidates from an interaction context
type Predictor interface {
	Predict(ctx *InteractionContext, threshold float64) []PredictionCandidate
}

// MetricsCollector defines the metrics surface used by the buffer subsystem.
// A nil MetricsCollector is never passed around; use NopMetrics instead.
type MetricsCollector interface {
	RecordPrefetch(kind string, duration time.Duration, size int64, success bool)
	RecordCacheHit(kind string)
	RecordCacheMiss()
	RecordEviction(count int)
	SetBufferItems(n int)
	SetPrefetchInFlight(n int)
	SetPrefetchQueueDepth(n int)
	RecordQualityDecision(impl, decision string)
}

// NopMetrics discards every observation
type NopMetrics struct{}

func (NopMetrics) RecordPrefetch(string, time.Duration, int64, bool) {}
func (NopMetrics) RecordCacheHit(string)                             {}
func (NopMetrics) RecordCacheMiss()                                  {}
func (NopMetrics) RecordEviction(int)                                {}
func (NopMetrics) SetBufferItems(int)                                {}
func (NopMetrics) SetPrefetchInFlight(int)                           {}
func (NopMetrics) SetPrefetchQueueDepth(int)                         {}
func (NopMetrics) RecordQualityDecision(string, string)              {}
