package circuit

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cinefront/cinefront/pkg/errors"
	"github.com/cinefront/cinefront/pkg/types"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - fetches pass through
	StateClosed State = iota
	// StateOpen - fetches are rejected without reaching the origin
	StateOpen
	// StateHalfOpen - a limited number of probe fetches are let through
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// Probe fetches allowed while half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Period after which closed-state counts are cleared
	Interval time.Duration `yaml:"interval"`

	// Time spent open before probing the origin again. Each failed probe
	// doubles it up to MaxTimeout; closing resets it.
	Timeout    time.Duration `yaml:"timeout"`
	MaxTimeout time.Duration `yaml:"max_timeout"`

	// Consecutive failures that trip the breaker. Used when ReadyToTrip is nil.
	FailureThreshold uint32 `yaml:"failure_threshold"`

	ReadyToTrip   func(counts Counts) bool                `yaml:"-"`
	OnStateChange func(name string, from State, to State) `yaml:"-"`
	IsSuccessful  func(err error) bool                    `yaml:"-"`
	Clock         types.Clock                             `yaml:"-"`
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

// CircuitBreaker stops calling a failing origin for a cool-down period
type CircuitBreaker struct {
	name   string
	config Config

	mu       sync.Mutex
	state    State
	counts   Counts
	expiry   time.Time
	cooldown *backoff.ExponentialBackOff
}

// NewCircuitBreaker creates a new circuit breaker instance
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxTimeout < config.Timeout {
		config.MaxTimeout = 8 * config.Timeout
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.ReadyToTrip == nil {
		threshold := config.FailureThreshold
		config.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		}
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = IsOriginHealthy
	}
	if config.Clock == nil {
		config.Clock = types.SystemClock
	}

	cooldown := backoff.NewExponentialBackOff()
	cooldown.InitialInterval = config.Timeout
	cooldown.MaxInterval = config.MaxTimeout
	cooldown.Multiplier = 2
	cooldown.RandomizationFactor = 0
	cooldown.MaxElapsedTime = 0
	cooldown.Reset()

	return &CircuitBreaker{
		name:     name,
		config:   config,
		state:    StateClosed,
		expiry:   config.Clock.Now().Add(config.Interval),
		cooldown: cooldown,
	}
}

// IsOriginHealthy reports whether err says nothing bad about the origin.
// Missing objects and caller cancellation do not count as failures.
func IsOriginHealthy(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.IsCode(err, errors.ErrCodeObjectNotFound):
		return true
	case stderrors.Is(err, context.Canceled):
		return true
	default:
		return false
	}
}

// Execute runs fn if the breaker allows it
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState(cb.config.Clock.Now())

	if state == StateOpen {
		return errors.Newf(errors.ErrCodeCircuitOpen, "circuit %s is open", cb.name).
			WithComponent("circuit")
	}
	if state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests {
		return errors.Newf(errors.ErrCodeCircuitOpen, "circuit %s is probing, too many requests", cb.name).
			WithComponent("circuit")
	}

	cb.counts.onRequest(cb.config.Clock.Now())
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.config.Clock.Now()
	state := cb.currentState(now)

	if cb.config.IsSuccessful(err) {
		cb.counts.onSuccess()
		if state == StateHalfOpen {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.counts.onFailure()
	switch state {
	case StateClosed:
		if cb.config.ReadyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// currentState advances time-based transitions. Caller must hold cb.mu.
func (cb *CircuitBreaker) currentState(now time.Time) State {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.counts.clear()
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		if !cb.expiry.After(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state

	cb.state = state
	cb.counts.clear()

	switch state {
	case StateClosed:
		cb.expiry = now.Add(cb.config.Interval)
		cb.cooldown.Reset()
	case StateOpen:
		cb.expiry = now.Add(cb.cooldown.NextBackOff())
	case StateHalfOpen:
		cb.expiry = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState(cb.config.Clock.Now())
}

// GetCounts returns a copy of the current counts
func (cb *CircuitBreaker) GetCounts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and clears its counts
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.clear()
	cb.setState(StateClosed, cb.config.Clock.Now())
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (c *Counts) onRequest(now time.Time) {
	c.Requests++
	c.LastActivity = now
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() {
	*c = Counts{}
}

// Stats represents statistics for a single circuit breaker
type Stats struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Counts Counts `json:"counts"`
}

// Fetcher guards a types.Fetcher with one breaker per item kind, so a
// failing image origin does not stop media prefetches.
type Fetcher struct {
	next   types.Fetcher
	config Config
	logger *slog.Logger

	mu       sync.RWMutex
	breakers map[types.ItemKind]*CircuitBreaker
}

var _ types.Fetcher = (*Fetcher)(nil)

// NewFetcher wraps next
func NewFetcher(next types.Fetcher, config Config, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{
		next:     next,
		config:   config,
		logger:   logger.With("component", "circuit"),
		breakers: make(map[types.ItemKind]*CircuitBreaker),
	}

	onChange := config.OnStateChange
	f.config.OnStateChange = func(name string, from, to State) {
		f.logger.Warn("Circuit state changed", "circuit", name, "from", from.String(), "to", to.String())
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	return f
}

// Fetch calls the wrapped fetcher unless the breaker for kind is open
func (f *Fetcher) Fetch(ctx context.Context, id string, kind types.ItemKind) ([]byte, error) {
	var data []byte
	err := f.breaker(kind).Execute(ctx, func(ctx context.Context) error {
		var err error
		data, err = f.next.Fetch(ctx, id, kind)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Unwrap returns the guarded fetcher
func (f *Fetcher) Unwrap() types.Fetcher {
	return f.next
}

// breaker returns the breaker for kind, creating it on first use
func (f *Fetcher) breaker(kind types.ItemKind) *CircuitBreaker {
	f.mu.RLock()
	if cb, ok := f.breakers[kind]; ok {
		f.mu.RUnlock()
		return cb
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check in case another goroutine created it
	if cb, ok := f.breakers[kind]; ok {
		return cb
	}
	cb := NewCircuitBreaker("origin-"+kind.String(), f.config)
	f.breakers[kind] = cb
	return cb
}

// GetStats returns statistics for every breaker created so far
func (f *Fetcher) GetStats() map[string]Stats {
	f.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(f.breakers))
	for _, cb := range f.breakers {
		breakers = append(breakers, cb)
	}
	f.mu.RUnlock()

	stats := make(map[string]Stats, len(breakers))
	for _, cb := range breakers {
		stats[cb.Name()] = Stats{
			Name:   cb.Name(),
			State:  cb.GetState().String(),
			Counts: cb.GetCounts(),
		}
	}
	return stats
}

// ResetAll closes every breaker
func (f *Fetcher) ResetAll() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, cb := range f.breakers {
		cb.Reset()
	}
}
