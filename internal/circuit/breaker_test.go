package circuit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cinefront/cinefront/pkg/errors"
	"github.com/cinefront/cinefront/pkg/types"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errOrigin = errors.NewError(errors.ErrCodeFetchFailed, "origin unavailable")

func fail(context.Context) error    { return errOrigin }
func succeed(context.Context) error { return nil }

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "CLOSED"},
		{StateOpen, "OPEN"},
		{StateHalfOpen, "HALF_OPEN"},
		{State(999), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", Config{})

	if cb.Name() != "test" {
		t.Errorf("name = %q, want %q", cb.Name(), "test")
	}
	if cb.GetState() != StateClosed {
		t.Errorf("initial state = %v, want %v", cb.GetState(), StateClosed)
	}
	if cb.config.MaxRequests != 1 {
		t.Errorf("default MaxRequests = %d, want 1", cb.config.MaxRequests)
	}
	if cb.config.FailureThreshold != 5 {
		t.Errorf("default FailureThreshold = %d, want 5", cb.config.FailureThreshold)
	}
	if cb.config.Timeout != 30*time.Second {
		t.Errorf("default Timeout = %v, want %v", cb.config.Timeout, 30*time.Second)
	}
}

func TestCircuitBreaker_TripsAndRecovers(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	var transitions []string
	cb := NewCircuitBreaker("origin", Config{
		FailureThreshold: 3,
		Timeout:          10 * time.Second,
		Clock:            clock,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, fail); err != errOrigin {
			t.Fatalf("attempt %d: err = %v, want origin error", i, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want OPEN after 3 failures", cb.GetState())
	}

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	if !errors.IsCode(err, errors.ErrCodeCircuitOpen) {
		t.Errorf("open breaker err = %v, want %s", err, errors.ErrCodeCircuitOpen)
	}
	if called {
		t.Error("open breaker must not call through")
	}

	clock.Advance(10 * time.Second)
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %v, want HALF_OPEN after timeout", cb.GetState())
	}
	if err := cb.Execute(ctx, succeed); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want CLOSED after successful probe", cb.GetState())
	}

	want := []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}
	if fmt.Sprint(transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	cb := NewCircuitBreaker("origin", Config{FailureThreshold: 1, Timeout: time.Second, Clock: clock})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)
	_ = cb.Execute(ctx, fail)

	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want OPEN after failed probe", cb.GetState())
	}

	// the second cool-down is twice as long
	clock.Advance(time.Second)
	if cb.GetState() != StateOpen {
		t.Errorf("state = %v, want OPEN one second into the doubled cool-down", cb.GetState())
	}
	clock.Advance(time.Second)
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %v, want HALF_OPEN after the doubled cool-down", cb.GetState())
	}

	// recovery resets the cool-down
	_ = cb.Execute(ctx, succeed)
	_ = cb.Execute(ctx, fail)
	clock.Advance(time.Second)
	if cb.GetState() != StateHalfOpen {
		t.Errorf("state = %v, want HALF_OPEN after the initial cool-down", cb.GetState())
	}
}

func TestCircuitBreaker_CooldownIsCapped(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	cb := NewCircuitBreaker("origin", Config{
		FailureThreshold: 1,
		Timeout:          time.Second,
		MaxTimeout:       3 * time.Second,
		Clock:            clock,
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	for _, wait := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second} {
		clock.Advance(wait)
		if cb.GetState() != StateHalfOpen {
			t.Fatalf("state = %v, want HALF_OPEN after %v", cb.GetState(), wait)
		}
		_ = cb.Execute(ctx, fail)
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("origin", Config{FailureThreshold: 2, Clock: newManualClock()})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, fail)
		_ = cb.Execute(ctx, succeed)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %v, want CLOSED", cb.GetState())
	}
	if got := cb.GetCounts().TotalFailures; got != 5 {
		t.Errorf("TotalFailures = %d, want 5", got)
	}
}

func TestIsOriginHealthy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"not found", errors.NewError(errors.ErrCodeObjectNotFound, "gone"), true},
		{"cancelled", fmt.Errorf("fetch: %w", context.Canceled), true},
		{"deadline", context.DeadlineExceeded, false},
		{"origin failure", errOrigin, false},
	}
	for _, tt := range tests {
		if got := IsOriginHealthy(tt.err); got != tt.want {
			t.Errorf("%s: IsOriginHealthy = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFetcher_PerKindBreakers(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := map[types.ItemKind]int{}
	next := types.FetcherFunc(func(ctx context.Context, id string, kind types.ItemKind) ([]byte, error) {
		mu.Lock()
		calls[kind]++
		mu.Unlock()
		if kind == types.KindImage {
			return nil, errOrigin
		}
		return []byte(id), nil
	})

	f := NewFetcher(next, Config{FailureThreshold: 2, Clock: newManualClock()},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = f.Fetch(ctx, "image/x", types.KindImage)
	}
	if calls[types.KindImage] != 2 {
		t.Errorf("image origin calls = %d, want 2 before the breaker opened", calls[types.KindImage])
	}

	data, err := f.Fetch(ctx, "media/1", types.KindMedia)
	if err != nil || string(data) != "media/1" {
		t.Errorf("media fetch = %q, %v; want payload and no error", data, err)
	}

	stats := f.GetStats()
	if stats["origin-image"].State != "OPEN" {
		t.Errorf("image breaker state = %q, want OPEN", stats["origin-image"].State)
	}
	if stats["origin-media"].State != "CLOSED" {
		t.Errorf("media breaker state = %q, want CLOSED", stats["origin-media"].State)
	}

	f.ResetAll()
	if f.GetStats()["origin-image"].State != "CLOSED" {
		t.Error("ResetAll should close every breaker")
	}
}

func TestFetcher_ConcurrentUse(t *testing.T) {
	t.Parallel()

	next := types.FetcherFunc(func(ctx context.Context, id string, kind types.ItemKind) ([]byte, error) {
		return []byte(id), nil
	})
	f := NewFetcher(next, Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := types.ItemKind(i % 3)
			if _, err := f.Fetch(context.Background(), fmt.Sprintf("id-%d", i), kind); err != nil {
				t.Errorf("fetch %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if n := len(f.GetStats()); n != 3 {
		t.Errorf("breakers = %d, want 3", n)
	}
}

func TestFetcher_Unwrap(t *testing.T) {
	t.Parallel()

	var hits int
	next := types.FetcherFunc(func(ctx context.Context, id string, kind types.ItemKind) ([]byte, error) {
		hits++
		return nil, nil
	})
	f := NewFetcher(next, Config{}, nil)

	inner, ok := f.Unwrap().(types.FetcherFunc)
	if !ok {
		t.Fatalf("Unwrap() = %T, want types.FetcherFunc", f.Unwrap())
	}
	_, _ = inner.Fetch(context.Background(), "media/x", types.KindMedia)
	if hits != 1 {
		t.Errorf("unwrapped fetcher calls = %d, want 1", hits)
	}
	if len(f.GetStats()) != 0 {
		t.Error("calling the unwrapped fetcher must bypass the breakers")
	}
}
