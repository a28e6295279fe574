package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func fail(context.Context) error { return errBackend }
func ok(context.Context) error   { return nil }

type transitions struct {
	mu  sync.Mutex
	got []CircuitBreakerState
}

func (tr *transitions) record(_ string, _, to CircuitBreakerState) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.got = append(tr.got, to)
}

func newTestBreaker(clock *time.Time, successThreshold uint) (*CircuitBreaker, *transitions) {
	tr := &transitions{}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: successThreshold,
		RetryTimeout:     time.Minute,
		OnStateChange:    tr.record,
	}, nil)
	cb.now = func() time.Time { return *clock }
	return cb, tr
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	clock := time.Now()
	cb, tr := newTestBreaker(&clock, 1)
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	stats := cb.Stats()
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, uint64(1), stats.Opened)
	assert.Equal(t, clock.Add(time.Minute), stats.NextAttempt)
	assert.Equal(t, []CircuitBreakerState{StateOpen}, tr.got)
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	clock := time.Now()
	cb, _ := newTestBreaker(&clock, 1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, ok))
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.GetState(), "failures must be consecutive")
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	clock := time.Now()
	cb, tr := newTestBreaker(&clock, 2)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)

	clock = clock.Add(2 * time.Minute)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.GetState())

	assert.Equal(t, []CircuitBreakerState{StateOpen, StateHalfOpen, StateClosed}, tr.got)
}

func TestCircuitBreakerFailedProbeReopens(t *testing.T) {
	clock := time.Now()
	cb, _ := newTestBreaker(&clock, 1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock = clock.Add(2 * time.Minute)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBackend)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
}

func TestCircuitBreakerAllowsOneProbeAtATime(t *testing.T) {
	clock := time.Now()
	cb, _ := newTestBreaker(&clock, 1)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	clock = clock.Add(2 * time.Minute)

	inProbe := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(inProbe)
			<-release
			return nil
		})
	}()

	<-inProbe
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	clock := time.Now()
	tr := &transitions{}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errBackend) },
		OnStateChange:    tr.record,
	}, nil)
	cb.now = func() time.Time { return clock }

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBackend)
	}
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, uint64(5), cb.Stats().Successes)
	assert.Empty(t, tr.got)
}

func TestCircuitBreakerIgnoresCancelledCalls(t *testing.T) {
	clock := time.Now()
	cb, _ := newTestBreaker(&clock, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Zero(t, cb.Stats().Failures)
}
