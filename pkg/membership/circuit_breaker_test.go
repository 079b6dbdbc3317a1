package membership

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func newTestBreaker(threshold int, timeout time.Duration) (*CircuitBreaker, *time.Time, *[]BreakerState) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var transitions []BreakerState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: threshold,
		ResetTimeout:     timeout,
		OnStateChange:    func(s BreakerState) { transitions = append(transitions, s) },
	})
	cb.now = func() time.Time { return now }
	return cb, &now, &transitions
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _, transitions := newTestBreaker(3, time.Minute)
	ctx := context.Background()
	fail := func(context.Context) error { return errUpstream }

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
		assert.Equal(t, BreakerClosed, cb.State())
	}
	assert.ErrorIs(t, cb.Execute(ctx, fail), errUpstream)
	assert.Equal(t, BreakerOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []BreakerState{BreakerOpen}, *transitions)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, now, transitions := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, func(context.Context) error { return errUpstream }))
	require.Equal(t, BreakerOpen, cb.State())

	*now = now.Add(time.Minute)
	assert.Equal(t, BreakerHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, func(context.Context) error { return nil }))
	assert.Equal(t, BreakerClosed, cb.State())
	assert.Equal(t, []BreakerState{BreakerOpen, BreakerHalfOpen, BreakerClosed}, *transitions)
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb, now, _ := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, func(context.Context) error { return errUpstream }))
	*now = now.Add(2 * time.Minute)

	require.Error(t, cb.Execute(ctx, func(context.Context) error { return errUpstream }))
	assert.Equal(t, BreakerOpen, cb.State())
}

func TestCircuitBreaker_SingleProbeInHalfOpen(t *testing.T) {
	cb, now, _ := newTestBreaker(1, time.Minute)
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, func(context.Context) error { return errUpstream }))
	*now = now.Add(time.Minute)

	inProbe := make(chan struct{})
	finish := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(ctx, func(context.Context) error {
			close(inProbe)
			<-finish
			return nil
		})
	}()

	<-inProbe
	assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return nil }), ErrCircuitOpen)
	close(finish)
	wg.Wait()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestCircuitBreaker_CanceledContextNotCounted(t *testing.T) {
	cb, _, _ := newTestBreaker(1, time.Minute)
	err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, BreakerClosed, cb.State())
}
