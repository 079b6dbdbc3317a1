package billing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RunsTasks(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Workers: 2})

	var n int32
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Submit(context.Background(), "count", func(context.Context) error {
			atomic.AddInt32(&n, 1)
			return nil
		}))
	}

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(10), atomic.LoadInt32(&n))
}

func TestDispatcher_DetachesFromRequestCancellation(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var got error
	done := make(chan struct{})
	require.NoError(t, d.Submit(ctx, "detached", func(taskCtx context.Context) error {
		got = taskCtx.Err()
		close(done)
		return nil
	}))

	<-done
	assert.NoError(t, got)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcher_ReportsErrorsAndPanics(t *testing.T) {
	var (
		mu    sync.Mutex
		names []string
	)
	d := NewDispatcher(DispatcherConfig{
		Workers: 1,
		ErrorHandler: func(name string, _ error) {
			mu.Lock()
			names = append(names, name)
			mu.Unlock()
		},
	})

	require.NoError(t, d.Submit(context.Background(), "fails", func(context.Context) error {
		return errors.New("boom")
	}))
	require.NoError(t, d.Submit(context.Background(), "panics", func(context.Context) error {
		panic("bad")
	}))
	require.NoError(t, d.Close(context.Background()))

	assert.ElementsMatch(t, []string{"fails", "panics"}, names)
}

func TestDispatcher_QueueFullDoesNotDrop(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1, SpillLimit: 3})

	var n int32
	task := func(context.Context) error {
		<-release
		atomic.AddInt32(&n, 1)
		return nil
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Submit(context.Background(), "blocked", task))
	}
	close(release)

	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, int32(5), atomic.LoadInt32(&n))
}

func TestDispatcher_SpillIsBounded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	d := NewDispatcher(DispatcherConfig{Workers: 1, QueueSize: 1, SpillLimit: 1})

	task := func(context.Context) error {
		started <- struct{}{}
		<-release
		return nil
	}

	// One task on the worker, one queued, one on the only spill goroutine
	require.NoError(t, d.Submit(context.Background(), "worker", task))
	<-started
	require.NoError(t, d.Submit(context.Background(), "queued", task))
	require.NoError(t, d.Submit(context.Background(), "spilled", task))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Submit(ctx, "overflow", task)
	assert.ErrorIs(t, err, ErrDispatcherBusy)

	close(release)
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, started, 1, "only the queued task starts after release")
}

func TestDispatcher_SubmitAfterClose(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{})
	require.NoError(t, d.Close(context.Background()))

	err := d.Submit(context.Background(), "late", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrDispatcherClosed)
}

func TestDispatcher_CloseRespectsDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	d := NewDispatcher(DispatcherConfig{Workers: 1})
	require.NoError(t, d.Submit(context.Background(), "stuck", func(context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}
