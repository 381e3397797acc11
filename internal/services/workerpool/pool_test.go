package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPool(t *testing.T, workers, queue int) *Pool {
	t.Helper()
	pool := New(Config{Workers: workers, QueueSize: queue})
	require.NoError(t, pool.Start())
	return pool
}

func TestNew(t *testing.T) {
	pool := New(Config{Workers: 5, QueueSize: 50})
	require.NotNil(t, pool)
	assert.Equal(t, 5, pool.Workers())
	assert.Equal(t, 50, pool.GetQueueCapacity())
	assert.False(t, pool.IsRunning())

	pool = New(Config{Workers: 0, QueueSize: -1})
	assert.Equal(t, 1, pool.Workers())
	assert.Equal(t, 0, pool.GetQueueCapacity())
}

func TestPool_StartStop(t *testing.T) {
	pool := New(DefaultConfig())
	require.NoError(t, pool.Start())
	assert.True(t, pool.IsRunning())

	err := pool.Start()
	assert.ErrorContains(t, err, "already running")

	require.NoError(t, pool.Stop())
	assert.False(t, pool.IsRunning())

	assert.ErrorContains(t, pool.Stop(), "not running")
	assert.ErrorContains(t, pool.Start(), "already stopped")
}

func TestPool_Submit(t *testing.T) {
	pool := startPool(t, 2, 10)
	defer func() { _ = pool.Stop() }()

	done := make(chan bool, 1)
	err := pool.Submit(context.Background(), Task{
		ID: "test-task",
		Execute: func(context.Context) error {
			done <- true
			return nil
		},
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not execute within timeout")
	}
}

func TestPool_Submit_NotRunning(t *testing.T) {
	pool := New(DefaultConfig())
	err := pool.Submit(context.Background(), Task{ID: "x", Execute: func(context.Context) error { return nil }})
	assert.ErrorContains(t, err, "not running")
}

func TestPool_SubmitAsync(t *testing.T) {
	pool := startPool(t, 2, 10)
	defer func() { _ = pool.Stop() }()

	expected := errors.New("test error")
	resultCh, err := pool.SubmitAsync(context.Background(), Task{
		ID:      "async-task",
		Execute: func(context.Context) error { return expected },
	})
	require.NoError(t, err)

	select {
	case result := <-resultCh:
		assert.Equal(t, "async-task", result.TaskID)
		assert.ErrorIs(t, result.Error, expected)
	case <-time.After(2 * time.Second):
		t.Fatal("async task did not complete within timeout")
	}
}

func TestPool_PanicIsIsolated(t *testing.T) {
	pool := startPool(t, 1, 4)
	defer func() { _ = pool.Stop() }()

	resultCh, err := pool.SubmitAsync(context.Background(), Task{
		ID:      "boom",
		Execute: func(context.Context) error { panic("bad input") },
	})
	require.NoError(t, err)

	result := <-resultCh
	var pe *PanicError
	require.ErrorAs(t, result.Error, &pe)
	assert.Equal(t, "boom", pe.TaskID)
	assert.NotEmpty(t, pe.Stack)

	// The single worker is still alive.
	resultCh, err = pool.SubmitAsync(context.Background(), Task{
		ID:      "after",
		Execute: func(context.Context) error { return nil },
	})
	require.NoError(t, err)
	assert.NoError(t, (<-resultCh).Error)
}

func TestPool_DropOnFull(t *testing.T) {
	pool := New(Config{Workers: 1, QueueSize: 1, DropOnFull: true})
	require.NoError(t, pool.Start())

	release := make(chan struct{})
	started := make(chan struct{})
	blocking := Task{ID: "block", Execute: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, pool.Submit(context.Background(), blocking))
	<-started

	noop := func(context.Context) error { return nil }
	require.NoError(t, pool.Submit(context.Background(), Task{ID: "queued", Execute: noop}))
	err := pool.Submit(context.Background(), Task{ID: "dropped", Execute: noop})
	assert.ErrorContains(t, err, "task queue full")

	close(release)
	require.NoError(t, pool.Stop())
}

func TestPool_SubmitRespectsContext(t *testing.T) {
	pool := startPool(t, 1, 0)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), Task{ID: "block", Execute: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Submit(ctx, Task{ID: "late", Execute: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, pool.Stop())
}

func TestPool_StopDrainsQueue(t *testing.T) {
	pool := startPool(t, 2, 100)

	var count atomic.Int32
	for i := 0; i < 50; i++ {
		require.NoError(t, pool.Submit(context.Background(), Task{ID: "t", Execute: func(context.Context) error {
			count.Add(1)
			return nil
		}}))
	}
	require.NoError(t, pool.Stop())
	assert.Equal(t, int32(50), count.Load())
}

func TestPool_ContextCancelledAfterStop(t *testing.T) {
	pool := startPool(t, 1, 1)

	ctxCh := make(chan context.Context, 1)
	require.NoError(t, pool.Submit(context.Background(), Task{ID: "ctx", Execute: func(ctx context.Context) error {
		ctxCh <- ctx
		return nil
	}}))
	require.NoError(t, pool.Stop())

	ctx := <-ctxCh
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
