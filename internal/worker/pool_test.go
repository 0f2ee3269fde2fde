package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := NewWorkerPool(3)
	pool.Start(ctx)

	var done int32
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(ctx, func(ctx context.Context) error {
			atomic.AddInt32(&done, 1)
			return nil
		}))
	}
	pool.Stop()
	pool.Stop()

	assert.Equal(t, int32(20), atomic.LoadInt32(&done))
}

func TestWorkerPoolSubmitBlocksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(1)

	// Nothing drains the queue, so it fills after two jobs
	noop := func(context.Context) error { return nil }
	require.NoError(t, pool.Submit(ctx, noop))
	require.NoError(t, pool.Submit(ctx, noop))

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	assert.ErrorIs(t, pool.Submit(ctx, noop), context.Canceled)
}
