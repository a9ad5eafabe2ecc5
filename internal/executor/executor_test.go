package executor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/guming3d/azure-openai-benchmark/internal/ratelimiter"
)

func TestRunEndConditionOrStopsOnEitherBound(t *testing.T) {
	c := RunEndCondition{Mode: ModeOR, MaxRequests: 5}
	require.False(t, c.reached(4, 0))
	require.True(t, c.reached(5, 0))

	c2 := RunEndCondition{Mode: ModeOR, MaxDuration: time.Second}
	require.True(t, c2.reached(0, 2*time.Second))
}

func TestRunEndConditionAndWithOneBoundBehavesAsOr(t *testing.T) {
	c := RunEndCondition{Mode: ModeAND, MaxRequests: 5}
	require.True(t, c.reached(5, 0))
	require.False(t, c.reached(4, 0))
}

func TestRunEndConditionAndRequiresBothBounds(t *testing.T) {
	c := RunEndCondition{Mode: ModeAND, MaxRequests: 5, MaxDuration: 100 * time.Millisecond}
	require.False(t, c.reached(5, 0))
	require.False(t, c.reached(0, 200*time.Millisecond))
	require.True(t, c.reached(5, 200*time.Millisecond))
}

func TestExecutorRunsExactlyMaxRequests(t *testing.T) {
	var completed int64
	e := &Executor{
		Worker: func(ctx context.Context) {
			atomic.AddInt64(&completed, 1)
		},
		Limiter:      ratelimiter.NoLimiter{},
		Concurrency:  4,
		EndCondition: RunEndCondition{Mode: ModeOR, MaxRequests: 20},
	}

	finished := make(chan struct{})
	e.OnFinish = func() { close(finished) }

	e.Run(context.Background())
	<-finished

	require.Equal(t, int64(20), atomic.LoadInt64(&completed))
}

func TestExecutorRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var completed int64

	e := &Executor{
		Worker: func(ctx context.Context) {
			atomic.AddInt64(&completed, 1)
			time.Sleep(5 * time.Millisecond)
		},
		Limiter:      ratelimiter.NoLimiter{},
		Concurrency:  2,
		EndCondition: RunEndCondition{Mode: ModeOR, MaxDuration: time.Hour},
	}

	finished := make(chan struct{})
	e.OnFinish = func() { close(finished) }

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	e.Run(ctx)
	<-finished

	require.Greater(t, atomic.LoadInt64(&completed), int64(0))
}
