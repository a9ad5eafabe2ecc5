package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNoLimiterNeverWaits(t *testing.T) {
	var l NoLimiter
	require.Equal(t, time.Duration(0), l.Backoff())
	require.Equal(t, time.Duration(0), l.Backoff())
}

func TestTokenBucketAllowsBurstUpToCapacity(t *testing.T) {
	tb := NewTokenBucket(5) // capacity 5, 1 token every 12s
	for i := 0; i < 5; i++ {
		require.Equal(t, time.Duration(0), tb.Backoff(), "request %d should be covered by the initial burst capacity", i)
	}
}

func TestTokenBucketDelaysBeyondRate(t *testing.T) {
	tb := NewTokenBucket(60) // capacity 60, 1 token/sec
	for i := 0; i < 60; i++ {
		tb.Backoff() // drain the full burst capacity
	}
	d := tb.Backoff()
	require.Greater(t, d, time.Duration(0))
	require.LessOrEqual(t, d, 1100*time.Millisecond)
}

func TestTokenBucketCapacityScalesWithRPM(t *testing.T) {
	tb := NewTokenBucket(120) // capacity 120, 2 tokens/sec
	for i := 0; i < 120; i++ {
		require.Equal(t, time.Duration(0), tb.Backoff(), "request %d should be covered by the burst capacity", i)
	}
	require.Greater(t, tb.Backoff(), time.Duration(0))
}
