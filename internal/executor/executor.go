// Package executor orchestrates a bounded pool of concurrent request
// workers: it paces admission through a rate limiter, enforces composite
// run-end conditions, and handles graceful cancellation with a grace
// period for in-flight work.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/guming3d/azure-openai-benchmark/internal/ratelimiter"
)

// RunEndMode selects how MaxRequests and MaxDuration combine.
type RunEndMode int

const (
	// ModeOR stops as soon as either configured bound is reached. The
	// default; a config with only one bound set behaves identically
	// under either mode.
	ModeOR RunEndMode = iota
	// ModeAND stops only once every configured bound has been reached.
	ModeAND
)

// RunEndCondition bounds a run by request count, wall-clock duration, or
// both, combined according to Mode.
type RunEndCondition struct {
	Mode        RunEndMode
	MaxRequests int           // 0 means unbounded
	MaxDuration time.Duration // 0 means unbounded
}

func (c RunEndCondition) reached(completed int, elapsed time.Duration) bool {
	requestsSet := c.MaxRequests > 0
	durationSet := c.MaxDuration > 0

	requestsReached := requestsSet && completed >= c.MaxRequests
	durationReached := durationSet && elapsed >= c.MaxDuration

	if !requestsSet && !durationSet {
		return false
	}

	if c.Mode == ModeAND {
		// An unset bound cannot be "reached"; AND with only one bound
		// set therefore degrades to that bound alone, matching OR.
		if requestsSet && !requestsReached {
			return false
		}
		if durationSet && !durationReached {
			return false
		}
		return true
	}

	return requestsReached || durationReached
}

// gracePeriod bounds how long Run waits for in-flight workers to finish
// after a run-end condition is reached.
const gracePeriod = 5 * time.Second

// Worker performs one complete request and is responsible for its own
// statistics aggregation; it should return promptly when ctx is cancelled.
type Worker func(ctx context.Context)

// Executor runs Worker up to Concurrency times concurrently, admitting new
// workers only as fast as the rate limiter allows, until a RunEndCondition
// is reached.
type Executor struct {
	Worker      Worker
	Limiter     ratelimiter.Limiter
	Concurrency int
	EndCondition RunEndCondition
	OnFinish    func()
}

// Run starts the admission loop and blocks until the run-end condition is
// reached (or ctx is cancelled), then waits up to gracePeriod for
// in-flight workers before invoking OnFinish and returning.
func (e *Executor) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, e.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0
	admitted := 0

	start := time.Now()

admissionLoop:
	for {
		if runCtx.Err() != nil {
			break
		}

		mu.Lock()
		done := e.EndCondition.reached(completed, time.Since(start))
		mu.Unlock()
		if done {
			break
		}

		// A request bound that ends the run on its own admits no more than
		// MaxRequests workers; the loop then waits for them to finish.
		if e.EndCondition.MaxRequests > 0 && admitted >= e.EndCondition.MaxRequests &&
			(e.EndCondition.Mode == ModeOR || e.EndCondition.MaxDuration == 0) {
			if !sleepOrDone(runCtx, 10*time.Millisecond) {
				break
			}
			continue
		}

		if wait := e.Limiter.Backoff(); wait > 0 {
			if !sleepOrDone(runCtx, wait) {
				break
			}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
			break admissionLoop
		}
		admitted++

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			e.Worker(runCtx)
			mu.Lock()
			completed++
			mu.Unlock()
		}()
	}

	cancel()

	graceDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(graceDone)
	}()
	select {
	case <-graceDone:
	case <-time.After(gracePeriod):
	}

	if e.OnFinish != nil {
		e.OnFinish()
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
