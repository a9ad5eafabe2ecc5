// Package stats implements the sliding-window statistics aggregator: it
// ingests per-request records under a single mutex, maintains windowed
// sample series, and periodically emits a structured snapshot.
package stats

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/guming3d/azure-openai-benchmark/internal/samplewindow"
)

// Config configures an Aggregator.
type Config struct {
	Clients                  int
	DumpInterval             time.Duration
	WindowDuration           time.Duration
	ExpectedGenTokens        int
	JSONOutput               bool
	LogRequestContent        bool
	NetworkLatencyAdjustment time.Duration
	Logger                   zerolog.Logger
	Out                      io.Writer
}

// Aggregator is the sliding-window statistics aggregator described in
// SPEC_FULL.md §4.4. All mutable state is guarded by mu; the periodic
// emitter takes the lock only long enough to copy out sample slices.
type Aggregator struct {
	cfg Config
	out io.Writer

	mu                 sync.Mutex
	startTime          time.Time
	processingRequests int
	totalRequests      int
	totalFailed        int
	throttled          int

	requestTimestamps  *samplewindow.Window
	endToEndLatency    *samplewindow.Window
	responseLatency    *samplewindow.Window
	firstTokenLatency  *samplewindow.Window
	tokenLatency       *samplewindow.Window
	contextTextTokens  *samplewindow.Window
	contextImageTokens *samplewindow.Window
	generatedTokens    *samplewindow.Window
	utilization        *samplewindow.Window
	callTries          *samplewindow.Window

	rawRecords []Request

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs an Aggregator. Call Start to begin periodic emission. A
// zero DumpInterval defaults to 5s and a zero WindowDuration to 60s.
func New(cfg Config) *Aggregator {
	if cfg.DumpInterval <= 0 {
		cfg.DumpInterval = 5 * time.Second
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = 60 * time.Second
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	return &Aggregator{
		cfg:                cfg,
		out:                out,
		requestTimestamps:  samplewindow.New(),
		endToEndLatency:    samplewindow.New(),
		responseLatency:    samplewindow.New(),
		firstTokenLatency:  samplewindow.New(),
		tokenLatency:       samplewindow.New(),
		contextTextTokens:  samplewindow.New(),
		contextImageTokens: samplewindow.New(),
		generatedTokens:    samplewindow.New(),
		utilization:        samplewindow.New(),
		callTries:          samplewindow.New(),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
	}
}

// Start stamps the run's start time and begins the periodic emission
// goroutine. Must be called at most once.
func (a *Aggregator) Start() {
	a.startTime = time.Now()
	go a.run()
}

func (a *Aggregator) run() {
	defer close(a.done)
	ticker := time.NewTicker(a.cfg.DumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.dump()
		case <-a.stop:
			return
		}
	}
}

// Stop signals the periodic emitter to terminate, waits for it to exit,
// and emits one final snapshot so in-flight completions aggregated just
// before Stop are reflected. Safe to call more than once: only the first
// call has any effect, matching the spec's idempotence requirement.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.stop)
		<-a.done
		a.dump()
		a.DumpRawRecords()
	})
}

// RecordNewRequest marks a request as in flight, ahead of the call that
// will eventually be aggregated via AggregateRequest.
func (a *Aggregator) RecordNewRequest() {
	a.mu.Lock()
	a.processingRequests++
	a.mu.Unlock()
}

// AggregateRequest ingests a completed (or failed) per-call record into the
// sliding window. See SPEC_FULL.md §4.4 for the exact sample derivation.
func (a *Aggregator) AggregateRequest(r *Request) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.processingRequests--
	a.totalRequests++

	if !r.RequestStartTime.IsZero() {
		a.callTries.Append(r.RequestStartTime, float64(r.Calls))
	}

	if r.ResponseStatus != 200 {
		a.totalFailed++
		if r.ResponseStatus == 429 {
			a.throttled++
		}
	} else {
		adj := a.cfg.NetworkLatencyAdjustment.Seconds()

		if !r.ResponseEndTime.IsZero() && !r.RequestStartTime.IsZero() {
			e2e := r.ResponseEndTime.Sub(r.RequestStartTime).Seconds() - adj
			a.endToEndLatency.Append(r.RequestStartTime, e2e)
			if a.cfg.WindowDuration > 0 && e2e > a.cfg.WindowDuration.Seconds() {
				a.cfg.Logger.Warn().
					Float64("request_latency_seconds", e2e).
					Float64("aggregation_window_seconds", a.cfg.WindowDuration.Seconds()).
					Msg("request completed slower than the aggregation window; consider increasing --aggregation-window to at least 2x typical request latency")
			}
		}

		a.requestTimestamps.Append(r.RequestStartTime, float64(r.RequestStartTime.Unix()))

		if !r.ResponseTime.IsZero() && !r.RequestStartTime.IsZero() {
			a.responseLatency.Append(r.RequestStartTime, r.ResponseTime.Sub(r.RequestStartTime).Seconds()-adj)
		}

		if !r.FirstTokenTime.IsZero() && !r.RequestStartTime.IsZero() {
			a.firstTokenLatency.Append(r.RequestStartTime, r.FirstTokenTime.Sub(r.RequestStartTime).Seconds()-adj)
		}

		if r.GeneratedTokens != nil && *r.GeneratedTokens > 0 && !r.ResponseEndTime.IsZero() && !r.FirstTokenTime.IsZero() {
			a.tokenLatency.Append(r.RequestStartTime, (r.ResponseEndTime.Sub(r.FirstTokenTime).Seconds()-adj)/float64(*r.GeneratedTokens))
		}

		if !r.RequestStartTime.IsZero() {
			a.contextTextTokens.Append(r.RequestStartTime, float64(r.ContextTextTokens))
			a.contextImageTokens.Append(r.RequestStartTime, float64(r.ContextImgTokens))
			if r.GeneratedTokens != nil {
				a.generatedTokens.Append(r.RequestStartTime, float64(*r.GeneratedTokens))
			}
		}
	}

	if r.DeploymentUtilization != nil && !r.RequestStartTime.IsZero() {
		a.utilization.Append(r.RequestStartTime, *r.DeploymentUtilization)
	}

	record := *r
	if !a.cfg.LogRequestContent {
		record.InputMessages = nil
		record.OutputContent = nil
	}
	a.rawRecords = append(a.rawRecords, record)
}
