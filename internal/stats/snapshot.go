package stats

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/guming3d/azure-openai-benchmark/internal/samplewindow"
)

// naValue is emitted whenever a window holds too few samples to answer the
// question asked of it (e.g. a percentile over fewer than two samples).
const naValue = "n/a"

// Snapshot is one periodic emission of the aggregator's sliding-window
// state. Every derived field is a string so missing data can carry the
// literal "n/a" sentinel instead of a magic numeric value.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	RunSeconds float64   `json:"run_seconds"`

	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failures   int `json:"failures"`
	Throttled  int `json:"throttled"`

	RPM string `json:"rpm"`

	ContextTPM string `json:"context_tpm"`
	ContextImgTPM string `json:"context_image_tpm"`
	GenTPM     string `json:"gen_tpm"`
	TotalTPM   string `json:"total_tpm"`

	E2EAvg  string `json:"e2e_avg_seconds"`
	E2EP95  string `json:"e2e_p95_seconds"`
	TTFTAvg string `json:"ttft_avg_seconds"`
	TTFTP95 string `json:"ttft_p95_seconds"`
	TBTAvg  string `json:"tbt_avg_seconds"`
	TBTP95  string `json:"tbt_p95_seconds"`

	ContextTPRAvg string `json:"context_tokens_per_request_avg"`

	GenTokensP10 string `json:"generated_tokens_p10"`
	GenTokensAvg string `json:"generated_tokens_avg"`
	GenTokensP90 string `json:"generated_tokens_p90"`

	UtilizationAvg string `json:"utilization_avg"`
	UtilizationP95 string `json:"utilization_p95"`
}

func formatAvg(values []float64) string {
	v, ok := samplewindow.Average(values)
	if !ok {
		return naValue
	}
	return fmt.Sprintf("%.3f", v)
}

func formatPercentile(values []float64, p float64) string {
	v, ok := samplewindow.Percentile(values, p)
	if !ok {
		return naValue
	}
	return fmt.Sprintf("%.3f", v)
}

func formatPercent(values []float64) string {
	v, ok := samplewindow.Average(values)
	if !ok {
		return naValue
	}
	return fmt.Sprintf("%.1f%%", v)
}

func formatPercentPercentile(values []float64, p float64) string {
	v, ok := samplewindow.Percentile(values, p)
	if !ok {
		return naValue
	}
	return fmt.Sprintf("%.1f%%", v)
}

func ratePerMinute(sum float64, denomSeconds float64) string {
	if denomSeconds <= 0 {
		return naValue
	}
	return fmt.Sprintf("%.1f", 60*sum/denomSeconds)
}

// windowSnapshot is the set of raw sample slices and counters copied out
// under the aggregator's lock, before the lock is released for formatting.
type windowSnapshot struct {
	now        time.Time
	runSeconds float64

	processing int
	completed  int
	failures   int
	throttled  int

	requestTimestamps  []float64
	endToEndLatency    []float64
	responseLatency    []float64
	firstTokenLatency  []float64
	tokenLatency       []float64
	contextTextTokens  []float64
	contextImageTokens []float64
	generatedTokens    []float64
	utilization        []float64
}

// dump snapshots the current state under the lock, trims every window to
// windowDuration, releases, then formats and writes the emission.
func (a *Aggregator) dump() {
	a.mu.Lock()
	now := time.Now()

	ws := windowSnapshot{
		now:                now,
		runSeconds:         now.Sub(a.startTime).Seconds(),
		processing:         a.processingRequests,
		completed:          a.totalRequests,
		failures:           a.totalFailed,
		throttled:          a.throttled,
		requestTimestamps:  a.requestTimestamps.Values(),
		endToEndLatency:    a.endToEndLatency.Values(),
		responseLatency:    a.responseLatency.Values(),
		firstTokenLatency:  a.firstTokenLatency.Values(),
		tokenLatency:       a.tokenLatency.Values(),
		contextTextTokens:  a.contextTextTokens.Values(),
		contextImageTokens: a.contextImageTokens.Values(),
		generatedTokens:    a.generatedTokens.Values(),
		utilization:        a.utilization.Values(),
	}
	if a.cfg.Clients > 0 && ws.processing > a.cfg.Clients {
		ws.processing = a.cfg.Clients
	}

	window := a.cfg.WindowDuration
	a.requestTimestamps.Trim(now, window)
	a.endToEndLatency.Trim(now, window)
	a.responseLatency.Trim(now, window)
	a.firstTokenLatency.Trim(now, window)
	a.tokenLatency.Trim(now, window)
	a.contextTextTokens.Trim(now, window)
	a.contextImageTokens.Trim(now, window)
	a.generatedTokens.Trim(now, window)
	a.utilization.Trim(now, window)
	a.callTries.Trim(now, window)
	a.mu.Unlock()

	snap := buildSnapshot(ws, window)
	a.emit(snap)
}

func buildSnapshot(ws windowSnapshot, window time.Duration) Snapshot {
	denom := ws.runSeconds
	if window.Seconds() > 0 && denom > window.Seconds() {
		denom = window.Seconds()
	}

	if ws.processing < 0 {
		ws.processing = 0
	}

	contextTextSum := samplewindow.Sum(ws.contextTextTokens)
	contextImgSum := samplewindow.Sum(ws.contextImageTokens)
	genSum := samplewindow.Sum(ws.generatedTokens)

	contextTPM := ratePerMinute(contextTextSum, denom)
	contextImgTPM := ratePerMinute(contextImgSum, denom)
	genTPM := ratePerMinute(genSum, denom)

	totalTPM := naValue
	if denom > 0 {
		totalTPM = fmt.Sprintf("%.1f", 60*(contextTextSum+contextImgSum+genSum)/denom)
	}

	ctxTextAvg, ctxTextOK := samplewindow.Average(ws.contextTextTokens)
	ctxImgAvg, ctxImgOK := samplewindow.Average(ws.contextImageTokens)
	contextTPRAvg := naValue
	switch {
	case ctxTextOK && ctxImgOK:
		contextTPRAvg = fmt.Sprintf("%.1f", ctxTextAvg+ctxImgAvg)
	case ctxTextOK:
		contextTPRAvg = fmt.Sprintf("%.1f", ctxTextAvg)
	}

	return Snapshot{
		Timestamp:  ws.now,
		RunSeconds: ws.runSeconds,

		Processing: ws.processing,
		Completed:  ws.completed,
		Failures:   ws.failures,
		Throttled:  ws.throttled,

		RPM: ratePerMinute(float64(len(ws.requestTimestamps)), denom),

		ContextTPM:    contextTPM,
		ContextImgTPM: contextImgTPM,
		GenTPM:        genTPM,
		TotalTPM:      totalTPM,

		E2EAvg:  formatAvg(ws.endToEndLatency),
		E2EP95:  formatPercentile(ws.endToEndLatency, 95),
		TTFTAvg: formatAvg(ws.firstTokenLatency),
		TTFTP95: formatPercentile(ws.firstTokenLatency, 95),
		TBTAvg:  formatAvg(ws.tokenLatency),
		TBTP95:  formatPercentile(ws.tokenLatency, 95),

		ContextTPRAvg: contextTPRAvg,

		GenTokensP10: formatPercentile(ws.generatedTokens, 10),
		GenTokensAvg: formatAvg(ws.generatedTokens),
		GenTokensP90: formatPercentile(ws.generatedTokens, 90),

		UtilizationAvg: formatPercent(ws.utilization),
		UtilizationP95: formatPercentPercentile(ws.utilization, 95),
	}
}

// emit writes one formatted snapshot line to the configured output, in
// either JSONL or human form. The human line is space-separated key=value
// fields whose values are not padded to fixed widths; it leaves out
// run_seconds and context_image_tpm.
func (a *Aggregator) emit(s Snapshot) {
	if a.cfg.JSONOutput {
		enc := json.NewEncoder(a.out)
		if err := enc.Encode(s); err != nil {
			a.cfg.Logger.Error().Err(err).Msg("failed to encode snapshot")
		}
		return
	}
	fmt.Fprintf(a.out,
		"%s rpm=%s processing=%d completed=%d failures=%d throttled=%d ctx_tpm=%s gen_tpm=%s total_tpm=%s e2e_avg=%s e2e_p95=%s ttft_avg=%s ttft_p95=%s tbt_avg=%s tbt_p95=%s ctx_tpr_avg=%s gen_tokens_p10=%s gen_tokens_avg=%s gen_tokens_p90=%s util_avg=%s util_p95=%s\n",
		s.Timestamp.Format(time.RFC3339), s.RPM, s.Processing, s.Completed, s.Failures, s.Throttled,
		s.ContextTPM, s.GenTPM, s.TotalTPM,
		s.E2EAvg, s.E2EP95, s.TTFTAvg, s.TTFTP95, s.TBTAvg, s.TBTP95,
		s.ContextTPRAvg, s.GenTokensP10, s.GenTokensAvg, s.GenTokensP90,
		s.UtilizationAvg, s.UtilizationP95,
	)
}

// LiveAverages reports the current windowed averages for requests per
// minute, time-to-first-token, end-to-end latency, and time-between-tokens,
// without trimming or emitting a snapshot line. Intended for a metrics
// exporter polling gauges between periodic dumps. ok is false until at
// least one of the three latency windows holds a sample; an average whose
// own window is empty is returned as 0.
func (a *Aggregator) LiveAverages() (rpm, ttftAvg, e2eAvg, tbtAvg float64, ok bool) {
	a.mu.Lock()
	now := time.Now()
	runSeconds := now.Sub(a.startTime).Seconds()
	requestCount := a.requestTimestamps.Len()
	ttftValues := a.firstTokenLatency.Values()
	e2eValues := a.endToEndLatency.Values()
	tbtValues := a.tokenLatency.Values()
	a.mu.Unlock()

	if runSeconds <= 0 {
		return 0, 0, 0, 0, false
	}
	denom := runSeconds
	if w := a.cfg.WindowDuration.Seconds(); w > 0 && denom > w {
		denom = w
	}
	rpm = 60 * float64(requestCount) / denom

	var ttftOK, e2eOK, tbtOK bool
	ttftAvg, ttftOK = samplewindow.Average(ttftValues)
	e2eAvg, e2eOK = samplewindow.Average(e2eValues)
	tbtAvg, tbtOK = samplewindow.Average(tbtValues)

	return rpm, ttftAvg, e2eAvg, tbtAvg, ttftOK || e2eOK || tbtOK
}

// rawDump is the final record written on Stop: a single JSON object with
// one field holding the full array of per-call records accumulated over
// the run's lifetime.
type rawDump struct {
	RawCallStats []Request `json:"Raw call stats:"`
}

// DumpRawRecords writes the final `{"Raw call stats:": [...]}` line. It is
// called once by Stop after the last periodic snapshot.
func (a *Aggregator) DumpRawRecords() {
	a.mu.Lock()
	records := a.rawRecords
	a.mu.Unlock()

	enc := json.NewEncoder(a.out)
	if err := enc.Encode(rawDump{RawCallStats: records}); err != nil {
		a.cfg.Logger.Error().Err(err).Msg("failed to encode raw call stats")
	}
}
