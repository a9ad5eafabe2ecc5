package stats

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(t *testing.T, out *bytes.Buffer) *Aggregator {
	t.Helper()
	return New(Config{
		DumpInterval:   time.Hour, // periodic tick never fires; tests call dump() via Stop
		WindowDuration: time.Minute,
		JSONOutput:     true,
		Logger:         zerolog.Nop(),
		Out:            out,
	})
}

func intPtr(v int) *int         { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestAggregateRequestSuccessRecordsLatencySamples(t *testing.T) {
	var out bytes.Buffer
	a := newTestAggregator(t, &out)
	a.Start()

	start := time.Now()
	a.RecordNewRequest()
	a.AggregateRequest(&Request{
		RequestStartTime: start,
		ResponseTime:     start.Add(50 * time.Millisecond),
		FirstTokenTime:   start.Add(100 * time.Millisecond),
		ResponseEndTime:  start.Add(300 * time.Millisecond),
		ResponseStatus:   200,
		Calls:            1,
		ContextTextTokens: 42,
		GeneratedTokens:  intPtr(4),
	})

	a.Stop()

	require.Equal(t, 1, a.totalRequests)
	require.Equal(t, 0, a.totalFailed)
	require.Equal(t, 1, a.endToEndLatency.Len())
	require.Equal(t, 1, a.firstTokenLatency.Len())
	require.Equal(t, 1, a.tokenLatency.Len())
}

func TestAggregateRequestFailureSkipsLatencySamples(t *testing.T) {
	var out bytes.Buffer
	a := newTestAggregator(t, &out)
	a.Start()

	a.RecordNewRequest()
	a.AggregateRequest(&Request{
		RequestStartTime: time.Now(),
		ResponseEndTime:  time.Now(),
		ResponseStatus:   429,
		Calls:            1,
	})
	a.Stop()

	require.Equal(t, 1, a.totalFailed)
	require.Equal(t, 1, a.throttled)
	require.Equal(t, 0, a.endToEndLatency.Len())
}

func TestAggregateRequestZeroGeneratedTokensSkipsTBT(t *testing.T) {
	var out bytes.Buffer
	a := newTestAggregator(t, &out)
	a.Start()

	start := time.Now()
	zero := 0
	a.RecordNewRequest()
	a.AggregateRequest(&Request{
		RequestStartTime: start,
		ResponseTime:     start.Add(10 * time.Millisecond),
		FirstTokenTime:   start.Add(20 * time.Millisecond),
		ResponseEndTime:  start.Add(30 * time.Millisecond),
		ResponseStatus:   200,
		Calls:            1,
		GeneratedTokens:  &zero,
	})
	a.Stop()

	require.Equal(t, 0, a.tokenLatency.Len())
	require.Equal(t, 1, a.endToEndLatency.Len())
}

func TestStopIsIdempotent(t *testing.T) {
	var out bytes.Buffer
	a := newTestAggregator(t, &out)
	a.Start()
	a.Stop()
	a.Stop()

	// One snapshot line plus one raw-dump line, not two of each.
	lines := bytes.Count(out.Bytes(), []byte("\n"))
	require.Equal(t, 2, lines)
}

func TestDumpEmitsNAWithoutSamples(t *testing.T) {
	var out bytes.Buffer
	a := newTestAggregator(t, &out)
	a.Start()
	a.Stop()

	var snap Snapshot
	line, _, _ := bytes.Cut(out.Bytes(), []byte("\n"))
	require.NoError(t, json.Unmarshal(line, &snap))
	require.Equal(t, naValue, snap.E2EAvg)
	require.Equal(t, naValue, snap.E2EP95)
	require.Equal(t, naValue, snap.TBTAvg)
}

func TestUtilizationRecordedWhenPresent(t *testing.T) {
	var out bytes.Buffer
	a := newTestAggregator(t, &out)
	a.Start()

	a.RecordNewRequest()
	a.AggregateRequest(&Request{
		RequestStartTime:      time.Now(),
		ResponseEndTime:       time.Now(),
		ResponseStatus:        200,
		DeploymentUtilization: floatPtr(42.5),
	})
	a.Stop()

	require.Equal(t, 1, a.utilization.Len())
}
