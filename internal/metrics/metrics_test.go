package metrics

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestHandlerServesMetricsEndpoint(t *testing.T) {
	registry := NewRegistry()
	registry.Completed.Inc()

	req, err := http.NewRequest(http.MethodGet, "/metrics", nil)
	require.NoError(t, err)

	rec := &testResponseWriter{header: make(http.Header)}
	registry.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.status)
	require.Contains(t, rec.body, "loadgen_requests_completed_total")
}

func TestServerStartStopsOnContextCancel(t *testing.T) {
	registry := NewRegistry()
	srv := NewServer("127.0.0.1:0", registry, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

type testResponseWriter struct {
	header http.Header
	status int
	body   string
}

func (w *testResponseWriter) Header() http.Header { return w.header }

func (w *testResponseWriter) Write(b []byte) (int, error) {
	w.body += string(b)
	return len(b), nil
}

func (w *testResponseWriter) WriteHeader(status int) { w.status = status }
