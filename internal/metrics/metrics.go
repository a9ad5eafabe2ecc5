// Package metrics exposes a Prometheus /metrics endpoint mirroring the
// aggregator's live snapshot. It is a supplemental observability surface;
// the line-oriented aggregator dump remains the primary artefact.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry wraps the Prometheus collectors the load generator exposes,
// each bound to its own prometheus.Registry rather than the global
// DefaultRegisterer so that a process can safely construct more than one
// (as the test suite does).
type Registry struct {
	reg *prometheus.Registry

	Processing prometheus.Gauge
	Completed  prometheus.Counter
	Failed     prometheus.Counter
	Throttled  prometheus.Counter
	RPM        prometheus.Gauge
	TTFTAvg    prometheus.Gauge
	E2EAvg     prometheus.Gauge
	TBTAvg     prometheus.Gauge
}

// NewRegistry creates the Prometheus collectors for a fresh run.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		Processing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loadgen_requests_processing",
			Help: "Number of requests currently in flight",
		}),
		Completed: factory.NewCounter(prometheus.CounterOpts{
			Name: "loadgen_requests_completed_total",
			Help: "Total number of requests that completed successfully",
		}),
		Failed: factory.NewCounter(prometheus.CounterOpts{
			Name: "loadgen_requests_failed_total",
			Help: "Total number of requests that failed",
		}),
		Throttled: factory.NewCounter(prometheus.CounterOpts{
			Name: "loadgen_requests_throttled_total",
			Help: "Total number of requests throttled with HTTP 429",
		}),
		RPM: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loadgen_requests_per_minute",
			Help: "Completed requests per minute over the current aggregation window",
		}),
		TTFTAvg: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loadgen_time_to_first_token_seconds_avg",
			Help: "Average time to first token over the current aggregation window",
		}),
		E2EAvg: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loadgen_end_to_end_latency_seconds_avg",
			Help: "Average end-to-end request latency over the current aggregation window",
		}),
		TBTAvg: factory.NewGauge(prometheus.GaugeOpts{
			Name: "loadgen_time_between_tokens_seconds_avg",
			Help: "Average time between tokens over the current aggregation window",
		}),
	}
}

// Handler returns an HTTP handler exposing the Prometheus collectors.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Server is the dedicated side HTTP server serving /metrics on a separate
// address from the benchmarked endpoint.
type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer builds a Server listening on addr. A blank addr is not treated
// specially: it is passed to http.Server as is, which then listens on ":http".
func NewServer(addr string, registry *Registry, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
		logger: logger,
	}
}

// Start runs the metrics HTTP server until ctx is cancelled, then shuts it
// down gracefully within a 5 second budget. It blocks until the server has
// stopped.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("metrics http server starting")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("metrics http server shutdown error")
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
