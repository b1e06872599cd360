// Package metrics exposes the Prometheus registry and HTTP endpoint for the
// Airtable client. All metrics are defined in their respective packages
// (transport, ratelimit, fetcher, sink) via promauto.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by the client.
var Registry = prometheus.DefaultRegisterer

// shutdownTimeout bounds graceful shutdown of the metrics server.
const shutdownTimeout = 5 * time.Second

// Handler returns a mux serving /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", HealthHandler)
	return mux
}

// HealthHandler answers liveness probes.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// Serve runs the metrics server on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Starting metrics server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		log.Info().Msg("Metrics server stopped")
		return nil
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/transport):
//   - airtable_requests_total{status} (Counter): Requests by HTTP status or "network_error"
//   - airtable_request_duration_seconds (Histogram): Duration of single attempts
//   - airtable_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/transport):
//   - airtable_retries_total{error_class} (Counter): Retry attempts by error class
//   - airtable_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - airtable_rate_limit_throttles_total (Counter): 429 responses recorded
//   - airtable_rate_limit_waits_total (Counter): Requests delayed by a cooldown
//   - airtable_rate_limit_wait_seconds (Histogram): Time spent waiting out cooldowns
//
// Fetch Metrics (pkg/fetcher, via MetricsObserver):
//   - airtable_pages_fetched_total{table} (Counter)
//   - airtable_records_fetched_total{table} (Counter)
//   - airtable_fetch_duration_seconds{table} (Histogram)
//
// Sink Metrics (pkg/sink):
//   - airtable_sink_rows_written_total{sink} (Counter)
//   - airtable_sink_errors_total{sink} (Counter)
//   - airtable_sink_write_duration_seconds{sink} (Histogram)
//
// Example Prometheus Queries:
//
//   # Records exported per table over the last hour
//   sum by (table) (increase(airtable_records_fetched_total[1h]))
//
//   # Throttling rate
//   rate(airtable_rate_limit_throttles_total[5m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(airtable_request_duration_seconds_bucket[5m]))
