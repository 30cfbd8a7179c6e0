// Package metrics provides the Prometheus registry and the /metrics endpoint
// for directory-groups. All metrics are defined in their respective packages
// (directory, membership, ratelimit, pool, cache) to maintain modularity and
// avoid circular dependencies.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by directory-groups.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Serving metrics")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Metrics Documentation
//
// Request Metrics (pkg/directory):
//   - directory_requests_total{operation, status} (Counter): HTTP exchanges by operation (insert, delete, patch, batch, list) and status
//   - directory_request_duration_seconds{operation} (Histogram): Logical request duration, transport retries included
//   - directory_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/directory):
//   - directory_retries_total{error_class} (Counter): Transport retry attempts by error class
//   - directory_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - directory_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Member Change Metrics (pkg/membership):
//   - directory_member_mutations_total{operation, outcome} (Counter): Classified results (success, ignored, retryable, fatal)
//   - directory_member_batches_total (Counter): Batch windows submitted
//   - directory_member_batch_failures_total (Counter): Batch calls that failed as a whole
//   - directory_member_batch_size (Histogram): Mutations per batch window
//   - directory_member_retries_total{result} (Counter): Individual retries by result (success, failure)
//
// Gate Metrics (pkg/ratelimit):
//   - directory_gate_wait_seconds{service, backend} (Histogram): Time spent waiting for admission
//   - directory_gate_in_flight{service} (Gauge): Operations currently admitted
//
// Pool Metrics (pkg/pool):
//   - directory_pool_checked_out (Gauge): Clients currently checked out
//
// Cache Metrics (pkg/cache):
//   - directory_membership_cache_hits_total (Counter): Snapshot cache hits
//   - directory_membership_cache_misses_total (Counter): Snapshot cache misses
//   - directory_membership_cache_invalidations_total (Counter): Snapshots dropped after member changes
//   - directory_membership_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Fatal member change rate
//   sum(rate(directory_member_mutations_total{outcome="fatal"}[5m]))
//
//   # Share of items needing an individual retry
//   sum(rate(directory_member_mutations_total{outcome="retryable"}[5m])) /
//   sum(rate(directory_member_mutations_total[5m]))
//
//   # Gate saturation
//   histogram_quantile(0.95, rate(directory_gate_wait_seconds_bucket[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(directory_request_duration_seconds_bucket[5m]))
