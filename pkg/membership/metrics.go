package membership

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// mutationsTotal counts terminal and retryable classifications by
	// operation (insert, delete, patch) and outcome.
	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_member_mutations_total",
			Help: "Member mutation results by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// batchesTotal counts batch windows submitted.
	batchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "directory_member_batches_total",
			Help: "Total number of member batch windows submitted",
		},
	)

	// batchFailuresTotal counts batch calls that failed as a whole.
	batchFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "directory_member_batch_failures_total",
			Help: "Total number of member batch calls that failed before any item was answered",
		},
	)

	// batchSize observes the number of mutations per window.
	batchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "directory_member_batch_size",
			Help:    "Number of mutations per submitted batch window",
			Buckets: []float64{1, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// retriesTotal counts individual retries by result (success, failure).
	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_member_retries_total",
			Help: "Individually retried member mutations by result",
		},
		[]string{"result"},
	)
)
