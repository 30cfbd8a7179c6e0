package membership

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Sternrassler/directory-groups/pkg/directory"
	"github.com/rs/zerolog"
)

// Batch size limits.
const (
	// DefaultBatchSize is the number of mutations sent per batch call.
	// Larger batches are accepted by the directory but can run past its
	// server-side request deadline.
	DefaultBatchSize = 100

	// MaxBatchSize is the directory's ceiling for sub-requests per batch.
	MaxBatchSize = 1000
)

// Report summarizes one Execute call. Every input mutation is counted exactly
// once in Succeeded, Ignored or Failed; Retried counts how many of them went
// through the individual retry pass.
type Report struct {
	GroupKey  string
	Windows   int
	Succeeded int
	Ignored   int
	Retried   int
	Failed    int

	failures failures
}

// Total returns the number of mutations that reached a terminal outcome.
func (r *Report) Total() int {
	return r.Succeeded + r.Ignored + r.Failed
}

// FailedMembers returns the member keys of the failed mutations in the order
// the failures were observed.
func (r *Report) FailedMembers() []string {
	return append([]string(nil), r.failures.memberKeys...)
}

// Err returns nil if nothing failed, the failure itself if exactly one
// mutation failed and an *AggregateError otherwise.
func (r *Report) Err() error {
	return r.failures.err()
}

// window is the half-open range [start, end) of one batch.
type window struct {
	start, end int
}

// windows splits n items into consecutive windows of at most size items.
func windows(n, size int) []window {
	if size < 1 {
		size = 1
	}

	out := make([]window, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, window{start: start, end: end})
	}
	return out
}

// Coordinator executes member mutations against the directory: batched in
// windows when batching is enabled, one at a time otherwise. Every result is
// classified; retryable mutations get exactly one individual retry once all
// windows are done; fatal results are collected, never short-circuited.
//
// A Coordinator holds no per-call state and is safe for concurrent use.
type Coordinator struct {
	batchSize int
	logger    zerolog.Logger
}

// NewCoordinator creates a coordinator. A batchSize of 1 or less disables
// batching.
func NewCoordinator(batchSize int, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		batchSize: batchSize,
		logger:    logger,
	}
}

// BatchSize returns the configured batch size.
func (c *Coordinator) BatchSize() int {
	return c.batchSize
}

// Batching reports whether mutations are sent in batch calls.
func (c *Coordinator) Batching() bool {
	return c.batchSize > 1
}

// execution is the state of one Execute call.
type execution struct {
	groupKey string
	opts     ClassifyOptions
	report   *Report
	retries  *retryQueue
	logger   zerolog.Logger
}

// Execute applies all mutations for groupKey and reports the outcome.
func (c *Coordinator) Execute(ctx context.Context, client directory.Client, groupKey string, mutations []directory.Mutation, opts ClassifyOptions) *Report {
	run := &execution{
		groupKey: groupKey,
		opts:     opts,
		report: &Report{
			GroupKey: groupKey,
			failures: failures{groupKey: groupKey},
		},
		retries: newRetryQueue(),
		logger:  c.logger,
	}

	if c.Batching() {
		c.executeBatches(ctx, client, run, mutations)
	} else {
		for i, m := range mutations {
			run.record(i, m, client.Execute(ctx, m), false)
		}
	}

	if n := run.retries.len(); n > 0 {
		c.logger.Info().
			Str("group", groupKey).
			Int("count", n).
			Msg("Retrying member change requests")
	}

	run.retries.drain(ctx, client, run.retried)

	c.logger.Info().
		Str("group", groupKey).
		Int("windows", run.report.Windows).
		Int("succeeded", run.report.Succeeded).
		Int("ignored", run.report.Ignored).
		Int("retried", run.report.Retried).
		Int("failed", run.report.Failed).
		Msg("Member changes complete")

	return run.report
}

// executeBatches submits the mutations window by window, in input order.
func (c *Coordinator) executeBatches(ctx context.Context, client directory.Client, run *execution, mutations []directory.Mutation) {
	for n, w := range windows(len(mutations), c.batchSize) {
		batch := mutations[w.start:w.end]
		run.report.Windows++
		batchesTotal.Inc()
		batchSize.Observe(float64(len(batch)))

		c.logger.Info().
			Str("group", run.groupKey).
			Int("batch", n+1).
			Int("size", len(batch)).
			Msg("Executing batch")

		results, err := client.ExecuteBatch(ctx, batch)
		if err != nil {
			// The batch call itself failed after transport retries; no item
			// was answered, so every item of the window fails with it.
			batchFailuresTotal.Inc()
			c.logger.Error().
				Err(err).
				Str("group", run.groupKey).
				Int("batch", n+1).
				Msg("Batch call failed")

			for _, m := range batch {
				run.fail(m, newItemError(run.groupKey, m, err))
			}
			continue
		}

		// Results are recorded in window position order, whatever order
		// they were delivered in.
		errs := make([]error, len(batch))
		answered := make([]bool, len(batch))
		for _, r := range results {
			if r.Index < 0 || r.Index >= len(batch) || answered[r.Index] {
				c.logger.Warn().
					Str("group", run.groupKey).
					Int("index", r.Index).
					Msg("Ignoring batch result with unexpected index")
				continue
			}
			answered[r.Index] = true
			errs[r.Index] = r.Err
		}

		for i := range batch {
			if !answered[i] {
				errs[i] = &directory.APIError{
					StatusCode: http.StatusServiceUnavailable,
					Reason:     "backendError",
					Message:    fmt.Sprintf("no result for batch sub-request %d", i),
				}
			}
			abs := w.start + i
			run.record(abs, mutations[abs], errs[i], true)
		}
	}
}

// record classifies the first result of the mutation at input index. Batch
// results that turn out fatal are reported as *ItemError; results of single
// requests are reported as returned by the client.
func (r *execution) record(index int, m directory.Mutation, err error, batched bool) {
	if err == nil {
		r.succeed(m)
		return
	}

	switch outcome := Classify(err, r.opts); outcome {
	case OutcomeIgnored:
		r.report.Ignored++
		mutationsTotal.WithLabelValues(string(m.Op()), outcome.String()).Inc()
		r.logger.Info().
			Err(err).
			Str("kind", m.Kind()).
			Str("member", m.MemberKey()).
			Str("group", r.groupKey).
			Msg("Ignoring member change rejection")

	case OutcomeRetryable:
		mutationsTotal.WithLabelValues(string(m.Op()), outcome.String()).Inc()
		r.logger.Warn().
			Err(err).
			Str("kind", m.Kind()).
			Str("member", m.MemberKey()).
			Str("group", r.groupKey).
			Msg("Queuing member change for backoff/retry")
		r.retries.push(index, m)

	default:
		if batched {
			err = newItemError(r.groupKey, m, err)
		}
		r.fail(m, err)
	}
}

// retried records the result of a mutation's individual retry. Any error is
// fatal and reported as returned by the client; a mutation is never queued
// twice.
func (r *execution) retried(p pendingRetry, err error) {
	r.report.Retried++

	if err == nil {
		retriesTotal.WithLabelValues("success").Inc()
		r.succeed(p.mutation)
		return
	}

	retriesTotal.WithLabelValues("failure").Inc()
	r.fail(p.mutation, err)
}

func (r *execution) succeed(m directory.Mutation) {
	r.report.Succeeded++
	mutationsTotal.WithLabelValues(string(m.Op()), OutcomeSuccess.String()).Inc()
	r.logger.Debug().
		Str("kind", m.Kind()).
		Str("member", m.MemberKey()).
		Str("role", m.Member().Role).
		Str("group", r.groupKey).
		Msg("Member change applied")
}

func (r *execution) fail(m directory.Mutation, err error) {
	r.report.Failed++
	r.report.failures.add(m.MemberKey(), err)
	mutationsTotal.WithLabelValues(string(m.Op()), OutcomeFatal.String()).Inc()
	r.logger.Error().
		Err(err).
		Str("kind", m.Kind()).
		Str("member", m.MemberKey()).
		Str("group", r.groupKey).
		Msg("Member change failed")
}
