package membership

import (
	"context"

	"github.com/Sternrassler/directory-groups/pkg/directory"
)

// pendingRetry is a mutation waiting for its single individual retry.
type pendingRetry struct {
	index    int
	mutation directory.Mutation
}

// retryQueue holds mutations classified as retryable during the batched pass.
// Entries are keyed by absolute input position, so two mutations for the same
// member key are both kept.
type retryQueue struct {
	pending []pendingRetry
	queued  map[int]bool
}

func newRetryQueue() *retryQueue {
	return &retryQueue{queued: make(map[int]bool)}
}

// push queues the mutation at index. A second push for the same index is
// ignored.
func (q *retryQueue) push(index int, m directory.Mutation) {
	if q.queued[index] {
		return
	}
	q.queued[index] = true
	q.pending = append(q.pending, pendingRetry{index: index, mutation: m})
}

func (q *retryQueue) len() int {
	return len(q.pending)
}

// drain executes every queued mutation once, in queue order, and passes each
// result to done. The queue is empty afterwards.
func (q *retryQueue) drain(ctx context.Context, client directory.Client, done func(pendingRetry, error)) {
	pending := q.pending
	q.pending = nil
	q.queued = make(map[int]bool)

	for _, p := range pending {
		done(p, client.Execute(ctx, p.mutation))
	}
}
