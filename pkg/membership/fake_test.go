package membership

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/Sternrassler/directory-groups/pkg/directory"
)

// fakeClient answers requests from per-member queues. A member without a
// queued answer succeeds.
type fakeClient struct {
	mu sync.Mutex

	answers   map[string][]error
	batchErrs []error
	pages     []*directory.MemberPage

	batches  [][]string
	executed []string
	listed   []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{answers: make(map[string][]error)}
}

// answer queues errors for the next requests addressing memberKey.
func (c *fakeClient) answer(memberKey string, errs ...error) *fakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers[memberKey] = append(c.answers[memberKey], errs...)
	return c
}

// failBatches makes the next batch calls fail as a whole.
func (c *fakeClient) failBatches(errs ...error) *fakeClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchErrs = append(c.batchErrs, errs...)
	return c
}

func (c *fakeClient) next(memberKey string) error {
	queue := c.answers[memberKey]
	if len(queue) == 0 {
		return nil
	}
	c.answers[memberKey] = queue[1:]
	return queue[0]
}

func (c *fakeClient) Execute(_ context.Context, m directory.Mutation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executed = append(c.executed, m.MemberKey())
	return c.next(m.MemberKey())
}

func (c *fakeClient) ExecuteBatch(_ context.Context, batch []directory.Mutation) ([]directory.ItemResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(batch))
	for _, m := range batch {
		keys = append(keys, m.MemberKey())
	}
	c.batches = append(c.batches, keys)

	if len(c.batchErrs) > 0 {
		err := c.batchErrs[0]
		c.batchErrs = c.batchErrs[1:]
		return nil, err
	}

	// Answer in reverse order; only Index correlates results.
	results := make([]directory.ItemResult, 0, len(batch))
	for i := len(batch) - 1; i >= 0; i-- {
		results = append(results, directory.ItemResult{Index: i, Err: c.next(batch[i].MemberKey())})
	}
	return results, nil
}

func (c *fakeClient) ListMembers(_ context.Context, groupKey, pageToken string) (*directory.MemberPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listed = append(c.listed, pageToken)

	if len(c.pages) == 0 {
		return &directory.MemberPage{}, nil
	}
	page := c.pages[0]
	c.pages = c.pages[1:]
	return page, nil
}

func (c *fakeClient) batchSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sizes := make([]int, 0, len(c.batches))
	for _, b := range c.batches {
		sizes = append(sizes, len(b))
	}
	return sizes
}

func (c *fakeClient) executedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.executed...)
}

// fakePool lends one client and counts checkouts.
type fakePool struct {
	client   directory.Client
	err      error
	used     atomic.Int32
	returned atomic.Int32
}

func (p *fakePool) Use(_ context.Context, fn func(directory.Client) error) error {
	if p.err != nil {
		return p.err
	}
	p.used.Add(1)
	defer p.returned.Add(1)
	return fn(p.client)
}

// countingGate records acquire/release pairs per call.
type countingGate struct {
	acquired atomic.Int32
	released atomic.Int32
	services sync.Map
	err      error
}

func (g *countingGate) Acquire(_ context.Context, service string) error {
	if g.err != nil {
		return g.err
	}
	g.acquired.Add(1)
	g.services.Store(service, true)
	return nil
}

func (g *countingGate) Release(string) {
	g.released.Add(1)
}

func apiErr(status int, reason, message string) *directory.APIError {
	return &directory.APIError{StatusCode: status, Reason: reason, Message: message}
}

func errConflict() error {
	return apiErr(http.StatusConflict, "duplicate", "Member already exists.")
}

func errMissing() error {
	return apiErr(http.StatusNotFound, "notFound", "Resource Not Found: memberKey")
}

func errQuota() error {
	return apiErr(http.StatusForbidden, "quotaExceeded", "Quota exceeded for quota metric 'Queries'")
}

func errUnavailable() error {
	return apiErr(http.StatusServiceUnavailable, "backendError", "The service is currently unavailable.")
}

func errInternal() error {
	return apiErr(http.StatusInternalServerError, "internalError", "Internal error encountered.")
}

func inserts(group string, keys ...string) []directory.Mutation {
	out := make([]directory.Mutation, 0, len(keys))
	for _, k := range keys {
		out = append(out, directory.Insert(group, directory.NewMember(k, "")))
	}
	return out
}
