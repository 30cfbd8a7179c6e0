// Package pool hands out directory clients to one caller at a time. A
// checked-out Handle is owned exclusively by its caller until Release.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Sternrassler/directory-groups/pkg/directory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Checkout after Close.
var ErrPoolClosed = errors.New("pool closed")

var poolCheckedOut = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "directory_pool_checked_out",
	Help: "Directory clients currently checked out of the pool",
})

// Factory creates a new client when the pool has no idle one.
type Factory func() (directory.Client, error)

// Pool is a bounded pool of directory clients. Clients are created lazily up
// to the pool size and reused after release.
type Pool struct {
	factory Factory
	sem     *semaphore.Weighted
	size    int

	mu     sync.Mutex
	idle   []directory.Client
	closed bool
}

// New creates a pool holding at most size clients.
func New(size int, factory Factory) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be >= 1 (got %d)", size)
	}
	if factory == nil {
		return nil, fmt.Errorf("factory is required")
	}

	return &Pool{
		factory: factory,
		sem:     semaphore.NewWeighted(int64(size)),
		size:    size,
	}, nil
}

// Size returns the maximum number of clients the pool hands out at once.
func (p *Pool) Size() int {
	return p.size
}

// Handle is a checked-out client.
type Handle struct {
	pool   *Pool
	client directory.Client
	once   sync.Once
}

// Client returns the checked-out client.
func (h *Handle) Client() directory.Client {
	return h.client
}

// Release returns the client to the pool. Calling it more than once is a
// no-op.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.pool.put(h.client)
	})
}

// Checkout blocks until a client is available or ctx is done.
func (p *Pool) Checkout(ctx context.Context) (*Handle, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("checkout client: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}

	var client directory.Client
	if n := len(p.idle); n > 0 {
		client = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()

	if client == nil {
		var err error
		client, err = p.factory()
		if err != nil {
			p.sem.Release(1)
			return nil, fmt.Errorf("create client: %w", err)
		}
	}

	poolCheckedOut.Inc()
	return &Handle{pool: p, client: client}, nil
}

// Use checks out a client, runs fn with it and returns the client on every
// exit path.
func (p *Pool) Use(ctx context.Context, fn func(directory.Client) error) error {
	h, err := p.Checkout(ctx)
	if err != nil {
		return err
	}
	defer h.Release()

	return fn(h.Client())
}

// Close drops idle clients and makes further checkouts fail. Clients already
// checked out may still be released.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.idle = nil
}

func (p *Pool) put(client directory.Client) {
	p.mu.Lock()
	if !p.closed {
		p.idle = append(p.idle, client)
	}
	p.mu.Unlock()

	poolCheckedOut.Dec()
	p.sem.Release(1)
}
