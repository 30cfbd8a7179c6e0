// Package ratelimit implements admission gates that bound the number of
// in-flight operations against the directory service. Gates are keyed by a
// logical service name and must be acquired and released in pairs; Within
// scopes the pair around a function so a failing caller never leaks a slot.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
)

// Prometheus metrics for gate admission.
var (
	gateWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "directory_gate_wait_seconds",
		Help:    "Time spent waiting for gate admission by service and backend",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	}, []string{"service", "backend"})

	gateInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "directory_gate_in_flight",
		Help: "Operations currently admitted by the gate by service",
	}, []string{"service"})
)

// DefaultLimit is the number of concurrent operations admitted per service
// when no explicit limit is configured.
const DefaultLimit = 10

// Gate limits concurrent in-flight operations per named service.
type Gate interface {
	// Acquire blocks until the caller is admitted or ctx is done.
	Acquire(ctx context.Context, service string) error

	// Release returns a slot obtained by a successful Acquire.
	Release(service string)
}

// Lease is one slot held in a gate.
type Lease interface {
	Release()
}

// LeaseGate is a Gate whose slots are owned by the caller that acquired them.
type LeaseGate interface {
	Gate

	// AcquireLease blocks until the caller is admitted or ctx is done.
	AcquireLease(ctx context.Context, service string) (Lease, error)
}

// Within acquires the gate for service, runs fn and releases the gate on every
// exit path, including a panic inside fn. A LeaseGate releases exactly the
// lease this call acquired.
func Within(ctx context.Context, gate Gate, service string, fn func() error) error {
	if lg, ok := gate.(LeaseGate); ok {
		lease, err := lg.AcquireLease(ctx, service)
		if err != nil {
			return fmt.Errorf("acquire gate %s: %w", service, err)
		}
		defer lease.Release()

		return fn()
	}

	if err := gate.Acquire(ctx, service); err != nil {
		return fmt.Errorf("acquire gate %s: %w", service, err)
	}
	defer gate.Release(service)

	return fn()
}

// NopGate admits everything immediately.
type NopGate struct{}

// Acquire implements Gate.
func (NopGate) Acquire(context.Context, string) error { return nil }

// Release implements Gate.
func (NopGate) Release(string) {}

// LocalGate is an in-process gate backed by one weighted semaphore per
// service.
type LocalGate struct {
	defaultLimit int
	limits       map[string]int

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewLocalGate creates a gate admitting limits[service] concurrent operations
// per service, or defaultLimit for services without an entry.
func NewLocalGate(defaultLimit int, limits map[string]int) *LocalGate {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &LocalGate{
		defaultLimit: defaultLimit,
		limits:       limits,
		sems:         make(map[string]*semaphore.Weighted),
	}
}

// Limit returns the number of concurrent operations admitted for service.
func (g *LocalGate) Limit(service string) int {
	if n, ok := g.limits[service]; ok && n > 0 {
		return n
	}
	return g.defaultLimit
}

func (g *LocalGate) semaphore(service string) *semaphore.Weighted {
	g.mu.Lock()
	defer g.mu.Unlock()

	sem, ok := g.sems[service]
	if !ok {
		sem = semaphore.NewWeighted(int64(g.Limit(service)))
		g.sems[service] = sem
	}
	return sem
}

// Acquire implements Gate.
func (g *LocalGate) Acquire(ctx context.Context, service string) error {
	start := time.Now()
	if err := g.semaphore(service).Acquire(ctx, 1); err != nil {
		return err
	}

	gateWaitSeconds.WithLabelValues(service, "local").Observe(time.Since(start).Seconds())
	gateInFlight.WithLabelValues(service).Inc()
	return nil
}

// Release implements Gate.
func (g *LocalGate) Release(service string) {
	gateInFlight.WithLabelValues(service).Dec()
	g.semaphore(service).Release(1)
}
