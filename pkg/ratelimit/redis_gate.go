package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// acquireScript drops expired leases and adds a new one if the set is below
// the limit. Returns 1 when admitted, 0 otherwise.
//
// KEYS[1] leases key, ARGV[1] now (ms), ARGV[2] lease expiry (ms),
// ARGV[3] limit, ARGV[4] lease token
var acquireScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if redis.call("ZCARD", KEYS[1]) < tonumber(ARGV[3]) then
	redis.call("ZADD", KEYS[1], ARGV[2], ARGV[4])
	redis.call("PEXPIREAT", KEYS[1], ARGV[2])
	return 1
end
return 0
`)

// renewScript pushes the expiry of a held lease forward. Returns 0 when the
// lease is gone, e.g. reclaimed after it expired.
//
// KEYS[1] leases key, ARGV[1] lease expiry (ms), ARGV[2] lease token
var renewScript = redis.NewScript(`
if not redis.call("ZSCORE", KEYS[1], ARGV[2]) then
	return 0
end
redis.call("ZADD", KEYS[1], "XX", ARGV[1], ARGV[2])
redis.call("PEXPIREAT", KEYS[1], ARGV[1])
return 1
`)

// RedisGate is a gate shared by every process using the same Redis instance.
// Each admitted operation holds a lease in a per-service sorted set. A held
// lease is renewed every third of LeaseTTL; a crashed process stops renewing
// and its leases expire.
type RedisGate struct {
	redis        *redis.Client
	logger       zerolog.Logger
	limits       map[string]int
	defaultLimit int
	leaseTTL     time.Duration
	pollInterval time.Duration

	mu   sync.Mutex
	held map[string][]*RedisLease
}

// RedisGateConfig holds RedisGate configuration.
type RedisGateConfig struct {
	DefaultLimit int
	Limits       map[string]int
	LeaseTTL     time.Duration
	PollInterval time.Duration
}

// NewRedisGate creates a new distributed gate.
func NewRedisGate(redisClient *redis.Client, cfg RedisGateConfig, logger zerolog.Logger) *RedisGate {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &RedisGate{
		redis:        redisClient,
		logger:       logger,
		limits:       cfg.Limits,
		defaultLimit: cfg.DefaultLimit,
		leaseTTL:     cfg.LeaseTTL,
		pollInterval: cfg.PollInterval,
		held:         make(map[string][]*RedisLease),
	}
}

// Limit returns the number of concurrent leases admitted for service.
func (g *RedisGate) Limit(service string) int {
	if n, ok := g.limits[service]; ok && n > 0 {
		return n
	}
	return g.defaultLimit
}

// AcquireLease implements LeaseGate. It polls Redis until a lease is granted
// or ctx is done. The lease is kept alive until it is released.
func (g *RedisGate) AcquireLease(ctx context.Context, service string) (Lease, error) {
	lease, err := g.acquire(ctx, service)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

func (g *RedisGate) acquire(ctx context.Context, service string) (*RedisLease, error) {
	start := time.Now()
	token := uuid.NewString()
	key := leasesKey(service)
	limit := g.Limit(service)

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	waiting := false
	for {
		now := time.Now()
		admitted, err := acquireScript.Run(ctx, g.redis, []string{key},
			now.UnixMilli(), now.Add(g.leaseTTL).UnixMilli(), limit, token).Int()
		if err != nil {
			return nil, fmt.Errorf("acquire lease: %w", err)
		}

		if admitted == 1 {
			gateWaitSeconds.WithLabelValues(service, "redis").Observe(time.Since(start).Seconds())
			gateInFlight.WithLabelValues(service).Inc()

			g.logger.Debug().
				Str("service", service).
				Dur("waited", time.Since(start)).
				Msg("Gate lease acquired")

			lease := &RedisLease{
				gate:    g,
				service: service,
				token:   token,
				stop:    make(chan struct{}),
				done:    make(chan struct{}),
			}
			go lease.keepAlive()
			return lease, nil
		}

		if !waiting {
			waiting = true
			g.logger.Debug().
				Str("service", service).
				Int("limit", limit).
				Msg("Gate saturated - waiting for a lease")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Acquire implements Gate. Leases taken this way are interchangeable: Release
// returns the most recent one held for the service.
func (g *RedisGate) Acquire(ctx context.Context, service string) error {
	lease, err := g.acquire(ctx, service)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.held[service] = append(g.held[service], lease)
	g.mu.Unlock()
	return nil
}

// Release implements Gate.
func (g *RedisGate) Release(service string) {
	g.mu.Lock()
	leases := g.held[service]
	if len(leases) == 0 {
		g.mu.Unlock()
		g.logger.Warn().Str("service", service).Msg("Gate released without a held lease")
		return
	}
	lease := leases[len(leases)-1]
	g.held[service] = leases[:len(leases)-1]
	g.mu.Unlock()

	lease.Release()
}

// RedisLease is one admitted slot of a RedisGate.
type RedisLease struct {
	gate    *RedisGate
	service string
	token   string

	once sync.Once
	stop chan struct{}
	done chan struct{}
}

// Token returns the lease's member in the service's sorted set.
func (l *RedisLease) Token() string {
	return l.token
}

func (l *RedisLease) keepAlive() {
	defer close(l.done)

	ticker := time.NewTicker(l.gate.leaseTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.gate.leaseTTL)
		expiry := time.Now().Add(l.gate.leaseTTL).UnixMilli()
		renewed, err := renewScript.Run(ctx, l.gate.redis, []string{leasesKey(l.service)}, expiry, l.token).Int()
		cancel()

		switch {
		case err != nil:
			l.gate.logger.Warn().Err(err).Str("service", l.service).Msg("Failed to renew gate lease")
		case renewed == 0:
			l.gate.logger.Warn().Str("service", l.service).Msg("Gate lease lost before release")
			return
		}
	}
}

// Release stops renewing the lease and removes it from Redis. Release errors
// are logged; the lease then expires on its own. Calling Release more than
// once has no further effect.
func (l *RedisLease) Release() {
	l.once.Do(func() {
		close(l.stop)
		<-l.done

		gateInFlight.WithLabelValues(l.service).Dec()

		// The caller's context may already be cancelled; release must still run.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := l.gate.redis.ZRem(ctx, leasesKey(l.service), l.token).Err(); err != nil {
			l.gate.logger.Error().Err(err).Str("service", l.service).Msg("Failed to release gate lease")
		}
	})
}

// GetState returns the current lease count for service.
func (g *RedisGate) GetState(ctx context.Context, service string) (*GateState, error) {
	now := time.Now()
	inFlight, err := g.redis.ZCount(ctx, leasesKey(service), fmt.Sprintf("(%d", now.UnixMilli()), "+inf").Result()
	if err != nil {
		return nil, fmt.Errorf("count leases: %w", err)
	}

	return &GateState{
		Service:   service,
		InFlight:  int(inFlight),
		Limit:     g.Limit(service),
		CheckedAt: now,
	}, nil
}
