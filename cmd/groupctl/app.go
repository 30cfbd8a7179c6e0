package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/directory-groups/pkg/cache"
	"github.com/Sternrassler/directory-groups/pkg/config"
	"github.com/Sternrassler/directory-groups/pkg/directory"
	"github.com/Sternrassler/directory-groups/pkg/logging"
	"github.com/Sternrassler/directory-groups/pkg/membership"
	"github.com/Sternrassler/directory-groups/pkg/pool"
	"github.com/Sternrassler/directory-groups/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
)

// app holds the components built from the configuration.
type app struct {
	manager *membership.Manager
	clients *pool.Pool
	redis   *redis.Client
}

// newApp wires gate, pool, cache and manager.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.NewLogger("groupctl")
	a := &app{}

	if cfg.Gate.Backend == config.GateRedis || cfg.Cache.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	}

	var gate ratelimit.Gate
	switch cfg.Gate.Backend {
	case config.GateRedis:
		gate = ratelimit.NewRedisGate(a.redis, ratelimit.RedisGateConfig{
			DefaultLimit: cfg.Gate.Limit,
			Limits:       cfg.GateLimits(),
			LeaseTTL:     cfg.Gate.LeaseTTL,
		}, logging.NewLogger("ratelimit"))
	case config.GateNone:
		gate = ratelimit.NopGate{}
	default:
		gate = ratelimit.NewLocalGate(cfg.Gate.Limit, cfg.GateLimits())
	}

	clientCfg := cfg.ClientConfig()
	clients, err := pool.New(cfg.PoolSize, func() (directory.Client, error) {
		c, err := directory.New(clientCfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("directory client pool: %w", err)
	}
	a.clients = clients

	mcfg := membership.DefaultConfig()
	mcfg.BatchSize = cfg.BatchSize
	mcfg.ServiceName = cfg.Gate.Service
	if cfg.Cache.Enabled {
		mcfg.Cache = cache.NewManager(a.redis, cfg.Cache.TTL)
	}

	a.manager, err = membership.NewManager(gate, clients, mcfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	logger.Debug().
		Str("gate", cfg.Gate.Backend).
		Int("gate_limit", cfg.Gate.Limit).
		Int("pool_size", cfg.PoolSize).
		Int("batch_size", cfg.BatchSize).
		Bool("cache", cfg.Cache.Enabled).
		Msg("Components ready")

	return a, nil
}

// Close releases the pool and the Redis connection.
func (a *app) Close() {
	if a.clients != nil {
		a.clients.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
