package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks snapshot cache hits
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "directory_membership_cache_hits_total",
			Help: "Total number of membership snapshot cache hits",
		},
	)

	// CacheMisses tracks snapshot cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "directory_membership_cache_misses_total",
			Help: "Total number of membership snapshot cache misses",
		},
	)

	// CacheInvalidations tracks snapshots dropped after member changes
	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "directory_membership_cache_invalidations_total",
			Help: "Total number of membership snapshots invalidated",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "directory_membership_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
