// Package cache stores membership snapshots in Redis so repeated reads of
// the same group do not spend directory quota.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, time.Minute)
//
//	entry, err := manager.Get(ctx, "staff@example.com")
//	if err == cache.ErrCacheMiss {
//		// Cache miss - list from the directory, then
//		err = manager.Set(ctx, "staff@example.com", members)
//	}
//
// Any member change to a group must be followed by Invalidate so the next
// read lists the group again.
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - directory_membership_cache_hits_total - Cache hits
//   - directory_membership_cache_misses_total - Cache misses
//   - directory_membership_cache_invalidations_total - Snapshots dropped
//   - directory_membership_cache_errors_total{operation} - Cache operation errors
package cache
