package ratelimit

import "time"

// Redis key layout for distributed gate state.
const (
	// RedisKeyPrefix prefixes every gate key. The full key is
	// "directory:gate:<service>:leases".
	RedisKeyPrefix = "directory:gate:"

	// DefaultLeaseTTL bounds how long a slot stays held by a process that
	// died without releasing it.
	DefaultLeaseTTL = 10 * time.Minute

	// DefaultPollInterval is how often a blocked Acquire re-checks Redis.
	DefaultPollInterval = 100 * time.Millisecond
)

// leasesKey returns the sorted-set key holding the leases for service.
func leasesKey(service string) string {
	return RedisKeyPrefix + service + ":leases"
}

// GateState is a point-in-time view of a distributed gate.
type GateState struct {
	// Service is the gate's service name.
	Service string `json:"service"`

	// InFlight is the number of unexpired leases.
	InFlight int `json:"in_flight"`

	// Limit is the configured number of concurrent leases.
	Limit int `json:"limit"`

	// CheckedAt is when the state was read.
	CheckedAt time.Time `json:"checked_at"`
}

// Available returns the number of free slots, never negative.
func (s *GateState) Available() int {
	if s.InFlight >= s.Limit {
		return 0
	}
	return s.Limit - s.InFlight
}

// IsSaturated returns true if no further operation would be admitted.
func (s *GateState) IsSaturated() bool {
	return s.Available() == 0
}

// IsStale returns true if the state is older than maxAge.
func (s *GateState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.CheckedAt) > maxAge
}
