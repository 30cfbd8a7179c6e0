package cache

import (
	"time"

	"github.com/Sternrassler/directory-groups/pkg/directory"
)

// Entry is a cached snapshot of a group's members.
type Entry struct {
	// GroupKey identifies the group.
	GroupKey string `json:"group_key"`

	// Members is the listing as returned by the directory.
	Members []directory.Member `json:"members"`

	// FetchedAt is when the listing was read from the directory.
	FetchedAt time.Time `json:"fetched_at"`

	// Expires is when the snapshot becomes stale.
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
