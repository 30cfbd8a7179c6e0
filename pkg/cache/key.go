package cache

import "strings"

// KeyPrefix prefixes every membership snapshot key.
const KeyPrefix = "directory:members:"

// Key returns the Redis key of a group's snapshot. Group keys are
// lower-cased because the directory treats group emails case-insensitively.
//
// Example:
//
//	directory:members:staff@example.com
func Key(groupKey string) string {
	return KeyPrefix + strings.ToLower(strings.TrimSpace(groupKey))
}
