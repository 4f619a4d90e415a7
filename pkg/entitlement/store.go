package entitlement

import "strings"

// KVStore persists opaque blobs by key. Implementations live in
// internal/kvstore (memory, file, SQLite and Redis backends).
//
// Get reports ok=false with a nil error when the key is absent. Calls are
// expected to return or fail within the backend's own timeout.
type KVStore interface {
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Remove(key string) error
	Keys(prefix string) ([]string, error)
}

// Key prefixes. Each user scope owns one record, one override and any
// number of migration backups.
const (
	recordKeyPrefix   = "tier:"
	overrideKeyPrefix = "tier_override:"
	BackupKeyPrefix   = "tier_backup:"
)

// DefaultScope is used when no user scope is configured.
const DefaultScope = "default"

func normalizeScope(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return DefaultScope
	}
	return scope
}

// RecordKey returns the storage key of the persisted tier record for scope.
func RecordKey(scope string) string {
	return recordKeyPrefix + normalizeScope(scope)
}

// OverrideKey returns the storage key of the admin override for scope.
func OverrideKey(scope string) string {
	return overrideKeyPrefix + normalizeScope(scope)
}
