package kvstore

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Backend kinds accepted by Open.
const (
	KindMemory = "memory"
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindRedis  = "redis"
)

// Store is the key/value contract shared by every backend.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Remove(key string) error
	Keys(prefix string) ([]string, error)
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
	_ Store = (*SQLStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// Options selects and configures a backend.
type Options struct {
	Kind    string
	DataDir string
	Redis   RedisOptions
	Timeout time.Duration
}

// Open creates the backend named by opts.Kind.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case KindMemory:
		return NewMemoryStore(), nil
	case KindFile, "":
		return NewFileStore(filepath.Join(opts.DataDir, "tiers"))
	case KindSQLite:
		return OpenSQLiteStore(filepath.Join(opts.DataDir, "tiers.db"), opts.Timeout)
	case KindRedis:
		redisOpts := opts.Redis
		if redisOpts.Timeout <= 0 {
			redisOpts.Timeout = opts.Timeout
		}
		return NewRedisStore(redisOpts)
	default:
		return nil, fmt.Errorf("unknown store kind %q", opts.Kind)
	}
}
