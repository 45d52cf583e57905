package tokenstore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Backend            string
	Key                string
	Dir                string
	TTL                time.Duration
	RedisPrefix        string
	Redis              RedisConfig
	DatabaseURL        string
	DatabaseRequireTLS bool
}

// Open builds the configured backend. The returned close func releases any
// connection the backend holds and is never nil.
func Open(ctx context.Context, cfg Config) (Store, func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendMemory:
		return NewMemoryStore(), noop, nil
	case "", BackendFile:
		st, err := NewFileStore(cfg.Dir, cfg.Key)
		if err != nil {
			return nil, noop, err
		}
		return st, noop, nil
	case BackendRedis:
		client, err := NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, noop, fmt.Errorf("redis token store: %w", err)
		}
		prefix := cfg.RedisPrefix
		if prefix == "" {
			prefix = "publishwed:"
		}
		return NewRedisStore(client, prefix, cfg.Key, cfg.TTL), func() { _ = client.Close() }, nil
	case BackendPostgres:
		pool, err := NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DatabaseRequireTLS)
		if err != nil {
			return nil, noop, fmt.Errorf("postgres token store: %w", err)
		}
		st := NewPostgresStore(pool, cfg.Key, cfg.TTL)
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return st, pool.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown token backend %q", cfg.Backend)
	}
}
