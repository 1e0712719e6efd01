package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces the entries when no prefix is configured.
const DefaultKeyPrefix = "portal:tokens"

// RedisStore keeps the three entries as plain Redis strings. Set runs inside
// MULTI/EXEC and Get is a single MGET, so readers in any process see either
// the old triple or the new one.
type RedisStore struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
	log    *slog.Logger
	owned  bool
}

// NewRedisStore wraps an existing client. ttl of zero keeps entries until cleared.
func NewRedisStore(rdb redis.Cmdable, prefix string, ttl time.Duration, log *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		log:    log.With(slog.String("component", "token_store"), slog.String("backend", "redis")),
	}
}

// NewRedisStoreFromAddr dials a single Redis node.
func NewRedisStoreFromAddr(addr, password string, db int, prefix string, ttl time.Duration, log *slog.Logger) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	s := NewRedisStore(rdb, prefix, ttl, log)
	s.owned = true
	return s
}

// Close releases the client if this store dialed it. Stores derived with
// WithPrefix never close the shared client.
func (r *RedisStore) Close() error {
	if !r.owned {
		return nil
	}
	if c, ok := r.rdb.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// WithPrefix returns a store sharing the same client under another namespace.
func (r *RedisStore) WithPrefix(prefix string) *RedisStore {
	return &RedisStore{
		rdb:    r.rdb,
		prefix: prefix,
		ttl:    r.ttl,
		log:    r.log,
	}
}

// Prefix returns the key namespace.
func (r *RedisStore) Prefix() string {
	return r.prefix
}

func (r *RedisStore) key(name string) string {
	return r.prefix + ":" + name
}

func (r *RedisStore) keys() []string {
	out := make([]string, len(Keys))
	for i, name := range Keys {
		out[i] = r.key(name)
	}
	return out
}

func (r *RedisStore) Get(ctx context.Context) (State, error) {
	values, err := r.rdb.MGet(ctx, r.keys()...).Result()
	if err != nil {
		return State{}, fmt.Errorf("failed to read tokens from redis: %w", err)
	}

	entries := make(map[string]string, len(Keys))
	for i, name := range Keys {
		if i >= len(values) || values[i] == nil {
			continue
		}
		if s, ok := values[i].(string); ok {
			entries[name] = s
		}
	}
	return decodeEntries(entries, r.log), nil
}

func (r *RedisStore) Set(ctx context.Context, state State) error {
	if err := state.Validate(); err != nil {
		return err
	}

	entries := encodeEntries(state)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, name := range Keys {
			value := entries[name]
			if value == "" {
				pipe.Del(ctx, r.key(name))
				continue
			}
			pipe.Set(ctx, r.key(name), value, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write tokens to redis: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.keys()...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to clear tokens in redis: %w", err)
	}
	return nil
}
