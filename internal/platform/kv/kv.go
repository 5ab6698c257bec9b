// Package kv is the key-value lookup bundles, snapshots and secrets are read from.
package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound signals a missing key.
var ErrNotFound = errors.New("platform/kv: key not found")

// Store is a read-mostly key-value lookup.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// RedisStore reads keys from Redis.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore wraps client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the raw value of key or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, ErrNotFound
	}
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("platform/kv: get %s: %w", key, err)
	}
	return val, nil
}

// Set writes key without expiry. Publishing is normally done upstream; tooling and tests use this.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("platform/kv: set %s: %w", key, err)
	}
	return nil
}
