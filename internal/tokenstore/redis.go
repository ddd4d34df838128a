package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces credential keys in a shared Redis instance.
const DefaultRedisPrefix = "ticketctl:session:"

// RedisStore keeps credentials in Redis so several devices can share one session.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// Compile-time check to ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore on top of an existing client.
// An empty prefix falls back to DefaultRedisPrefix.
func NewRedisStore(client redis.Cmdable, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("missing redis client")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &RedisStore{
		client: client,
		prefix: prefix,
	}, nil
}

// Get returns the credential stored in Redis. Returns ErrNotFound if the key is missing or empty.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	if value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// Set stores the credential without expiry; the backend decides token lifetime.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Remove deletes the credential from Redis.
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}
