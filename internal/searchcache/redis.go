// Package searchcache stores serialized search pages for the contacts
// service. Entries are addressed by keys that embed a generation number;
// bumping the generation on every committed mutation makes older pages
// unreachable without scanning for them.
package searchcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "emailfinder:search:"

// Redis is a cache shared by every server replica.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed cache whose entries expire after ttl.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, keyPrefix+"page:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("search cache get: %w", err)
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, val []byte) error {
	if err := r.client.Set(ctx, keyPrefix+"page:"+key, val, r.ttl).Err(); err != nil {
		return fmt.Errorf("search cache set: %w", err)
	}
	return nil
}

// Generation returns the current generation; a missing counter is 0.
func (r *Redis) Generation(ctx context.Context) (int64, error) {
	n, err := r.client.Get(ctx, keyPrefix+"gen").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("search cache generation: %w", err)
	}
	return n, nil
}

// Invalidate bumps the shared generation. Old pages expire on their TTL.
func (r *Redis) Invalidate(ctx context.Context) error {
	if err := r.client.Incr(ctx, keyPrefix+"gen").Err(); err != nil {
		return fmt.Errorf("search cache invalidate: %w", err)
	}
	return nil
}
