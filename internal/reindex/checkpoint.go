package reindex

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Checkpoint persists the last email successfully indexed so an
// interrupted run resumes where it stopped.
type Checkpoint interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, lastEmail string) error
	Clear(ctx context.Context) error
}

// RedisCheckpoint stores the position under one Redis key. It has no TTL:
// a stale checkpoint is cleared by the next completed run.
type RedisCheckpoint struct {
	client *redis.Client
	key    string
}

// NewRedisCheckpoint creates a checkpoint stored at key.
func NewRedisCheckpoint(client *redis.Client, key string) *RedisCheckpoint {
	return &RedisCheckpoint{client: client, key: key}
}

func (c *RedisCheckpoint) Load(ctx context.Context) (string, error) {
	v, err := c.client.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load reindex checkpoint: %w", err)
	}
	return v, nil
}

func (c *RedisCheckpoint) Save(ctx context.Context, lastEmail string) error {
	if err := c.client.Set(ctx, c.key, lastEmail, 0).Err(); err != nil {
		return fmt.Errorf("save reindex checkpoint: %w", err)
	}
	return nil
}

func (c *RedisCheckpoint) Clear(ctx context.Context) error {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("clear reindex checkpoint: %w", err)
	}
	return nil
}

// MemoryCheckpoint keeps the position in process, for deployments without
// Redis.
type MemoryCheckpoint struct {
	mu   sync.Mutex
	last string
}

func (c *MemoryCheckpoint) Load(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, nil
}

func (c *MemoryCheckpoint) Save(_ context.Context, lastEmail string) error {
	c.mu.Lock()
	c.last = lastEmail
	c.mu.Unlock()
	return nil
}

func (c *MemoryCheckpoint) Clear(context.Context) error {
	return c.Save(context.Background(), "")
}
