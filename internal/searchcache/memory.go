package searchcache

import (
	"context"
	"sync/atomic"
	"time"
)

// Memory is a process-local cache for a single server instance.
type Memory struct {
	lru *LRU[string, []byte]
	gen atomic.Int64
}

// NewMemory creates a memory cache of capacity pages kept for ttl.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	return &Memory{lru: NewLRU[string, []byte](capacity, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.lru.Get(key)
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte) error {
	m.lru.Put(key, val)
	return nil
}

func (m *Memory) Generation(context.Context) (int64, error) {
	return m.gen.Load(), nil
}

// Invalidate advances the generation and drops the now unreachable pages.
func (m *Memory) Invalidate(context.Context) error {
	m.gen.Add(1)
	m.lru.Purge()
	return nil
}
