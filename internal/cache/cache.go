// Package cache stores provider responses by deterministic key with a TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one cached payload. An entry older than TTL is treated as absent.
type Entry struct {
	Key       string        `json:"key"`
	Payload   []byte        `json:"payload"`
	FetchedAt time.Time     `json:"fetched_at"`
	TTL       time.Duration `json:"ttl"`
}

// Fresh reports whether the entry is still within its TTL at now
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) <= e.TTL
}

// Store keeps at most one entry per key
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, e Entry) error
}

// Memory is a process-local Store
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]Entry),
		now:     time.Now,
	}
}

// Get returns the entry for key if present and fresh
func (m *Memory) Get(ctx context.Context, key string) (Entry, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || !e.Fresh(m.now()) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Set stores e, replacing any entry with the same key
func (m *Memory) Set(ctx context.Context, e Entry) error {
	m.mu.Lock()
	m.entries[e.Key] = e
	m.mu.Unlock()
	return nil
}

const redisPrefix = "cryptochat:cache:"

// Redis is a Store shared between processes. Redis expiry mirrors the TTL so
// stale keys disappear on their own.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get returns the entry for key if present and fresh
func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := r.client.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	if !e.Fresh(time.Now()) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Set stores e with a redis expiry equal to its TTL
func (r *Redis) Set(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", e.Key, err)
	}
	if err := r.client.Set(ctx, redisPrefix+e.Key, data, e.TTL).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", e.Key, err)
	}
	return nil
}
