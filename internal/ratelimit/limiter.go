package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key fits in the current budget
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, int, error)
	Limit() int
}

// RedisLimiter is a fixed-window counter shared by every process using the
// same redis
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRedisLimiter creates a limiter allowing limit requests per window
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Allow checks if a request is allowed for the given key
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	slot := time.Now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, slot)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, err
	}

	// Set expiry on first request
	if count == 1 {
		l.client.Expire(ctx, redisKey, l.window*2)
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return count <= int64(l.limit), remaining, nil
}

// Limit returns the configured budget per window
func (l *RedisLimiter) Limit() int { return l.limit }

// Local is an in-process token bucket per key, used when no redis is configured
type Local struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	every   rate.Limit
	burst   int
}

// NewLocal allows limit requests per window with a burst of limit
func NewLocal(limit int, window time.Duration) *Local {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Local{
		buckets: make(map[string]*rate.Limiter),
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
	}
}

// Allow checks if a request is allowed for the given key
func (l *Local) Allow(ctx context.Context, key string) (bool, int, error) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.every, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	allowed := b.Allow()
	remaining := int(b.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, nil
}

// Limit returns the bucket size
func (l *Local) Limit() int { return l.burst }
