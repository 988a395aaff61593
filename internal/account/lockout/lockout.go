// Package lockout throttles repeated failed logins for one account.
//
// Failures are counted in a fixed window that starts at the first failure. Once the count
// reaches the limit, logins for that account are refused until the window expires or a
// successful login clears the counter.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 15 * time.Minute
)

var lockoutsTriggered = promauto.NewCounter(prometheus.CounterOpts{
	Name: "insureflow_login_lockouts_total",
	Help: "Accounts locked after too many failed logins",
})

// Counter stores per-key failure counts that expire with their window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// Guard applies the attempt limit to a Counter.
type Guard struct {
	counter     Counter
	maxAttempts int64
	window      time.Duration
}

// NewGuard builds a Guard. Non-positive limits fall back to the defaults.
func NewGuard(counter Counter, maxAttempts int, window time.Duration) *Guard {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{counter: counter, maxAttempts: int64(maxAttempts), window: window}
}

// Locked reports whether identifier has exhausted its attempts.
func (g *Guard) Locked(ctx context.Context, identifier string) (bool, error) {
	n, err := g.counter.Count(ctx, key(identifier))
	if err != nil {
		return false, err
	}
	return n >= g.maxAttempts, nil
}

// RecordFailure counts one failed login and reports whether it locked the account.
func (g *Guard) RecordFailure(ctx context.Context, identifier string) (bool, error) {
	n, err := g.counter.Incr(ctx, key(identifier), g.window)
	if err != nil {
		return false, err
	}
	if n == g.maxAttempts {
		lockoutsTriggered.Inc()
		return true, nil
	}
	return false, nil
}

// Clear forgets the failures of identifier.
func (g *Guard) Clear(ctx context.Context, identifier string) error {
	return g.counter.Reset(ctx, key(identifier))
}

func key(identifier string) string {
	return "login:" + identifier
}

// RedisCounter shares failure counts across instances.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := c.prefix + key
	n, err := c.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	if n == 1 {
		if err := c.client.Expire(ctx, k, window).Err(); err != nil {
			return 0, fmt.Errorf("redis expire: %w", err)
		}
	}
	return n, nil
}

func (c *RedisCounter) Count(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Get(ctx, c.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

func (c *RedisCounter) Reset(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter is a process-local Counter.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	e, ok := c.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = memoryEntry{expiresAt: now.Add(window)}
	}
	e.count++
	c.entries[key] = e
	return e.count, nil
}

func (c *MemoryCounter) Count(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, nil
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return 0, nil
	}
	return e.count, nil
}

func (c *MemoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}
