package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"insureflow/pkg/platform/sentinel"
)

var takeDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "insureflow_ephemeral_take_duration_ms",
	Help:    "Latency of single-use value redemption in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

// takeIfEqual deletes KEYS[1] only while it holds ARGV[1].
var takeIfEqual = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore is a Redis-backed Store shared by every instance.
// Put uses SET NX with expiry; Take uses GETDEL so a value is redeemed once cluster-wide.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore constructs a RedisStore. prefix namespaces keys, e.g. "otp:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.prefix+key, value, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() {
		takeDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	v, err := s.client.GetDel(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis getdel: %w", err)
	}
	return v, nil
}

func (s *RedisStore) Peek(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

func (s *RedisStore) TakeIfEqual(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	defer func() {
		takeDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	n, err := takeIfEqual.Run(ctx, s.client, []string{s.prefix + key}, value).Int64()
	if err != nil {
		return fmt.Errorf("redis compare-and-delete: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
