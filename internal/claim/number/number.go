// Package number generates claim numbers of the form CLM-<YYYYmmddHHMMSS>-<NNNN>.
// The sequence restarts every second; uniqueness is ultimately enforced by the store.
package number

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	prefix      = "CLM-"
	stampLayout = "20060102150405"
	sequenceMod = 10000
	// keyTTL outlives the second a sequence key belongs to.
	keyTTL = 5 * time.Second
)

// Sequencer returns the next value of the counter named key, starting at 1.
type Sequencer interface {
	Next(ctx context.Context, key string) (int64, error)
}

type Generator struct {
	seq Sequencer
}

func NewGenerator(seq Sequencer) *Generator {
	return &Generator{seq: seq}
}

// Next returns a claim number for now.
func (g *Generator) Next(ctx context.Context, now time.Time) (string, error) {
	stamp := now.UTC().Format(stampLayout)
	n, err := g.seq.Next(ctx, stamp)
	if err != nil {
		return "", fmt.Errorf("claim sequence: %w", err)
	}
	return fmt.Sprintf("%s%s-%04d", prefix, stamp, n%sequenceMod), nil
}

// RedisSequencer shares the per-second counter across instances with INCR.
type RedisSequencer struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedisSequencer(client redis.UniversalClient, keyPrefix string) *RedisSequencer {
	return &RedisSequencer{client: client, keyPrefix: keyPrefix}
}

func (s *RedisSequencer) Next(ctx context.Context, key string) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, s.keyPrefix+key)
		pipe.Expire(ctx, s.keyPrefix+key, keyTTL)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// MemorySequencer keeps the counter in process. Only the current key is retained.
type MemorySequencer struct {
	mu    sync.Mutex
	key   string
	value int64
}

func NewMemorySequencer() *MemorySequencer {
	return &MemorySequencer{}
}

func (s *MemorySequencer) Next(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key != s.key {
		s.key = key
		s.value = 0
	}
	s.value++
	return s.value, nil
}
