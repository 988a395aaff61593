//go:build integration

package lockout_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"insureflow/internal/account/lockout"
	"insureflow/pkg/testutil/containers"
)

type RedisCounterSuite struct {
	suite.Suite
	redis   *containers.RedisContainer
	counter *lockout.RedisCounter
}

func TestRedisCounterSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCounterSuite))
}

func (s *RedisCounterSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.counter = lockout.NewRedisCounter(s.redis.Client, "lockout-test:")
}

func (s *RedisCounterSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCounterSuite) TestConcurrentFailuresAreAllCounted() {
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.counter.Incr(ctx, "login:a@example.com", time.Minute)
			s.NoError(err)
		}()
	}
	wg.Wait()

	n, err := s.counter.Count(ctx, "login:a@example.com")
	s.Require().NoError(err)
	s.Equal(int64(20), n)

	ttl, err := s.redis.Client.TTL(ctx, "lockout-test:login:a@example.com").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0), "window expiry is set")
}

func (s *RedisCounterSuite) TestGuardOverRedis() {
	ctx := context.Background()
	g := lockout.NewGuard(s.counter, 2, time.Minute)

	locked, err := g.RecordFailure(ctx, "b@example.com")
	s.Require().NoError(err)
	s.False(locked)
	locked, err = g.RecordFailure(ctx, "b@example.com")
	s.Require().NoError(err)
	s.True(locked)

	s.Require().NoError(g.Clear(ctx, "b@example.com"))
	locked, err = g.Locked(ctx, "b@example.com")
	s.Require().NoError(err)
	s.False(locked)
}
