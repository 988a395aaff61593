//go:build integration

package revocation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"insureflow/internal/account/revocation"
	"insureflow/pkg/testutil/containers"
)

type RedisListSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	list  *revocation.RedisList
}

func TestRedisListSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisListSuite))
}

func (s *RedisListSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.list = revocation.NewRedisList(s.redis.Client, "revoked-test:")
}

func (s *RedisListSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisListSuite) TestCutoffRoundTripsWithExpiry() {
	ctx := context.Background()
	at := time.Date(2026, 5, 4, 10, 0, 0, 123456789, time.UTC)

	_, ok, err := s.list.RevokedAt(ctx, 7)
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.list.RevokeUser(ctx, 7, at, time.Hour))
	got, ok, err := s.list.RevokedAt(ctx, 7)
	s.Require().NoError(err)
	s.True(ok)
	s.True(at.Equal(got))

	ttl, err := s.redis.Client.TTL(ctx, "revoked-test:7").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}
