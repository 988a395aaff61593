//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insureflow/internal/platform/config"
	"insureflow/pkg/testutil/containers"
)

func TestNewAgainstContainer(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)

	client, err := New(context.Background(), config.RedisConfig{
		URL:         rc.Addr,
		PoolSize:    4,
		DialTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	assert.NoError(t, client.Health(context.Background()))
}

func TestNewDisabled(t *testing.T) {
	client, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)
}
