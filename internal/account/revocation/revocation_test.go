package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insureflow/pkg/requestcontext"
)

func TestRevoked(t *testing.T) {
	cutoff := time.Date(2026, 5, 4, 10, 0, 0, 700_000_000, time.UTC)

	assert.True(t, Revoked(cutoff.Truncate(time.Second), cutoff), "issued within the cutoff second")
	assert.True(t, Revoked(cutoff.Add(-time.Hour), cutoff))
	assert.False(t, Revoked(cutoff.Truncate(time.Second).Add(time.Second), cutoff))
}

func TestMemoryList(t *testing.T) {
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), start)
	list := NewMemoryList()

	_, ok, err := list.RevokedAt(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, list.RevokeUser(ctx, 1, start, time.Hour))
	got, ok, err := list.RevokedAt(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, start.Equal(got))

	later := start.Add(10 * time.Minute)
	require.NoError(t, list.RevokeUser(ctx, 1, later, time.Hour))
	got, _, _ = list.RevokedAt(ctx, 1)
	assert.True(t, later.Equal(got), "a later cutoff replaces the earlier one")

	expired := requestcontext.WithTime(context.Background(), start.Add(2*time.Hour))
	_, ok, err = list.RevokedAt(expired, 1)
	require.NoError(t, err)
	assert.False(t, ok, "entries lapse with the token lifetime")
}
