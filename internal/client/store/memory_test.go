package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insureflow/internal/client/models"
	"insureflow/pkg/platform/sentinel"
)

func TestInMemoryStoreFilters(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	mine, _ := models.NewClient(models.Details{FirstName: "A", LastName: "B", Email: "a@b.test", NationalID: "1"}, 7, time.Now())
	theirs, _ := models.NewClient(models.Details{FirstName: "C", LastName: "D", Email: "c@d.test", NationalID: "2"}, 8, time.Now())
	require.NoError(t, s.Create(ctx, mine))
	require.NoError(t, s.Create(ctx, theirs))

	list, err := s.List(ctx, ListFilter{AgentID: 7})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)

	all, _ := s.List(ctx, ListFilter{})
	assert.Len(t, all, 2)

	n, _ := s.Count(ctx)
	assert.Equal(t, 2, n)
}

func TestInMemoryStoreIsolatesTemplates(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	c, _ := models.NewClient(models.Details{FirstName: "A", LastName: "B", Email: "a@b.test", NationalID: "1"}, 7, time.Now())
	c.Enroll([]byte("sealed-bytes"), time.Now())
	require.NoError(t, s.Create(ctx, c))

	got, err := s.FindByID(ctx, c.ID)
	require.NoError(t, err)
	got.SealedTemplate[0] = 'X'

	again, _ := s.FindByID(ctx, c.ID)
	assert.Equal(t, "sealed-bytes", string(again.SealedTemplate))

	_, err = s.FindByID(ctx, 999)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryExecute(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	c, _ := models.NewClient(models.Details{FirstName: "A", LastName: "B", Email: "a@b.test", NationalID: "1"}, 7, time.Now())
	require.NoError(t, s.Create(ctx, c))

	_, err := s.Execute(ctx, c.ID,
		func(*models.Client) error { return sentinel.ErrInvalidState },
		func(c *models.Client) { c.Active = false },
	)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)

	updated, err := s.Execute(ctx, c.ID,
		func(*models.Client) error { return nil },
		func(c *models.Client) { c.Deactivate(time.Now()) },
	)
	require.NoError(t, err)
	assert.False(t, updated.Active)
}
