//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"insureflow/internal/task/models"
	"insureflow/internal/task/store"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
	"insureflow/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *store.PostgresStore
	now   time.Time
	today id.Date
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.pg.DB)
	s.now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	s.today = id.DateOf(s.now)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.pg.TruncateAll(context.Background()))
}

func (s *PostgresStoreSuite) create(f models.Fields, offset time.Duration) *models.Task {
	t, err := models.NewTask(f, s.now.Add(offset))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(context.Background(), t))
	return t
}

func (s *PostgresStoreSuite) user(name string) id.UserID {
	var uid int64
	s.Require().NoError(s.pg.DB.QueryRowContext(context.Background(),
		`INSERT INTO users (email, name, password_hash, created_at, updated_at) VALUES ($1, $2, 'x', now(), now()) RETURNING id`,
		name+"@insureflow.test", name).Scan(&uid))
	return id.UserID(uid)
}

func (s *PostgresStoreSuite) TestFiltersAndCounts() {
	ctx := context.Background()
	lastWeek := s.today.AddDays(-7)
	dana := s.user("dana")

	late := s.create(models.Fields{Title: "Close audit items", DueDate: &lastWeek}, 0)
	s.create(models.Fields{Title: "Renewal calls", Status: models.StatusInProgress, AssignedTo: &dana, AssigneeName: "Dana Reyes", Week: 2}, time.Minute)
	s.create(models.Fields{Title: "100% match review", Priority: models.PriorityHigh, Status: models.StatusCompleted, DueDate: &lastWeek}, 2*time.Minute)

	all, err := s.store.List(ctx, models.Filter{Today: s.today})
	s.Require().NoError(err)
	s.Require().Len(all, 3)
	s.Equal("100% match review", all[0].Title)
	s.NotNil(all[0].CompletedAt)

	overdue, err := s.store.List(ctx, models.Filter{Status: models.StatusOverdue, Today: s.today})
	s.Require().NoError(err)
	s.Require().Len(overdue, 1)
	s.Equal(late.ID, overdue[0].ID)

	pending, err := s.store.List(ctx, models.Filter{Status: models.StatusPending, Today: s.today})
	s.Require().NoError(err)
	s.Empty(pending, "an overdue task is not listed as pending")

	byName, err := s.store.List(ctx, models.Filter{Search: "reyes", Week: 2, Today: s.today})
	s.Require().NoError(err)
	s.Require().Len(byName, 1)
	s.Equal(dana, byName[0].AssignedTo)

	literal, err := s.store.List(ctx, models.Filter{Search: "100%", Today: s.today})
	s.Require().NoError(err)
	s.Len(literal, 1)

	c, err := s.store.Counts(ctx, s.today)
	s.Require().NoError(err)
	s.Equal(models.Counts{Total: 3, InProgress: 1, Completed: 1, Overdue: 1}, c)
}

func (s *PostgresStoreSuite) TestExecuteAndDelete() {
	ctx := context.Background()
	t := s.create(models.Fields{Title: "Draft memo"}, 0)

	updated, err := s.store.Execute(ctx, t.ID, func(t *models.Task) error {
		t.Complete(s.now)
		return nil
	})
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, updated.Status)

	ghost := id.UserID(987654)
	_, err = s.store.Execute(ctx, t.ID, func(t *models.Task) error {
		_, err := t.ApplyEdit(models.Fields{AssignedTo: &ghost, AssigneeName: "Ghost"}, s.now)
		return err
	})
	s.ErrorIs(err, store.ErrUnknownAssignee)

	s.Require().NoError(s.store.Delete(ctx, t.ID))
	s.ErrorIs(s.store.Delete(ctx, t.ID), sentinel.ErrNotFound)
	_, err = s.store.FindByID(ctx, t.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
