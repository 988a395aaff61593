//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"insureflow/internal/assignment/models"
	"insureflow/internal/assignment/store"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/sentinel"
	"insureflow/pkg/platform/tx"
	"insureflow/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	pg     *containers.PostgresContainer
	store  *store.PostgresStore
	runner *tx.SQLRunner

	clientID   id.ClientID
	policyID   id.PolicyID
	hospitalID id.HospitalID
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
	s.runner = tx.NewSQLRunner(s.pg.DB, 0)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.pg.TruncateAll(ctx))
	now := time.Now()

	var hid, cid, pid int64
	s.Require().NoError(s.pg.DB.QueryRowContext(ctx,
		`INSERT INTO hospitals (name, is_verified, created_at, updated_at) VALUES ('General', TRUE, $1, $1) RETURNING id`, now).Scan(&hid))
	s.Require().NoError(s.pg.DB.QueryRowContext(ctx,
		`INSERT INTO clients (first_name, last_name, email, national_id, created_at, updated_at)
		 VALUES ('Ada', 'Obi', 'ada@example.com', 'N-1', $1, $1) RETURNING id`, now).Scan(&cid))
	s.Require().NoError(s.pg.DB.QueryRowContext(ctx,
		`INSERT INTO policies (client_id, policy_number, policy_type, payment_mode, coverage_level, start_date, expiry_date, created_at, updated_at)
		 VALUES ($1, 'POL-TEST0001', 'health', 'annual', 'bronze', '2026-01-01', '2027-01-01', $2, $2) RETURNING id`, cid, now).Scan(&pid))
	s.hospitalID, s.clientID, s.policyID = id.HospitalID(hid), id.ClientID(cid), id.PolicyID(pid)
}

func (s *PostgresStoreSuite) newAssignment() *models.Assignment {
	a, err := models.NewAssignment(s.clientID, s.policyID, s.hospitalID, 0, time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(err)
	return a
}

func (s *PostgresStoreSuite) TestCreateOrGetRace() {
	ctx := context.Background()
	const workers = 12

	var wg sync.WaitGroup
	results := make(chan bool, workers)
	ids := make(chan id.AssignmentID, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
				a, created, err := s.store.CreateOrGet(ctx, s.newAssignment())
				if err != nil {
					return err
				}
				results <- created
				ids <- a.ID
				return nil
			})
			s.NoError(err)
		}()
	}
	wg.Wait()
	close(results)
	close(ids)

	created := 0
	for c := range results {
		if c {
			created++
		}
	}
	s.Equal(1, created)

	var first id.AssignmentID
	for got := range ids {
		if first.IsNil() {
			first = got
		}
		s.Equal(first, got)
	}
	n, err := s.store.Count(ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *PostgresStoreSuite) TestExecuteLinksClaim() {
	ctx := context.Background()
	a, _, err := s.store.CreateOrGet(ctx, s.newAssignment())
	s.Require().NoError(err)

	_, err = s.store.Execute(ctx, a.ID, func(a *models.Assignment) error { return a.Accept(time.Now()) })
	s.Require().NoError(err)

	var claimID int64
	s.Require().NoError(s.pg.DB.QueryRowContext(ctx, `
		INSERT INTO claims (claim_number, client_id, policy_id, hospital_id, amount_cents, created_at, updated_at)
		VALUES ('CLM-TEST', $1, $2, $3, 100, now(), now()) RETURNING id
	`, int64(s.clientID), int64(s.policyID), int64(s.hospitalID)).Scan(&claimID))

	_, err = s.store.Execute(ctx, a.ID, func(a *models.Assignment) error {
		return a.MarkClaimed(id.ClaimID(claimID), time.Now())
	})
	s.Require().NoError(err)

	got, err := s.store.FindByID(ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusClaimed, got.Status)
	s.EqualValues(claimID, got.ClaimID)

	list, err := s.store.List(ctx, store.ListFilter{HospitalID: s.hospitalID, Status: models.StatusClaimed})
	s.Require().NoError(err)
	s.Len(list, 1)

	_, err = s.store.FindByID(ctx, 9999)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
