package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insureflow/internal/access"
	claimmodels "insureflow/internal/claim/models"
	claimstore "insureflow/internal/claim/store"
	clientmodels "insureflow/internal/client/models"
	clientstore "insureflow/internal/client/store"
	hospitalmodels "insureflow/internal/hospital/models"
	hospitalstore "insureflow/internal/hospital/store"
	policymodels "insureflow/internal/policy/models"
	policystore "insureflow/internal/policy/store"
	"insureflow/internal/report/models"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/requestcontext"
	"insureflow/pkg/testutil"
)

type agentBook map[id.UserID][]id.ClientID

func (b agentBook) ClientIDsForAgent(_ context.Context, agentID id.UserID) ([]id.ClientID, error) {
	return b[agentID], nil
}

type failingHospitals struct{}

func (failingHospitals) Count(context.Context) (int, error) { return 0, errors.New("connection reset") }

type fixture struct {
	ctx       context.Context
	clients   *clientstore.InMemoryStore
	policies  *policystore.InMemoryStore
	hospitals *hospitalstore.InMemoryStore
	claims    *claimstore.InMemoryStore
	svc       *Service
}

var (
	admin   = access.Actor{UserID: 1, Role: access.RoleAdmin}
	analyst = access.Actor{UserID: 2, Role: access.RoleReportOfficer}
	agent   = access.Actor{UserID: 3, Role: access.RoleAgent}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		ctx:       requestcontext.WithTime(context.Background(), time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)),
		clients:   clientstore.NewInMemoryStore(),
		policies:  policystore.NewInMemoryStore(),
		hospitals: hospitalstore.NewInMemoryStore(),
		claims:    claimstore.NewInMemoryStore(),
	}
	f.svc = New(f.clients, f.policies, f.hospitals, f.claims, agentBook{agent.UserID: {1}}, access.NewGate(logger), WithLogger(logger))
	return f
}

func (f *fixture) client(t *testing.T, email string, agentID id.UserID) id.ClientID {
	t.Helper()
	c, err := clientmodels.NewClient(clientmodels.Details{
		FirstName: "Ana", LastName: "Lima", Email: email, NationalID: email,
	}, agentID, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.clients.Create(f.ctx, c))
	return c.ID
}

func (f *fixture) policy(t *testing.T, clientID id.ClientID, number string, start, expiry id.Date, premium id.Amount) {
	t.Helper()
	p, err := policymodels.NewPolicy(clientID, number, policymodels.Terms{
		Type: policymodels.TypeHealth, StartDate: start, ExpiryDate: expiry, Premium: premium,
	}, 0, time.Now())
	require.NoError(t, err)
	require.NoError(t, f.policies.Create(f.ctx, p))
}

func (f *fixture) claim(t *testing.T, number string, hospitalID id.HospitalID, amount id.Amount, approve bool) {
	t.Helper()
	c, err := claimmodels.NewClaim(number, claimmodels.Filing{ClientID: 1, PolicyID: 1, HospitalID: hospitalID, Amount: amount}, 0, time.Now())
	require.NoError(t, err)
	if approve {
		c.ApproveCompliance("", time.Now())
		_, err = c.Approve(time.Now())
		require.NoError(t, err)
	}
	require.NoError(t, f.claims.Create(f.ctx, c))
}

func (f *fixture) hospital(t *testing.T, name string) id.HospitalID {
	t.Helper()
	h, err := hospitalmodels.NewHospital(name, "", "", "", time.Now())
	require.NoError(t, err)
	require.NoError(t, f.hospitals.Create(f.ctx, h))
	return h.ID
}

func TestAdminDashboard(t *testing.T) {
	f := newFixture(t)
	first := f.client(t, "a@example.com", agent.UserID)
	f.client(t, "b@example.com", 0)
	f.policy(t, first, "POL-1", id.NewDate(2026, time.January, 1), id.Date{}, 120_000)
	f.policy(t, first, "POL-2", id.NewDate(2025, time.January, 1), id.NewDate(2026, time.January, 1), 30_000)
	h := f.hospital(t, "General")
	f.claim(t, "CLM-1", h, 10_000, true)
	f.claim(t, "CLM-2", h, 2_500, false)

	testutil.Given(t, "an admin", func(t *testing.T) {
		d, err := f.svc.AdminDashboard(f.ctx, admin)
		require.NoError(t, err)

		testutil.Then(t, "every total is filled", func(t *testing.T) {
			assert.Equal(t, 2, d.Clients)
			assert.Equal(t, 2, d.ClientsByStatus[clientmodels.StatusPending])
			assert.Equal(t, 2, d.Policies)
			assert.Equal(t, 1, d.ActivePolicies)
			assert.Equal(t, 1, d.Hospitals)
			assert.Equal(t, 2, d.Claims.Total)
			assert.Equal(t, id.Amount(10_000), d.Claims.Revenue)
			assert.Equal(t, id.Amount(2_500), d.Claims.Pending)
			assert.Equal(t, id.Amount(150_000), d.PremiumTotal)
		})
	})

	testutil.Given(t, "an agent", func(t *testing.T) {
		_, err := f.svc.AdminDashboard(f.ctx, agent)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	testutil.When(t, "a store fails", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		svc := New(f.clients, f.policies, failingHospitals{}, f.claims, agentBook{}, access.NewGate(logger))
		_, err := svc.AdminDashboard(f.ctx, admin)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func TestHospitalDashboard(t *testing.T) {
	f := newFixture(t)
	mine := f.hospital(t, "General")
	other := f.hospital(t, "Harbor")
	for i, n := range []string{"CLM-1", "CLM-2", "CLM-3", "CLM-4", "CLM-5", "CLM-6"} {
		f.claim(t, n, mine, id.Amount(100*(i+1)), false)
	}
	f.claim(t, "CLM-7", other, 900, false)
	own := access.Actor{UserID: 9, Role: access.RoleHospital, HospitalID: mine}

	d, err := f.svc.HospitalDashboard(f.ctx, own, 0)
	require.NoError(t, err)
	assert.Equal(t, mine, d.HospitalID)
	assert.Equal(t, 6, d.Claims.Total)
	assert.Equal(t, id.Amount(2_100), d.Claims.Pending)
	require.Len(t, d.RecentClaims, 5)
	assert.Equal(t, "CLM-6", d.RecentClaims[0].ClaimNumber)

	_, err = f.svc.HospitalDashboard(f.ctx, own, other)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))

	d, err = f.svc.HospitalDashboard(f.ctx, admin, other)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Claims.Total)

	_, err = f.svc.HospitalDashboard(f.ctx, admin, 0)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = f.svc.HospitalDashboard(f.ctx, analyst, mine)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestPolicyAnalytics(t *testing.T) {
	f := newFixture(t)
	first := f.client(t, "a@example.com", agent.UserID)
	second := f.client(t, "b@example.com", 0)
	f.policy(t, first, "POL-RENEW", id.NewDate(2025, time.June, 1), id.NewDate(2026, time.June, 1), 100)
	f.policy(t, first, "POL-LATER", id.NewDate(2026, time.January, 15), id.Date{}, 200)
	f.policy(t, second, "POL-GONE", id.NewDate(2025, time.January, 1), id.NewDate(2026, time.May, 9), 300)

	a, err := f.svc.PolicyAnalytics(f.ctx, analyst)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Total)
	assert.Equal(t, 2, a.ByStatus[policymodels.StatusActive])
	assert.Equal(t, 1, a.ByStatus[policymodels.StatusExpired])
	assert.Equal(t, id.Amount(600), a.PremiumTotal)
	require.Len(t, a.Renewals, 1)
	assert.Equal(t, "POL-RENEW", a.Renewals[0].PolicyNumber)
	assert.Equal(t, 22, a.Renewals[0].DaysLeft)
	require.Len(t, a.ExpiredAlerts, 1)
	assert.Equal(t, "POL-GONE", a.ExpiredAlerts[0].PolicyNumber)
	assert.Equal(t, []string{"2025-01", "2025-06", "2026-01"}, months(a.Monthly))

	scoped, err := f.svc.PolicyAnalytics(f.ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, 2, scoped.Total)
	assert.Empty(t, scoped.ExpiredAlerts)

	_, err = f.svc.PolicyAnalytics(f.ctx, access.Actor{UserID: 4, Role: access.RoleHospital, HospitalID: 1})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestAnalyzeCapsExpiredAlerts(t *testing.T) {
	today := id.NewDate(2026, time.May, 10)
	var policies []*policymodels.Policy
	for i := range 15 {
		p, err := policymodels.NewPolicy(1, "POL", policymodels.Terms{
			Type:       policymodels.TypeIndividual,
			StartDate:  id.NewDate(2024, time.January, 1),
			ExpiryDate: id.NewDate(2025, time.January, 1+i),
		}, 0, time.Now())
		require.NoError(t, err)
		policies = append(policies, p)
	}

	a := Analyze(policies, today)
	require.Len(t, a.ExpiredAlerts, expiredAlertLimit)
	assert.Equal(t, id.NewDate(2025, time.January, 15), a.ExpiredAlerts[0].ExpiryDate)
}

func months(in []models.MonthlySales) []string {
	out := make([]string, len(in))
	for i, m := range in {
		out[i] = m.Month
	}
	return out
}
