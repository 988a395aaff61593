package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insureflow/internal/access"
	claimstore "insureflow/internal/claim/store"
	clientstore "insureflow/internal/client/store"
	hospitalstore "insureflow/internal/hospital/store"
	policystore "insureflow/internal/policy/store"
	"insureflow/internal/report/service"
	id "insureflow/pkg/domain"
	"insureflow/pkg/requestcontext"
	"insureflow/pkg/testutil"
)

type noAgents struct{}

func (noAgents) ClientIDsForAgent(context.Context, id.UserID) ([]id.ClientID, error) { return nil, nil }

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(clientstore.NewInMemoryStore(), policystore.NewInMemoryStore(), hospitalstore.NewInMemoryStore(),
		claimstore.NewInMemoryStore(), noAgents{}, access.NewGate(logger), service.WithLogger(logger))
	r := chi.NewRouter()
	New(svc, logger).Register(r)
	return r
}

func get(t *testing.T, path string, actor access.Actor) *http.Request {
	t.Helper()
	req := testutil.WithActor(testutil.NewRequest(t, http.MethodGet, path), actor)
	return req.WithContext(requestcontext.WithTime(req.Context(), time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)))
}

func TestReportRoutes(t *testing.T) {
	router := newRouter(t)
	admin := access.Actor{UserID: 1, Role: access.RoleAdmin}
	hospital := access.Actor{UserID: 2, Role: access.RoleHospital, HospitalID: 4}
	agent := access.Actor{UserID: 3, Role: access.RoleAgent}

	testutil.When(t, "an admin opens the dashboard", func(t *testing.T) {
		rr := testutil.DoRequest(router, get(t, "/reports/dashboard", admin))
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "premium_total", "0.00")
		testutil.AssertJSONHasKey(t, rr, "claims")
	})

	testutil.When(t, "a hospital opens its own dashboard", func(t *testing.T) {
		rr := testutil.DoRequest(router, get(t, "/reports/hospital", hospital))
		testutil.AssertStatusOK(t, rr)
		body := testutil.UnmarshalResponse[map[string]any](t, rr)
		assert.EqualValues(t, 4, (*body)["hospital_id"])
	})

	testutil.When(t, "a hospital asks for another hospital", func(t *testing.T) {
		rr := testutil.DoRequest(router, get(t, "/reports/hospitals/5", hospital))
		testutil.AssertStatus(t, rr, http.StatusForbidden)
	})

	testutil.When(t, "an agent requests policy analytics", func(t *testing.T) {
		rr := testutil.DoRequest(router, get(t, "/reports/policies", agent))
		testutil.AssertStatusOK(t, rr)
		body := testutil.UnmarshalResponse[map[string]any](t, rr)
		require.Contains(t, *body, "renewals_due")
		assert.Equal(t, "2026-05-10", (*body)["as_of"])
	})

	testutil.When(t, "an agent opens the admin dashboard", func(t *testing.T) {
		rr := testutil.DoRequest(router, get(t, "/reports/dashboard", agent))
		testutil.AssertStatus(t, rr, http.StatusForbidden)
	})
}
