package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insureflow/internal/platform/config"
	"insureflow/pkg/testutil"
)

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

type idResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

type verifyResponse struct {
	Matched    bool   `json:"matched"`
	ProofToken string `json:"proof_token"`
}

type transitionResponse struct {
	Claim   idResponse `json:"claim"`
	Changed bool       `json:"changed"`
}

func call(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = testutil.NewJSONRequest(t, method, path, body)
	} else {
		req = testutil.NewRequest(t, method, path)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return testutil.DoRequest(h, req)
}

func login(t *testing.T, h http.Handler, address, password string) string {
	t.Helper()
	rr := call(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": address, "password": password})
	testutil.AssertStatusOK(t, rr)
	res := testutil.UnmarshalResponse[loginResponse](t, rr)
	require.NotEmpty(t, res.AccessToken)
	return res.AccessToken
}

func created(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	testutil.AssertStatus(t, rr, http.StatusCreated)
	return strconv.FormatInt(testutil.UnmarshalResponse[idResponse](t, rr).ID, 10)
}

// The in-memory wiring carries one claim from hospital onboarding to reimbursement.
func TestInMemoryClaimLifecycle(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Biometric.Matcher = "exact"

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.bootstrapAdmin(ctx, "admin@insureflow.test", "admin-password-1"))
	require.NoError(t, a.bootstrapAdmin(ctx, "admin@insureflow.test", "admin-password-1"), "bootstrap is idempotent")

	h := a.handler
	fingerprint := []byte("left-index-minutiae")
	startDate := time.Now().UTC().AddDate(0, -1, 0).Format("2006-01-02")

	testutil.Given(t, "a running back office", func(t *testing.T) {
		testutil.Then(t, "health and auth guards respond", func(t *testing.T) {
			testutil.AssertStatusOK(t, call(t, h, http.MethodGet, "/healthz", "", nil))
			testutil.AssertStatus(t, call(t, h, http.MethodGet, "/api/v1/claims", "", nil), http.StatusUnauthorized)
		})
	})

	admin := login(t, h, "admin@insureflow.test", "admin-password-1")

	var hospitalID, clientID, policyID, assignmentID, claimID, hospitalToken string
	testutil.Given(t, "an onboarded hospital, client and policy", func(t *testing.T) {
		hospitalID = created(t, call(t, h, http.MethodPost, "/api/v1/hospitals", admin, map[string]any{
			"name":    "St. Mary General",
			"address": "12 Harbour Road",
			"email":   "desk@stmary.test",
			"phone":   "+60 3 5555 0100",
			"account": map[string]string{"email": "claims@stmary.test", "name": "St. Mary Claims", "password": "hospital-pass-1"},
		}))
		testutil.AssertStatusOK(t, call(t, h, http.MethodPost, "/api/v1/hospitals/"+hospitalID+"/verify", admin, nil))

		clientID = created(t, call(t, h, http.MethodPost, "/api/v1/clients", admin, map[string]any{
			"first_name":  "Aisha",
			"last_name":   "Rahman",
			"email":       "aisha@example.com",
			"phone":       "+60 12 555 0199",
			"address":     "7 Jalan Ampang",
			"national_id": "880101-14-5566",
			"template":    fingerprint,
		}))

		policyID = created(t, call(t, h, http.MethodPost, "/api/v1/policies", admin, map[string]any{
			"client_id":       mustInt(t, clientID),
			"policy_type":     "health",
			"premium":         "1200.00",
			"start_date":      startDate,
			"max_claim_limit": "5000.00",
		}))

		assignmentID = created(t, call(t, h, http.MethodPost, "/api/v1/assignments", admin, map[string]any{
			"client_id":   mustInt(t, clientID),
			"policy_id":   mustInt(t, policyID),
			"hospital_id": mustInt(t, hospitalID),
		}))
	})

	testutil.When(t, "the hospital accepts and files a verified claim", func(t *testing.T) {
		hospitalToken = login(t, h, "claims@stmary.test", "hospital-pass-1")
		testutil.AssertStatusOK(t, call(t, h, http.MethodPost, "/api/v1/assignments/"+assignmentID+"/accept", hospitalToken, nil))

		rr := call(t, h, http.MethodPost, "/api/v1/clients/"+clientID+"/verify", hospitalToken, map[string]any{"template": fingerprint})
		testutil.AssertStatusOK(t, rr)
		verified := testutil.UnmarshalResponse[verifyResponse](t, rr)
		require.True(t, verified.Matched)
		require.NotEmpty(t, verified.ProofToken)

		submit := map[string]any{
			"client_id":          mustInt(t, clientID),
			"policy_id":          mustInt(t, policyID),
			"assignment_id":      mustInt(t, assignmentID),
			"amount":             "800.00",
			"verification_proof": verified.ProofToken,
		}
		rr = call(t, h, http.MethodPost, "/api/v1/claims", hospitalToken, submit)
		claimID = created(t, rr)
		testutil.AssertJSONContains(t, rr, "status", "pending")

		testutil.Then(t, "the proof cannot be reused", func(t *testing.T) {
			rr := call(t, h, http.MethodPost, "/api/v1/claims", hospitalToken, submit)
			testutil.AssertStatus(t, rr, http.StatusUnprocessableEntity)
		})
		testutil.Then(t, "the assignment is linked to the claim", func(t *testing.T) {
			rr := call(t, h, http.MethodGet, "/api/v1/assignments/"+assignmentID, admin, nil)
			testutil.AssertJSONContains(t, rr, "status", "claimed")
		})
	})

	testutil.When(t, "the back office adjudicates", func(t *testing.T) {
		rr := call(t, h, http.MethodPost, "/api/v1/claims/"+claimID+"/approve", admin, nil)
		testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "compliance_required")

		testutil.AssertStatusOK(t, call(t, h, http.MethodPost, "/api/v1/claims/"+claimID+"/compliance", admin, map[string]string{"notes": "documents complete"}))

		rr = call(t, h, http.MethodPost, "/api/v1/claims/"+claimID+"/approve", admin, nil)
		testutil.AssertStatusOK(t, rr)
		approved := testutil.UnmarshalResponse[transitionResponse](t, rr)
		assert.True(t, approved.Changed)
		assert.Equal(t, "approved", approved.Claim.Status)

		rr = call(t, h, http.MethodPost, "/api/v1/claims/"+claimID+"/reimburse", admin, nil)
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "status", "reimbursed")

		testutil.Then(t, "the hospital cannot adjudicate its own claim", func(t *testing.T) {
			rr := call(t, h, http.MethodPost, "/api/v1/claims/"+claimID+"/approve", hospitalToken, nil)
			testutil.AssertStatus(t, rr, http.StatusForbidden)
		})
		testutil.Then(t, "reports and metrics reflect the activity", func(t *testing.T) {
			testutil.AssertStatusOK(t, call(t, h, http.MethodGet, "/api/v1/reports/dashboard", admin, nil))
			rr := call(t, h, http.MethodGet, "/metrics", "", nil)
			testutil.AssertStatusOK(t, rr)
			assert.True(t, strings.Contains(rr.Body.String(), "insureflow_http_requests_total"))
		})
	})

	testutil.When(t, "staff track follow-up work on the task board", func(t *testing.T) {
		taskID := created(t, call(t, h, http.MethodPost, "/api/v1/tasks", admin, map[string]any{
			"title": "Archive claim " + claimID, "priority": "low",
		}))
		testutil.AssertStatusOK(t, call(t, h, http.MethodPost, "/api/v1/tasks/"+taskID+"/complete", admin, nil))

		rr := call(t, h, http.MethodGet, "/api/v1/tasks?status=completed", admin, nil)
		testutil.AssertStatusOK(t, rr)
		board := testutil.UnmarshalResponse[struct {
			Tasks []idResponse     `json:"tasks"`
			KPIs  map[string]int64 `json:"kpis"`
		}](t, rr)
		require.Len(t, board.Tasks, 1)
		assert.Equal(t, int64(1), board.KPIs["completed"])

		testutil.Then(t, "hospitals have no task board", func(t *testing.T) {
			rr := call(t, h, http.MethodGet, "/api/v1/tasks", hospitalToken, nil)
			testutil.AssertStatus(t, rr, http.StatusForbidden)
		})
	})
}

func mustInt(t *testing.T, s string) int64 {
	t.Helper()
	v, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return v
}
