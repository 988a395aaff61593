package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"insureflow/internal/access"
	"insureflow/internal/claim/handler/mocks"
	"insureflow/internal/claim/models"
	"insureflow/internal/claim/service"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service
type ClaimHandlerSuite struct {
	suite.Suite
	router  http.Handler
	service *mocks.MockService
}

var (
	hospital = access.Actor{UserID: 10, Role: access.RoleHospital, HospitalID: 3}
	officer  = access.Actor{UserID: 11, Role: access.RoleClaimOfficer}
	finance  = access.Actor{UserID: 12, Role: access.RoleFinanceOfficer}
	admin    = access.Actor{UserID: 13, Role: access.RoleAdmin}
)

func TestClaimHandlerSuite(t *testing.T) {
	suite.Run(t, new(ClaimHandlerSuite))
}

func (s *ClaimHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	r := chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	s.router = r
}

func sampleClaim(status models.Status, compliance bool) *models.Claim {
	now := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	return &models.Claim{
		ID: 7, ClaimNumber: "CLM-20260510080000-0001", ClientID: 1, PolicyID: 2, HospitalID: 3,
		Amount: 125_50, Status: status, ComplianceApproved: compliance, CreatedAt: now, UpdatedAt: now,
	}
}

func (s *ClaimHandlerSuite) do(req *http.Request, actor access.Actor) *httptest.ResponseRecorder {
	return testutil.DoRequest(s.router, testutil.WithActor(req, actor))
}

func (s *ClaimHandlerSuite) TestSubmit() {
	t := s.T()
	testutil.Given(t, "a hospital filing a claim", func(t *testing.T) {
		s.service.EXPECT().Submit(gomock.Any(), hospital, service.SubmitRequest{
			ClientID: 1, PolicyID: 2, Amount: 125_50, Notes: "MRI", ProofToken: "tok",
			RequiresVerification: true,
		}).Return(sampleClaim(models.StatusPending, false), nil)

		rr := s.do(testutil.NewJSONRequest(t, http.MethodPost, "/claims", map[string]any{
			"client_id": 1, "policy_id": 2, "amount": "125.50", "notes": "MRI",
			"requires_verification": true, "verification_proof": "tok",
		}), hospital)

		testutil.Then(t, "the claim is created pending compliance", func(t *testing.T) {
			testutil.AssertStatus(t, rr, http.StatusCreated)
			testutil.AssertJSONContains(t, rr, "claim_number", "CLM-20260510080000-0001")
			testutil.AssertJSONContains(t, rr, "amount", "125.50")
			testutil.AssertJSONContains(t, rr, "workflow_status", models.WorkflowPendingCompliance)
		})
	})

	testutil.When(t, "the amount is missing", func(t *testing.T) {
		rr := s.do(testutil.NewJSONRequest(t, http.MethodPost, "/claims", map[string]any{
			"client_id": 1, "policy_id": 2,
		}), hospital)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	})

	testutil.When(t, "a claim officer tries to file", func(t *testing.T) {
		rr := s.do(testutil.NewJSONRequest(t, http.MethodPost, "/claims", map[string]any{
			"client_id": 1, "policy_id": 2, "amount": "10",
		}), officer)
		testutil.AssertStatus(t, rr, http.StatusForbidden)
	})

	testutil.When(t, "verification has not been done", func(t *testing.T) {
		s.service.EXPECT().Submit(gomock.Any(), hospital, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeVerificationRequired, "biometric verification is required"))
		rr := s.do(testutil.NewJSONRequest(t, http.MethodPost, "/claims", map[string]any{
			"client_id": 1, "policy_id": 2, "amount": "10", "requires_verification": true,
		}), hospital)
		testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, string(dErrors.CodeVerificationRequired))
	})
}

func (s *ClaimHandlerSuite) TestApproveReportsChange() {
	t := s.T()
	s.service.EXPECT().Approve(gomock.Any(), officer, id.ClaimID(7)).
		Return(sampleClaim(models.StatusApproved, true), false, nil)

	rr := s.do(testutil.NewRequest(t, http.MethodPost, "/claims/7/approve"), officer)

	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "changed", false)
	body := testutil.UnmarshalResponse[map[string]any](t, rr)
	claim := (*body)["claim"].(map[string]any)
	s.Equal("approved", claim["status"])
	s.Equal("approved", claim["workflow_status"])
}

func (s *ClaimHandlerSuite) TestApproveWithoutCompliance() {
	t := s.T()
	s.service.EXPECT().Approve(gomock.Any(), officer, id.ClaimID(7)).
		Return(nil, false, dErrors.New(dErrors.CodeComplianceRequired, "compliance approval is required"))

	rr := s.do(testutil.NewRequest(t, http.MethodPost, "/claims/7/approve"), officer)
	testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, string(dErrors.CodeComplianceRequired))
}

func (s *ClaimHandlerSuite) TestRejectPassesNotes() {
	t := s.T()
	s.service.EXPECT().Reject(gomock.Any(), officer, id.ClaimID(7), "not covered").
		Return(sampleClaim(models.StatusRejected, false), true, nil)

	rr := s.do(testutil.NewJSONRequest(t, http.MethodPost, "/claims/7/reject", map[string]any{"notes": "not covered"}), officer)
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "changed", true)
}

func (s *ClaimHandlerSuite) TestReimburseRoutes() {
	t := s.T()
	rr := s.do(testutil.NewRequest(t, http.MethodPost, "/claims/7/reimburse"), officer)
	testutil.AssertStatus(t, rr, http.StatusForbidden)

	s.service.EXPECT().Reimburse(gomock.Any(), finance, id.ClaimID(7)).
		Return(sampleClaim(models.StatusReimbursed, true), nil)
	rr = s.do(testutil.NewRequest(t, http.MethodPost, "/claims/7/reimburse"), finance)
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "status", "reimbursed")
}

func (s *ClaimHandlerSuite) TestOverrideRequiresReason() {
	t := s.T()
	rr := s.do(testutil.NewJSONRequest(t, http.MethodPost, "/claims/7/status", map[string]any{"status": "approved"}), admin)
	testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, string(dErrors.CodeValidation))

	s.service.EXPECT().OverrideStatus(gomock.Any(), admin, id.ClaimID(7), models.StatusApproved, "audit correction").
		Return(sampleClaim(models.StatusApproved, true), true, nil)
	rr = s.do(testutil.NewJSONRequest(t, http.MethodPost, "/claims/7/status", map[string]any{
		"status": "approved", "reason": "audit correction",
	}), admin)
	testutil.AssertStatusOK(t, rr)
	testutil.AssertJSONContains(t, rr, "changed", true)
}

func (s *ClaimHandlerSuite) TestListAndGet() {
	t := s.T()
	s.service.EXPECT().List(gomock.Any(), finance, models.StatusPending).
		Return([]*models.Claim{sampleClaim(models.StatusPending, false)}, nil)
	rr := s.do(testutil.NewRequest(t, http.MethodGet, "/claims?status=pending"), finance)
	testutil.AssertStatusOK(t, rr)
	body := testutil.UnmarshalResponse[map[string][]map[string]any](t, rr)
	s.Len((*body)["claims"], 1)

	rr = s.do(testutil.NewRequest(t, http.MethodGet, "/claims/abc"), finance)
	testutil.AssertStatus(t, rr, http.StatusBadRequest)

	s.service.EXPECT().Get(gomock.Any(), finance, id.ClaimID(9)).
		Return(nil, dErrors.New(dErrors.CodeNotFound, "claim not found"))
	rr = s.do(testutil.NewRequest(t, http.MethodGet, "/claims/9"), finance)
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
}
