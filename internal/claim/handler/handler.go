package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"insureflow/internal/access"
	"insureflow/internal/claim/models"
	"insureflow/internal/claim/service"
	"insureflow/internal/platform/middleware"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/httputil"
	"insureflow/pkg/requestcontext"
)

type Service interface {
	Submit(ctx context.Context, actor access.Actor, req service.SubmitRequest) (*models.Claim, error)
	ApproveCompliance(ctx context.Context, actor access.Actor, claimID id.ClaimID, notes string) (*models.Claim, error)
	Approve(ctx context.Context, actor access.Actor, claimID id.ClaimID) (*models.Claim, bool, error)
	Reject(ctx context.Context, actor access.Actor, claimID id.ClaimID, notes string) (*models.Claim, bool, error)
	Reimburse(ctx context.Context, actor access.Actor, claimID id.ClaimID) (*models.Claim, error)
	OverrideStatus(ctx context.Context, actor access.Actor, claimID id.ClaimID, status models.Status, reason string) (*models.Claim, bool, error)
	Get(ctx context.Context, actor access.Actor, claimID id.ClaimID) (*models.Claim, error)
	List(ctx context.Context, actor access.Actor, status models.Status) ([]*models.Claim, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts claim routes. Callers must already be authenticated.
func (h *Handler) Register(r chi.Router) {
	hospitals := middleware.RequireRoles(h.logger, access.RoleHospital)
	compliance := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleComplianceOfficer, access.RoleClaimOfficer)
	adjudicators := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleClaimOfficer)
	finance := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleFinanceOfficer)
	admins := middleware.RequireRoles(h.logger, access.RoleAdmin)

	r.Get("/claims", h.HandleList)
	r.Get("/claims/{id}", h.HandleGet)
	r.With(hospitals).Post("/claims", h.HandleSubmit)
	r.With(compliance).Post("/claims/{id}/compliance", h.HandleApproveCompliance)
	r.With(adjudicators).Post("/claims/{id}/approve", h.HandleApprove)
	r.With(adjudicators).Post("/claims/{id}/reject", h.HandleReject)
	r.With(finance).Post("/claims/{id}/reimburse", h.HandleReimburse)
	r.With(admins).Post("/claims/{id}/status", h.HandleOverride)
}

type submitRequest struct {
	ClientID             int64     `json:"client_id"`
	PolicyID             int64     `json:"policy_id"`
	HospitalID           int64     `json:"hospital_id,omitempty"`
	AssignmentID         int64     `json:"assignment_id,omitempty"`
	InsuredPersonID      int64     `json:"insured_person_id,omitempty"`
	Amount               id.Amount `json:"amount"`
	Notes                string    `json:"notes,omitempty"`
	RequiresVerification bool      `json:"requires_verification,omitempty"`
	ProofToken           string    `json:"verification_proof,omitempty"`
}

func (r *submitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.ClientID <= 0 || r.PolicyID <= 0 {
		return dErrors.New(dErrors.CodeValidation, "client_id and policy_id are required")
	}
	if !r.Amount.IsPositive() {
		return dErrors.New(dErrors.CodeValidation, "amount must be greater than zero")
	}
	if len(r.Notes) > 4000 {
		return dErrors.New(dErrors.CodeValidation, "notes must be at most 4000 characters")
	}
	return nil
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (r *notesRequest) Validate() error {
	if len(r.Notes) > 4000 {
		return dErrors.New(dErrors.CodeValidation, "notes must be at most 4000 characters")
	}
	return nil
}

type overrideRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (r *overrideRequest) Validate() error {
	if r == nil || r.Status == "" {
		return dErrors.New(dErrors.CodeValidation, "status is required")
	}
	if strings.TrimSpace(r.Reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	return nil
}

// transitionResponse reports whether a repeatable transition changed anything.
type transitionResponse struct {
	Claim   models.View `json:"claim"`
	Changed bool        `json:"changed"`
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[submitRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, err := h.service.Submit(ctx, actor, service.SubmitRequest{
		ClientID:             id.ClientID(req.ClientID),
		PolicyID:             id.PolicyID(req.PolicyID),
		HospitalID:           id.HospitalID(req.HospitalID),
		AssignmentID:         id.AssignmentID(req.AssignmentID),
		InsuredPersonID:      id.InsuredPersonID(req.InsuredPersonID),
		Amount:               req.Amount,
		Notes:                req.Notes,
		RequiresVerification: req.RequiresVerification,
		ProofToken:           req.ProofToken,
	})
	if err != nil {
		h.fail(ctx, w, "submit claim", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c.View())
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	claimID, ok := h.claimID(w, r)
	if !ok {
		return
	}
	c, err := h.service.Get(ctx, actor, claimID)
	if err != nil {
		h.fail(ctx, w, "get claim", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c.View())
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	list, err := h.service.List(ctx, actor, models.Status(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(ctx, w, "list claims", err)
		return
	}
	views := make([]models.View, 0, len(list))
	for _, c := range list {
		views = append(views, c.View())
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"claims": views})
}

func (h *Handler) HandleApproveCompliance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	claimID, ok := h.claimID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[notesRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, err := h.service.ApproveCompliance(ctx, actor, claimID, req.Notes)
	if err != nil {
		h.fail(ctx, w, "approve claim compliance", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c.View())
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	claimID, ok := h.claimID(w, r)
	if !ok {
		return
	}
	c, changed, err := h.service.Approve(ctx, actor, claimID)
	if err != nil {
		h.fail(ctx, w, "approve claim", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transitionResponse{Claim: c.View(), Changed: changed})
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	claimID, ok := h.claimID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[notesRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, changed, err := h.service.Reject(ctx, actor, claimID, req.Notes)
	if err != nil {
		h.fail(ctx, w, "reject claim", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transitionResponse{Claim: c.View(), Changed: changed})
}

func (h *Handler) HandleReimburse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	claimID, ok := h.claimID(w, r)
	if !ok {
		return
	}
	c, err := h.service.Reimburse(ctx, actor, claimID)
	if err != nil {
		h.fail(ctx, w, "reimburse claim", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c.View())
}

func (h *Handler) HandleOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	claimID, ok := h.claimID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[overrideRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, changed, err := h.service.OverrideStatus(ctx, actor, claimID, models.Status(req.Status), req.Reason)
	if err != nil {
		h.fail(ctx, w, "override claim status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, transitionResponse{Claim: c.View(), Changed: changed})
}

func (h *Handler) claimID(w http.ResponseWriter, r *http.Request) (id.ClaimID, bool) {
	claimID, err := id.ParseClaimID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return 0, false
	}
	return claimID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
