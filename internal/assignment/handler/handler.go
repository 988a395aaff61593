package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"insureflow/internal/access"
	"insureflow/internal/assignment/models"
	"insureflow/internal/assignment/service"
	"insureflow/internal/platform/middleware"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/httputil"
	"insureflow/pkg/requestcontext"
)

type Service interface {
	Assign(ctx context.Context, actor access.Actor, req service.AssignRequest) (*models.Assignment, bool, error)
	Accept(ctx context.Context, actor access.Actor, assignmentID id.AssignmentID) (*models.Assignment, error)
	Reject(ctx context.Context, actor access.Actor, assignmentID id.AssignmentID, reason string) (*models.Assignment, error)
	Complete(ctx context.Context, actor access.Actor, assignmentID id.AssignmentID) (*models.Assignment, error)
	ApproveCompliance(ctx context.Context, actor access.Actor, assignmentID id.AssignmentID, notes string) (*models.Assignment, error)
	Get(ctx context.Context, actor access.Actor, assignmentID id.AssignmentID) (*models.Assignment, error)
	List(ctx context.Context, actor access.Actor, status models.Status) ([]*models.Assignment, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts assignment routes. Callers must already be authenticated.
func (h *Handler) Register(r chi.Router) {
	assigners := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleFinanceOfficer)
	hospitals := middleware.RequireRoles(h.logger, access.RoleHospital)
	completers := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleFinanceOfficer, access.RoleHospital)
	compliance := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleComplianceOfficer)

	r.Get("/assignments", h.HandleList)
	r.Get("/assignments/{id}", h.HandleGet)
	r.With(assigners).Post("/assignments", h.HandleAssign)
	r.With(hospitals).Post("/assignments/{id}/accept", h.HandleAccept)
	r.With(hospitals).Post("/assignments/{id}/reject", h.HandleReject)
	r.With(completers).Post("/assignments/{id}/complete", h.HandleComplete)
	r.With(compliance).Post("/assignments/{id}/compliance", h.HandleApproveCompliance)
}

type assignRequest struct {
	ClientID   int64 `json:"client_id"`
	PolicyID   int64 `json:"policy_id"`
	HospitalID int64 `json:"hospital_id"`
}

func (r *assignRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.ClientID <= 0 || r.PolicyID <= 0 || r.HospitalID <= 0 {
		return dErrors.New(dErrors.CodeValidation, "client_id, policy_id and hospital_id are required")
	}
	return nil
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (r *notesRequest) Validate() error {
	if len(r.Notes) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "notes must be at most 2000 characters")
	}
	return nil
}

func (h *Handler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[assignRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	a, created, err := h.service.Assign(ctx, actor, service.AssignRequest{
		ClientID:   id.ClientID(req.ClientID),
		PolicyID:   id.PolicyID(req.PolicyID),
		HospitalID: id.HospitalID(req.HospitalID),
	})
	if err != nil {
		h.fail(ctx, w, "assign hospital", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, a)
}

func (h *Handler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	h.withAssignment(w, r, "accept assignment", h.service.Accept)
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	h.withAssignment(w, r, "complete assignment", h.service.Complete)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.withAssignment(w, r, "get assignment", h.service.Get)
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.withNotes(w, r, "reject assignment", h.service.Reject)
}

func (h *Handler) HandleApproveCompliance(w http.ResponseWriter, r *http.Request) {
	h.withNotes(w, r, "approve assignment compliance", h.service.ApproveCompliance)
}

func (h *Handler) withAssignment(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, access.Actor, id.AssignmentID) (*models.Assignment, error)) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	assignmentID, err := id.ParseAssignmentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	a, err := fn(ctx, actor, assignmentID)
	if err != nil {
		h.fail(ctx, w, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) withNotes(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, access.Actor, id.AssignmentID, string) (*models.Assignment, error)) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	assignmentID, err := id.ParseAssignmentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[notesRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	a, err := fn(ctx, actor, assignmentID, req.Notes)
	if err != nil {
		h.fail(ctx, w, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	list, err := h.service.List(ctx, actor, models.Status(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(ctx, w, "list assignments", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"assignments": list})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
