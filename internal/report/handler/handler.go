package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"insureflow/internal/access"
	"insureflow/internal/platform/middleware"
	"insureflow/internal/report/models"
	id "insureflow/pkg/domain"
	"insureflow/pkg/platform/httputil"
	"insureflow/pkg/requestcontext"
)

type Service interface {
	AdminDashboard(ctx context.Context, actor access.Actor) (*models.AdminDashboard, error)
	HospitalDashboard(ctx context.Context, actor access.Actor, hospitalID id.HospitalID) (*models.HospitalDashboard, error)
	PolicyAnalytics(ctx context.Context, actor access.Actor) (*models.PolicyAnalytics, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	admins := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleReportOfficer, access.RoleFinanceOfficer)
	hospitals := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleHospital)
	analysts := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleReportOfficer, access.RoleAgent)

	r.With(admins).Get("/reports/dashboard", h.HandleAdminDashboard)
	r.With(hospitals).Get("/reports/hospital", h.HandleHospitalDashboard)
	r.With(hospitals).Get("/reports/hospitals/{id}", h.HandleHospitalDashboard)
	r.With(analysts).Get("/reports/policies", h.HandlePolicyAnalytics)
}

func (h *Handler) HandleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	d, err := h.service.AdminDashboard(ctx, actor)
	if err != nil {
		h.fail(ctx, w, "admin dashboard", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) HandleHospitalDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	var hospitalID id.HospitalID
	if raw := chi.URLParam(r, "id"); raw != "" {
		parsed, err := id.ParseHospitalID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		hospitalID = parsed
	}
	d, err := h.service.HospitalDashboard(ctx, actor, hospitalID)
	if err != nil {
		h.fail(ctx, w, "hospital dashboard", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) HandlePolicyAnalytics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	a, err := h.service.PolicyAnalytics(ctx, actor)
	if err != nil {
		h.fail(ctx, w, "policy analytics", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
