package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"insureflow/internal/access"
	"insureflow/internal/hospital/models"
	"insureflow/internal/hospital/service"
	"insureflow/internal/platform/middleware"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/httputil"
	"insureflow/pkg/requestcontext"
)

type Service interface {
	Register(ctx context.Context, actor access.Actor, req service.RegisterRequest) (*models.Hospital, error)
	Verify(ctx context.Context, actor access.Actor, hospitalID id.HospitalID) (*models.Hospital, error)
	ApproveCompliance(ctx context.Context, actor access.Actor, hospitalID id.HospitalID, notes string) (*models.Hospital, error)
	Get(ctx context.Context, actor access.Actor, hospitalID id.HospitalID) (*models.Hospital, error)
	List(ctx context.Context, actor access.Actor) ([]*models.Hospital, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts hospital directory routes. Callers must already be authenticated.
func (h *Handler) Register(r chi.Router) {
	managers := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleFinanceOfficer)
	compliance := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleFinanceOfficer, access.RoleComplianceOfficer)

	r.Get("/hospitals", h.HandleList)
	r.Get("/hospitals/{id}", h.HandleGet)
	r.With(managers).Post("/hospitals", h.HandleRegister)
	r.With(managers).Post("/hospitals/{id}/verify", h.HandleVerify)
	r.With(compliance).Post("/hospitals/{id}/compliance", h.HandleApproveCompliance)
}

type registerRequest struct {
	Name    string          `json:"name"`
	Address string          `json:"address"`
	Email   string          `json:"email"`
	Phone   string          `json:"phone"`
	Account *accountRequest `json:"account,omitempty"`
}

type accountRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (r *registerRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if len(r.Name) > 200 {
		return dErrors.New(dErrors.CodeValidation, "name must be at most 200 characters")
	}
	if r.Account != nil {
		r.Account.Email = strings.TrimSpace(r.Account.Email)
		if r.Account.Email == "" || r.Account.Password == "" {
			return dErrors.New(dErrors.CodeValidation, "account email and password are required")
		}
	}
	return nil
}

type complianceRequest struct {
	Notes string `json:"notes"`
}

func (r *complianceRequest) Validate() error {
	if len(r.Notes) > 2000 {
		return dErrors.New(dErrors.CodeValidation, "notes must be at most 2000 characters")
	}
	return nil
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor, _ := access.ActorFrom(ctx)

	req, ok := httputil.DecodeAndPrepare[registerRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	in := service.RegisterRequest{Name: req.Name, Address: req.Address, Email: req.Email, Phone: req.Phone}
	if req.Account != nil {
		in.Account = &service.AccountRequest{Email: req.Account.Email, Name: req.Account.Name, Password: req.Account.Password}
	}

	hosp, err := h.service.Register(ctx, actor, in)
	if err != nil {
		h.fail(ctx, w, "register hospital", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, hosp)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	hospitalID, err := id.ParseHospitalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	hosp, err := h.service.Verify(ctx, actor, hospitalID)
	if err != nil {
		h.fail(ctx, w, "verify hospital", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, hosp)
}

func (h *Handler) HandleApproveCompliance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	hospitalID, err := id.ParseHospitalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[complianceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	hosp, err := h.service.ApproveCompliance(ctx, actor, hospitalID, req.Notes)
	if err != nil {
		h.fail(ctx, w, "approve hospital compliance", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, hosp)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	hospitalID, err := id.ParseHospitalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	hosp, err := h.service.Get(ctx, actor, hospitalID)
	if err != nil {
		h.fail(ctx, w, "get hospital", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, hosp)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	list, err := h.service.List(ctx, actor)
	if err != nil {
		h.fail(ctx, w, "list hospitals", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"hospitals": list})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
