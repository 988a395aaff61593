package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"insureflow/internal/access"
	"insureflow/internal/biometric"
	"insureflow/internal/client/models"
	"insureflow/internal/client/service"
	"insureflow/internal/platform/middleware"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/httputil"
	"insureflow/pkg/requestcontext"
)

type Service interface {
	Register(ctx context.Context, actor access.Actor, req service.RegisterRequest) (*models.Client, error)
	AttachTemplate(ctx context.Context, actor access.Actor, clientID id.ClientID, template biometric.Template) (*models.Client, error)
	CaptureTemplate(ctx context.Context, actor access.Actor, clientID id.ClientID) (*models.Client, error)
	VerifyIdentity(ctx context.Context, actor access.Actor, req service.VerifyRequest) (*service.VerifyResult, error)
	VerifyCompliance(ctx context.Context, actor access.Actor, clientID id.ClientID, notes string) (*models.Client, error)
	Deactivate(ctx context.Context, actor access.Actor, clientID id.ClientID) (*models.Client, error)
	Get(ctx context.Context, actor access.Actor, clientID id.ClientID) (*models.Client, error)
	List(ctx context.Context, actor access.Actor, status models.Status) ([]*models.Client, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// maxTemplateBytes bounds decoded fingerprint templates.
const maxTemplateBytes = 64 << 10

// Register mounts client registry routes. Callers must already be authenticated.
func (h *Handler) Register(r chi.Router) {
	registrars := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleAgent)
	enrollers := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleAgent, access.RoleHospital)
	verifiers := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleHospital)
	compliance := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleComplianceOfficer)
	admins := middleware.RequireRoles(h.logger, access.RoleAdmin)

	r.Get("/clients", h.HandleList)
	r.Get("/clients/{id}", h.HandleGet)
	r.With(registrars).Post("/clients", h.HandleRegister)
	r.With(enrollers).Post("/clients/{id}/template", h.HandleAttachTemplate)
	r.With(enrollers).Post("/clients/{id}/template/capture", h.HandleCaptureTemplate)
	r.With(verifiers).Post("/clients/{id}/verify", h.HandleVerify)
	r.With(compliance).Post("/clients/{id}/compliance", h.HandleVerifyCompliance)
	r.With(admins).Post("/clients/{id}/deactivate", h.HandleDeactivate)
}

type registerRequest struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	NationalID string `json:"national_id"`
	// Template is the base64-encoded enrollment template.
	Template []byte `json:"template,omitempty"`
}

func (r *registerRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Template) > maxTemplateBytes {
		return dErrors.New(dErrors.CodeValidation, "template is too large")
	}
	for _, f := range []*string{&r.FirstName, &r.LastName, &r.Email, &r.Phone, &r.Address, &r.NationalID} {
		*f = strings.TrimSpace(*f)
	}
	return nil
}

type templateRequest struct {
	Template []byte `json:"template"`
}

func (r *templateRequest) Validate() error {
	if r == nil || len(r.Template) == 0 {
		return dErrors.New(dErrors.CodeValidation, "template is required")
	}
	if len(r.Template) > maxTemplateBytes {
		return dErrors.New(dErrors.CodeValidation, "template is too large")
	}
	return nil
}

type verifyRequest struct {
	// Template is the probe; omit it to capture from the attached scanner.
	Template   []byte `json:"template,omitempty"`
	HospitalID int64  `json:"hospital_id,omitempty"`
}

func (r *verifyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Template) > maxTemplateBytes {
		return dErrors.New(dErrors.CodeValidation, "template is too large")
	}
	if r.HospitalID < 0 {
		return dErrors.New(dErrors.CodeValidation, "invalid hospital_id")
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
	actor, _ := access.ActorFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[registerRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, err := h.service.Register(ctx, actor, service.RegisterRequest{
		Details: models.Details{
			FirstName:  req.FirstName,
			LastName:   req.LastName,
			Email:      req.Email,
			Phone:      req.Phone,
			Address:    req.Address,
			NationalID: req.NationalID,
		},
		Template: biometric.Template(req.Template),
	})
	if err != nil {
		h.fail(ctx, w, "register client", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) HandleAttachTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	clientID, err := id.ParseClientID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[templateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, err := h.service.AttachTemplate(ctx, actor, clientID, biometric.Template(req.Template))
	if err != nil {
		h.fail(ctx, w, "attach client template", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) HandleCaptureTemplate(w http.ResponseWriter, r *http.Request) {
	h.withClient(w, r, "capture client template", h.service.CaptureTemplate)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	clientID, err := id.ParseClientID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[verifyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.VerifyIdentity(ctx, actor, service.VerifyRequest{
		ClientID:   clientID,
		HospitalID: id.HospitalID(req.HospitalID),
		Probe:      biometric.Template(req.Template),
	})
	if err != nil {
		h.fail(ctx, w, "verify client identity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleVerifyCompliance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	clientID, err := id.ParseClientID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[complianceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, err := h.service.VerifyCompliance(ctx, actor, clientID, req.Notes)
	if err != nil {
		h.fail(ctx, w, "verify client compliance", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.withClient(w, r, "deactivate client", h.service.Deactivate)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.withClient(w, r, "get client", h.service.Get)
}

func (h *Handler) withClient(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, access.Actor, id.ClientID) (*models.Client, error)) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	clientID, err := id.ParseClientID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	c, err := fn(ctx, actor, clientID)
	if err != nil {
		h.fail(ctx, w, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	list, err := h.service.List(ctx, actor, models.Status(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(ctx, w, "list clients", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"clients": list})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
