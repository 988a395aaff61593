package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"insureflow/internal/access"
	"insureflow/internal/biometric"
	"insureflow/internal/platform/middleware"
	"insureflow/internal/policy/models"
	"insureflow/internal/policy/service"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/httputil"
	"insureflow/pkg/requestcontext"
)

type Service interface {
	Issue(ctx context.Context, actor access.Actor, req service.IssueRequest) (*models.Policy, error)
	AddInsured(ctx context.Context, actor access.Actor, req service.AddInsuredRequest) (*models.InsuredPerson, error)
	AttachInsuredTemplate(ctx context.Context, actor access.Actor, insuredID id.InsuredPersonID, template biometric.Template) (*models.InsuredPerson, error)
	Deactivate(ctx context.Context, actor access.Actor, policyID id.PolicyID) (models.View, error)
	Get(ctx context.Context, actor access.Actor, policyID id.PolicyID) (models.View, error)
	List(ctx context.Context, actor access.Actor, clientID id.ClientID) ([]models.View, error)
	ListInsured(ctx context.Context, actor access.Actor, policyID id.PolicyID) ([]*models.InsuredPerson, error)
	UpdateInsured(ctx context.Context, actor access.Actor, insuredID id.InsuredPersonID, req service.UpdateInsuredRequest) (*models.InsuredPerson, error)
	RemoveInsured(ctx context.Context, actor access.Actor, insuredID id.InsuredPersonID) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

const maxTemplateBytes = 64 << 10

// Register mounts policy ledger routes. Callers must already be authenticated.
func (h *Handler) Register(r chi.Router) {
	issuers := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleFinanceOfficer, access.RoleAgent)
	enrollers := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleAgent, access.RoleHospital)
	finance := middleware.RequireRoles(h.logger, access.RoleAdmin, access.RoleFinanceOfficer)

	r.Get("/policies", h.HandleList)
	r.Get("/policies/{id}", h.HandleGet)
	r.Get("/policies/{id}/insured", h.HandleListInsured)
	r.With(issuers).Post("/policies", h.HandleIssue)
	r.With(issuers).Post("/policies/{id}/insured", h.HandleAddInsured)
	r.With(finance).Post("/policies/{id}/deactivate", h.HandleDeactivate)
	r.With(enrollers).Post("/insured/{id}/template", h.HandleAttachInsuredTemplate)
	r.With(finance).Patch("/insured/{id}", h.HandleUpdateInsured)
	r.With(finance).Delete("/insured/{id}", h.HandleRemoveInsured)
}

type issueRequest struct {
	ClientID     int64  `json:"client_id"`
	PolicyNumber string `json:"policy_number,omitempty"`
	models.Terms
}

func (r *issueRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if r.ClientID <= 0 {
		return dErrors.New(dErrors.CodeValidation, "client_id is required")
	}
	r.PolicyNumber = strings.ToUpper(strings.TrimSpace(r.PolicyNumber))
	return nil
}

type insuredRequest struct {
	FullName     string  `json:"full_name"`
	Relationship string  `json:"relationship"`
	Gender       string  `json:"gender,omitempty"`
	DateOfBirth  id.Date `json:"date_of_birth"`
	Template     []byte  `json:"template,omitempty"`
}

func (r *insuredRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Template) > maxTemplateBytes {
		return dErrors.New(dErrors.CodeValidation, "template is too large")
	}
	r.Gender = strings.ToLower(strings.TrimSpace(r.Gender))
	return nil
}

type updateInsuredRequest struct {
	FullName     string  `json:"full_name"`
	Relationship string  `json:"relationship"`
	Gender       string  `json:"gender"`
	DateOfBirth  id.Date `json:"date_of_birth"`
}

func (r *updateInsuredRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Gender = strings.ToLower(strings.TrimSpace(r.Gender))
	if r.FullName == "" && r.Relationship == "" && r.Gender == "" && r.DateOfBirth.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "nothing to update")
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

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[issueRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.Issue(ctx, actor, service.IssueRequest{
		ClientID:     id.ClientID(req.ClientID),
		PolicyNumber: req.PolicyNumber,
		Terms:        req.Terms,
	})
	if err != nil {
		h.fail(ctx, w, "issue policy", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p.View(id.DateOf(requestcontext.Now(ctx))))
}

func (h *Handler) HandleAddInsured(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[insuredRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	person, err := h.service.AddInsured(ctx, actor, service.AddInsuredRequest{
		PolicyID:     policyID,
		FullName:     req.FullName,
		Relationship: req.Relationship,
		Gender:       req.Gender,
		DateOfBirth:  req.DateOfBirth,
		Template:     biometric.Template(req.Template),
	})
	if err != nil {
		h.fail(ctx, w, "add insured person", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, person)
}

func (h *Handler) HandleAttachInsuredTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	insuredID, err := id.ParseInsuredPersonID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[templateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	person, err := h.service.AttachInsuredTemplate(ctx, actor, insuredID, biometric.Template(req.Template))
	if err != nil {
		h.fail(ctx, w, "attach insured template", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, person)
}

func (h *Handler) HandleUpdateInsured(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	insuredID, err := id.ParseInsuredPersonID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[updateInsuredRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	person, err := h.service.UpdateInsured(ctx, actor, insuredID, service.UpdateInsuredRequest{
		FullName:     req.FullName,
		Relationship: req.Relationship,
		Gender:       req.Gender,
		DateOfBirth:  req.DateOfBirth,
	})
	if err != nil {
		h.fail(ctx, w, "update insured person", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, person)
}

func (h *Handler) HandleRemoveInsured(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	insuredID, err := id.ParseInsuredPersonID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.service.RemoveInsured(ctx, actor, insuredID); err != nil {
		h.fail(ctx, w, "remove insured person", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	h.withPolicy(w, r, "deactivate policy", h.service.Deactivate)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.withPolicy(w, r, "get policy", h.service.Get)
}

func (h *Handler) withPolicy(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, access.Actor, id.PolicyID) (models.View, error)) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	v, err := fn(ctx, actor, policyID)
	if err != nil {
		h.fail(ctx, w, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	var clientID id.ClientID
	if raw := r.URL.Query().Get("client_id"); raw != "" {
		parsed, err := id.ParseClientID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		clientID = parsed
	}
	list, err := h.service.List(ctx, actor, clientID)
	if err != nil {
		h.fail(ctx, w, "list policies", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"policies": list})
}

func (h *Handler) HandleListInsured(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	policyID, err := id.ParsePolicyID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.service.ListInsured(ctx, actor, policyID)
	if err != nil {
		h.fail(ctx, w, "list insured persons", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"insured_persons": list})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
