package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"insureflow/internal/access"
	"insureflow/internal/account/models"
	"insureflow/internal/account/service"
	"insureflow/internal/platform/middleware"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/email"
	"insureflow/pkg/platform/httputil"
	"insureflow/pkg/requestcontext"
)

type Service interface {
	Login(ctx context.Context, address, password string) (*service.LoginResult, error)
	RequestPasswordReset(ctx context.Context, address string) error
	ResetPassword(ctx context.Context, address, code, newPassword string) error
	CreateUser(ctx context.Context, actor access.Actor, req service.CreateUserRequest) (*models.User, error)
	Get(ctx context.Context, actor access.Actor, userID id.UserID) (*models.User, error)
	List(ctx context.Context, actor access.Actor) ([]*models.User, error)
	Suspend(ctx context.Context, actor access.Actor, userID id.UserID) (*models.User, error)
	Activate(ctx context.Context, actor access.Actor, userID id.UserID) (*models.User, error)
	SetPassword(ctx context.Context, actor access.Actor, userID id.UserID, password string) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterPublic mounts the unauthenticated credential routes.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/auth/login", h.HandleLogin)
	r.Post("/auth/password-reset", h.HandleRequestReset)
	r.Post("/auth/password-reset/confirm", h.HandleConfirmReset)
}

// Register mounts user management routes. Callers must already be authenticated.
func (h *Handler) Register(r chi.Router) {
	admins := middleware.RequireRoles(h.logger, access.RoleAdmin)

	r.Get("/users/me", h.HandleMe)
	r.Get("/users/{id}", h.HandleGet)
	r.With(admins).Get("/users", h.HandleList)
	r.With(admins).Post("/users", h.HandleCreate)
	r.With(admins).Post("/users/{id}/suspend", h.HandleSuspend)
	r.With(admins).Post("/users/{id}/activate", h.HandleActivate)
	r.With(admins).Post("/users/{id}/password", h.HandleSetPassword)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *loginRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Email = email.Normalize(r.Email)
	if r.Email == "" || r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "email and password are required")
	}
	return nil
}

type resetRequest struct {
	Email string `json:"email"`
}

func (r *resetRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Email = email.Normalize(r.Email)
	if !email.IsValid(r.Email) {
		return dErrors.New(dErrors.CodeValidation, "a valid email is required")
	}
	return nil
}

type confirmResetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (r *confirmResetRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Email = email.Normalize(r.Email)
	r.Code = strings.TrimSpace(r.Code)
	if r.Email == "" || r.Code == "" || r.NewPassword == "" {
		return dErrors.New(dErrors.CodeValidation, "email, code and new_password are required")
	}
	return nil
}

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (r *createUserRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Email = email.Normalize(r.Email)
	if !email.IsValid(r.Email) {
		return dErrors.New(dErrors.CodeValidation, "a valid email is required")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	return nil
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

func (r *setPasswordRequest) Validate() error {
	if r == nil || r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	return nil
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[loginRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.Login(ctx, req.Email, req.Password)
	if err != nil {
		h.fail(ctx, w, "login", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleRequestReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[resetRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.RequestPasswordReset(ctx, req.Email); err != nil {
		h.fail(ctx, w, "request password reset", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If an account exists for this email, a reset code has been sent.",
	})
}

func (h *Handler) HandleConfirmReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[confirmResetRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.ResetPassword(ctx, req.Email, req.Code, req.NewPassword); err != nil {
		h.fail(ctx, w, "confirm password reset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	req, ok := httputil.DecodeAndPrepare[createUserRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	u, err := h.service.CreateUser(ctx, actor, service.CreateUserRequest{
		Email: req.Email, Name: req.Name, Password: req.Password, Role: req.Role,
	})
	if err != nil {
		h.fail(ctx, w, "create user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, u)
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	u, err := h.service.Get(ctx, actor, actor.UserID)
	if err != nil {
		h.fail(ctx, w, "get current user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, "get user", h.service.Get)
}

func (h *Handler) HandleSuspend(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, "suspend user", h.service.Suspend)
}

func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	h.withUser(w, r, "activate user", h.service.Activate)
}

func (h *Handler) withUser(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, access.Actor, id.UserID) (*models.User, error)) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	userID, err := id.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	u, err := fn(ctx, actor, userID)
	if err != nil {
		h.fail(ctx, w, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) HandleSetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	userID, err := id.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[setPasswordRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.SetPassword(ctx, actor, userID, req.Password); err != nil {
		h.fail(ctx, w, "set user password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := access.ActorFrom(ctx)
	list, err := h.service.List(ctx, actor)
	if err != nil {
		h.fail(ctx, w, "list users", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"users": list})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
