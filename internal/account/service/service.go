// Package service manages back-office accounts, credentials and password resets.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"insureflow/internal/access"
	"insureflow/internal/account/models"
	"insureflow/internal/account/password"
	"insureflow/internal/notify"
	"insureflow/internal/platform/ephemeral"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/audit"
	"insureflow/pkg/platform/sentinel"
	"insureflow/pkg/platform/tx"
	"insureflow/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, u *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindByEmail(ctx context.Context, address string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	Execute(ctx context.Context, userID id.UserID, validate func(*models.User) error, mutate func(*models.User)) (*models.User, error)
}

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Issue(actor access.Actor, now time.Time) (string, time.Time, error)
}

// LoginGuard throttles repeated failed logins per account.
type LoginGuard interface {
	Locked(ctx context.Context, identifier string) (bool, error)
	RecordFailure(ctx context.Context, identifier string) (bool, error)
	Clear(ctx context.Context, identifier string) error
}

// TokenRevoker cuts off a user's outstanding access tokens.
type TokenRevoker interface {
	RevokeUser(ctx context.Context, userID id.UserID, at time.Time, ttl time.Duration) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

var adminRoles = []access.Role{access.RoleAdmin}

const defaultResetTTL = 10 * time.Minute

// Service owns user accounts.
type Service struct {
	store    Store
	runner   tx.Runner
	gate     *access.Gate
	tokens   TokenIssuer
	codes    ephemeral.Store
	sender   notify.Sender
	audit    AuditPublisher
	guard    LoginGuard
	revoker  TokenRevoker
	tokenTTL time.Duration
	logger   *slog.Logger
	resetTTL time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

func WithLoginGuard(g LoginGuard) Option {
	return func(s *Service) {
		s.guard = g
	}
}

// WithTokenRevocation invalidates issued tokens when an account is suspended or its
// password replaced. ttl is the access token lifetime.
func WithTokenRevocation(r TokenRevoker, ttl time.Duration) Option {
	return func(s *Service) {
		s.revoker = r
		s.tokenTTL = ttl
	}
}

// WithPasswordReset enables reset codes stored in codes and delivered through sender.
func WithPasswordReset(codes ephemeral.Store, sender notify.Sender, ttl time.Duration) Option {
	return func(s *Service) {
		s.codes = codes
		s.sender = sender
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

func New(store Store, runner tx.Runner, gate *access.Gate, tokens TokenIssuer, opts ...Option) *Service {
	s := &Service{
		store:    store,
		runner:   runner,
		gate:     gate,
		tokens:   tokens,
		logger:   slog.Default(),
		resetTTL: defaultResetTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateUserRequest describes a new back-office account.
type CreateUserRequest struct {
	Email    string
	Name     string
	Password string
	Role     string
}

func (s *Service) CreateUser(ctx context.Context, actor access.Actor, req CreateUserRequest) (*models.User, error) {
	if err := s.gate.Authorize(ctx, actor, "create user", adminRoles...); err != nil {
		return nil, err
	}
	role, err := access.ParseRole(req.Role)
	if err != nil {
		return nil, err
	}
	if role == access.RoleHospital {
		return nil, dErrors.New(dErrors.CodeValidation, "hospital accounts are created through hospital registration")
	}
	var out *models.User
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.create(ctx, req.Email, req.Name, req.Password, role, func(*models.User) {})
		if err != nil {
			return err
		}
		out = u
		return s.emit(ctx, actor, u, audit.EventUserCreated, string(role))
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user created",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", out.ID,
		"role", out.Role,
	)
	return out, nil
}

// ProvisionHospitalAccount creates the hospital-role account linked to hospitalID. The caller
// has already authorized the registration and owns the transaction.
func (s *Service) ProvisionHospitalAccount(ctx context.Context, address, name, plain string, hospitalID id.HospitalID) (id.UserID, error) {
	u, err := s.create(ctx, address, name, plain, access.RoleHospital, func(u *models.User) {
		u.HospitalID = hospitalID
	})
	if err != nil {
		return 0, err
	}
	actor, _ := access.ActorFrom(ctx)
	if err := s.emit(ctx, actor, u, audit.EventUserCreated, string(access.RoleHospital)); err != nil {
		return 0, err
	}
	return u.ID, nil
}

// CreateSuperuser bootstraps an admin superuser. Used by the CLI.
func (s *Service) CreateSuperuser(ctx context.Context, address, name, plain string) (*models.User, error) {
	var out *models.User
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.create(ctx, address, name, plain, access.RoleAdmin, func(u *models.User) {
			u.Superuser = true
		})
		if err != nil {
			return err
		}
		out = u
		return s.emit(ctx, access.System, u, audit.EventUserCreated, "superuser")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) create(ctx context.Context, address, name, plain string, role access.Role, decorate func(*models.User)) (*models.User, error) {
	hash, err := password.Hash(plain)
	if err != nil {
		return nil, err
	}
	u, err := models.NewUser(address, name, hash, role, requestcontext.Now(ctx))
	if err != nil {
		return nil, toValidation(err)
	}
	decorate(u)
	if err := s.store.Create(ctx, u); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "an account with this email already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}
	return u, nil
}

// Get returns a user. Non-admins may only read their own account.
func (s *Service) Get(ctx context.Context, actor access.Actor, userID id.UserID) (*models.User, error) {
	if actor.UserID != userID {
		if err := s.gate.Authorize(ctx, actor, "view user", adminRoles...); err != nil {
			return nil, err
		}
	}
	u, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, wrapErr(err)
	}
	return u, nil
}

func (s *Service) List(ctx context.Context, actor access.Actor) ([]*models.User, error) {
	if err := s.gate.Authorize(ctx, actor, "list users", adminRoles...); err != nil {
		return nil, err
	}
	out, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list users")
	}
	return out, nil
}

// StaffName resolves the display name of an active staff account. Tasks use it to check
// their assignee.
func (s *Service) StaffName(ctx context.Context, userID id.UserID) (string, error) {
	u, err := s.store.FindByID(ctx, userID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", dErrors.New(dErrors.CodeValidation, "assigned user does not exist")
	}
	if err != nil {
		return "", wrapErr(err)
	}
	if !u.Active {
		return "", dErrors.New(dErrors.CodeValidation, "assigned user is suspended")
	}
	if u.Role == access.RolePolicyholder || u.Role == access.RoleHospital {
		return "", dErrors.New(dErrors.CodeValidation, "tasks can only be assigned to staff")
	}
	return u.Name, nil
}

// Suspend deactivates an account. Suspending an inactive account is a no-op.
func (s *Service) Suspend(ctx context.Context, actor access.Actor, userID id.UserID) (*models.User, error) {
	if err := s.gate.Authorize(ctx, actor, "suspend user", adminRoles...); err != nil {
		return nil, err
	}
	if actor.UserID == userID {
		return nil, dErrors.New(dErrors.CodeValidation, "you cannot suspend your own account")
	}
	return s.setActive(ctx, actor, userID, false, audit.EventUserSuspended)
}

func (s *Service) Activate(ctx context.Context, actor access.Actor, userID id.UserID) (*models.User, error) {
	if err := s.gate.Authorize(ctx, actor, "activate user", adminRoles...); err != nil {
		return nil, err
	}
	return s.setActive(ctx, actor, userID, true, audit.EventUserActivated)
}

func (s *Service) setActive(ctx context.Context, actor access.Actor, userID id.UserID, active bool, event audit.AuditEvent) (*models.User, error) {
	now := requestcontext.Now(ctx)
	var out *models.User
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		changed := false
		u, err := s.store.Execute(ctx, userID,
			func(*models.User) error { return nil },
			func(u *models.User) { changed = u.SetActive(active, now) },
		)
		if err != nil {
			return wrapErr(err)
		}
		out = u
		if !changed {
			return nil
		}
		if !active {
			if err := s.revokeTokens(ctx, userID, now); err != nil {
				return err
			}
		}
		return s.emit(ctx, actor, u, event, "")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetPassword replaces a user's password without a reset code.
func (s *Service) SetPassword(ctx context.Context, actor access.Actor, userID id.UserID, plain string) error {
	if err := s.gate.Authorize(ctx, actor, "set user password", adminRoles...); err != nil {
		return err
	}
	hash, err := password.Hash(plain)
	if err != nil {
		return err
	}
	return s.replacePassword(ctx, actor, userID, hash, "set by administrator")
}

func (s *Service) replacePassword(ctx context.Context, actor access.Actor, userID id.UserID, hash, reason string) error {
	now := requestcontext.Now(ctx)
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		u, err := s.store.Execute(ctx, userID,
			func(*models.User) error { return nil },
			func(u *models.User) { u.SetPasswordHash(hash, now) },
		)
		if err != nil {
			return wrapErr(err)
		}
		if err := s.revokeTokens(ctx, userID, now); err != nil {
			return err
		}
		return s.emit(ctx, actor, u, audit.EventPasswordResetComplete, reason)
	})
}

func (s *Service) revokeTokens(ctx context.Context, userID id.UserID, now time.Time) error {
	if s.revoker == nil {
		return nil
	}
	if err := s.revoker.RevokeUser(ctx, userID, now, s.tokenTTL); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to revoke access tokens")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, actor access.Actor, u *models.User, event audit.AuditEvent, detail string) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Emit(ctx, audit.Event{
		ActorID:   actor.UserID,
		ActorRole: string(actor.Role),
		Subject:   u.Subject(),
		Action:    string(event),
		Detail:    detail,
	})
}

func wrapErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "user not found")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "user store failure")
	}
}

func toValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	return err
}
