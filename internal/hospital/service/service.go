package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"insureflow/internal/access"
	"insureflow/internal/hospital/models"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/audit"
	"insureflow/pkg/platform/sentinel"
	"insureflow/pkg/platform/tx"
	"insureflow/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, h *models.Hospital) error
	FindByID(ctx context.Context, hospitalID id.HospitalID) (*models.Hospital, error)
	List(ctx context.Context, verifiedOnly bool) ([]*models.Hospital, error)
	Execute(ctx context.Context, hospitalID id.HospitalID, validate func(*models.Hospital) error, mutate func(*models.Hospital)) (*models.Hospital, error)
}

// AccountProvisioner creates the system account a hospital uses to file claims.
type AccountProvisioner interface {
	ProvisionHospitalAccount(ctx context.Context, email, name, password string, hospitalID id.HospitalID) (id.UserID, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

var (
	registerRoles   = []access.Role{access.RoleAdmin, access.RoleFinanceOfficer}
	complianceRoles = []access.Role{access.RoleAdmin, access.RoleFinanceOfficer, access.RoleComplianceOfficer}
	// directoryRoles see unverified hospitals as well.
	directoryRoles = []access.Role{access.RoleAdmin, access.RoleFinanceOfficer, access.RoleComplianceOfficer}
)

// Service manages the hospital directory.
type Service struct {
	store    Store
	accounts AccountProvisioner
	runner   tx.Runner
	gate     *access.Gate
	audit    AuditPublisher
	logger   *slog.Logger
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

func WithAccountProvisioner(p AccountProvisioner) Option {
	return func(s *Service) {
		s.accounts = p
	}
}

func New(store Store, runner tx.Runner, gate *access.Gate, opts ...Option) *Service {
	s := &Service{store: store, runner: runner, gate: gate, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRequest carries hospital details and an optional linked account.
type RegisterRequest struct {
	Name    string
	Address string
	Email   string
	Phone   string
	Account *AccountRequest
}

type AccountRequest struct {
	Email    string
	Name     string
	Password string
}

// Register creates a hospital and, when requested, its system account in the same transaction.
func (s *Service) Register(ctx context.Context, actor access.Actor, req RegisterRequest) (*models.Hospital, error) {
	if err := s.gate.Authorize(ctx, actor, "register hospital", registerRoles...); err != nil {
		return nil, err
	}
	h, err := models.NewHospital(req.Name, req.Address, req.Email, req.Phone, requestcontext.Now(ctx))
	if err != nil {
		return nil, toValidation(err)
	}
	if req.Account != nil && s.accounts == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "hospital account provisioning is not configured")
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, h); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create hospital")
		}
		if req.Account != nil {
			if _, err := s.accounts.ProvisionHospitalAccount(ctx, req.Account.Email, req.Account.Name, req.Account.Password, h.ID); err != nil {
				return err
			}
		}
		return s.emit(ctx, actor, h, audit.EventHospitalRegistered, "")
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "hospital registered",
		"request_id", requestcontext.RequestID(ctx),
		"hospital_id", h.ID,
		"with_account", req.Account != nil,
	)
	return h, nil
}

// Verify marks a hospital verified. Verifying twice is a no-op.
func (s *Service) Verify(ctx context.Context, actor access.Actor, hospitalID id.HospitalID) (*models.Hospital, error) {
	if err := s.gate.Authorize(ctx, actor, "verify hospital", registerRoles...); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	return s.update(ctx, actor, hospitalID, audit.EventHospitalVerified, "", func(h *models.Hospital) bool {
		return h.ApplyVerification(now)
	})
}

// ApproveCompliance records compliance sign-off. Approving twice is a no-op.
func (s *Service) ApproveCompliance(ctx context.Context, actor access.Actor, hospitalID id.HospitalID, notes string) (*models.Hospital, error) {
	if err := s.gate.Authorize(ctx, actor, "approve hospital compliance", complianceRoles...); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	return s.update(ctx, actor, hospitalID, audit.EventHospitalComplianceApproved, notes, func(h *models.Hospital) bool {
		return h.ApplyComplianceApproval(notes, now)
	})
}

func (s *Service) update(ctx context.Context, actor access.Actor, hospitalID id.HospitalID, event audit.AuditEvent, reason string, apply func(*models.Hospital) bool) (*models.Hospital, error) {
	var out *models.Hospital
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		changed := false
		h, err := s.store.Execute(ctx, hospitalID,
			func(*models.Hospital) error { return nil },
			func(h *models.Hospital) { changed = apply(h) },
		)
		if err != nil {
			return wrapErr(err)
		}
		out = h
		if !changed {
			return nil
		}
		return s.emit(ctx, actor, h, event, reason)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns one hospital. Callers outside the directory roles only see verified hospitals
// or their own.
func (s *Service) Get(ctx context.Context, actor access.Actor, hospitalID id.HospitalID) (*models.Hospital, error) {
	if !actor.IsAuthenticated() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	h, err := s.store.FindByID(ctx, hospitalID)
	if err != nil {
		return nil, wrapErr(err)
	}
	if !h.Verified && !actor.Superuser && !actor.Is(directoryRoles...) && !actor.ActsFor(h.ID) {
		return nil, dErrors.New(dErrors.CodeNotFound, "hospital not found")
	}
	return h, nil
}

func (s *Service) List(ctx context.Context, actor access.Actor) ([]*models.Hospital, error) {
	if !actor.IsAuthenticated() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	verifiedOnly := !actor.Superuser && !actor.Is(directoryRoles...)
	out, err := s.store.List(ctx, verifiedOnly)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list hospitals")
	}
	return out, nil
}

// FindVerified is used by other modules to resolve a hospital that must be verified.
func (s *Service) FindVerified(ctx context.Context, hospitalID id.HospitalID) (*models.Hospital, error) {
	h, err := s.store.FindByID(ctx, hospitalID)
	if err != nil {
		return nil, wrapErr(err)
	}
	if !h.Verified {
		return nil, dErrors.New(dErrors.CodeValidation, "hospital is not verified")
	}
	return h, nil
}

func (s *Service) emit(ctx context.Context, actor access.Actor, h *models.Hospital, event audit.AuditEvent, reason string) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Emit(ctx, audit.Event{
		ActorID:   actor.UserID,
		ActorRole: string(actor.Role),
		Subject:   h.Subject(),
		Action:    string(event),
		Reason:    strings.TrimSpace(reason),
		Detail:    h.Name,
	})
}

func wrapErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "hospital not found")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "hospital store failure")
	}
}

func toValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	return err
}
