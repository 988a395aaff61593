// Package service implements the policy ledger: issuance, insured persons and the derived
// read model consumed by the assignment broker and the claim engine.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"insureflow/internal/access"
	"insureflow/internal/biometric"
	clientmodels "insureflow/internal/client/models"
	"insureflow/internal/policy/models"
	"insureflow/internal/policy/store"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/audit"
	"insureflow/pkg/platform/sentinel"
	"insureflow/pkg/platform/tx"
	"insureflow/pkg/requestcontext"
)

const numberAttempts = 3

type Store interface {
	Create(ctx context.Context, p *models.Policy) error
	FindByID(ctx context.Context, policyID id.PolicyID) (*models.Policy, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.Policy, error)
	Execute(ctx context.Context, policyID id.PolicyID, validate func(*models.Policy) error, mutate func(*models.Policy)) (*models.Policy, error)
	AddInsured(ctx context.Context, p *models.InsuredPerson) error
	FindInsured(ctx context.Context, insuredID id.InsuredPersonID) (*models.InsuredPerson, error)
	ListInsured(ctx context.Context, policyID id.PolicyID) ([]*models.InsuredPerson, error)
	ExecuteInsured(ctx context.Context, insuredID id.InsuredPersonID, mutate func(*models.InsuredPerson) error) (*models.InsuredPerson, error)
	DeleteInsured(ctx context.Context, insuredID id.InsuredPersonID) error
}

// ClaimReferences tells whether claims were filed for an insured person.
type ClaimReferences interface {
	ReferencesInsured(ctx context.Context, insuredID id.InsuredPersonID) (bool, error)
}

// Clients resolves policy holders and the book of an agent.
type Clients interface {
	Lookup(ctx context.Context, clientID id.ClientID) (*clientmodels.Client, error)
	ClientIDsForAgent(ctx context.Context, agentID id.UserID) ([]id.ClientID, error)
}

type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

var (
	issueRoles      = []access.Role{access.RoleAdmin, access.RoleFinanceOfficer, access.RoleAgent}
	insuredRoles    = []access.Role{access.RoleAdmin, access.RoleFinanceOfficer, access.RoleAgent}
	enrollRoles     = []access.Role{access.RoleAdmin, access.RoleAgent, access.RoleHospital}
	editRoles       = []access.Role{access.RoleAdmin, access.RoleFinanceOfficer}
	deactivateRoles = []access.Role{access.RoleAdmin, access.RoleFinanceOfficer}
	// viewRoles see every policy. Agents see the policies of their own clients.
	viewRoles = []access.Role{
		access.RoleAdmin, access.RoleFinanceOfficer, access.RoleClaimOfficer,
		access.RoleReportOfficer, access.RoleComplianceOfficer, access.RoleHospital,
	}
	readRoles = []access.Role{
		access.RoleAdmin, access.RoleFinanceOfficer, access.RoleClaimOfficer,
		access.RoleReportOfficer, access.RoleComplianceOfficer, access.RoleHospital, access.RoleAgent,
	}
)

// Service manages policies and the people they cover.
type Service struct {
	store   Store
	runner  tx.Runner
	gate    *access.Gate
	clients Clients
	sealer  Sealer
	claims  ClaimReferences
	audit   AuditPublisher
	logger  *slog.Logger
	numbers func() string
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

// WithClaimReferences refuses to remove insured persons that claims were filed for.
func WithClaimReferences(c ClaimReferences) Option {
	return func(s *Service) {
		s.claims = c
	}
}

// WithNumberGenerator replaces the policy number generator.
func WithNumberGenerator(fn func() string) Option {
	return func(s *Service) {
		s.numbers = fn
	}
}

func New(store Store, runner tx.Runner, gate *access.Gate, clients Clients, sealer Sealer, opts ...Option) *Service {
	s := &Service{
		store:   store,
		runner:  runner,
		gate:    gate,
		clients: clients,
		sealer:  sealer,
		logger:  slog.Default(),
		numbers: NewPolicyNumber,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewPolicyNumber returns POL- followed by 8 upper-case hex characters.
func NewPolicyNumber() string {
	u := uuid.New()
	return "POL-" + strings.ToUpper(u.String()[:8])
}

// IssueRequest carries the holder, the terms and an optional policy number.
type IssueRequest struct {
	ClientID     id.ClientID
	PolicyNumber string
	Terms        models.Terms
}

// Issue creates an active policy for an active client. A generated number is retried on
// collision; a supplied number that already exists is a conflict.
func (s *Service) Issue(ctx context.Context, actor access.Actor, req IssueRequest) (*models.Policy, error) {
	if err := s.gate.Authorize(ctx, actor, "issue policy", issueRoles...); err != nil {
		return nil, err
	}
	c, err := s.clients.Lookup(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !s.canSeeClient(actor, c) {
		return nil, dErrors.New(dErrors.CodeNotFound, "client not found")
	}
	if !c.Active {
		return nil, dErrors.New(dErrors.CodeInvalidState, "client is inactive")
	}

	now := requestcontext.Now(ctx)
	supplied := strings.TrimSpace(req.PolicyNumber)
	attempts := numberAttempts
	if supplied != "" {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		number := supplied
		if number == "" {
			number = s.numbers()
		}
		p, err := models.NewPolicy(c.ID, number, req.Terms, actor.UserID, now)
		if err != nil {
			return nil, toValidation(err)
		}
		err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.store.Create(ctx, p); err != nil {
				return err
			}
			return s.emit(ctx, actor, p, audit.EventPolicyIssued, string(p.Type))
		})
		if errors.Is(err, sentinel.ErrConflict) {
			if attempt < attempts {
				s.logger.WarnContext(ctx, "policy number collision, retrying",
					"request_id", requestcontext.RequestID(ctx),
					"attempt", attempt,
				)
				continue
			}
			return nil, dErrors.New(dErrors.CodeConflict, "policy number already exists")
		}
		if err != nil {
			return nil, wrapErr(err)
		}
		s.logger.InfoContext(ctx, "policy issued",
			"request_id", requestcontext.RequestID(ctx),
			"policy_id", p.ID,
			"policy_number", p.PolicyNumber,
			"client_id", p.ClientID,
		)
		return p, nil
	}
}

// AddInsuredRequest describes a covered person. Template is only accepted for adults.
type AddInsuredRequest struct {
	PolicyID     id.PolicyID
	FullName     string
	Relationship string
	Gender       string
	DateOfBirth  id.Date
	Template     biometric.Template
}

// AddInsured attaches a person to an active policy.
func (s *Service) AddInsured(ctx context.Context, actor access.Actor, req AddInsuredRequest) (*models.InsuredPerson, error) {
	if err := s.gate.Authorize(ctx, actor, "add insured person", insuredRoles...); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	today := id.DateOf(now)

	p, err := s.visiblePolicy(ctx, actor, req.PolicyID)
	if err != nil {
		return nil, err
	}
	if p.Status(today) != models.StatusActive {
		return nil, dErrors.New(dErrors.CodeInvalidState, "policy is "+string(p.Status(today)))
	}

	person, err := models.NewInsuredPerson(p.ID, req.FullName, req.Relationship, req.Gender, req.DateOfBirth, today, now)
	if err != nil {
		return nil, toValidation(err)
	}
	if len(req.Template) > 0 {
		if err := s.enroll(person, req.Template, today); err != nil {
			return nil, err
		}
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.AddInsured(ctx, person); err != nil {
			return wrapErr(err)
		}
		return s.emit(ctx, actor, p, audit.EventInsuredAdded, person.FullName)
	})
	if err != nil {
		return nil, err
	}
	return person, nil
}

// AttachInsuredTemplate enrolls a biometric for an adult insured person.
func (s *Service) AttachInsuredTemplate(ctx context.Context, actor access.Actor, insuredID id.InsuredPersonID, template biometric.Template) (*models.InsuredPerson, error) {
	if err := s.gate.Authorize(ctx, actor, "attach insured template", enrollRoles...); err != nil {
		return nil, err
	}
	if len(template) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "template is required")
	}
	person, err := s.store.FindInsured(ctx, insuredID)
	if err != nil {
		return nil, wrapInsuredErr(err)
	}
	if _, err := s.visiblePolicy(ctx, actor, person.PolicyID); err != nil {
		return nil, err
	}
	today := id.DateOf(requestcontext.Now(ctx))

	var out *models.InsuredPerson
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		updated, err := s.store.ExecuteInsured(ctx, insuredID, func(p *models.InsuredPerson) error {
			return s.enroll(p, template, today)
		})
		if err != nil {
			return wrapInsuredErr(err)
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateInsuredRequest replaces personal details. Empty fields keep the current value.
type UpdateInsuredRequest struct {
	FullName     string
	Relationship string
	Gender       string
	DateOfBirth  id.Date
}

// UpdateInsured edits an insured person's details. An edit that changes nothing emits no
// event.
func (s *Service) UpdateInsured(ctx context.Context, actor access.Actor, insuredID id.InsuredPersonID, req UpdateInsuredRequest) (*models.InsuredPerson, error) {
	if err := s.gate.Authorize(ctx, actor, "edit insured person", editRoles...); err != nil {
		return nil, err
	}
	today := id.DateOf(requestcontext.Now(ctx))
	edit := models.Edit{
		FullName:     req.FullName,
		Relationship: req.Relationship,
		Gender:       req.Gender,
		DateOfBirth:  req.DateOfBirth,
	}

	var out *models.InsuredPerson
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		changed := false
		updated, err := s.store.ExecuteInsured(ctx, insuredID, func(p *models.InsuredPerson) error {
			var err error
			changed, err = p.ApplyEdit(edit, today)
			return toValidation(err)
		})
		if err != nil {
			return wrapInsuredErr(err)
		}
		out = updated
		if !changed {
			return nil
		}
		policy, err := s.store.FindByID(ctx, updated.PolicyID)
		if err != nil {
			return wrapErr(err)
		}
		return s.emit(ctx, actor, policy, audit.EventInsuredUpdated, updated.FullName)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveInsured deletes an insured person. People that claims were filed for stay on the
// policy.
func (s *Service) RemoveInsured(ctx context.Context, actor access.Actor, insuredID id.InsuredPersonID) error {
	if err := s.gate.Authorize(ctx, actor, "remove insured person", editRoles...); err != nil {
		return err
	}
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		person, err := s.store.FindInsured(ctx, insuredID)
		if err != nil {
			return wrapInsuredErr(err)
		}
		if s.claims != nil {
			claimed, err := s.claims.ReferencesInsured(ctx, insuredID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check claims for insured person")
			}
			if claimed {
				return errInsuredClaimed
			}
		}
		if err := s.store.DeleteInsured(ctx, insuredID); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return errInsuredClaimed
			}
			return wrapInsuredErr(err)
		}
		policy, err := s.store.FindByID(ctx, person.PolicyID)
		if err != nil {
			return wrapErr(err)
		}
		return s.emit(ctx, actor, policy, audit.EventInsuredRemoved, person.FullName)
	})
}

var errInsuredClaimed = dErrors.New(dErrors.CodeConflict, "claims reference this insured person")

func (s *Service) enroll(p *models.InsuredPerson, template biometric.Template, today id.Date) error {
	if !p.IsAdult(today) {
		return dErrors.New(dErrors.CodeValidation, "biometric enrollment is only allowed for adults")
	}
	sealed, err := s.sealer.Seal(template)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal template")
	}
	return toValidation(p.EnrollTemplate(sealed, today))
}

// Deactivate clears the active flag. Deactivating twice is a no-op.
func (s *Service) Deactivate(ctx context.Context, actor access.Actor, policyID id.PolicyID) (models.View, error) {
	if err := s.gate.Authorize(ctx, actor, "deactivate policy", deactivateRoles...); err != nil {
		return models.View{}, err
	}
	now := requestcontext.Now(ctx)

	var out *models.Policy
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		changed := false
		p, err := s.store.Execute(ctx, policyID,
			func(*models.Policy) error { return nil },
			func(p *models.Policy) { changed = p.Deactivate(now) },
		)
		if err != nil {
			return wrapErr(err)
		}
		out = p
		if !changed {
			return nil
		}
		return s.emit(ctx, actor, p, audit.EventPolicyDeactivated, "")
	})
	if err != nil {
		return models.View{}, err
	}
	return out.View(id.DateOf(now)), nil
}

// Get returns the policy with its status derived for the request day.
func (s *Service) Get(ctx context.Context, actor access.Actor, policyID id.PolicyID) (models.View, error) {
	if err := s.gate.Authorize(ctx, actor, "view policy", readRoles...); err != nil {
		return models.View{}, err
	}
	p, err := s.visiblePolicy(ctx, actor, policyID)
	if err != nil {
		return models.View{}, err
	}
	return p.View(id.DateOf(requestcontext.Now(ctx))), nil
}

// List returns the visible policies, optionally for one client.
func (s *Service) List(ctx context.Context, actor access.Actor, clientID id.ClientID) ([]models.View, error) {
	if err := s.gate.Authorize(ctx, actor, "list policies", readRoles...); err != nil {
		return nil, err
	}
	filter := store.ListFilter{ClientID: clientID}
	if !actor.Superuser && !actor.Is(viewRoles...) {
		ids, err := s.clients.ClientIDsForAgent(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		filter.Scoped = true
		filter.ClientIDs = ids
	}
	policies, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list policies")
	}
	today := id.DateOf(requestcontext.Now(ctx))
	out := make([]models.View, len(policies))
	for i, p := range policies {
		out[i] = p.View(today)
	}
	return out, nil
}

// ListInsured returns the people covered by a visible policy.
func (s *Service) ListInsured(ctx context.Context, actor access.Actor, policyID id.PolicyID) ([]*models.InsuredPerson, error) {
	if err := s.gate.Authorize(ctx, actor, "view policy", readRoles...); err != nil {
		return nil, err
	}
	if _, err := s.visiblePolicy(ctx, actor, policyID); err != nil {
		return nil, err
	}
	out, err := s.store.ListInsured(ctx, policyID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list insured persons")
	}
	return out, nil
}

// Lookup resolves a policy for other modules without role scoping.
func (s *Service) Lookup(ctx context.Context, policyID id.PolicyID) (*models.Policy, error) {
	p, err := s.store.FindByID(ctx, policyID)
	if err != nil {
		return nil, wrapErr(err)
	}
	return p, nil
}

// LookupInsured resolves an insured person for other modules without role scoping.
func (s *Service) LookupInsured(ctx context.Context, insuredID id.InsuredPersonID) (*models.InsuredPerson, error) {
	p, err := s.store.FindInsured(ctx, insuredID)
	if err != nil {
		return nil, wrapInsuredErr(err)
	}
	return p, nil
}

func (s *Service) visiblePolicy(ctx context.Context, actor access.Actor, policyID id.PolicyID) (*models.Policy, error) {
	p, err := s.store.FindByID(ctx, policyID)
	if err != nil {
		return nil, wrapErr(err)
	}
	if actor.Superuser || actor.Is(viewRoles...) {
		return p, nil
	}
	c, err := s.clients.Lookup(ctx, p.ClientID)
	if err != nil {
		return nil, err
	}
	if !s.canSeeClient(actor, c) {
		return nil, dErrors.New(dErrors.CodeNotFound, "policy not found")
	}
	return p, nil
}

func (s *Service) canSeeClient(actor access.Actor, c *clientmodels.Client) bool {
	if actor.Superuser || actor.Role != access.RoleAgent {
		return true
	}
	return c.AgentID == actor.UserID
}

func (s *Service) emit(ctx context.Context, actor access.Actor, p *models.Policy, event audit.AuditEvent, detail string) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Emit(ctx, audit.Event{
		ActorID:   actor.UserID,
		ActorRole: string(actor.Role),
		Subject:   p.Subject(),
		Action:    string(event),
		Detail:    strings.TrimSpace(p.PolicyNumber + " " + detail),
	})
}

func wrapErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "policy not found")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "policy store failure")
	}
}

func wrapInsuredErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "insured person not found")
	}
	return wrapErr(err)
}

func toValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	return err
}
