// Package service implements the claim workflow engine: submission against a verified
// identity and an accepted assignment, compliance review, adjudication and reimbursement.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"insureflow/internal/access"
	assignmentmodels "insureflow/internal/assignment/models"
	assignmentservice "insureflow/internal/assignment/service"
	"insureflow/internal/claim/models"
	"insureflow/internal/claim/store"
	hospitalmodels "insureflow/internal/hospital/models"
	policymodels "insureflow/internal/policy/models"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/audit"
	"insureflow/pkg/platform/sentinel"
	"insureflow/pkg/platform/tx"
	"insureflow/pkg/requestcontext"
)

const numberAttempts = 3

var (
	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insureflow_claim_submissions_total",
		Help: "Claim submissions by outcome",
	}, []string{"outcome"})
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "insureflow_claim_transitions_total",
		Help: "Claim status transitions",
	}, []string{"action", "to"})
)

type Store interface {
	Create(ctx context.Context, c *models.Claim) error
	FindByID(ctx context.Context, claimID id.ClaimID) (*models.Claim, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.Claim, error)
	Execute(ctx context.Context, claimID id.ClaimID, mutate func(*models.Claim) error) (*models.Claim, error)
}

type Policies interface {
	Lookup(ctx context.Context, policyID id.PolicyID) (*policymodels.Policy, error)
	LookupInsured(ctx context.Context, insuredID id.InsuredPersonID) (*policymodels.InsuredPerson, error)
}

type Hospitals interface {
	FindVerified(ctx context.Context, hospitalID id.HospitalID) (*hospitalmodels.Hospital, error)
}

type Assignments interface {
	CheckClaimable(ctx context.Context, assignmentID id.AssignmentID, link assignmentservice.ClaimLink) error
	MarkClaimed(ctx context.Context, actor access.Actor, assignmentID id.AssignmentID, link assignmentservice.ClaimLink) (*assignmentmodels.Assignment, error)
}

// Clients resolves the book of an agent for list scoping.
type Clients interface {
	ClientIDsForAgent(ctx context.Context, agentID id.UserID) ([]id.ClientID, error)
}

// Proofs redeems single-use biometric verification proofs.
type Proofs interface {
	Check(ctx context.Context, token string, clientID id.ClientID, hospitalID id.HospitalID) error
	Consume(ctx context.Context, token string, clientID id.ClientID, hospitalID id.HospitalID) error
}

// Numbers generates claim numbers.
type Numbers interface {
	Next(ctx context.Context, now time.Time) (string, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

var (
	submitRoles     = []access.Role{access.RoleHospital}
	complianceRoles = []access.Role{access.RoleAdmin, access.RoleComplianceOfficer, access.RoleClaimOfficer}
	adjudicateRoles = []access.Role{access.RoleAdmin, access.RoleClaimOfficer}
	reimburseRoles  = []access.Role{access.RoleAdmin, access.RoleFinanceOfficer}
	overrideRoles   = []access.Role{access.RoleAdmin}
	// viewRoles see every claim. Agents see their clients' claims, hospitals their own.
	viewRoles = []access.Role{
		access.RoleAdmin, access.RoleClaimOfficer, access.RoleFinanceOfficer,
		access.RoleComplianceOfficer, access.RoleReportOfficer,
	}
	readRoles = []access.Role{
		access.RoleAdmin, access.RoleClaimOfficer, access.RoleFinanceOfficer,
		access.RoleComplianceOfficer, access.RoleReportOfficer, access.RoleAgent, access.RoleHospital,
	}
)

// Service runs the claim workflow.
type Service struct {
	store            Store
	runner           tx.Runner
	gate             *access.Gate
	policies         Policies
	hospitals        Hospitals
	assignments      Assignments
	clients          Clients
	proofs           Proofs
	numbers          Numbers
	requireBiometric bool
	audit            AuditPublisher
	logger           *slog.Logger
	tracer           trace.Tracer
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

// WithRequiredBiometric makes every submission present a verification proof.
func WithRequiredBiometric(required bool) Option {
	return func(s *Service) {
		s.requireBiometric = required
	}
}

// Deps groups the modules a claim touches.
type Deps struct {
	Policies    Policies
	Hospitals   Hospitals
	Assignments Assignments
	Clients     Clients
	Proofs      Proofs
	Numbers     Numbers
}

func New(store Store, runner tx.Runner, gate *access.Gate, deps Deps, opts ...Option) *Service {
	s := &Service{
		store:       store,
		runner:      runner,
		gate:        gate,
		policies:    deps.Policies,
		hospitals:   deps.Hospitals,
		assignments: deps.Assignments,
		clients:     deps.Clients,
		proofs:      deps.Proofs,
		numbers:     deps.Numbers,
		logger:      slog.Default(),
		tracer:      otel.Tracer("insureflow/claim"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitRequest describes a claim filing. ProofToken is the verification proof issued by a
// successful identity check for the same client and hospital.
type SubmitRequest struct {
	ClientID             id.ClientID
	PolicyID             id.PolicyID
	HospitalID           id.HospitalID
	AssignmentID         id.AssignmentID
	InsuredPersonID      id.InsuredPersonID
	Amount               id.Amount
	Notes                string
	RequiresVerification bool
	ProofToken           string
}

// Submit files a pending claim. When an assignment is named it moves to claimed in the same
// transaction as the claim insert.
func (s *Service) Submit(ctx context.Context, actor access.Actor, req SubmitRequest) (_ *models.Claim, err error) {
	ctx, span := s.tracer.Start(ctx, "claim.submit", trace.WithAttributes(
		attribute.Int64("claim.policy_id", int64(req.PolicyID)),
		attribute.Int64("claim.assignment_id", int64(req.AssignmentID)),
	))
	defer func() {
		outcome := "accepted"
		if err != nil {
			outcome = string(dErrors.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		submissions.WithLabelValues(outcome).Inc()
		span.End()
	}()

	if err := s.gate.Authorize(ctx, actor, "submit claim", submitRoles...); err != nil {
		return nil, err
	}
	hospitalID, err := filingHospital(actor, req.HospitalID)
	if err != nil {
		return nil, err
	}
	req.HospitalID = hospitalID
	span.SetAttributes(attribute.Int64("claim.hospital_id", int64(hospitalID)))

	now := requestcontext.Now(ctx)
	today := id.DateOf(now)
	if !req.Amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeValidation, "amount must be greater than zero")
	}
	if err := s.checkPolicy(ctx, req, today); err != nil {
		return nil, err
	}
	if _, err := s.hospitals.FindVerified(ctx, hospitalID); err != nil {
		return nil, err
	}
	if !req.InsuredPersonID.IsNil() {
		if err := s.checkInsured(ctx, req, today); err != nil {
			return nil, err
		}
	}
	var proofToken string
	if req.RequiresVerification || s.requireBiometric {
		if s.proofs == nil {
			return nil, dErrors.New(dErrors.CodeUnavailable, "biometric verification is not configured")
		}
		if err := s.proofs.Check(ctx, req.ProofToken, req.ClientID, hospitalID); err != nil {
			return nil, err
		}
		proofToken = req.ProofToken
	}

	filing := models.Filing{
		ClientID:        req.ClientID,
		PolicyID:        req.PolicyID,
		HospitalID:      hospitalID,
		AssignmentID:    req.AssignmentID,
		InsuredPersonID: req.InsuredPersonID,
		Amount:          req.Amount,
		Notes:           req.Notes,
	}
	for attempt := 1; ; attempt++ {
		c, err := s.file(ctx, actor, filing, proofToken, now)
		if errors.Is(err, sentinel.ErrConflict) {
			if attempt < numberAttempts {
				s.logger.WarnContext(ctx, "claim number collision, retrying",
					"request_id", requestcontext.RequestID(ctx),
					"attempt", attempt,
				)
				continue
			}
			return nil, dErrors.New(dErrors.CodeConflict, "could not allocate a unique claim number")
		}
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.String("claim.number", c.ClaimNumber))
		s.logger.InfoContext(ctx, "claim submitted",
			"request_id", requestcontext.RequestID(ctx),
			"claim_id", c.ID,
			"claim_number", c.ClaimNumber,
			"hospital_id", c.HospitalID,
			"amount", c.Amount.String(),
		)
		return c, nil
	}
}

// file allocates a number and records the claim. A verification proof is redeemed last, so
// a filing that fails leaves it usable for a retry.
func (s *Service) file(ctx context.Context, actor access.Actor, f models.Filing, proofToken string, now time.Time) (*models.Claim, error) {
	number, err := s.numbers.Next(ctx, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "claim numbering is unavailable")
	}
	c, err := models.NewClaim(number, f, actor.UserID, now)
	if err != nil {
		return nil, toValidation(err)
	}
	link := assignmentservice.ClaimLink{ClientID: f.ClientID, PolicyID: f.PolicyID, HospitalID: f.HospitalID}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if proofToken != "" {
			if err := s.proofs.Check(ctx, proofToken, f.ClientID, f.HospitalID); err != nil {
				return err
			}
		}
		if !f.AssignmentID.IsNil() {
			if err := s.assignments.CheckClaimable(ctx, f.AssignmentID, link); err != nil {
				return err
			}
		}
		if err := s.store.Create(ctx, c); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return err
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create claim")
		}
		if !f.AssignmentID.IsNil() {
			link.ClaimID = c.ID
			if _, err := s.assignments.MarkClaimed(ctx, actor, f.AssignmentID, link); err != nil {
				return err
			}
		}
		if err := s.emit(ctx, actor, c, audit.EventClaimSubmitted, "", string(c.Status), ""); err != nil {
			return err
		}
		if proofToken == "" {
			return nil
		}
		return s.proofs.Consume(ctx, proofToken, f.ClientID, f.HospitalID)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) checkPolicy(ctx context.Context, req SubmitRequest, today id.Date) error {
	p, err := s.policies.Lookup(ctx, req.PolicyID)
	if err != nil {
		return err
	}
	if p.ClientID != req.ClientID {
		return dErrors.New(dErrors.CodeValidation, "policy does not belong to the client")
	}
	if status := p.Status(today); status != policymodels.StatusActive {
		return dErrors.New(dErrors.CodeInvalidState, "policy is "+string(status))
	}
	if !p.WithinLimit(req.Amount) {
		return dErrors.New(dErrors.CodeValidation, "amount exceeds the policy's max claim limit of "+p.MaxClaim.String())
	}
	return nil
}

func (s *Service) checkInsured(ctx context.Context, req SubmitRequest, today id.Date) error {
	person, err := s.policies.LookupInsured(ctx, req.InsuredPersonID)
	if err != nil {
		return err
	}
	if person.PolicyID != req.PolicyID {
		return dErrors.New(dErrors.CodeValidation, "insured person is not covered by this policy")
	}
	if !person.CanBeClaimedFor(today) {
		return dErrors.New(dErrors.CodeVerificationRequired, "adult insured person must have a verified fingerprint")
	}
	return nil
}

// filingHospital resolves the hospital a claim is filed for. Hospital accounts always file
// for their own hospital; superusers must name one.
func filingHospital(actor access.Actor, requested id.HospitalID) (id.HospitalID, error) {
	if actor.Role == access.RoleHospital {
		if actor.HospitalID.IsNil() {
			return 0, dErrors.New(dErrors.CodeForbidden, "account is not linked to a hospital")
		}
		if !requested.IsNil() && requested != actor.HospitalID {
			return 0, dErrors.New(dErrors.CodeForbidden, "hospital accounts may only file for their own hospital")
		}
		return actor.HospitalID, nil
	}
	if requested.IsNil() {
		return 0, dErrors.New(dErrors.CodeValidation, "hospital_id is required")
	}
	return requested, nil
}

// ApproveCompliance sets the compliance flag. Approving twice is a no-op.
func (s *Service) ApproveCompliance(ctx context.Context, actor access.Actor, claimID id.ClaimID, notes string) (*models.Claim, error) {
	if err := s.gate.Authorize(ctx, actor, "approve claim compliance", complianceRoles...); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	c, _, err := s.mutate(ctx, actor, claimID, audit.EventClaimComplianceApproved, notes, func(c *models.Claim) (bool, error) {
		return c.ApproveCompliance(notes, now), nil
	})
	return c, err
}

// Approve moves a compliance-approved claim from pending to approved. changed is false when
// the claim was already approved.
func (s *Service) Approve(ctx context.Context, actor access.Actor, claimID id.ClaimID) (*models.Claim, bool, error) {
	if err := s.gate.Authorize(ctx, actor, "approve claim", adjudicateRoles...); err != nil {
		return nil, false, err
	}
	now := requestcontext.Now(ctx)
	return s.mutate(ctx, actor, claimID, audit.EventClaimApproved, "", func(c *models.Claim) (bool, error) {
		return c.Approve(now)
	})
}

// Reject moves a pending or approved claim to rejected. changed is false when the claim
// was already rejected.
func (s *Service) Reject(ctx context.Context, actor access.Actor, claimID id.ClaimID, notes string) (*models.Claim, bool, error) {
	if err := s.gate.Authorize(ctx, actor, "reject claim", adjudicateRoles...); err != nil {
		return nil, false, err
	}
	now := requestcontext.Now(ctx)
	return s.mutate(ctx, actor, claimID, audit.EventClaimRejected, notes, func(c *models.Claim) (bool, error) {
		return c.Reject(notes, now)
	})
}

// Reimburse pays out an approved claim.
func (s *Service) Reimburse(ctx context.Context, actor access.Actor, claimID id.ClaimID) (*models.Claim, error) {
	if err := s.gate.Authorize(ctx, actor, "reimburse claim", reimburseRoles...); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	c, _, err := s.mutate(ctx, actor, claimID, audit.EventClaimReimbursed, "", func(c *models.Claim) (bool, error) {
		return true, c.Reimburse(now)
	})
	return c, err
}

// OverrideStatus forces a status outside the normal workflow. A reason is mandatory and
// the change is audited with both states.
func (s *Service) OverrideStatus(ctx context.Context, actor access.Actor, claimID id.ClaimID, status models.Status, reason string) (*models.Claim, bool, error) {
	if err := s.gate.Authorize(ctx, actor, "override claim status", overrideRoles...); err != nil {
		return nil, false, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, false, dErrors.New(dErrors.CodeValidation, "a reason is required to override a claim status")
	}
	if !status.IsValid() {
		return nil, false, dErrors.New(dErrors.CodeValidation, "unknown claim status: "+string(status))
	}
	now := requestcontext.Now(ctx)
	c, changed, err := s.mutate(ctx, actor, claimID, audit.EventClaimStatusOverridden, reason, func(c *models.Claim) (bool, error) {
		return c.Override(status, now)
	})
	if err == nil && changed {
		s.logger.WarnContext(ctx, "claim status overridden",
			"request_id", requestcontext.RequestID(ctx),
			"claim_id", claimID,
			"status", status,
			"actor_id", actor.UserID,
		)
	}
	return c, changed, err
}

func (s *Service) mutate(ctx context.Context, actor access.Actor, claimID id.ClaimID, event audit.AuditEvent, reason string, apply func(*models.Claim) (bool, error)) (*models.Claim, bool, error) {
	var out *models.Claim
	var changed bool
	var from models.Status
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		c, err := s.store.Execute(ctx, claimID, func(c *models.Claim) error {
			from = c.Status
			var err error
			changed, err = apply(c)
			return err
		})
		if err != nil {
			return wrapErr(err)
		}
		out = c
		if !changed {
			return nil
		}
		return s.emit(ctx, actor, c, event, string(from), string(c.Status), reason)
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		transitions.WithLabelValues(string(event), string(out.Status)).Inc()
	}
	return out, changed, nil
}

// Get returns a claim the actor may see.
func (s *Service) Get(ctx context.Context, actor access.Actor, claimID id.ClaimID) (*models.Claim, error) {
	if err := s.gate.Authorize(ctx, actor, "view claim", readRoles...); err != nil {
		return nil, err
	}
	c, err := s.store.FindByID(ctx, claimID)
	if err != nil {
		return nil, wrapErr(err)
	}
	filter, err := s.scope(ctx, actor, "")
	if err != nil {
		return nil, err
	}
	if !filter.Allows(c) {
		return nil, dErrors.New(dErrors.CodeNotFound, "claim not found")
	}
	return c, nil
}

// List returns the visible claims, optionally filtered by status.
func (s *Service) List(ctx context.Context, actor access.Actor, status models.Status) ([]*models.Claim, error) {
	if err := s.gate.Authorize(ctx, actor, "list claims", readRoles...); err != nil {
		return nil, err
	}
	if status != "" && !status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown status: "+string(status))
	}
	filter, err := s.scope(ctx, actor, status)
	if err != nil {
		return nil, err
	}
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list claims")
	}
	return out, nil
}

func (s *Service) scope(ctx context.Context, actor access.Actor, status models.Status) (store.ListFilter, error) {
	filter := store.ListFilter{Status: status}
	switch {
	case actor.Superuser || actor.Is(viewRoles...):
	case actor.Role == access.RoleHospital:
		if actor.HospitalID.IsNil() {
			return filter, dErrors.New(dErrors.CodeForbidden, "account is not linked to a hospital")
		}
		filter.HospitalID = actor.HospitalID
	default:
		ids, err := s.clients.ClientIDsForAgent(ctx, actor.UserID)
		if err != nil {
			return filter, err
		}
		filter.Scoped = true
		filter.ClientIDs = ids
	}
	return filter, nil
}

func (s *Service) emit(ctx context.Context, actor access.Actor, c *models.Claim, event audit.AuditEvent, from, to, reason string) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Emit(ctx, audit.Event{
		ActorID:   actor.UserID,
		ActorRole: string(actor.Role),
		Subject:   c.Subject(),
		Action:    string(event),
		FromState: from,
		ToState:   to,
		Reason:    strings.TrimSpace(reason),
		Detail:    c.ClaimNumber + " " + c.Amount.String(),
	})
}

func wrapErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "claim not found")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "claim store failure")
	}
}

func toValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	return err
}
