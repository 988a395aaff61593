// Package service implements the hospital assignment broker.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"insureflow/internal/access"
	"insureflow/internal/assignment/models"
	"insureflow/internal/assignment/store"
	hospitalmodels "insureflow/internal/hospital/models"
	policymodels "insureflow/internal/policy/models"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/audit"
	"insureflow/pkg/platform/sentinel"
	"insureflow/pkg/platform/tx"
	"insureflow/pkg/requestcontext"
)

var assignmentsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "insureflow_assignments_created_total",
	Help: "Hospital assignments created",
})

type Store interface {
	CreateOrGet(ctx context.Context, a *models.Assignment) (*models.Assignment, bool, error)
	FindByID(ctx context.Context, assignmentID id.AssignmentID) (*models.Assignment, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.Assignment, error)
	Execute(ctx context.Context, assignmentID id.AssignmentID, mutate func(*models.Assignment) error) (*models.Assignment, error)
}

type Policies interface {
	Lookup(ctx context.Context, policyID id.PolicyID) (*policymodels.Policy, error)
}

type Hospitals interface {
	FindVerified(ctx context.Context, hospitalID id.HospitalID) (*hospitalmodels.Hospital, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

var (
	assignRoles     = []access.Role{access.RoleAdmin, access.RoleFinanceOfficer}
	respondRoles    = []access.Role{access.RoleHospital}
	completeRoles   = []access.Role{access.RoleAdmin, access.RoleFinanceOfficer, access.RoleHospital}
	complianceRoles = []access.Role{access.RoleAdmin, access.RoleComplianceOfficer}
	// viewRoles see every assignment. Hospitals see their own.
	viewRoles = []access.Role{
		access.RoleAdmin, access.RoleFinanceOfficer, access.RoleComplianceOfficer, access.RoleClaimOfficer,
	}
	readRoles = []access.Role{
		access.RoleAdmin, access.RoleFinanceOfficer, access.RoleComplianceOfficer, access.RoleClaimOfficer,
		access.RoleHospital,
	}
)

// Service brokers policies to hospitals.
type Service struct {
	store     Store
	runner    tx.Runner
	gate      *access.Gate
	policies  Policies
	hospitals Hospitals
	audit     AuditPublisher
	logger    *slog.Logger
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

func New(store Store, runner tx.Runner, gate *access.Gate, policies Policies, hospitals Hospitals, opts ...Option) *Service {
	s := &Service{
		store:     store,
		runner:    runner,
		gate:      gate,
		policies:  policies,
		hospitals: hospitals,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type AssignRequest struct {
	ClientID   id.ClientID
	PolicyID   id.PolicyID
	HospitalID id.HospitalID
}

// Assign routes a policy to a hospital. Assigning the same tuple again returns the
// existing record with created=false.
func (s *Service) Assign(ctx context.Context, actor access.Actor, req AssignRequest) (*models.Assignment, bool, error) {
	if err := s.gate.Authorize(ctx, actor, "assign hospital", assignRoles...); err != nil {
		return nil, false, err
	}
	now := requestcontext.Now(ctx)
	a, err := models.NewAssignment(req.ClientID, req.PolicyID, req.HospitalID, actor.UserID, now)
	if err != nil {
		return nil, false, toValidation(err)
	}

	p, err := s.policies.Lookup(ctx, req.PolicyID)
	if err != nil {
		return nil, false, err
	}
	if p.ClientID != req.ClientID {
		return nil, false, dErrors.New(dErrors.CodeValidation, "policy does not belong to the client")
	}
	if status := p.Status(id.DateOf(now)); status != policymodels.StatusActive {
		return nil, false, dErrors.New(dErrors.CodeInvalidState, "policy is "+string(status))
	}
	if _, err := s.hospitals.FindVerified(ctx, req.HospitalID); err != nil {
		return nil, false, err
	}

	var out *models.Assignment
	var created bool
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		out, created, err = s.store.CreateOrGet(ctx, a)
		if err != nil {
			return wrapErr(err)
		}
		if !created {
			return nil
		}
		return s.emit(ctx, actor, out, audit.EventAssignmentCreated, "", string(out.Status), "")
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		assignmentsCreated.Inc()
		s.logger.InfoContext(ctx, "assignment created",
			"request_id", requestcontext.RequestID(ctx),
			"assignment_id", out.ID,
			"policy_id", out.PolicyID,
			"hospital_id", out.HospitalID,
		)
	}
	return out, created, nil
}

// Accept is done by the assigned hospital.
func (s *Service) Accept(ctx context.Context, actor access.Actor, assignmentID id.AssignmentID) (*models.Assignment, error) {
	if err := s.gate.Authorize(ctx, actor, "accept assignment", respondRoles...); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	return s.transition(ctx, actor, assignmentID, audit.EventAssignmentAccepted, "", func(a *models.Assignment) error {
		if err := ownHospital(actor, a); err != nil {
			return err
		}
		return a.Accept(now)
	})
}

// Reject is done by the assigned hospital.
func (s *Service) Reject(ctx context.Context, actor access.Actor, assignmentID id.AssignmentID, reason string) (*models.Assignment, error) {
	if err := s.gate.Authorize(ctx, actor, "reject assignment", respondRoles...); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	return s.transition(ctx, actor, assignmentID, audit.EventAssignmentRejected, reason, func(a *models.Assignment) error {
		if err := ownHospital(actor, a); err != nil {
			return err
		}
		return a.Reject(now)
	})
}

// ClaimLink identifies the claim being filed and the tuple it was filed for.
type ClaimLink struct {
	ClaimID    id.ClaimID
	ClientID   id.ClientID
	PolicyID   id.PolicyID
	HospitalID id.HospitalID
}

// CheckClaimable verifies that a claim for the tuple may be filed against the assignment.
func (s *Service) CheckClaimable(ctx context.Context, assignmentID id.AssignmentID, link ClaimLink) error {
	a, err := s.store.FindByID(ctx, assignmentID)
	if err != nil {
		return wrapErr(err)
	}
	return claimable(a, link)
}

// MarkClaimed moves an accepted assignment to claimed and links the claim. It joins the
// caller's transaction so the claim insert and the assignment update commit together.
func (s *Service) MarkClaimed(ctx context.Context, actor access.Actor, assignmentID id.AssignmentID, link ClaimLink) (*models.Assignment, error) {
	now := requestcontext.Now(ctx)
	return s.transition(ctx, actor, assignmentID, audit.EventAssignmentClaimed, "claim:"+link.ClaimID.String(), func(a *models.Assignment) error {
		if err := claimable(a, link); err != nil {
			return err
		}
		return a.MarkClaimed(link.ClaimID, now)
	})
}

func claimable(a *models.Assignment, link ClaimLink) error {
	if !a.Matches(link.ClientID, link.PolicyID, link.HospitalID) {
		return dErrors.New(dErrors.CodeValidation, "assignment does not match the claim's client, policy and hospital")
	}
	if a.Status != models.StatusAccepted {
		return dErrors.New(dErrors.CodeInvalidState, "assignment is "+string(a.Status)+", not accepted")
	}
	return nil
}

// Complete closes a claimed assignment. It requires compliance approval.
func (s *Service) Complete(ctx context.Context, actor access.Actor, assignmentID id.AssignmentID) (*models.Assignment, error) {
	if err := s.gate.Authorize(ctx, actor, "complete assignment", completeRoles...); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	return s.transition(ctx, actor, assignmentID, audit.EventAssignmentCompleted, "", func(a *models.Assignment) error {
		if actor.Role == access.RoleHospital {
			if err := ownHospital(actor, a); err != nil {
				return err
			}
		}
		return a.Complete(now)
	})
}

// ApproveCompliance is idempotent.
func (s *Service) ApproveCompliance(ctx context.Context, actor access.Actor, assignmentID id.AssignmentID, notes string) (*models.Assignment, error) {
	if err := s.gate.Authorize(ctx, actor, "approve assignment compliance", complianceRoles...); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	var out *models.Assignment
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		changed := false
		a, err := s.store.Execute(ctx, assignmentID, func(a *models.Assignment) error {
			changed = a.ApproveCompliance(notes, now)
			return nil
		})
		if err != nil {
			return wrapErr(err)
		}
		out = a
		if !changed {
			return nil
		}
		return s.emit(ctx, actor, a, audit.EventAssignmentComplianceApproved, "", "", notes)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) transition(ctx context.Context, actor access.Actor, assignmentID id.AssignmentID, event audit.AuditEvent, reason string, apply func(*models.Assignment) error) (*models.Assignment, error) {
	var out *models.Assignment
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var from models.Status
		a, err := s.store.Execute(ctx, assignmentID, func(a *models.Assignment) error {
			from = a.Status
			return apply(a)
		})
		if err != nil {
			return wrapErr(err)
		}
		out = a
		return s.emit(ctx, actor, a, event, string(from), string(a.Status), reason)
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "assignment transitioned",
		"request_id", requestcontext.RequestID(ctx),
		"assignment_id", out.ID,
		"status", out.Status,
	)
	return out, nil
}

func ownHospital(actor access.Actor, a *models.Assignment) error {
	if actor.ActsFor(a.HospitalID) {
		return nil
	}
	return dErrors.New(dErrors.CodeForbidden, "only the assigned hospital may act on this assignment")
}

// Get returns an assignment the actor may see.
func (s *Service) Get(ctx context.Context, actor access.Actor, assignmentID id.AssignmentID) (*models.Assignment, error) {
	if err := s.gate.Authorize(ctx, actor, "view assignment", readRoles...); err != nil {
		return nil, err
	}
	a, err := s.store.FindByID(ctx, assignmentID)
	if err != nil {
		return nil, wrapErr(err)
	}
	if !actor.Superuser && !actor.Is(viewRoles...) && !actor.ActsFor(a.HospitalID) {
		return nil, dErrors.New(dErrors.CodeNotFound, "assignment not found")
	}
	return a, nil
}

// List returns the visible assignments, optionally filtered by status.
func (s *Service) List(ctx context.Context, actor access.Actor, status models.Status) ([]*models.Assignment, error) {
	if err := s.gate.Authorize(ctx, actor, "list assignments", readRoles...); err != nil {
		return nil, err
	}
	if status != "" && !status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown status: "+string(status))
	}
	filter := store.ListFilter{Status: status}
	if !actor.Superuser && !actor.Is(viewRoles...) {
		if actor.HospitalID.IsNil() {
			return nil, dErrors.New(dErrors.CodeForbidden, "account is not linked to a hospital")
		}
		filter.HospitalID = actor.HospitalID
	}
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list assignments")
	}
	return out, nil
}

func (s *Service) emit(ctx context.Context, actor access.Actor, a *models.Assignment, event audit.AuditEvent, from, to, reason string) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Emit(ctx, audit.Event{
		ActorID:   actor.UserID,
		ActorRole: string(actor.Role),
		Subject:   a.Subject(),
		Action:    string(event),
		FromState: from,
		ToState:   to,
		Reason:    strings.TrimSpace(reason),
		Detail:    "policy:" + a.PolicyID.String() + " hospital:" + a.HospitalID.String(),
	})
}

func wrapErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "assignment not found")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "assignment store failure")
	}
}

func toValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	return err
}
