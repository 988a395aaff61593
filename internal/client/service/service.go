// Package service implements the client registry: onboarding, biometric enrollment and
// identity verification against the stored template.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"insureflow/internal/access"
	"insureflow/internal/biometric"
	"insureflow/internal/client/models"
	"insureflow/internal/client/store"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/audit"
	"insureflow/pkg/platform/sentinel"
	"insureflow/pkg/platform/tx"
	"insureflow/pkg/requestcontext"
)

type Store interface {
	Create(ctx context.Context, c *models.Client) error
	FindByID(ctx context.Context, clientID id.ClientID) (*models.Client, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.Client, error)
	Execute(ctx context.Context, clientID id.ClientID, validate func(*models.Client) error, mutate func(*models.Client)) (*models.Client, error)
}

// Sealer encrypts templates at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Capturer reads a live template from the scanner. ok is false on any failure.
type Capturer interface {
	RequestTemplate(ctx context.Context) (biometric.Template, bool)
}

// ProofIssuer matches a probe and issues a single-use proof bound to (client, hospital).
type ProofIssuer interface {
	ConfirmMatch(ctx context.Context, clientID id.ClientID, hospitalID id.HospitalID, stored, probe biometric.Template) (string, biometric.Verdict, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

var (
	registerRoles   = []access.Role{access.RoleAdmin, access.RoleAgent}
	enrollRoles     = []access.Role{access.RoleAdmin, access.RoleAgent, access.RoleHospital}
	verifyRoles     = []access.Role{access.RoleHospital, access.RoleAdmin}
	complianceRoles = []access.Role{access.RoleAdmin, access.RoleComplianceOfficer}
	deactivateRoles = []access.Role{access.RoleAdmin}
	// viewRoles read any client. Agents read only the clients they registered.
	viewRoles = []access.Role{
		access.RoleAdmin, access.RoleClaimOfficer, access.RoleFinanceOfficer,
		access.RoleReportOfficer, access.RoleComplianceOfficer, access.RoleHospital,
	}
	readRoles = []access.Role{
		access.RoleAdmin, access.RoleClaimOfficer, access.RoleFinanceOfficer,
		access.RoleReportOfficer, access.RoleComplianceOfficer, access.RoleHospital, access.RoleAgent,
	}
)

// Service manages clients.
type Service struct {
	store    Store
	runner   tx.Runner
	gate     *access.Gate
	sealer   Sealer
	capturer Capturer
	proofs   ProofIssuer
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

// WithBiometrics enables live capture and identity verification.
func WithBiometrics(capturer Capturer, proofs ProofIssuer) Option {
	return func(s *Service) {
		s.capturer = capturer
		s.proofs = proofs
	}
}

func New(store Store, runner tx.Runner, gate *access.Gate, sealer Sealer, opts ...Option) *Service {
	s := &Service{store: store, runner: runner, gate: gate, sealer: sealer, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRequest carries identity details and an optional enrollment template.
type RegisterRequest struct {
	Details  models.Details
	Template biometric.Template
}

// Register onboards a client. A supplied template enrolls the client as verified.
func (s *Service) Register(ctx context.Context, actor access.Actor, req RegisterRequest) (*models.Client, error) {
	if err := s.gate.Authorize(ctx, actor, "register client", registerRoles...); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	c, err := models.NewClient(req.Details, actor.UserID, now)
	if err != nil {
		return nil, toValidation(err)
	}
	if len(req.Template) > 0 {
		sealed, err := s.sealer.Seal(req.Template)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal template")
		}
		c.Enroll(sealed, now)
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, c); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create client")
		}
		return s.emit(ctx, actor, c, audit.EventClientRegistered, "", string(c.Status), "")
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "client registered",
		"request_id", requestcontext.RequestID(ctx),
		"client_id", c.ID,
		"status", c.Status,
	)
	return c, nil
}

// AttachTemplate enrolls a template for an existing client, replacing any previous one.
func (s *Service) AttachTemplate(ctx context.Context, actor access.Actor, clientID id.ClientID, template biometric.Template) (*models.Client, error) {
	if err := s.gate.Authorize(ctx, actor, "attach client template", enrollRoles...); err != nil {
		return nil, err
	}
	if len(template) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "template is required")
	}
	sealed, err := s.sealer.Seal(template)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal template")
	}
	now := requestcontext.Now(ctx)

	var out *models.Client
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var from models.Status
		c, err := s.store.Execute(ctx, clientID,
			func(c *models.Client) error { return s.checkWritable(actor, c) },
			func(c *models.Client) {
				from = c.Status
				c.Enroll(sealed, now)
			},
		)
		if err != nil {
			return wrapErr(err)
		}
		out = c
		return s.emit(ctx, actor, c, audit.EventClientTemplateAttached, string(from), string(c.Status), "")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CaptureTemplate reads a template from the scanner and enrolls it.
func (s *Service) CaptureTemplate(ctx context.Context, actor access.Actor, clientID id.ClientID) (*models.Client, error) {
	if err := s.gate.Authorize(ctx, actor, "attach client template", enrollRoles...); err != nil {
		return nil, err
	}
	if s.capturer == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "fingerprint capture is not configured")
	}
	template, ok := s.capturer.RequestTemplate(ctx)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnavailable, "fingerprint capture failed")
	}
	return s.AttachTemplate(ctx, actor, clientID, template)
}

// VerifyRequest identifies the client, the hospital the proof is for and the probe. An
// empty probe is captured live.
type VerifyRequest struct {
	ClientID   id.ClientID
	HospitalID id.HospitalID
	Probe      biometric.Template
}

// VerifyResult carries the match outcome and, on success, the proof token a claim
// submission must present.
type VerifyResult struct {
	Client     *models.Client    `json:"client"`
	Matched    bool              `json:"matched"`
	Outcome    biometric.Verdict `json:"outcome"`
	ProofToken string            `json:"proof_token,omitempty"`
}

// VerifyIdentity matches a probe against the stored template. The latest decided attempt
// sets the client verified or failed; when the matcher is unavailable the status is left
// alone and CodeUnavailable is returned.
func (s *Service) VerifyIdentity(ctx context.Context, actor access.Actor, req VerifyRequest) (*VerifyResult, error) {
	if err := s.gate.Authorize(ctx, actor, "verify client identity", verifyRoles...); err != nil {
		return nil, err
	}
	if s.proofs == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "biometric verification is not configured")
	}
	hospitalID, err := proofHospital(actor, req.HospitalID)
	if err != nil {
		return nil, err
	}

	c, err := s.store.FindByID(ctx, req.ClientID)
	if err != nil {
		return nil, wrapErr(err)
	}
	if !c.Active {
		return nil, dErrors.New(dErrors.CodeInvalidState, "client is inactive")
	}
	if !c.HasTemplate() {
		return nil, dErrors.New(dErrors.CodeValidation, "client has no enrolled fingerprint")
	}
	stored, err := s.sealer.Open(c.SealedTemplate)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to open stored template")
	}

	probe := req.Probe
	if len(probe) == 0 {
		if s.capturer == nil {
			return nil, dErrors.New(dErrors.CodeValidation, "probe template is required")
		}
		var ok bool
		if probe, ok = s.capturer.RequestTemplate(ctx); !ok {
			return nil, dErrors.New(dErrors.CodeUnavailable, "fingerprint capture failed")
		}
	}

	token, verdict, err := s.proofs.ConfirmMatch(ctx, c.ID, hospitalID, stored, probe)
	if err != nil {
		return nil, err
	}
	if verdict == biometric.VerdictUnavailable {
		s.logger.WarnContext(ctx, "client identity undecided, biometric service unavailable",
			"request_id", requestcontext.RequestID(ctx),
			"client_id", c.ID,
			"hospital_id", hospitalID,
		)
		return nil, dErrors.New(dErrors.CodeUnavailable, "biometric service unavailable, try again later")
	}
	matched := verdict == biometric.VerdictMatched

	now := requestcontext.Now(ctx)
	event := audit.EventClientIdentityFailed
	if matched {
		event = audit.EventClientIdentityVerified
	}
	var out *models.Client
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var from models.Status
		updated, err := s.store.Execute(ctx, c.ID,
			func(*models.Client) error { return nil },
			func(c *models.Client) { from = c.RecordVerification(matched, now) },
		)
		if err != nil {
			return wrapErr(err)
		}
		out = updated
		return s.emit(ctx, actor, updated, event, string(from), string(updated.Status), "hospital:"+hospitalID.String())
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "client identity checked",
		"request_id", requestcontext.RequestID(ctx),
		"client_id", c.ID,
		"hospital_id", hospitalID,
		"matched", matched,
	)
	return &VerifyResult{Client: out, Matched: matched, Outcome: verdict, ProofToken: token}, nil
}

// proofHospital resolves the hospital a verification proof is bound to. Hospital accounts
// always verify for their own hospital.
func proofHospital(actor access.Actor, requested id.HospitalID) (id.HospitalID, error) {
	if actor.Role == access.RoleHospital && !actor.Superuser {
		if actor.HospitalID.IsNil() {
			return 0, dErrors.New(dErrors.CodeForbidden, "account is not linked to a hospital")
		}
		if !requested.IsNil() && requested != actor.HospitalID {
			return 0, dErrors.New(dErrors.CodeForbidden, "hospital accounts may only verify for their own hospital")
		}
		return actor.HospitalID, nil
	}
	if requested.IsNil() {
		return 0, dErrors.New(dErrors.CodeValidation, "hospital_id is required")
	}
	return requested, nil
}

// VerifyCompliance records the compliance check. Verifying twice is a no-op.
func (s *Service) VerifyCompliance(ctx context.Context, actor access.Actor, clientID id.ClientID, notes string) (*models.Client, error) {
	if err := s.gate.Authorize(ctx, actor, "verify client compliance", complianceRoles...); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	return s.update(ctx, actor, clientID, audit.EventClientComplianceVerified, notes, func(c *models.Client) bool {
		return c.ApplyComplianceVerification(notes, now)
	})
}

// Deactivate soft-deletes a client. Records are never removed.
func (s *Service) Deactivate(ctx context.Context, actor access.Actor, clientID id.ClientID) (*models.Client, error) {
	if err := s.gate.Authorize(ctx, actor, "deactivate client", deactivateRoles...); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	return s.update(ctx, actor, clientID, audit.EventClientDeactivated, "", func(c *models.Client) bool {
		return c.Deactivate(now)
	})
}

func (s *Service) update(ctx context.Context, actor access.Actor, clientID id.ClientID, event audit.AuditEvent, reason string, apply func(*models.Client) bool) (*models.Client, error) {
	var out *models.Client
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		changed := false
		c, err := s.store.Execute(ctx, clientID,
			func(*models.Client) error { return nil },
			func(c *models.Client) { changed = apply(c) },
		)
		if err != nil {
			return wrapErr(err)
		}
		out = c
		if !changed {
			return nil
		}
		return s.emit(ctx, actor, c, event, "", "", reason)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a client the actor may see.
func (s *Service) Get(ctx context.Context, actor access.Actor, clientID id.ClientID) (*models.Client, error) {
	if err := s.gate.Authorize(ctx, actor, "view client", readRoles...); err != nil {
		return nil, err
	}
	c, err := s.store.FindByID(ctx, clientID)
	if err != nil {
		return nil, wrapErr(err)
	}
	if !canSee(actor, c) {
		return nil, dErrors.New(dErrors.CodeNotFound, "client not found")
	}
	return c, nil
}

// List returns the clients visible to actor, optionally filtered by status.
func (s *Service) List(ctx context.Context, actor access.Actor, status models.Status) ([]*models.Client, error) {
	if err := s.gate.Authorize(ctx, actor, "list clients", readRoles...); err != nil {
		return nil, err
	}
	if status != "" && !status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown status: "+string(status))
	}
	filter := store.ListFilter{Status: status}
	if !actor.Superuser && !actor.Is(viewRoles...) {
		filter.AgentID = actor.UserID
	}
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list clients")
	}
	return out, nil
}

// Lookup resolves a client for other modules without role scoping.
func (s *Service) Lookup(ctx context.Context, clientID id.ClientID) (*models.Client, error) {
	c, err := s.store.FindByID(ctx, clientID)
	if err != nil {
		return nil, wrapErr(err)
	}
	return c, nil
}

func canSee(actor access.Actor, c *models.Client) bool {
	if actor.Superuser || actor.Is(viewRoles...) {
		return true
	}
	return actor.Role == access.RoleAgent && c.AgentID == actor.UserID
}

func (s *Service) checkWritable(actor access.Actor, c *models.Client) error {
	if !canSee(actor, c) {
		return sentinel.ErrNotFound
	}
	if !c.Active {
		return dErrors.New(dErrors.CodeInvalidState, "client is inactive")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, actor access.Actor, c *models.Client, event audit.AuditEvent, from, to, reason string) error {
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
		Detail:    c.FullName(),
	})
}

func wrapErr(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "client not found")
	case dErrors.CodeOf(err) != dErrors.CodeInternal:
		return err
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "client store failure")
	}
}

func toValidation(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	return err
}

// ClientIDsForAgent lists the clients an agent registered. Policy and claim listings use it
// to scope agents to their own book.
func (s *Service) ClientIDsForAgent(ctx context.Context, agentID id.UserID) ([]id.ClientID, error) {
	clients, err := s.store.List(ctx, store.ListFilter{AgentID: agentID})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list agent clients")
	}
	out := make([]id.ClientID, len(clients))
	for i, c := range clients {
		out[i] = c.ID
	}
	return out, nil
}
