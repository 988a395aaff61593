package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "insureflow/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and delivery guarantees.
type EventCategory string

const (
	// CategoryCompliance covers adjudication and compliance sign-offs.
	// These are fail-closed: the business operation fails if the event cannot be persisted.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers authentication and account events.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine record creation and status changes.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// ActorID is the user who performed the action.
	ActorID   id.UserID
	ActorRole string
	// Subject identifies the affected record, e.g. "claim:42".
	Subject   string
	Action    string
	FromState string
	ToState   string
	Reason    string
	RequestID string
	// Detail carries small free-form context (device label, claim number).
	Detail string
}

type AuditEvent string

const (
	// Account events
	EventUserCreated           AuditEvent = "user_created"
	EventUserSuspended         AuditEvent = "user_suspended"
	EventUserActivated         AuditEvent = "user_activated"
	EventLoginSucceeded        AuditEvent = "login_succeeded"
	EventLoginFailed           AuditEvent = "login_failed"
	EventPasswordResetIssued   AuditEvent = "password_reset_issued"
	EventPasswordResetComplete AuditEvent = "password_reset_completed"

	// Client events
	EventClientRegistered         AuditEvent = "client_registered"
	EventClientTemplateAttached   AuditEvent = "client_template_attached"
	EventClientIdentityVerified   AuditEvent = "client_identity_verified"
	EventClientIdentityFailed     AuditEvent = "client_identity_failed"
	EventClientComplianceVerified AuditEvent = "client_compliance_verified"
	EventClientDeactivated        AuditEvent = "client_deactivated"

	// Policy events
	EventPolicyIssued      AuditEvent = "policy_issued"
	EventPolicyDeactivated AuditEvent = "policy_deactivated"
	EventInsuredAdded      AuditEvent = "insured_person_added"
	EventInsuredUpdated    AuditEvent = "insured_person_updated"
	EventInsuredRemoved    AuditEvent = "insured_person_removed"

	// Hospital events
	EventHospitalRegistered         AuditEvent = "hospital_registered"
	EventHospitalVerified           AuditEvent = "hospital_verified"
	EventHospitalComplianceApproved AuditEvent = "hospital_compliance_approved"

	// Assignment events
	EventAssignmentCreated            AuditEvent = "assignment_created"
	EventAssignmentAccepted           AuditEvent = "assignment_accepted"
	EventAssignmentRejected           AuditEvent = "assignment_rejected"
	EventAssignmentClaimed            AuditEvent = "assignment_claimed"
	EventAssignmentCompleted          AuditEvent = "assignment_completed"
	EventAssignmentComplianceApproved AuditEvent = "assignment_compliance_approved"

	// Claim events
	EventClaimSubmitted          AuditEvent = "claim_submitted"
	EventClaimComplianceApproved AuditEvent = "claim_compliance_approved"
	EventClaimApproved           AuditEvent = "claim_approved"
	EventClaimRejected           AuditEvent = "claim_rejected"
	EventClaimReimbursed         AuditEvent = "claim_reimbursed"
	EventClaimStatusOverridden   AuditEvent = "claim_status_overridden"

	// Staff task events
	EventTaskCreated   AuditEvent = "task_created"
	EventTaskUpdated   AuditEvent = "task_updated"
	EventTaskCompleted AuditEvent = "task_completed"
	EventTaskDeleted   AuditEvent = "task_deleted"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventClientComplianceVerified:     CategoryCompliance,
	EventHospitalComplianceApproved:   CategoryCompliance,
	EventAssignmentComplianceApproved: CategoryCompliance,
	EventAssignmentCompleted:          CategoryCompliance,
	EventClaimComplianceApproved:      CategoryCompliance,
	EventClaimApproved:                CategoryCompliance,
	EventClaimRejected:                CategoryCompliance,
	EventClaimReimbursed:              CategoryCompliance,
	EventClaimStatusOverridden:        CategoryCompliance,

	EventUserCreated:           CategorySecurity,
	EventUserSuspended:         CategorySecurity,
	EventUserActivated:         CategorySecurity,
	EventLoginSucceeded:        CategorySecurity,
	EventLoginFailed:           CategorySecurity,
	EventPasswordResetIssued:   CategorySecurity,
	EventPasswordResetComplete: CategorySecurity,
	EventClientIdentityFailed:  CategorySecurity,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events. Implementations participate in the caller's transaction
// when one is present on ctx.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// OutboxEntry is a persisted event awaiting relay to the message broker.
type OutboxEntry struct {
	ID        uuid.UUID
	Subject   string
	Action    string
	Payload   []byte
	CreatedAt time.Time
}
