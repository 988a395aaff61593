package models

import (
	"strconv"
	"strings"
	"time"

	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusReimbursed Status = "reimbursed"
)

// WorkflowPendingCompliance is reported while the compliance flag is unset.
const WorkflowPendingCompliance = "pending_compliance_approval"

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusReimbursed:
		return true
	}
	return false
}

// Claim is a reimbursement request filed by a hospital.
//
// Invariants:
//   - Amount is positive
//   - transitions: pending -> approved|rejected, approved -> rejected|reimbursed
//   - approval requires compliance approval
//   - ClaimNumber is globally unique
type Claim struct {
	ID                 id.ClaimID         `json:"id"`
	ClaimNumber        string             `json:"claim_number"`
	ClientID           id.ClientID        `json:"client_id"`
	PolicyID           id.PolicyID        `json:"policy_id"`
	HospitalID         id.HospitalID      `json:"hospital_id"`
	AssignmentID       id.AssignmentID    `json:"assignment_id,omitempty"`
	InsuredPersonID    id.InsuredPersonID `json:"insured_person_id,omitempty"`
	Amount             id.Amount          `json:"amount"`
	Notes              string             `json:"notes,omitempty"`
	Status             Status             `json:"status"`
	ComplianceApproved bool               `json:"compliance_approved"`
	ComplianceNotes    string             `json:"compliance_notes,omitempty"`
	SubmittedBy        id.UserID          `json:"submitted_by,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Filing identifies what a claim is filed against.
type Filing struct {
	ClientID        id.ClientID
	PolicyID        id.PolicyID
	HospitalID      id.HospitalID
	AssignmentID    id.AssignmentID
	InsuredPersonID id.InsuredPersonID
	Amount          id.Amount
	Notes           string
}

func NewClaim(number string, f Filing, submittedBy id.UserID, now time.Time) (*Claim, error) {
	if number == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "claim number is required")
	}
	if f.ClientID.IsNil() || f.PolicyID.IsNil() || f.HospitalID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client, policy and hospital are required")
	}
	if !f.Amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "amount must be greater than zero")
	}
	return &Claim{
		ClaimNumber:     number,
		ClientID:        f.ClientID,
		PolicyID:        f.PolicyID,
		HospitalID:      f.HospitalID,
		AssignmentID:    f.AssignmentID,
		InsuredPersonID: f.InsuredPersonID,
		Amount:          f.Amount,
		Notes:           strings.TrimSpace(f.Notes),
		Status:          StatusPending,
		SubmittedBy:     submittedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// WorkflowStatus is derived: compliance review comes before any status.
func (c *Claim) WorkflowStatus() string {
	if !c.ComplianceApproved {
		return WorkflowPendingCompliance
	}
	return string(c.Status)
}

// ApproveCompliance reports whether anything changed.
func (c *Claim) ApproveCompliance(notes string, now time.Time) bool {
	if c.ComplianceApproved {
		return false
	}
	c.ComplianceApproved = true
	c.ComplianceNotes = strings.TrimSpace(notes)
	c.UpdatedAt = now
	return true
}

// Approve moves a compliance-approved pending claim to approved. Approving an approved
// claim reports changed=false.
func (c *Claim) Approve(now time.Time) (bool, error) {
	if !c.ComplianceApproved {
		return false, dErrors.New(dErrors.CodeComplianceRequired, "claim requires compliance approval before it can be approved")
	}
	switch c.Status {
	case StatusApproved:
		return false, nil
	case StatusPending:
		c.set(StatusApproved, now)
		return true, nil
	}
	return false, stateError(c.Status, StatusApproved)
}

// Reject moves a pending or approved claim to rejected. Rejecting twice reports
// changed=false. Reimbursed claims cannot be rejected.
func (c *Claim) Reject(notes string, now time.Time) (bool, error) {
	switch c.Status {
	case StatusRejected:
		return false, nil
	case StatusPending, StatusApproved:
		c.set(StatusRejected, now)
		if notes = strings.TrimSpace(notes); notes != "" {
			c.Notes = strings.TrimSpace(c.Notes + "\n" + notes)
		}
		return true, nil
	}
	return false, stateError(c.Status, StatusRejected)
}

func (c *Claim) Reimburse(now time.Time) error {
	if c.Status != StatusApproved {
		return stateError(c.Status, StatusReimbursed)
	}
	c.set(StatusReimbursed, now)
	return nil
}

// Override sets any status. Reports whether anything changed.
func (c *Claim) Override(to Status, now time.Time) (bool, error) {
	if !to.IsValid() {
		return false, dErrors.New(dErrors.CodeInvariantViolation, "unknown claim status: "+string(to))
	}
	if c.Status == to {
		return false, nil
	}
	c.set(to, now)
	return true, nil
}

func (c *Claim) set(to Status, now time.Time) {
	c.Status = to
	c.UpdatedAt = now
}

func stateError(from, to Status) error {
	return dErrors.New(dErrors.CodeInvalidState, "cannot move claim from "+string(from)+" to "+string(to))
}

func (c *Claim) Subject() string {
	return "claim:" + strconv.FormatInt(int64(c.ID), 10)
}

// View is the read model carrying the derived workflow status.
type View struct {
	*Claim
	WorkflowStatus string `json:"workflow_status"`
}

func (c *Claim) View() View {
	return View{Claim: c, WorkflowStatus: c.WorkflowStatus()}
}

// Stats aggregates claims by status.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	// Revenue is the sum of approved and reimbursed amounts.
	Revenue id.Amount `json:"revenue"`
	Pending id.Amount `json:"pending_amount"`
}

// Add folds count claims of status totalling amount into s.
func (s *Stats) Add(status Status, count int, amount id.Amount) {
	if s.ByStatus == nil {
		s.ByStatus = make(map[Status]int)
	}
	s.Total += count
	s.ByStatus[status] += count
	switch status {
	case StatusApproved, StatusReimbursed:
		s.Revenue += amount
	case StatusPending:
		s.Pending += amount
	}
}
