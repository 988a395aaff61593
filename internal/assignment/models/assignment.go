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
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusClaimed, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Assignment routes a client's policy to a hospital.
//
// Invariants:
//   - (ClientID, PolicyID, HospitalID) is unique
//   - transitions: pending -> accepted|rejected, accepted -> claimed, claimed -> completed
//   - completion requires compliance approval
//   - ClaimID is set exactly when the status is claimed or completed
type Assignment struct {
	ID                 id.AssignmentID `json:"id"`
	ClientID           id.ClientID     `json:"client_id"`
	PolicyID           id.PolicyID     `json:"policy_id"`
	HospitalID         id.HospitalID   `json:"hospital_id"`
	AssignedBy         id.UserID       `json:"assigned_by,omitempty"`
	Status             Status          `json:"status"`
	ComplianceApproved bool            `json:"compliance_approved"`
	ComplianceNotes    string          `json:"compliance_notes,omitempty"`
	ClaimID            id.ClaimID      `json:"claim_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func NewAssignment(clientID id.ClientID, policyID id.PolicyID, hospitalID id.HospitalID, assignedBy id.UserID, now time.Time) (*Assignment, error) {
	if clientID.IsNil() || policyID.IsNil() || hospitalID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "client, policy and hospital are required")
	}
	return &Assignment{
		ClientID:   clientID,
		PolicyID:   policyID,
		HospitalID: hospitalID,
		AssignedBy: assignedBy,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Matches reports whether the assignment covers the given tuple.
func (a *Assignment) Matches(clientID id.ClientID, policyID id.PolicyID, hospitalID id.HospitalID) bool {
	return a.ClientID == clientID && a.PolicyID == policyID && a.HospitalID == hospitalID
}

func (a *Assignment) Accept(now time.Time) error {
	return a.transition(StatusPending, StatusAccepted, now)
}

func (a *Assignment) Reject(now time.Time) error {
	return a.transition(StatusPending, StatusRejected, now)
}

// MarkClaimed links the claim filed against an accepted assignment.
func (a *Assignment) MarkClaimed(claimID id.ClaimID, now time.Time) error {
	if claimID.IsNil() {
		return dErrors.New(dErrors.CodeInvariantViolation, "claim id is required")
	}
	if err := a.transition(StatusAccepted, StatusClaimed, now); err != nil {
		return err
	}
	a.ClaimID = claimID
	return nil
}

func (a *Assignment) Complete(now time.Time) error {
	if a.Status != StatusClaimed {
		return stateError(a.Status, StatusCompleted)
	}
	if !a.ComplianceApproved {
		return dErrors.New(dErrors.CodeComplianceRequired, "assignment requires compliance approval before completion")
	}
	return a.transition(StatusClaimed, StatusCompleted, now)
}

// ApproveCompliance reports whether anything changed.
func (a *Assignment) ApproveCompliance(notes string, now time.Time) bool {
	if a.ComplianceApproved {
		return false
	}
	a.ComplianceApproved = true
	a.ComplianceNotes = strings.TrimSpace(notes)
	a.UpdatedAt = now
	return true
}

func (a *Assignment) transition(from, to Status, now time.Time) error {
	if a.Status != from {
		return stateError(a.Status, to)
	}
	a.Status = to
	a.UpdatedAt = now
	return nil
}

func stateError(from, to Status) error {
	return dErrors.New(dErrors.CodeInvalidState, "cannot move assignment from "+string(from)+" to "+string(to))
}

func (a *Assignment) Subject() string {
	return "assignment:" + strconv.FormatInt(int64(a.ID), 10)
}
