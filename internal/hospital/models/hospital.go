package models

import (
	"strings"
	"time"

	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
)

// Hospital is a care provider that may receive assignments and file claims.
//
// Invariants:
//   - Name is non-empty
//   - Verified and ComplianceApproved only ever move from false to true
type Hospital struct {
	ID                 id.HospitalID `json:"id"`
	Name               string        `json:"name"`
	Address            string        `json:"address"`
	Email              string        `json:"email"`
	Phone              string        `json:"phone"`
	Verified           bool          `json:"is_verified"`
	ComplianceApproved bool          `json:"compliance_approved"`
	ComplianceNotes    string        `json:"compliance_notes,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

func NewHospital(name, address, email, phone string, now time.Time) (*Hospital, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "hospital name cannot be empty")
	}
	return &Hospital{
		Name:      name,
		Address:   strings.TrimSpace(address),
		Email:     strings.TrimSpace(email),
		Phone:     strings.TrimSpace(phone),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ApplyVerification marks the hospital verified. Reports whether anything changed.
func (h *Hospital) ApplyVerification(now time.Time) bool {
	if h.Verified {
		return false
	}
	h.Verified = true
	h.UpdatedAt = now
	return true
}

// ApplyComplianceApproval records compliance sign-off. Reports whether anything changed.
func (h *Hospital) ApplyComplianceApproval(notes string, now time.Time) bool {
	if h.ComplianceApproved {
		return false
	}
	h.ComplianceApproved = true
	h.ComplianceNotes = strings.TrimSpace(notes)
	h.UpdatedAt = now
	return true
}

// Subject is the audit subject for this hospital.
func (h *Hospital) Subject() string {
	return "hospital:" + h.ID.String()
}
