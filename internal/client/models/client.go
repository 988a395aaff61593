package models

import (
	"strconv"
	"strings"
	"time"

	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/email"
)

// Status is the biometric verification state of a client.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusFailed:
		return true
	}
	return false
}

// Client is a registered customer. The biometric template is stored sealed and never
// serialized.
type Client struct {
	ID                   id.ClientID `json:"id"`
	FirstName            string      `json:"first_name"`
	LastName             string      `json:"last_name"`
	Email                string      `json:"email"`
	Phone                string      `json:"phone"`
	Address              string      `json:"address"`
	NationalID           string      `json:"national_id"`
	SealedTemplate       []byte      `json:"-"`
	FingerprintVerified  bool        `json:"fingerprint_verified"`
	Status               Status      `json:"status"`
	ComplianceVerified   bool        `json:"compliance_verified"`
	ComplianceNotes      string      `json:"compliance_notes,omitempty"`
	ComplianceVerifiedAt *time.Time  `json:"compliance_verified_at,omitempty"`
	Active               bool        `json:"is_active"`
	AgentID              id.UserID   `json:"agent_id,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// Details are the identity fields captured at registration.
type Details struct {
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	Address    string
	NationalID string
}

// NewClient validates details and builds a pending, active client.
func NewClient(d Details, agentID id.UserID, now time.Time) (*Client, error) {
	d.FirstName = strings.TrimSpace(d.FirstName)
	d.LastName = strings.TrimSpace(d.LastName)
	d.NationalID = strings.TrimSpace(d.NationalID)
	d.Email = email.Normalize(d.Email)

	var missing []string
	if d.FirstName == "" {
		missing = append(missing, "first_name")
	}
	if d.LastName == "" {
		missing = append(missing, "last_name")
	}
	if d.Email == "" {
		missing = append(missing, "email")
	}
	if d.NationalID == "" {
		missing = append(missing, "national_id")
	}
	if len(missing) > 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "missing required fields: "+strings.Join(missing, ", "))
	}
	if !email.IsValid(d.Email) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "email is not valid")
	}
	return &Client{
		FirstName:  d.FirstName,
		LastName:   d.LastName,
		Email:      d.Email,
		Phone:      strings.TrimSpace(d.Phone),
		Address:    strings.TrimSpace(d.Address),
		NationalID: d.NationalID,
		Status:     StatusPending,
		Active:     true,
		AgentID:    agentID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (c *Client) FullName() string {
	return c.FirstName + " " + c.LastName
}

func (c *Client) HasTemplate() bool {
	return len(c.SealedTemplate) > 0
}

// Enroll stores a sealed template captured in person. Enrollment counts as a match.
func (c *Client) Enroll(sealed []byte, now time.Time) {
	c.SealedTemplate = sealed
	c.FingerprintVerified = true
	c.Status = StatusVerified
	c.UpdatedAt = now
}

// RecordVerification applies the outcome of the latest match attempt and returns the
// previous status.
func (c *Client) RecordVerification(matched bool, now time.Time) Status {
	from := c.Status
	c.FingerprintVerified = matched
	if matched {
		c.Status = StatusVerified
	} else {
		c.Status = StatusFailed
	}
	c.UpdatedAt = now
	return from
}

// ApplyComplianceVerification reports whether the flag changed.
func (c *Client) ApplyComplianceVerification(notes string, now time.Time) bool {
	if c.ComplianceVerified {
		return false
	}
	c.ComplianceVerified = true
	c.ComplianceNotes = strings.TrimSpace(notes)
	at := now
	c.ComplianceVerifiedAt = &at
	c.UpdatedAt = now
	return true
}

// Deactivate soft-deletes the client. It reports whether the flag changed.
func (c *Client) Deactivate(now time.Time) bool {
	if !c.Active {
		return false
	}
	c.Active = false
	c.UpdatedAt = now
	return true
}

func (c *Client) Subject() string {
	return "client:" + strconv.FormatInt(int64(c.ID), 10)
}
