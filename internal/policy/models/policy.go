package models

import (
	"strconv"
	"strings"
	"time"

	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
)

type Type string

const (
	TypeIndividual Type = "individual"
	TypeFamily     Type = "family"
	TypeEmployer   Type = "employer"
	TypeNGO        Type = "ngo"
	TypeHealth     Type = "health"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeIndividual, TypeFamily, TypeEmployer, TypeNGO, TypeHealth:
		return true
	}
	return false
}

type PaymentMode string

const (
	PaymentAnnual     PaymentMode = "annual"
	PaymentSemiAnnual PaymentMode = "semi_annual"
	PaymentMonthly    PaymentMode = "monthly"
)

// Periods is the number of installments per policy year.
func (m PaymentMode) Periods() int {
	switch m {
	case PaymentSemiAnnual:
		return 2
	case PaymentMonthly:
		return 12
	default:
		return 1
	}
}

func (m PaymentMode) IsValid() bool {
	switch m {
	case PaymentAnnual, PaymentSemiAnnual, PaymentMonthly:
		return true
	}
	return false
}

type CoverageLevel string

const (
	CoverageBronze   CoverageLevel = "bronze"
	CoverageSilver   CoverageLevel = "silver"
	CoverageGold     CoverageLevel = "gold"
	CoveragePlatinum CoverageLevel = "platinum"
)

func (c CoverageLevel) IsValid() bool {
	switch c {
	case CoverageBronze, CoverageSilver, CoverageGold, CoveragePlatinum:
		return true
	}
	return false
}

// Status is derived at read time and never stored.
type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusInactive Status = "inactive"
)

// Terms are the commercial terms chosen when a policy is issued.
type Terms struct {
	Type              Type          `json:"policy_type"`
	PaymentMode       PaymentMode   `json:"payment_mode"`
	CoverageLevel     CoverageLevel `json:"coverage_level"`
	NRICOrPassport    string        `json:"nric_or_passport,omitempty"`
	CoverageDetails   string        `json:"coverage_details,omitempty"`
	Premium           id.Amount     `json:"premium"`
	StartDate         id.Date       `json:"start_date"`
	ExpiryDate        id.Date       `json:"expiry_date"`
	MaxClaim          id.Amount     `json:"max_claim_limit"`
	Deductible        id.Amount     `json:"deductible"`
	WaitingPeriodDays int           `json:"waiting_period_days"`
}

type Policy struct {
	ID           id.PolicyID `json:"id"`
	ClientID     id.ClientID `json:"client_id"`
	PolicyNumber string      `json:"policy_number"`
	Terms
	Active    bool      `json:"is_active"`
	CreatedBy id.UserID `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPolicy validates terms and builds an active policy. A zero expiry defaults to one
// year after the start date. Payment mode and coverage level default to annual and bronze.
func NewPolicy(clientID id.ClientID, number string, terms Terms, createdBy id.UserID, now time.Time) (*Policy, error) {
	if terms.PaymentMode == "" {
		terms.PaymentMode = PaymentAnnual
	}
	if terms.CoverageLevel == "" {
		terms.CoverageLevel = CoverageBronze
	}
	if !terms.Type.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown policy type: "+string(terms.Type))
	}
	if !terms.PaymentMode.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown payment mode: "+string(terms.PaymentMode))
	}
	if !terms.CoverageLevel.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown coverage level: "+string(terms.CoverageLevel))
	}
	if terms.StartDate.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "start_date is required")
	}
	if terms.ExpiryDate.IsZero() {
		terms.ExpiryDate = terms.StartDate.AddYears(1)
	}
	if !terms.ExpiryDate.After(terms.StartDate) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "expiry_date must be after start_date")
	}
	if terms.Premium < 0 || terms.MaxClaim < 0 || terms.Deductible < 0 || terms.WaitingPeriodDays < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "amounts and waiting period must not be negative")
	}
	terms.NRICOrPassport = strings.TrimSpace(terms.NRICOrPassport)
	terms.CoverageDetails = strings.TrimSpace(terms.CoverageDetails)
	return &Policy{
		ClientID:     clientID,
		PolicyNumber: number,
		Terms:        terms,
		Active:       true,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Status is expired once the expiry date has passed, whatever the stored flag says.
func (p *Policy) Status(today id.Date) Status {
	if p.ExpiryDate.Before(today) {
		return StatusExpired
	}
	if p.Active {
		return StatusActive
	}
	return StatusInactive
}

// DaysLeft is negative once the policy has expired.
func (p *Policy) DaysLeft(today id.Date) int {
	return today.DaysUntil(p.ExpiryDate)
}

func (p *Policy) ExpiredDays(today id.Date) int {
	if left := p.DaysLeft(today); left < 0 {
		return -left
	}
	return 0
}

// Installment is the premium split across the payment periods, rounded down to the cent.
func (p *Policy) Installment() id.Amount {
	return p.Premium / id.Amount(p.PaymentMode.Periods())
}

// WithinLimit reports whether amount fits the max claim limit. A zero limit is unlimited.
func (p *Policy) WithinLimit(amount id.Amount) bool {
	return p.MaxClaim <= 0 || amount <= p.MaxClaim
}

func (p *Policy) Deactivate(now time.Time) bool {
	if !p.Active {
		return false
	}
	p.Active = false
	p.UpdatedAt = now
	return true
}

func (p *Policy) Subject() string {
	return "policy:" + strconv.FormatInt(int64(p.ID), 10)
}

// View is the read model with status fields derived for a given day.
type View struct {
	*Policy
	Status      Status    `json:"status"`
	DaysLeft    int       `json:"days_left"`
	ExpiredDays int       `json:"expired_days"`
	Installment id.Amount `json:"installment"`
}

func (p *Policy) View(today id.Date) View {
	return View{
		Policy:      p,
		Status:      p.Status(today),
		DaysLeft:    p.DaysLeft(today),
		ExpiredDays: p.ExpiredDays(today),
		Installment: p.Installment(),
	}
}
