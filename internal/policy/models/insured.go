package models

import (
	"strings"
	"time"

	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
)

// AdultAge is the age from which an insured person needs their own biometric.
const AdultAge = 18

// InsuredPerson is a person covered by a policy, such as a dependant.
type InsuredPerson struct {
	ID                  id.InsuredPersonID `json:"id"`
	PolicyID            id.PolicyID        `json:"policy_id"`
	FullName            string             `json:"full_name"`
	Relationship        string             `json:"relationship"`
	Gender              string             `json:"gender,omitempty"`
	DateOfBirth         id.Date            `json:"date_of_birth"`
	SealedTemplate      []byte             `json:"-"`
	FingerprintVerified bool               `json:"fingerprint_verified"`
	CreatedAt           time.Time          `json:"created_at"`
}

func NewInsuredPerson(policyID id.PolicyID, fullName, relationship, gender string, dob id.Date, today id.Date, now time.Time) (*InsuredPerson, error) {
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "full_name is required")
	}
	if dob.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "date_of_birth is required")
	}
	if err := checkPersonal(dob, gender, today); err != nil {
		return nil, err
	}
	return &InsuredPerson{
		PolicyID:     policyID,
		FullName:     fullName,
		Relationship: strings.TrimSpace(relationship),
		Gender:       gender,
		DateOfBirth:  dob,
		CreatedAt:    now,
	}, nil
}

func checkPersonal(dob id.Date, gender string, today id.Date) error {
	if dob.After(today) {
		return dErrors.New(dErrors.CodeInvariantViolation, "date_of_birth is in the future")
	}
	switch gender {
	case "", "male", "female", "other":
	default:
		return dErrors.New(dErrors.CodeInvariantViolation, "unknown gender: "+gender)
	}
	return nil
}

// Edit holds replacement values for an insured person. Empty fields keep the current value.
type Edit struct {
	FullName     string
	Relationship string
	Gender       string
	DateOfBirth  id.Date
}

// ApplyEdit validates and applies e. Reports whether anything changed. An enrolled
// biometric is kept even when the new date of birth makes the person a minor.
func (p *InsuredPerson) ApplyEdit(e Edit, today id.Date) (bool, error) {
	next := *p
	if name := strings.TrimSpace(e.FullName); name != "" {
		next.FullName = name
	}
	if rel := strings.TrimSpace(e.Relationship); rel != "" {
		next.Relationship = rel
	}
	if e.Gender != "" {
		next.Gender = e.Gender
	}
	if !e.DateOfBirth.IsZero() {
		next.DateOfBirth = e.DateOfBirth
	}
	if err := checkPersonal(next.DateOfBirth, next.Gender, today); err != nil {
		return false, err
	}
	changed := next.FullName != p.FullName || next.Relationship != p.Relationship ||
		next.Gender != p.Gender || !next.DateOfBirth.Equal(p.DateOfBirth)
	*p = next
	return changed, nil
}

// Age is evaluated on today, never cached.
func (p *InsuredPerson) Age(today id.Date) int {
	return p.DateOfBirth.YearsSince(today)
}

func (p *InsuredPerson) IsAdult(today id.Date) bool {
	return p.Age(today) >= AdultAge
}

// EnrollTemplate stores a sealed template. Only adults carry their own biometric.
func (p *InsuredPerson) EnrollTemplate(sealed []byte, today id.Date) error {
	if !p.IsAdult(today) {
		return dErrors.New(dErrors.CodeInvariantViolation, "biometric enrollment is only allowed for adults")
	}
	p.SealedTemplate = sealed
	p.FingerprintVerified = true
	return nil
}

// CanBeClaimedFor reports whether a claim may reference this person on today.
func (p *InsuredPerson) CanBeClaimedFor(today id.Date) bool {
	return !p.IsAdult(today) || p.FingerprintVerified
}
