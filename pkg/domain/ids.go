// Package domain holds the typed identifiers and value primitives shared by every module.
//
// Entities are keyed by surrogate int64 identifiers. Each entity gets its own named type so
// a ClaimID can never be passed where a PolicyID is expected.
package domain

import (
	"strconv"
	"strings"

	dErrors "insureflow/pkg/domain-errors"
)

type (
	UserID          int64
	ClientID        int64
	PolicyID        int64
	InsuredPersonID int64
	HospitalID      int64
	AssignmentID    int64
	ClaimID         int64
	TaskID          int64
)

// maxIDLength bounds decimal input before parsing; int64 fits in 19 digits.
const maxIDLength = 19

func parseID(kind, s string) (int64, error) {
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > maxIDLength {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if strings.TrimSpace(s) != s || strings.HasPrefix(s, "+") {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return v, nil
}

func ParseUserID(s string) (UserID, error) {
	v, err := parseID("user id", s)
	return UserID(v), err
}

func ParseClientID(s string) (ClientID, error) {
	v, err := parseID("client id", s)
	return ClientID(v), err
}

func ParsePolicyID(s string) (PolicyID, error) {
	v, err := parseID("policy id", s)
	return PolicyID(v), err
}

func ParseInsuredPersonID(s string) (InsuredPersonID, error) {
	v, err := parseID("insured person id", s)
	return InsuredPersonID(v), err
}

func ParseHospitalID(s string) (HospitalID, error) {
	v, err := parseID("hospital id", s)
	return HospitalID(v), err
}

func ParseAssignmentID(s string) (AssignmentID, error) {
	v, err := parseID("assignment id", s)
	return AssignmentID(v), err
}

func ParseClaimID(s string) (ClaimID, error) {
	v, err := parseID("claim id", s)
	return ClaimID(v), err
}

func ParseTaskID(s string) (TaskID, error) {
	v, err := parseID("task id", s)
	return TaskID(v), err
}

func (id UserID) IsNil() bool       { return id == 0 }
func (id ClientID) IsNil() bool     { return id == 0 }
func (id PolicyID) IsNil() bool     { return id == 0 }
func (id HospitalID) IsNil() bool   { return id == 0 }
func (id AssignmentID) IsNil() bool { return id == 0 }
func (id ClaimID) IsNil() bool      { return id == 0 }
func (id TaskID) IsNil() bool       { return id == 0 }

func (id InsuredPersonID) IsNil() bool { return id == 0 }

func (id UserID) String() string          { return strconv.FormatInt(int64(id), 10) }
func (id ClientID) String() string        { return strconv.FormatInt(int64(id), 10) }
func (id PolicyID) String() string        { return strconv.FormatInt(int64(id), 10) }
func (id InsuredPersonID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id HospitalID) String() string      { return strconv.FormatInt(int64(id), 10) }
func (id AssignmentID) String() string    { return strconv.FormatInt(int64(id), 10) }
func (id ClaimID) String() string         { return strconv.FormatInt(int64(id), 10) }
func (id TaskID) String() string          { return strconv.FormatInt(int64(id), 10) }
