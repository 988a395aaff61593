package models

import (
	"strconv"
	"strings"
	"time"

	"insureflow/internal/access"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/email"
)

// User is a back-office or hospital account.
type User struct {
	ID           id.UserID     `json:"id"`
	Email        string        `json:"email"`
	Name         string        `json:"name"`
	PasswordHash string        `json:"-"`
	Role         access.Role   `json:"role"`
	Superuser    bool          `json:"is_superuser"`
	Active       bool          `json:"is_active"`
	HospitalID   id.HospitalID `json:"hospital_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NewUser builds an active account. The email is normalized and the name falls back to one
// derived from the email.
func NewUser(address, name, passwordHash string, role access.Role, now time.Time) (*User, error) {
	address = email.Normalize(address)
	if !email.IsValid(address) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "a valid email is required")
	}
	if !role.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown role: "+string(role))
	}
	if passwordHash == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "password hash is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email.DisplayName(address)
	}
	return &User{
		Email:        address,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Actor is the principal this account authenticates as.
func (u *User) Actor() access.Actor {
	return access.Actor{
		UserID:     u.ID,
		Role:       u.Role,
		Superuser:  u.Superuser,
		HospitalID: u.HospitalID,
	}
}

// SetActive reports whether the flag changed.
func (u *User) SetActive(active bool, now time.Time) bool {
	if u.Active == active {
		return false
	}
	u.Active = active
	u.UpdatedAt = now
	return true
}

func (u *User) SetPasswordHash(hash string, now time.Time) {
	u.PasswordHash = hash
	u.UpdatedAt = now
}

func (u *User) Subject() string {
	return "user:" + strconv.FormatInt(int64(u.ID), 10)
}
