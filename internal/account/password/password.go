// Package password hashes and verifies account passwords with bcrypt.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	dErrors "insureflow/pkg/domain-errors"
)

// MinLength is the shortest password accepted for new credentials.
const MinLength = 8

// dummyHash is compared against when the account does not exist so unknown and known
// emails take similar time.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("insureflow-dummy-password"), bcrypt.DefaultCost)

// Hash validates and hashes a new password.
func Hash(plain string) (string, error) {
	if len(plain) < MinLength {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("password must be at least %d characters", MinLength))
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeValidation, "password is too long")
		}
		return "", fmt.Errorf("could not hash password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plain matches hash. Mismatches are not errors.
func Verify(plain, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("could not verify password: %w", err)
}

// VerifyDummy burns one comparison. Used on lookups that found no account.
func VerifyDummy(plain string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(plain))
}
