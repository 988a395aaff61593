package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"insureflow/internal/access"
	"insureflow/internal/account/password"
	"insureflow/internal/notify"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/email"
	"insureflow/pkg/platform/audit"
	"insureflow/pkg/platform/sentinel"
	"insureflow/pkg/requestcontext"
)

const resetCodeDigits = 6

var errInvalidResetCode = dErrors.New(dErrors.CodeValidation, "invalid or expired reset code")

// Reset codes live under two keys: the code key maps to the user id and is taken exactly
// once; the pointer key remembers the live code so a new request can revoke it.
func resetPointerKey(address string) string { return "pwreset:" + address }

func resetCodeKey(address, code string) string { return "pwreset:" + address + ":" + code }

// resetGuardKey keeps reset-code failures apart from login failures in the shared guard.
func resetGuardKey(address string) string { return "reset:" + address }

var errResetLocked = dErrors.New(dErrors.CodeRateLimited, "too many invalid reset codes, request a new code later")

// RequestPasswordReset issues a one-time code for address. It reports success whether or
// not the account exists.
func (s *Service) RequestPasswordReset(ctx context.Context, address string) error {
	if s.codes == nil || s.sender == nil {
		return dErrors.New(dErrors.CodeInternal, "password reset is not configured")
	}
	address = email.Normalize(address)
	u, err := s.store.FindByEmail(ctx, address)
	if err != nil || !u.Active {
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.ErrorContext(ctx, "password reset lookup failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		return nil
	}

	if prev, err := s.codes.Take(ctx, resetPointerKey(address)); err == nil {
		_ = s.codes.Delete(ctx, resetCodeKey(address, string(prev)))
	}

	code, err := generateCode()
	if err != nil {
		s.logger.ErrorContext(ctx, "password reset code generation failed", "error", err)
		return nil
	}
	if err := s.codes.Put(ctx, resetCodeKey(address, code), []byte(u.ID.String()), s.resetTTL); err != nil {
		s.logger.ErrorContext(ctx, "password reset code not stored",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", u.ID,
			"error", err,
		)
		return nil
	}
	if err := s.codes.Put(ctx, resetPointerKey(address), []byte(code), s.resetTTL); err != nil {
		s.logger.WarnContext(ctx, "password reset pointer not stored", "user_id", u.ID, "error", err)
	}

	msg := notify.Email{
		To:      u.Email,
		Subject: "Your InsureFlow password reset code",
		Body: fmt.Sprintf("Hello %s,\n\nYour password reset code is %s. It expires in %d minutes and can be used once.\n",
			u.Name, code, int(s.resetTTL.Minutes())),
		Kind: notify.KindPasswordReset,
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "password reset email not sent",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", u.ID,
			"error", dErrors.Wrap(err, dErrors.CodeUnavailable, "notification service unavailable"),
		)
	}
	_ = s.emit(ctx, access.Actor{UserID: u.ID, Role: u.Role}, u, audit.EventPasswordResetIssued, "")
	return nil
}

// ResetPassword consumes code and sets a new password. A wrong code leaves the live one
// usable.
func (s *Service) ResetPassword(ctx context.Context, address, code, newPassword string) error {
	if s.codes == nil {
		return dErrors.New(dErrors.CodeInternal, "password reset is not configured")
	}
	if len(code) != resetCodeDigits {
		return errInvalidResetCode
	}
	hash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}
	address = email.Normalize(address)
	if s.locked(ctx, resetGuardKey(address)) {
		return errResetLocked
	}

	raw, err := s.codes.Take(ctx, resetCodeKey(address, code))
	if errors.Is(err, sentinel.ErrNotFound) {
		s.resetFailed(ctx, address)
		return errInvalidResetCode
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "reset code store unavailable")
	}
	_ = s.codes.Delete(ctx, resetPointerKey(address))
	if s.guard != nil {
		if err := s.guard.Clear(ctx, resetGuardKey(address)); err != nil {
			s.logger.WarnContext(ctx, "failed to clear reset failures", "error", err)
		}
	}

	uid, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "corrupt reset code entry")
	}
	userID := id.UserID(uid)
	return s.replacePassword(ctx, access.Actor{UserID: userID}, userID, hash, "reset code")
}

// resetFailed counts a wrong code. The failure that locks the address also burns its live
// code, so guessing resumes only against a freshly issued one.
func (s *Service) resetFailed(ctx context.Context, address string) {
	if s.guard == nil {
		return
	}
	locked, err := s.guard.RecordFailure(ctx, resetGuardKey(address))
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record reset failure", "error", err)
		return
	}
	if !locked {
		return
	}
	if live, err := s.codes.Take(ctx, resetPointerKey(address)); err == nil {
		_ = s.codes.Delete(ctx, resetCodeKey(address, string(live)))
	}
	s.logger.WarnContext(ctx, "password reset locked after repeated invalid codes",
		"request_id", requestcontext.RequestID(ctx),
		"client_ip", requestcontext.ClientIP(ctx),
	)
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", resetCodeDigits, n.Int64()), nil
}
