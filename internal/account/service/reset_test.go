package service

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"insureflow/internal/access"
	"insureflow/internal/account/lockout"
	"insureflow/internal/platform/ephemeral"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/tx"
	"insureflow/pkg/requestcontext"
)

// otherCode returns a six-digit code guaranteed to differ from code.
func otherCode(code string, offset int) string {
	n, _ := strconv.Atoi(code)
	return fmt.Sprintf("%06d", (n+offset)%1_000_000)
}

func (s *ServiceSuite) guardedResetService(maxAttempts int) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(s.store, tx.NewMemoryRunner(), access.NewGate(logger), s.tokens,
		WithLogger(logger),
		WithPasswordReset(ephemeral.NewMemoryStore(), s.sender, 10*time.Minute),
		WithLoginGuard(lockout.NewGuard(lockout.NewMemoryCounter(), maxAttempts, time.Minute)),
	)
}

func (s *ServiceSuite) TestPasswordResetFlow() {
	s.createAgent("reset@example.com")

	s.Require().NoError(s.svc.RequestPasswordReset(s.ctx, "Reset@Example.com"))
	s.Require().Len(s.sender.sent, 1)
	s.Equal("reset@example.com", s.sender.sent[0].To)
	code := s.sender.lastCode()
	s.Require().Len(code, 6)
	s.Contains(s.sender.sent[0].Body, "10 minutes")

	s.Run("wrong code does not burn the real one", func() {
		wrong := "000000"
		if code == wrong {
			wrong = "111111"
		}
		err := s.svc.ResetPassword(s.ctx, "reset@example.com", wrong, "new-password")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("correct code resets once", func() {
		s.Require().NoError(s.svc.ResetPassword(s.ctx, "reset@example.com", code, "new-password"))
		_, err := s.svc.Login(s.ctx, "reset@example.com", "new-password")
		s.NoError(err)

		err = s.svc.ResetPassword(s.ctx, "reset@example.com", code, "third-password")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Contains(s.audit.Actions(), "password_reset_issued")
	s.Contains(s.audit.Actions(), "password_reset_completed")
}

func (s *ServiceSuite) TestPasswordResetCodeExpires() {
	s.createAgent("slow@example.com")
	s.Require().NoError(s.svc.RequestPasswordReset(s.ctx, "slow@example.com"))
	code := s.sender.lastCode()

	late := requestcontext.WithTime(s.ctx, s.now.Add(10*time.Minute+time.Second))
	err := s.svc.ResetPassword(late, "slow@example.com", code, "new-password")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestPasswordResetReissueRevokesPrevious() {
	s.createAgent("twice@example.com")
	s.Require().NoError(s.svc.RequestPasswordReset(s.ctx, "twice@example.com"))
	first := s.sender.lastCode()
	s.Require().NoError(s.svc.RequestPasswordReset(s.ctx, "twice@example.com"))
	second := s.sender.lastCode()

	if first != second {
		err := s.svc.ResetPassword(s.ctx, "twice@example.com", first, "new-password")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	}
	s.NoError(s.svc.ResetPassword(s.ctx, "twice@example.com", second, "new-password"))
}

func (s *ServiceSuite) TestPasswordResetUnknownEmailReportsSuccess() {
	s.NoError(s.svc.RequestPasswordReset(s.ctx, "nobody@example.com"))
	s.Empty(s.sender.sent)
}

func (s *ServiceSuite) TestPasswordResetSendFailureIsNotFatal() {
	s.createAgent("offline@example.com")
	s.sender.err = errBrokerDown
	s.NoError(s.svc.RequestPasswordReset(s.ctx, "offline@example.com"))
}

func (s *ServiceSuite) TestResetRejectsWeakPasswordBeforeConsuming() {
	s.createAgent("weak@example.com")
	s.Require().NoError(s.svc.RequestPasswordReset(s.ctx, "weak@example.com"))
	code := s.sender.lastCode()

	err := s.svc.ResetPassword(s.ctx, "weak@example.com", code, "short")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.NoError(s.svc.ResetPassword(s.ctx, "weak@example.com", code, "long-enough"))
}

func (s *ServiceSuite) TestResetLocksAfterRepeatedWrongCodes() {
	s.createAgent("guessed@example.com")
	svc := s.guardedResetService(3)
	s.Require().NoError(svc.RequestPasswordReset(s.ctx, "guessed@example.com"))
	code := s.sender.lastCode()

	for i := 1; i <= 3; i++ {
		err := svc.ResetPassword(s.ctx, "guessed@example.com", otherCode(code, i), "new-password")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	}

	err := svc.ResetPassword(s.ctx, "GUESSED@example.com", code, "new-password")
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited), "the real code is refused while locked")

	_, err = svc.Login(s.ctx, "guessed@example.com", "initial-pass")
	s.NoError(err, "reset failures do not lock logins")
}

func (s *ServiceSuite) TestResetSuccessClearsFailures() {
	s.createAgent("recovered@example.com")
	svc := s.guardedResetService(3)
	s.Require().NoError(svc.RequestPasswordReset(s.ctx, "recovered@example.com"))
	code := s.sender.lastCode()

	for i := 1; i <= 2; i++ {
		err := svc.ResetPassword(s.ctx, "recovered@example.com", otherCode(code, i), "new-password")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	}
	s.Require().NoError(svc.ResetPassword(s.ctx, "recovered@example.com", code, "new-password"))

	s.Require().NoError(svc.RequestPasswordReset(s.ctx, "recovered@example.com"))
	next := s.sender.lastCode()
	for i := 1; i <= 2; i++ {
		err := svc.ResetPassword(s.ctx, "recovered@example.com", otherCode(next, i), "third-password")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	}
	s.NoError(svc.ResetPassword(s.ctx, "recovered@example.com", next, "third-password"))
}
