package service

import (
	"context"
	"errors"
	"time"

	"github.com/mssola/useragent"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"insureflow/internal/account/models"
	"insureflow/internal/account/password"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/email"
	"insureflow/pkg/platform/audit"
	"insureflow/pkg/platform/sentinel"
	"insureflow/pkg/requestcontext"
)

var loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "insureflow_login_attempts_total",
	Help: "Login attempts by outcome",
}, []string{"outcome"})

// LoginResult is returned on successful authentication.
type LoginResult struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *models.User `json:"user"`
}

var errInvalidCredentials = dErrors.New(dErrors.CodeUnauthorized, "invalid email or password")

// Login checks credentials and issues an access token.
func (s *Service) Login(ctx context.Context, address, plain string) (*LoginResult, error) {
	address = email.Normalize(address)
	device := DeviceLabel(requestcontext.UserAgent(ctx))

	if s.locked(ctx, address) {
		loginAttempts.WithLabelValues("locked").Inc()
		return nil, dErrors.New(dErrors.CodeRateLimited, "too many failed login attempts, try again later")
	}

	u, err := s.store.FindByEmail(ctx, address)
	if errors.Is(err, sentinel.ErrNotFound) {
		password.VerifyDummy(plain)
		s.loginFailed(ctx, address, nil, "unknown account", device)
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}

	ok, err := password.Verify(plain, u.PasswordHash)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify credentials")
	}
	if !ok {
		s.loginFailed(ctx, address, u, "wrong password", device)
		return nil, errInvalidCredentials
	}
	if !u.Active {
		s.loginFailed(ctx, address, u, "account suspended", device)
		return nil, dErrors.New(dErrors.CodeForbidden, "account is suspended")
	}

	token, expiresAt, err := s.tokens.Issue(u.Actor(), requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}

	if s.guard != nil {
		if err := s.guard.Clear(ctx, address); err != nil {
			s.logger.WarnContext(ctx, "failed to clear login failures", "error", err)
		}
	}
	loginAttempts.WithLabelValues("success").Inc()
	_ = s.emit(ctx, u.Actor(), u, audit.EventLoginSucceeded, loginDetail(ctx, device))
	s.logger.InfoContext(ctx, "login succeeded",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", u.ID,
		"role", u.Role,
		"device", device,
	)
	return &LoginResult{AccessToken: token, TokenType: "Bearer", ExpiresAt: expiresAt, User: u}, nil
}

// locked fails open: a broken counter must not block every login.
func (s *Service) locked(ctx context.Context, address string) bool {
	if s.guard == nil {
		return false
	}
	locked, err := s.guard.Locked(ctx, address)
	if err != nil {
		s.logger.WarnContext(ctx, "login lockout check failed", "error", err)
		return false
	}
	return locked
}

func (s *Service) loginFailed(ctx context.Context, address string, u *models.User, reason, device string) {
	loginAttempts.WithLabelValues("failure").Inc()
	s.logger.WarnContext(ctx, "login failed",
		"request_id", requestcontext.RequestID(ctx),
		"reason", reason,
		"client_ip", requestcontext.ClientIP(ctx),
	)
	if s.guard != nil {
		locked, err := s.guard.RecordFailure(ctx, address)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to record login failure", "error", err)
		}
		if locked {
			s.logger.WarnContext(ctx, "account locked after repeated login failures",
				"request_id", requestcontext.RequestID(ctx),
				"client_ip", requestcontext.ClientIP(ctx),
			)
		}
	}
	if s.audit == nil {
		return
	}
	event := audit.Event{
		Subject: "user:unknown",
		Action:  string(audit.EventLoginFailed),
		Reason:  reason,
		Detail:  loginDetail(ctx, device),
	}
	if u != nil {
		event.Subject = u.Subject()
		event.ActorID = u.ID
		event.ActorRole = string(u.Role)
	}
	_ = s.audit.Emit(ctx, event)
}

func loginDetail(ctx context.Context, device string) string {
	ip := requestcontext.ClientIP(ctx)
	if ip == "" {
		return device
	}
	return device + " from " + ip
}

// DeviceLabel summarizes a User-Agent header as "Browser version on OS".
func DeviceLabel(userAgent string) string {
	if userAgent == "" {
		return "unknown device"
	}
	ua := useragent.New(userAgent)
	if ua.Bot() {
		return "bot"
	}
	browser, version := ua.Browser()
	label := browser
	if version != "" {
		label += " " + version
	}
	if os := ua.OS(); os != "" {
		label += " on " + os
	}
	if ua.Mobile() {
		label += " (mobile)"
	}
	if label == "" {
		return "unknown device"
	}
	return label
}
