package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"insureflow/internal/access"
	"insureflow/internal/account/lockout"
	"insureflow/internal/account/revocation"
	"insureflow/internal/account/store"
	"insureflow/internal/account/token"
	"insureflow/internal/notify"
	"insureflow/internal/platform/ephemeral"
	dErrors "insureflow/pkg/domain-errors"
	auditpublisher "insureflow/pkg/platform/audit/publisher"
	auditmemory "insureflow/pkg/platform/audit/store/memory"
	"insureflow/pkg/platform/tx"
	"insureflow/pkg/requestcontext"
)

type recordingSender struct {
	sent []notify.Email
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg notify.Email) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

var codePattern = regexp.MustCompile(`code is (\d{6})`)

func (r *recordingSender) lastCode() string {
	if len(r.sent) == 0 {
		return ""
	}
	m := codePattern.FindStringSubmatch(r.sent[len(r.sent)-1].Body)
	if m == nil {
		return ""
	}
	return m[1]
}

type ServiceSuite struct {
	suite.Suite
	store   *store.InMemoryStore
	audit   *auditmemory.InMemoryStore
	tokens  *token.Service
	revoked *revocation.MemoryList
	sender  *recordingSender
	svc     *Service
	admin   access.Actor
	ctx     context.Context
	now     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = store.NewInMemoryStore()
	s.audit = auditmemory.NewInMemoryStore()
	s.now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s.revoked = revocation.NewMemoryList()
	s.tokens = token.NewService("test-signing-key-that-is-long-enough!!", "insureflow", time.Hour,
		token.WithClock(func() time.Time { return s.now }),
		token.WithRevocations(s.revoked))
	s.sender = &recordingSender{}
	s.svc = New(s.store, tx.NewMemoryRunner(), access.NewGate(logger), s.tokens,
		WithLogger(logger),
		WithAuditPublisher(auditpublisher.NewPublisher(s.audit, auditpublisher.WithLogger(logger))),
		WithPasswordReset(ephemeral.NewMemoryStore(), s.sender, 10*time.Minute),
		WithTokenRevocation(s.revoked, time.Hour),
	)
	s.admin = access.Actor{UserID: 900, Role: access.RoleAdmin}
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) createAgent(address string) {
	_, err := s.svc.CreateUser(s.ctx, s.admin, CreateUserRequest{
		Email: address, Password: "initial-pass", Role: "agent",
	})
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestCreateUser() {
	s.Run("admin creates user with role", func() {
		u, err := s.svc.CreateUser(s.ctx, s.admin, CreateUserRequest{
			Email: "Claims.Lead@Example.com", Password: "sufficient", Role: "claim_officer",
		})
		s.Require().NoError(err)
		s.Equal("claims.lead@example.com", u.Email)
		s.Equal(access.RoleClaimOfficer, u.Role)
		s.Contains(s.audit.Actions(), "user_created")
	})

	s.Run("empty role defaults to policyholder", func() {
		u, err := s.svc.CreateUser(s.ctx, s.admin, CreateUserRequest{Email: "holder@example.com", Password: "sufficient"})
		s.Require().NoError(err)
		s.Equal(access.RolePolicyholder, u.Role)
	})

	s.Run("duplicate email conflicts", func() {
		_, err := s.svc.CreateUser(s.ctx, s.admin, CreateUserRequest{Email: "holder@example.com", Password: "sufficient"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("non-admin is forbidden", func() {
		_, err := s.svc.CreateUser(s.ctx, access.Actor{UserID: 3, Role: access.RoleAgent}, CreateUserRequest{
			Email: "x@example.com", Password: "sufficient",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		_, err = s.store.FindByEmail(s.ctx, "x@example.com")
		s.Error(err)
	})

	s.Run("hospital role is reserved for hospital registration", func() {
		_, err := s.svc.CreateUser(s.ctx, s.admin, CreateUserRequest{Email: "h@example.com", Password: "sufficient", Role: "hospital"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("weak password is rejected", func() {
		_, err := s.svc.CreateUser(s.ctx, s.admin, CreateUserRequest{Email: "weak@example.com", Password: "short"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestProvisionHospitalAccount() {
	userID, err := s.svc.ProvisionHospitalAccount(s.ctx, "desk@hospital.test", "Front Desk", "sufficient", 5)
	s.Require().NoError(err)

	u, err := s.store.FindByID(s.ctx, userID)
	s.Require().NoError(err)
	s.Equal(access.RoleHospital, u.Role)
	s.True(u.Actor().ActsFor(5))
}

func (s *ServiceSuite) TestLogin() {
	s.createAgent("agent@example.com")
	ctx := requestcontext.WithClientMetadata(s.ctx, "10.0.0.7",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	s.Run("valid credentials issue a token", func() {
		res, err := s.svc.Login(ctx, "AGENT@example.com", "initial-pass")
		s.Require().NoError(err)
		s.Equal("Bearer", res.TokenType)
		s.Equal(s.now.Add(time.Hour), res.ExpiresAt)

		claims, err := s.tokens.ValidateToken(res.AccessToken)
		s.Require().NoError(err)
		s.Equal(access.RoleAgent, claims.Actor().Role)
		s.Contains(s.audit.Actions(), "login_succeeded")
	})

	s.Run("wrong password is unauthorized", func() {
		_, err := s.svc.Login(ctx, "agent@example.com", "nope-nope")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("unknown account looks the same", func() {
		_, err := s.svc.Login(ctx, "ghost@example.com", "initial-pass")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.Equal("invalid email or password", dErrors.MessageOf(err))
	})

	s.Run("suspended account is rejected", func() {
		u, _ := s.store.FindByEmail(s.ctx, "agent@example.com")
		_, err := s.svc.Suspend(s.ctx, s.admin, u.ID)
		s.Require().NoError(err)

		_, err = s.svc.Login(ctx, "agent@example.com", "initial-pass")
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *ServiceSuite) TestLoginLockout() {
	s.createAgent("locked@example.com")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(s.store, tx.NewMemoryRunner(), access.NewGate(logger), s.tokens,
		WithLogger(logger),
		WithLoginGuard(lockout.NewGuard(lockout.NewMemoryCounter(), 2, time.Minute)),
	)

	_, err := svc.Login(s.ctx, "locked@example.com", "initial-pass")
	s.Require().NoError(err)

	for i := 0; i < 2; i++ {
		_, err = svc.Login(s.ctx, "locked@example.com", "wrong-pass")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	}

	_, err = svc.Login(s.ctx, "LOCKED@example.com", "initial-pass")
	s.True(dErrors.HasCode(err, dErrors.CodeRateLimited), "correct password is refused while locked")
}

func (s *ServiceSuite) TestLoginSuccessClearsFailures() {
	s.createAgent("clumsy@example.com")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(s.store, tx.NewMemoryRunner(), access.NewGate(logger), s.tokens,
		WithLogger(logger),
		WithLoginGuard(lockout.NewGuard(lockout.NewMemoryCounter(), 2, time.Minute)),
	)

	_, err := svc.Login(s.ctx, "clumsy@example.com", "wrong-pass")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	_, err = svc.Login(s.ctx, "clumsy@example.com", "initial-pass")
	s.Require().NoError(err)
	_, err = svc.Login(s.ctx, "clumsy@example.com", "wrong-pass")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = svc.Login(s.ctx, "clumsy@example.com", "initial-pass")
	s.NoError(err)
}

func (s *ServiceSuite) TestSuspendAndActivate() {
	s.createAgent("toggle@example.com")
	u, _ := s.store.FindByEmail(s.ctx, "toggle@example.com")

	suspended, err := s.svc.Suspend(s.ctx, s.admin, u.ID)
	s.Require().NoError(err)
	s.False(suspended.Active)

	before := len(s.audit.Actions())
	_, err = s.svc.Suspend(s.ctx, s.admin, u.ID)
	s.Require().NoError(err)
	s.Len(s.audit.Actions(), before, "suspending twice emits nothing")

	active, err := s.svc.Activate(s.ctx, s.admin, u.ID)
	s.Require().NoError(err)
	s.True(active.Active)

	_, err = s.svc.Suspend(s.ctx, s.admin, s.admin.UserID)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ServiceSuite) TestSuspendRevokesIssuedTokens() {
	s.createAgent("revoked@example.com")
	u, _ := s.store.FindByEmail(s.ctx, "revoked@example.com")

	res, err := s.svc.Login(s.ctx, "revoked@example.com", "initial-pass")
	s.Require().NoError(err)
	_, err = s.tokens.ValidateActor(s.ctx, res.AccessToken)
	s.Require().NoError(err)

	s.now = s.now.Add(5 * time.Second)
	later := requestcontext.WithTime(context.Background(), s.now)
	_, err = s.svc.Suspend(later, s.admin, u.ID)
	s.Require().NoError(err)

	_, err = s.tokens.ValidateActor(later, res.AccessToken)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized), "token issued before suspension is rejected")

	s.now = s.now.Add(5 * time.Second)
	later = requestcontext.WithTime(context.Background(), s.now)
	_, err = s.svc.Activate(later, s.admin, u.ID)
	s.Require().NoError(err)
	_, err = s.tokens.ValidateActor(later, res.AccessToken)
	s.Error(err, "reactivation does not revive old tokens")

	fresh, err := s.svc.Login(later, "revoked@example.com", "initial-pass")
	s.Require().NoError(err)
	_, err = s.tokens.ValidateActor(later, fresh.AccessToken)
	s.NoError(err)
}

func (s *ServiceSuite) TestSetPasswordRevokesIssuedTokens() {
	s.createAgent("rotated@example.com")
	u, _ := s.store.FindByEmail(s.ctx, "rotated@example.com")
	res, err := s.svc.Login(s.ctx, "rotated@example.com", "initial-pass")
	s.Require().NoError(err)

	s.now = s.now.Add(time.Minute)
	later := requestcontext.WithTime(context.Background(), s.now)
	s.Require().NoError(s.svc.SetPassword(later, s.admin, u.ID, "brand-new-pass"))

	_, err = s.tokens.ValidateActor(later, res.AccessToken)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestGetScopesToSelf() {
	s.createAgent("self@example.com")
	u, _ := s.store.FindByEmail(s.ctx, "self@example.com")
	self := u.Actor()

	got, err := s.svc.Get(s.ctx, self, u.ID)
	s.Require().NoError(err)
	s.Equal(u.ID, got.ID)

	_, err = s.svc.Get(s.ctx, self, s.admin.UserID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestSetPassword() {
	s.createAgent("forgetful@example.com")
	u, _ := s.store.FindByEmail(s.ctx, "forgetful@example.com")

	s.Require().NoError(s.svc.SetPassword(s.ctx, s.admin, u.ID, "brand-new-pass"))
	_, err := s.svc.Login(s.ctx, "forgetful@example.com", "brand-new-pass")
	s.NoError(err)

	err = s.svc.SetPassword(s.ctx, u.Actor(), u.ID, "another-pass")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func TestDeviceLabel(t *testing.T) {
	assert.Equal(t, "unknown device", DeviceLabel(""))
	label := DeviceLabel("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	assert.Contains(t, label, "Chrome")
	assert.Contains(t, label, "Windows")
}

var errBrokerDown = errors.New("broker down")

func (s *ServiceSuite) TestStaffName() {
	staff, err := s.svc.CreateUser(s.ctx, s.admin, CreateUserRequest{
		Email: "dana@example.com", Name: "Dana Reyes", Password: "initial-pass", Role: "finance_officer",
	})
	s.Require().NoError(err)
	holder, err := s.svc.CreateUser(s.ctx, s.admin, CreateUserRequest{Email: "holder2@example.com", Password: "initial-pass"})
	s.Require().NoError(err)

	name, err := s.svc.StaffName(s.ctx, staff.ID)
	s.Require().NoError(err)
	s.Equal("Dana Reyes", name)

	_, err = s.svc.StaffName(s.ctx, holder.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.svc.StaffName(s.ctx, 424242)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.svc.Suspend(s.ctx, s.admin, staff.ID)
	s.Require().NoError(err)
	_, err = s.svc.StaffName(s.ctx, staff.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}
