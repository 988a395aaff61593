package service

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"insureflow/internal/access"
	"insureflow/internal/biometric"
	"insureflow/internal/biometric/seal"
	clientmodels "insureflow/internal/client/models"
	clientservice "insureflow/internal/client/service"
	clientstore "insureflow/internal/client/store"
	"insureflow/internal/policy/models"
	"insureflow/internal/policy/store"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	auditpublisher "insureflow/pkg/platform/audit/publisher"
	auditmemory "insureflow/pkg/platform/audit/store/memory"
	"insureflow/pkg/platform/tx"
	"insureflow/pkg/requestcontext"
)

const testSealKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type ServiceSuite struct {
	suite.Suite
	clients *clientservice.Service
	store   *store.InMemoryStore
	audit   *auditmemory.InMemoryStore
	svc     *Service
	ctx     context.Context
	today   id.Date

	admin   access.Actor
	agent   access.Actor
	other   access.Actor
	finance access.Actor
	officer access.Actor
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.newService()
}

func (s *ServiceSuite) newService(opts ...Option) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sealer, err := seal.NewFromHex(testSealKey)
	s.Require().NoError(err)
	gate := access.NewGate(logger)
	runner := tx.NewMemoryRunner()

	s.clients = clientservice.New(clientstore.NewInMemoryStore(), runner, gate, sealer, clientservice.WithLogger(logger))
	s.store = store.NewInMemoryStore()
	s.audit = auditmemory.NewInMemoryStore()
	opts = append([]Option{
		WithLogger(logger),
		WithAuditPublisher(auditpublisher.NewPublisher(s.audit, auditpublisher.WithLogger(logger))),
	}, opts...)
	s.svc = New(s.store, runner, gate, s.clients, sealer, opts...)

	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), now)
	s.today = id.DateOf(now)
	s.admin = access.Actor{UserID: 1, Role: access.RoleAdmin}
	s.agent = access.Actor{UserID: 2, Role: access.RoleAgent}
	s.other = access.Actor{UserID: 3, Role: access.RoleAgent}
	s.finance = access.Actor{UserID: 4, Role: access.RoleFinanceOfficer}
	s.officer = access.Actor{UserID: 5, Role: access.RoleClaimOfficer}
}

func (s *ServiceSuite) client(owner access.Actor) *clientmodels.Client {
	c, err := s.clients.Register(s.ctx, owner, clientservice.RegisterRequest{Details: clientmodels.Details{
		FirstName: "Lena", LastName: "Park", Email: "lena@example.com", NationalID: "K-12",
	}})
	s.Require().NoError(err)
	return c
}

func (s *ServiceSuite) terms() models.Terms {
	return models.Terms{
		Type:        models.TypeFamily,
		PaymentMode: models.PaymentMonthly,
		Premium:     120000,
		StartDate:   s.today.AddDays(-30),
		MaxClaim:    500000,
	}
}

func (s *ServiceSuite) issue(owner access.Actor) *models.Policy {
	c := s.client(owner)
	p, err := s.svc.Issue(s.ctx, owner, IssueRequest{ClientID: c.ID, Terms: s.terms()})
	s.Require().NoError(err)
	return p
}

func (s *ServiceSuite) TestIssue() {
	s.Run("generates a number and defaults expiry", func() {
		p := s.issue(s.agent)
		s.Regexp(regexp.MustCompile(`^POL-[0-9A-F]{8}$`), p.PolicyNumber)
		s.Equal(p.StartDate.AddYears(1), p.ExpiryDate)
		s.True(p.Active)
		s.Equal(s.agent.UserID, p.CreatedBy)
		s.Contains(s.audit.Actions(), "policy_issued")
	})

	s.Run("supplied duplicate number is a conflict", func() {
		c := s.client(s.agent)
		_, err := s.svc.Issue(s.ctx, s.agent, IssueRequest{ClientID: c.ID, PolicyNumber: "POL-FIXED001", Terms: s.terms()})
		s.Require().NoError(err)
		_, err = s.svc.Issue(s.ctx, s.agent, IssueRequest{ClientID: c.ID, PolicyNumber: "POL-FIXED001", Terms: s.terms()})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown type fails validation", func() {
		c := s.client(s.agent)
		terms := s.terms()
		terms.Type = "pet"
		_, err := s.svc.Issue(s.ctx, s.agent, IssueRequest{ClientID: c.ID, Terms: terms})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("claim officer may not issue and nothing is written", func() {
		c := s.client(s.agent)
		before, _ := s.store.Count(s.ctx)
		_, err := s.svc.Issue(s.ctx, s.officer, IssueRequest{ClientID: c.ID, Terms: s.terms()})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		after, _ := s.store.Count(s.ctx)
		s.Equal(before, after)
	})

	s.Run("agents only issue for their own clients", func() {
		c := s.client(s.agent)
		_, err := s.svc.Issue(s.ctx, s.other, IssueRequest{ClientID: c.ID, Terms: s.terms()})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("inactive client is rejected", func() {
		c := s.client(s.agent)
		_, err := s.clients.Deactivate(s.ctx, s.admin, c.ID)
		s.Require().NoError(err)
		_, err = s.svc.Issue(s.ctx, s.finance, IssueRequest{ClientID: c.ID, Terms: s.terms()})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func (s *ServiceSuite) TestIssueRetriesGeneratedNumber() {
	numbers := []string{"POL-00000001", "POL-00000001", "POL-00000002"}
	s.newService(WithNumberGenerator(func() string {
		n := numbers[0]
		numbers = numbers[1:]
		return n
	}))

	first := s.issue(s.agent)
	second := s.issue(s.agent)
	s.Equal("POL-00000001", first.PolicyNumber)
	s.Equal("POL-00000002", second.PolicyNumber)
}

func (s *ServiceSuite) TestIssueGivesUpAfterRepeatedCollisions() {
	s.newService(WithNumberGenerator(func() string { return "POL-DEADBEEF" }))
	s.issue(s.agent)

	c := s.client(s.agent)
	_, err := s.svc.Issue(s.ctx, s.agent, IssueRequest{ClientID: c.ID, Terms: s.terms()})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestExpiredYesterdayReportsExpired() {
	c := s.client(s.agent)
	terms := s.terms()
	terms.StartDate = s.today.AddYears(-1).AddDays(-1)
	terms.ExpiryDate = s.today.AddDays(-1)
	p, err := s.svc.Issue(s.ctx, s.agent, IssueRequest{ClientID: c.ID, Terms: terms})
	s.Require().NoError(err)

	v, err := s.svc.Get(s.ctx, s.officer, p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, v.Status)
	s.Equal(1, v.ExpiredDays)
	s.Equal(-1, v.DaysLeft)
	s.True(v.Active, "stored flag is untouched")
}

func (s *ServiceSuite) TestAddInsured() {
	p := s.issue(s.agent)
	adultDOB := s.today.AddYears(-30)
	childDOB := s.today.AddYears(-9)

	s.Run("adult with template is enrolled", func() {
		person, err := s.svc.AddInsured(s.ctx, s.agent, AddInsuredRequest{
			PolicyID: p.ID, FullName: "Tomas Park", Relationship: "spouse", DateOfBirth: adultDOB,
			Template: biometric.Template("spouse-print"),
		})
		s.Require().NoError(err)
		s.True(person.FingerprintVerified)
		s.NotEqual([]byte("spouse-print"), person.SealedTemplate)
	})

	s.Run("child without template is accepted", func() {
		person, err := s.svc.AddInsured(s.ctx, s.agent, AddInsuredRequest{
			PolicyID: p.ID, FullName: "Mia Park", Relationship: "child", DateOfBirth: childDOB,
		})
		s.Require().NoError(err)
		s.False(person.FingerprintVerified)
		s.True(person.CanBeClaimedFor(s.today))
	})

	s.Run("child with template is rejected", func() {
		_, err := s.svc.AddInsured(s.ctx, s.agent, AddInsuredRequest{
			PolicyID: p.ID, FullName: "Noa Park", Relationship: "child", DateOfBirth: childDOB,
			Template: biometric.Template("tiny-print"),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("other agents cannot reach the policy", func() {
		_, err := s.svc.AddInsured(s.ctx, s.other, AddInsuredRequest{
			PolicyID: p.ID, FullName: "X", DateOfBirth: adultDOB,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	people, err := s.svc.ListInsured(s.ctx, s.agent, p.ID)
	s.Require().NoError(err)
	s.Len(people, 2)
}

func (s *ServiceSuite) TestAddInsuredRequiresActivePolicy() {
	p := s.issue(s.agent)
	_, err := s.svc.Deactivate(s.ctx, s.finance, p.ID)
	s.Require().NoError(err)

	_, err = s.svc.AddInsured(s.ctx, s.agent, AddInsuredRequest{
		PolicyID: p.ID, FullName: "Tomas Park", DateOfBirth: s.today.AddYears(-30),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestAttachInsuredTemplate() {
	p := s.issue(s.agent)
	adult, err := s.svc.AddInsured(s.ctx, s.agent, AddInsuredRequest{PolicyID: p.ID, FullName: "Tomas Park", DateOfBirth: s.today.AddYears(-40)})
	s.Require().NoError(err)
	s.False(adult.CanBeClaimedFor(s.today))

	updated, err := s.svc.AttachInsuredTemplate(s.ctx, s.agent, adult.ID, biometric.Template("print"))
	s.Require().NoError(err)
	s.True(updated.CanBeClaimedFor(s.today))

	child, err := s.svc.AddInsured(s.ctx, s.agent, AddInsuredRequest{PolicyID: p.ID, FullName: "Mia Park", DateOfBirth: s.today.AddYears(-17)})
	s.Require().NoError(err)
	_, err = s.svc.AttachInsuredTemplate(s.ctx, s.agent, child.ID, biometric.Template("print"))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	stored, err := s.svc.LookupInsured(s.ctx, child.ID)
	s.Require().NoError(err)
	s.Nil(stored.SealedTemplate)
}

func (s *ServiceSuite) TestDeactivateIsIdempotent() {
	p := s.issue(s.agent)

	v, err := s.svc.Deactivate(s.ctx, s.finance, p.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusInactive, v.Status)

	_, err = s.svc.Deactivate(s.ctx, s.finance, p.ID)
	s.Require().NoError(err)

	events, _ := s.audit.ListBySubject(s.ctx, p.Subject())
	deactivations := 0
	for _, e := range events {
		if e.Action == "policy_deactivated" {
			deactivations++
		}
	}
	s.Equal(1, deactivations)

	_, err = s.svc.Deactivate(s.ctx, s.agent, p.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestListScoping() {
	mine := s.issue(s.agent)
	theirs := s.issue(s.other)

	list, err := s.svc.List(s.ctx, s.agent, 0)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(mine.ID, list[0].ID)

	list, err = s.svc.List(s.ctx, s.officer, 0)
	s.Require().NoError(err)
	s.Len(list, 2)

	list, err = s.svc.List(s.ctx, s.officer, theirs.ClientID)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal(theirs.ID, list[0].ID)

	_, err = s.svc.Get(s.ctx, s.agent, theirs.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.svc.List(s.ctx, access.Actor{UserID: 8, Role: access.RolePolicyholder}, 0)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

type claimedInsured map[id.InsuredPersonID]bool

func (c claimedInsured) ReferencesInsured(_ context.Context, insuredID id.InsuredPersonID) (bool, error) {
	return c[insuredID], nil
}

func (s *ServiceSuite) TestUpdateInsured() {
	p := s.issue(s.agent)
	person, err := s.svc.AddInsured(s.ctx, s.agent, AddInsuredRequest{
		PolicyID: p.ID, FullName: "Tomas Park", Relationship: "spouse", DateOfBirth: s.today.AddYears(-30),
	})
	s.Require().NoError(err)

	s.Run("agents cannot edit", func() {
		_, err := s.svc.UpdateInsured(s.ctx, s.agent, person.ID, UpdateInsuredRequest{FullName: "Tom Park"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("finance edits and the change is audited", func() {
		updated, err := s.svc.UpdateInsured(s.ctx, s.finance, person.ID, UpdateInsuredRequest{FullName: "Tom Park", Gender: "male"})
		s.Require().NoError(err)
		s.Equal("Tom Park", updated.FullName)
		s.Equal("spouse", updated.Relationship)
		s.Contains(s.audit.Actions(), "insured_person_updated")
	})

	s.Run("an edit that changes nothing is not audited", func() {
		s.audit.Clear()
		_, err := s.svc.UpdateInsured(s.ctx, s.finance, person.ID, UpdateInsuredRequest{FullName: "Tom Park"})
		s.Require().NoError(err)
		s.Empty(s.audit.Actions())
	})

	s.Run("future birth date is rejected", func() {
		_, err := s.svc.UpdateInsured(s.ctx, s.admin, person.ID, UpdateInsuredRequest{DateOfBirth: s.today.AddDays(3)})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		stored, err := s.svc.LookupInsured(s.ctx, person.ID)
		s.Require().NoError(err)
		s.Equal("Tom Park", stored.FullName)
	})

	s.Run("unknown person", func() {
		_, err := s.svc.UpdateInsured(s.ctx, s.admin, 9999, UpdateInsuredRequest{FullName: "X"})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestRemoveInsured() {
	claimed := claimedInsured{}
	s.newService(WithClaimReferences(claimed))
	p := s.issue(s.agent)
	add := func(name string) *models.InsuredPerson {
		person, err := s.svc.AddInsured(s.ctx, s.agent, AddInsuredRequest{
			PolicyID: p.ID, FullName: name, DateOfBirth: s.today.AddYears(-12),
		})
		s.Require().NoError(err)
		return person
	}
	kept := add("Mia Park")
	gone := add("Noa Park")
	claimed[kept.ID] = true

	s.Run("agents cannot remove", func() {
		err := s.svc.RemoveInsured(s.ctx, s.agent, gone.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("claimed person stays on the policy", func() {
		err := s.svc.RemoveInsured(s.ctx, s.finance, kept.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		_, err = s.svc.LookupInsured(s.ctx, kept.ID)
		s.NoError(err)
	})

	s.Run("unclaimed person is removed", func() {
		s.Require().NoError(s.svc.RemoveInsured(s.ctx, s.finance, gone.ID))
		s.Contains(s.audit.Actions(), "insured_person_removed")

		people, err := s.svc.ListInsured(s.ctx, s.agent, p.ID)
		s.Require().NoError(err)
		s.Len(people, 1)

		err = s.svc.RemoveInsured(s.ctx, s.finance, gone.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
