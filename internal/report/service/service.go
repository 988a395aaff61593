// Package service computes read-only dashboards over the client, policy, hospital and
// claim stores.
package service

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"insureflow/internal/access"
	claimmodels "insureflow/internal/claim/models"
	claimstore "insureflow/internal/claim/store"
	clientmodels "insureflow/internal/client/models"
	clientstore "insureflow/internal/client/store"
	policymodels "insureflow/internal/policy/models"
	policystore "insureflow/internal/policy/store"
	"insureflow/internal/report/models"
	id "insureflow/pkg/domain"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/requestcontext"
)

const (
	// RenewalWindowDays is how far ahead policies are flagged for renewal.
	RenewalWindowDays = 30
	expiredAlertLimit = 10
	recentClaimsLimit = 5
)

type ClientStore interface {
	List(ctx context.Context, filter clientstore.ListFilter) ([]*clientmodels.Client, error)
}

type PolicyStore interface {
	List(ctx context.Context, filter policystore.ListFilter) ([]*policymodels.Policy, error)
}

type HospitalStore interface {
	Count(ctx context.Context) (int, error)
}

type ClaimStore interface {
	List(ctx context.Context, filter claimstore.ListFilter) ([]*claimmodels.Claim, error)
	Stats(ctx context.Context, hospitalID id.HospitalID) (claimmodels.Stats, error)
}

// Agents resolves the clients of an agent.
type Agents interface {
	ClientIDsForAgent(ctx context.Context, agentID id.UserID) ([]id.ClientID, error)
}

var (
	adminRoles     = []access.Role{access.RoleAdmin, access.RoleReportOfficer, access.RoleFinanceOfficer}
	hospitalRoles  = []access.Role{access.RoleAdmin, access.RoleHospital}
	analyticsRoles = []access.Role{access.RoleAdmin, access.RoleReportOfficer, access.RoleAgent}
)

type Service struct {
	clients   ClientStore
	policies  PolicyStore
	hospitals HospitalStore
	claims    ClaimStore
	agents    Agents
	gate      *access.Gate
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(clients ClientStore, policies PolicyStore, hospitals HospitalStore, claims ClaimStore, agents Agents, gate *access.Gate, opts ...Option) *Service {
	s := &Service{
		clients:   clients,
		policies:  policies,
		hospitals: hospitals,
		claims:    claims,
		agents:    agents,
		gate:      gate,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AdminDashboard gathers the totals shown on the back-office landing page.
func (s *Service) AdminDashboard(ctx context.Context, actor access.Actor) (*models.AdminDashboard, error) {
	if err := s.gate.Authorize(ctx, actor, "view admin dashboard", adminRoles...); err != nil {
		return nil, err
	}
	today := id.DateOf(requestcontext.Now(ctx))
	out := &models.AdminDashboard{ClientsByStatus: make(map[clientmodels.Status]int)}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		clients, err := s.clients.List(gctx, clientstore.ListFilter{})
		if err != nil {
			return err
		}
		out.Clients = len(clients)
		for _, c := range clients {
			out.ClientsByStatus[c.Status]++
		}
		return nil
	})
	g.Go(func() error {
		policies, err := s.policies.List(gctx, policystore.ListFilter{})
		if err != nil {
			return err
		}
		out.Policies = len(policies)
		for _, p := range policies {
			out.PremiumTotal += p.Premium
			if p.Status(today) == policymodels.StatusActive {
				out.ActivePolicies++
			}
		}
		return nil
	})
	g.Go(func() error {
		n, err := s.hospitals.Count(gctx)
		out.Hospitals = n
		return err
	})
	g.Go(func() error {
		stats, err := s.claims.Stats(gctx, 0)
		out.Claims = stats
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build admin dashboard")
	}
	s.logger.DebugContext(ctx, "admin dashboard built",
		"request_id", requestcontext.RequestID(ctx),
		"elapsed", time.Since(start),
	)
	return out, nil
}

// HospitalDashboard aggregates one hospital's claims. Hospital accounts may only view their own.
func (s *Service) HospitalDashboard(ctx context.Context, actor access.Actor, hospitalID id.HospitalID) (*models.HospitalDashboard, error) {
	if err := s.gate.Authorize(ctx, actor, "view hospital dashboard", hospitalRoles...); err != nil {
		return nil, err
	}
	if hospitalID.IsNil() {
		hospitalID = actor.HospitalID
	}
	if hospitalID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "hospital_id is required")
	}
	if actor.Role == access.RoleHospital && !actor.ActsFor(hospitalID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "hospital accounts may only view their own dashboard")
	}

	out := &models.HospitalDashboard{HospitalID: hospitalID, RecentClaims: []claimmodels.View{}}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stats, err := s.claims.Stats(gctx, hospitalID)
		out.Claims = stats
		return err
	})
	g.Go(func() error {
		claims, err := s.claims.List(gctx, claimstore.ListFilter{HospitalID: hospitalID})
		if err != nil {
			return err
		}
		slices.Reverse(claims)
		for _, c := range claims[:min(len(claims), recentClaimsLimit)] {
			out.RecentClaims = append(out.RecentClaims, c.View())
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build hospital dashboard")
	}
	return out, nil
}

// PolicyAnalytics summarises the policy book. Agents only see their own clients' policies.
func (s *Service) PolicyAnalytics(ctx context.Context, actor access.Actor) (*models.PolicyAnalytics, error) {
	if err := s.gate.Authorize(ctx, actor, "view policy analytics", analyticsRoles...); err != nil {
		return nil, err
	}
	filter := policystore.ListFilter{}
	if !actor.Superuser && actor.Role == access.RoleAgent {
		ids, err := s.agents.ClientIDsForAgent(ctx, actor.UserID)
		if err != nil {
			return nil, err
		}
		filter.Scoped = true
		filter.ClientIDs = ids
	}
	policies, err := s.policies.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list policies")
	}
	return Analyze(policies, id.DateOf(requestcontext.Now(ctx))), nil
}

// Analyze derives analytics for policies as of today.
func Analyze(policies []*policymodels.Policy, today id.Date) *models.PolicyAnalytics {
	out := &models.PolicyAnalytics{
		AsOf:          today,
		Total:         len(policies),
		ByStatus:      make(map[policymodels.Status]int),
		Renewals:      []policymodels.View{},
		ExpiredAlerts: []policymodels.View{},
		Monthly:       []models.MonthlySales{},
	}
	horizon := today.AddDays(RenewalWindowDays)
	months := make(map[string]*models.MonthlySales)
	for _, p := range policies {
		v := p.View(today)
		out.ByStatus[v.Status]++
		out.PremiumTotal += p.Premium
		switch {
		case p.ExpiryDate.Before(today):
			out.ExpiredAlerts = append(out.ExpiredAlerts, v)
		case !p.ExpiryDate.After(horizon):
			out.Renewals = append(out.Renewals, v)
		}
		key := p.StartDate.Time().Format("2006-01")
		m, ok := months[key]
		if !ok {
			m = &models.MonthlySales{Month: key}
			months[key] = m
		}
		m.Policies++
		m.Premium += p.Premium
	}

	slices.SortFunc(out.Renewals, func(a, b policymodels.View) int {
		return a.ExpiryDate.Time().Compare(b.ExpiryDate.Time())
	})
	slices.SortFunc(out.ExpiredAlerts, func(a, b policymodels.View) int {
		return b.ExpiryDate.Time().Compare(a.ExpiryDate.Time())
	})
	if len(out.ExpiredAlerts) > expiredAlertLimit {
		out.ExpiredAlerts = out.ExpiredAlerts[:expiredAlertLimit]
	}
	for _, m := range months {
		out.Monthly = append(out.Monthly, *m)
	}
	slices.SortFunc(out.Monthly, func(a, b models.MonthlySales) int {
		return strings.Compare(a.Month, b.Month)
	})
	return out
}
