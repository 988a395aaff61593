package models

import (
	claimmodels "insureflow/internal/claim/models"
	clientmodels "insureflow/internal/client/models"
	policymodels "insureflow/internal/policy/models"
	id "insureflow/pkg/domain"
)

// AdminDashboard is the back-office overview.
type AdminDashboard struct {
	Clients         int                         `json:"clients"`
	ClientsByStatus map[clientmodels.Status]int `json:"clients_by_status"`
	Policies        int                         `json:"policies"`
	ActivePolicies  int                         `json:"active_policies"`
	Hospitals       int                         `json:"hospitals"`
	Claims          claimmodels.Stats           `json:"claims"`
	PremiumTotal    id.Amount                   `json:"premium_total"`
}

// HospitalDashboard aggregates the claims of one hospital.
type HospitalDashboard struct {
	HospitalID   id.HospitalID      `json:"hospital_id"`
	Claims       claimmodels.Stats  `json:"claims"`
	RecentClaims []claimmodels.View `json:"recent_claims"`
}

// MonthlySales counts policies by start month.
type MonthlySales struct {
	Month    string    `json:"month"`
	Policies int       `json:"policies"`
	Premium  id.Amount `json:"premium"`
}

// PolicyAnalytics summarises the policy book as of AsOf.
type PolicyAnalytics struct {
	AsOf          id.Date                     `json:"as_of"`
	Total         int                         `json:"total"`
	ByStatus      map[policymodels.Status]int `json:"by_status"`
	PremiumTotal  id.Amount                   `json:"premium_total"`
	Renewals      []policymodels.View         `json:"renewals_due"`
	ExpiredAlerts []policymodels.View         `json:"expired_alerts"`
	Monthly       []MonthlySales              `json:"monthly"`
}
