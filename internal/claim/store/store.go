package store

import (
	"slices"

	"insureflow/internal/claim/models"
	id "insureflow/pkg/domain"
)

// ListFilter narrows claim listings. When Scoped is set only claims of ClientIDs match.
type ListFilter struct {
	HospitalID id.HospitalID
	Status     models.Status
	Scoped     bool
	ClientIDs  []id.ClientID
}

func (f ListFilter) matches(c *models.Claim) bool {
	if !f.HospitalID.IsNil() && c.HospitalID != f.HospitalID {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Scoped && !slices.Contains(f.ClientIDs, c.ClientID) {
		return false
	}
	return true
}

// Allows reports whether c passes the filter.
func (f ListFilter) Allows(c *models.Claim) bool {
	return f.matches(c)
}
