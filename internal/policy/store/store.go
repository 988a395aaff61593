package store

import (
	"slices"

	"insureflow/internal/policy/models"
	id "insureflow/pkg/domain"
)

// ListFilter narrows policy listings. When Scoped is set only policies of ClientIDs match.
type ListFilter struct {
	ClientID  id.ClientID
	Scoped    bool
	ClientIDs []id.ClientID
}

func (f ListFilter) matches(p *models.Policy) bool {
	if !f.ClientID.IsNil() && p.ClientID != f.ClientID {
		return false
	}
	if f.Scoped && !slices.Contains(f.ClientIDs, p.ClientID) {
		return false
	}
	return true
}

func copyInsured(p *models.InsuredPerson) *models.InsuredPerson {
	cp := *p
	if p.SealedTemplate != nil {
		cp.SealedTemplate = append([]byte(nil), p.SealedTemplate...)
	}
	return &cp
}
