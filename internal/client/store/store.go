package store

import (
	"insureflow/internal/client/models"
	id "insureflow/pkg/domain"
)

// ListFilter narrows client listings. Zero values match everything.
type ListFilter struct {
	AgentID id.UserID
	Status  models.Status
}

func (f ListFilter) matches(c *models.Client) bool {
	if !f.AgentID.IsNil() && c.AgentID != f.AgentID {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	return true
}

func copyClient(c *models.Client) *models.Client {
	cp := *c
	if c.SealedTemplate != nil {
		cp.SealedTemplate = append([]byte(nil), c.SealedTemplate...)
	}
	if c.ComplianceVerifiedAt != nil {
		at := *c.ComplianceVerifiedAt
		cp.ComplianceVerifiedAt = &at
	}
	return &cp
}
