package store

import (
	"insureflow/internal/assignment/models"
	id "insureflow/pkg/domain"
)

// ListFilter narrows assignment listings. Zero fields match everything.
type ListFilter struct {
	HospitalID id.HospitalID
	Status     models.Status
}

func (f ListFilter) matches(a *models.Assignment) bool {
	if !f.HospitalID.IsNil() && a.HospitalID != f.HospitalID {
		return false
	}
	return f.Status == "" || a.Status == f.Status
}

type tupleKey struct {
	client   id.ClientID
	policy   id.PolicyID
	hospital id.HospitalID
}

func keyOf(a *models.Assignment) tupleKey {
	return tupleKey{client: a.ClientID, policy: a.PolicyID, hospital: a.HospitalID}
}
