package access

import (
	dErrors "insureflow/pkg/domain-errors"
)

// Role is the single role carried by a user account.
type Role string

const (
	RoleAdmin             Role = "admin"
	RoleAgent             Role = "agent"
	RolePolicyholder      Role = "policyholder"
	RoleClaimOfficer      Role = "claim_officer"
	RoleFinanceOfficer    Role = "finance_officer"
	RoleReportOfficer     Role = "report_officer"
	RoleComplianceOfficer Role = "compliance_officer"
	RoleHospital          Role = "hospital"
)

// DefaultRole is assigned to accounts created without an explicit role.
const DefaultRole = RolePolicyholder

var validRoles = map[Role]struct{}{
	RoleAdmin:             {},
	RoleAgent:             {},
	RolePolicyholder:      {},
	RoleClaimOfficer:      {},
	RoleFinanceOfficer:    {},
	RoleReportOfficer:     {},
	RoleComplianceOfficer: {},
	RoleHospital:          {},
}

// ParseRole validates a role name. An empty string yields DefaultRole.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return DefaultRole, nil
	}
	r := Role(s)
	if _, ok := validRoles[r]; !ok {
		return "", dErrors.New(dErrors.CodeValidation, "unknown role: "+s)
	}
	return r, nil
}

func (r Role) String() string {
	return string(r)
}

func (r Role) IsValid() bool {
	_, ok := validRoles[r]
	return ok
}
