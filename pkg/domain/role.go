package domain

import dErrors "brokerdesk/pkg/domain-errors"

// Role is the coarse principal kind carried in access tokens.
type Role string

const (
	RoleBroker Role = "broker"
	RoleAdmin  Role = "admin"
)

// ParseRole validates a role claim.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleBroker, RoleAdmin:
		return r, nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+s)
	}
}
