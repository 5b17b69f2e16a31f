package models

import "fmt"

// Role selects which code path the engine takes
type Role string

const (
	// RoleParticipant sees and refreshes only their own rows
	RoleParticipant Role = "participant"
	// RoleOperator sees the full snapshot and may run full rebuilds
	RoleOperator Role = "operator"
)

// ParseRole parses a role name. An empty string is a participant.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case "", RoleParticipant:
		return RoleParticipant, nil
	case RoleOperator:
		return RoleOperator, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// IsOperator reports whether the role can act on the whole snapshot
func (r Role) IsOperator() bool {
	return r == RoleOperator
}
