package identity

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is returned when a role name does not match any Role.
var ErrUnknownRole = errors.New("unknown role")

// Role is an ordered privilege level. Larger values carry more privilege,
// so Root > Advisor > Captain > Student > Spectator.
type Role int

const (
	// RoleSpectator can observe but not act.
	RoleSpectator Role = iota + 1
	// RoleStudent is a regular team member.
	RoleStudent
	// RoleCaptain leads a team.
	RoleCaptain
	// RoleAdvisor supervises the teams of an institution.
	RoleAdvisor
	// RoleRoot administers the whole system.
	RoleRoot
)

var roleNames = map[Role]string{
	RoleRoot:      "ROOT",
	RoleAdvisor:   "ADVISOR",
	RoleCaptain:   "CAPTAIN",
	RoleStudent:   "STUDENT",
	RoleSpectator: "SPECTATOR",
}

// Roles lists every role from highest to lowest precedence.
func Roles() []Role {
	return []Role{RoleRoot, RoleAdvisor, RoleCaptain, RoleStudent, RoleSpectator}
}

// ParseRole resolves a canonical role name. Matching ignores case and
// surrounding whitespace; anything else fails with ErrUnknownRole.
func ParseRole(s string) (Role, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for role, canonical := range roleNames {
		if canonical == name {
			return role, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// String returns the canonical upper-case name.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// IsAdmin reports whether the role grants administrative access.
func (r Role) IsAdmin() bool {
	return r == RoleRoot
}

// Outranks reports whether r has strictly higher precedence than other.
func (r Role) Outranks(other Role) bool {
	return r > other
}

// AtLeast reports whether r is min or higher.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// MarshalText encodes the role by its canonical name.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a canonical role name.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
