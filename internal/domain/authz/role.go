// Package authz resolves whether a principal may perform a labeled action.
//
// Authorization is a pure function of the role permission table, the
// principal's temporary grants and the current time. Nothing here performs
// I/O or caches a decision.
package authz

import (
	"strings"

	"github.com/go-faster/errors"
)

// Role is one of the five ordered authority levels.
type Role uint8

const (
	RoleCashier    Role = 1
	RoleSupervisor Role = 2
	RoleManager    Role = 3
	RoleAdmin      Role = 4
	RoleDeveloper  Role = 5
)

// Level is the numeric authority of a principal. It is authoritative for
// level-based checks even though it usually equals the role's level.
type Level int

// Wildcard grants every permission.
const Wildcard = "*"

// ErrUnknownRole is returned by ParseRole for names outside the enumeration.
var ErrUnknownRole = errors.New("unknown role")

var roleNames = map[Role]string{
	RoleCashier:    "cashier",
	RoleSupervisor: "supervisor",
	RoleManager:    "manager",
	RoleAdmin:      "admin",
	RoleDeveloper:  "developer",
}

// Roles returns all roles ordered by level.
func Roles() []Role {
	return []Role{RoleCashier, RoleSupervisor, RoleManager, RoleAdmin, RoleDeveloper}
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Level returns the default numeric level of the role.
func (r Role) Level() Level { return Level(r) }

// Valid reports whether r is one of the five known roles.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// ParseRole maps a role name (case-insensitive) back to a Role.
func ParseRole(name string) (Role, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for r, n := range roleNames {
		if n == name {
			return r, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownRole, "%q", name)
}
