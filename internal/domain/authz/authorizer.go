package authz

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// ErrDenied is matched by every authorization failure.
var ErrDenied = errors.New("authorization denied")

// Policy combines the checks of a Requirement.
type Policy uint8

const (
	// All requires every check to hold.
	All Policy = iota
	// Any requires at least one check to hold.
	Any
)

type checkKind uint8

const (
	kindPermission checkKind = iota + 1
	kindRoles
	kindLevel
)

// Check is a single authorization condition: a permission string, a set of
// roles, or a minimum level.
type Check struct {
	kind       checkKind
	permission string
	roles      []Role
	level      Level
}

// Permission checks a permission string.
func Permission(p string) Check { return Check{kind: kindPermission, permission: p} }

// InRoles checks membership of the principal's role in the given set.
func InRoles(roles ...Role) Check { return Check{kind: kindRoles, roles: roles} }

// MinLevel checks that the principal's level is at least l.
func MinLevel(l Level) Check { return Check{kind: kindLevel, level: l} }

func (c Check) String() string {
	switch c.kind {
	case kindPermission:
		return "permission " + c.permission
	case kindRoles:
		names := make([]string, len(c.roles))
		for i, r := range c.roles {
			names[i] = r.String()
		}
		return "role in [" + strings.Join(names, ",") + "]"
	case kindLevel:
		return fmt.Sprintf("level >= %d", c.level)
	default:
		return "invalid check"
	}
}

// Requirement is a set of checks combined by a policy. The zero value has
// no checks and is vacuously satisfied by any authenticated principal.
type Requirement struct {
	Checks []Check
	Policy Policy
}

// Require returns a requirement where every check must hold.
func Require(checks ...Check) Requirement {
	return Requirement{Checks: checks, Policy: All}
}

// RequireAny returns a requirement where any check may hold.
func RequireAny(checks ...Check) Requirement {
	return Requirement{Checks: checks, Policy: Any}
}

func (r Requirement) String() string {
	parts := make([]string, len(r.Checks))
	for i, c := range r.Checks {
		parts[i] = c.String()
	}
	sep := " and "
	if r.Policy == Any {
		sep = " or "
	}
	return strings.Join(parts, sep)
}

// DeniedError describes which requirement a principal failed.
type DeniedError struct {
	PrincipalID string
	Requirement Requirement
}

func (e *DeniedError) Error() string {
	if e.PrincipalID == "" {
		return fmt.Sprintf("authorization denied: unauthenticated (requires %s)", e.Requirement)
	}
	return fmt.Sprintf("authorization denied for %s: requires %s", e.PrincipalID, e.Requirement)
}

func (e *DeniedError) Is(target error) bool { return target == ErrDenied }

// Evaluate decides req for p at now against table.
func Evaluate(table Table, p *Principal, req Requirement, now time.Time) bool {
	if p == nil || !p.Active {
		return false
	}
	if len(req.Checks) == 0 {
		return true
	}
	for _, c := range req.Checks {
		ok := evaluateCheck(table, p, c, now)
		switch {
		case req.Policy == Any && ok:
			return true
		case req.Policy == All && !ok:
			return false
		}
	}
	return req.Policy == All
}

func evaluateCheck(table Table, p *Principal, c Check, now time.Time) bool {
	switch c.kind {
	case kindPermission:
		return hasPermission(table, p, c.permission, now)
	case kindRoles:
		return slices.Contains(c.roles, p.Role)
	case kindLevel:
		return p.Level >= c.level
	default:
		return false
	}
}

func hasPermission(table Table, p *Principal, permission string, now time.Time) bool {
	if table.Wildcard(p.Role) {
		return true
	}
	if table.Has(p.Role, permission) {
		return true
	}
	for _, g := range p.Grants {
		if g.Permission == permission && g.ActiveAt(now) {
			return true
		}
	}
	return false
}

// Authorizer evaluates requirements with a fixed table and a clock that is
// read on every call.
type Authorizer struct {
	table Table
	now   func() time.Time
}

// NewAuthorizer creates an Authorizer over table using the wall clock.
func NewAuthorizer(table Table) *Authorizer {
	return &Authorizer{table: table, now: time.Now}
}

// WithClock returns a copy of a that reads time from now.
func (a *Authorizer) WithClock(now func() time.Time) *Authorizer {
	return &Authorizer{table: a.table, now: now}
}

// Table returns the authorizer's role table.
func (a *Authorizer) Table() Table { return a.table }

// IsAuthorized reports whether p satisfies req right now.
func (a *Authorizer) IsAuthorized(p *Principal, req Requirement) bool {
	return Evaluate(a.table, p, req, a.now())
}

// Authorize is IsAuthorized returning a *DeniedError on failure.
func (a *Authorizer) Authorize(p *Principal, req Requirement) error {
	if a.IsAuthorized(p, req) {
		return nil
	}
	e := &DeniedError{Requirement: req}
	if p != nil {
		e.PrincipalID = p.ID
	}
	return e
}

// AuthorizeContext authorizes the principal carried by ctx.
func (a *Authorizer) AuthorizeContext(ctx context.Context, req Requirement) error {
	return a.Authorize(PrincipalFrom(ctx), req)
}

// HoldsPermission reports whether p holds permission through any source.
func (a *Authorizer) HoldsPermission(p *Principal, permission string) bool {
	return a.IsAuthorized(p, Require(Permission(permission)))
}
