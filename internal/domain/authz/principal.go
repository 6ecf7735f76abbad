package authz

import (
	"context"
	"time"
)

// TemporaryGrant is a time-bounded permission override for one principal.
// It stops authorizing once the current time reaches ExpiresAt; no explicit
// revocation is needed.
type TemporaryGrant struct {
	ID          string
	PrincipalID string
	Permission  string
	ExpiresAt   time.Time
}

// ActiveAt reports whether the grant still authorizes at now.
func (g TemporaryGrant) ActiveAt(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// Principal is the authenticated user of a session.
type Principal struct {
	ID     string
	Name   string
	Role   Role
	Level  Level
	Active bool
	Grants []TemporaryGrant
}

// WithGrants returns a copy of p carrying the given grants in addition to
// the ones it already holds.
func (p *Principal) WithGrants(grants ...TemporaryGrant) *Principal {
	cp := *p
	cp.Grants = append(append([]TemporaryGrant(nil), p.Grants...), grants...)
	return &cp
}

type principalKey struct{}

// WithPrincipal attaches p to ctx. A nil p marks the context unauthenticated.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal attached to ctx, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
