// Package user administers POS users: login tokens, role changes and
// temporary permission grants.
package user

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/retail-pos/internal/domain/authz"
)

var (
	// ErrNotFound is returned when a user does not exist.
	ErrNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned for any failed login. It does not
	// reveal whether the username exists.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidToken is returned for unknown, expired or orphaned tokens.
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrInvalidDuration is returned for grant durations outside 1..1440 minutes.
	ErrInvalidDuration = errors.New("grant duration must be between 1 and 1440 minutes")
	// ErrInvalidPermission is returned for empty or wildcard grant permissions.
	ErrInvalidPermission = errors.New("invalid permission")
	// ErrSelfRoleChange is returned when an actor tries to change its own role.
	ErrSelfRoleChange = errors.New("cannot change own role")
)

// MaxGrantDuration bounds temporary grants.
const MaxGrantDuration = 24 * time.Hour

// User is a POS operator.
type User struct {
	ID           string
	Username     string
	Name         string
	Role         authz.Role
	Level        authz.Level
	Active       bool
	PasswordHash []byte
	CreatedAt    time.Time
}

// Principal builds the authorization subject for u carrying grants.
func (u *User) Principal(grants []authz.TemporaryGrant) *authz.Principal {
	return &authz.Principal{
		ID:     u.ID,
		Name:   u.Name,
		Role:   u.Role,
		Level:  u.Level,
		Active: u.Active,
		Grants: grants,
	}
}

// Token is a stored session token. Only the HMAC of the raw token is kept.
type Token struct {
	ID        string
	UserID    string
	Hash      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Filter narrows a user listing. Zero values match everything.
type Filter struct {
	Role   authz.Role
	Active *bool
	Search string
	Limit  int
	Offset int
}

// Repository persists users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context, f Filter) ([]User, error)
	UpdateRole(ctx context.Context, id string, role authz.Role) error
}

// GrantRepository persists temporary grants. ActiveGrants returns the grants
// of userID that have not expired at now.
type GrantRepository interface {
	CreateGrant(ctx context.Context, g authz.TemporaryGrant) error
	ActiveGrants(ctx context.Context, userID string, now time.Time) ([]authz.TemporaryGrant, error)
}

// TokenRepository persists session tokens by hash. FindByHash returns
// ErrInvalidToken when no token has the hash.
type TokenRepository interface {
	CreateToken(ctx context.Context, t Token) error
	FindByHash(ctx context.Context, hash string) (*Token, error)
	DeleteByHash(ctx context.Context, hash string) error
}
