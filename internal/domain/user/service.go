package user

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/xenking/retail-pos/internal/domain/authz"
)

// Config holds non-dependency settings of the Service.
type Config struct {
	// Pepper keys the HMAC of stored tokens.
	Pepper []byte
	// TokenTTL bounds the lifetime of a login token. Zero means 12h.
	TokenTTL time.Duration
}

// Service authenticates users and administers roles and grants.
type Service struct {
	users  Repository
	grants GrantRepository
	tokens TokenRepository
	auth   *authz.Authorizer
	pepper []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a user Service.
func NewService(
	cfg Config,
	users Repository,
	grants GrantRepository,
	tokens TokenRepository,
	auth *authz.Authorizer,
) *Service {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Service{
		users:  users,
		grants: grants,
		tokens: tokens,
		auth:   auth,
		pepper: cfg.Pepper,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Login checks the password and issues a raw token. Only its HMAC is stored.
func (s *Service) Login(ctx context.Context, username, password string) (string, *authz.Principal, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, errors.Wrap(err, "get user")
	}
	if !u.Active {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	raw, err := NewRawToken()
	if err != nil {
		return "", nil, err
	}
	now := s.now()
	if err := s.tokens.CreateToken(ctx, Token{
		ID:        uuid.New().String(),
		UserID:    u.ID,
		Hash:      HashToken(s.pepper, raw),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}); err != nil {
		return "", nil, errors.Wrap(err, "store token")
	}

	grants, err := s.grants.ActiveGrants(ctx, u.ID, now)
	if err != nil {
		return "", nil, errors.Wrap(err, "load grants")
	}
	return raw, u.Principal(grants), nil
}

// Authenticate resolves a raw token to the current principal, loading the
// grants that are still active.
func (s *Service) Authenticate(ctx context.Context, raw string) (*authz.Principal, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}
	hash := HashToken(s.pepper, raw)
	t, err := s.tokens.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil, ErrInvalidToken
		}
		return nil, errors.Wrap(err, "find token")
	}
	now := s.now()
	if !tokenMatches(hash, t.Hash) || !now.Before(t.ExpiresAt) {
		return nil, ErrInvalidToken
	}

	u, err := s.users.GetByID(ctx, t.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, errors.Wrap(err, "get user")
	}
	if !u.Active {
		return nil, ErrInvalidToken
	}

	grants, err := s.grants.ActiveGrants(ctx, u.ID, now)
	if err != nil {
		return nil, errors.Wrap(err, "load grants")
	}
	return u.Principal(grants), nil
}

// Logout deletes the token. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	if err := s.tokens.DeleteByHash(ctx, HashToken(s.pepper, raw)); err != nil {
		return errors.Wrap(err, "delete token")
	}
	return nil
}

// GrantTemporary gives userID permission for duration. The actor needs
// users:grant-permissions and must itself hold the permission it grants.
func (s *Service) GrantTemporary(ctx context.Context, userID, permission string, duration time.Duration) (*authz.TemporaryGrant, error) {
	if err := s.auth.AuthorizeContext(ctx, authz.Require(authz.Permission(authz.PermUsersGrant))); err != nil {
		return nil, err
	}
	permission = strings.TrimSpace(permission)
	if permission == "" || permission == authz.Wildcard {
		return nil, errors.Wrapf(ErrInvalidPermission, "%q", permission)
	}
	if err := s.auth.AuthorizeContext(ctx, authz.Require(authz.Permission(permission))); err != nil {
		return nil, err
	}
	if duration < time.Minute || duration > MaxGrantDuration {
		return nil, ErrInvalidDuration
	}

	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}

	g := authz.TemporaryGrant{
		ID:          uuid.New().String(),
		PrincipalID: u.ID,
		Permission:  permission,
		ExpiresAt:   s.now().Add(duration),
	}
	if err := s.grants.CreateGrant(ctx, g); err != nil {
		return nil, errors.Wrap(err, "create grant")
	}
	return &g, nil
}

// List returns users matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]User, error) {
	if err := s.auth.AuthorizeContext(ctx, authz.Require(authz.Permission(authz.PermUsersView))); err != nil {
		return nil, err
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.users.List(ctx, f)
}

// UpdateRole assigns role to user id. An actor cannot assign a role above
// its own level nor change its own role.
func (s *Service) UpdateRole(ctx context.Context, id string, role authz.Role) (*User, error) {
	if err := s.auth.AuthorizeContext(ctx, authz.Require(authz.Permission(authz.PermUsersManage))); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, errors.Wrapf(authz.ErrUnknownRole, "%d", role)
	}
	actor := authz.PrincipalFrom(ctx)
	if actor.ID == id {
		return nil, ErrSelfRoleChange
	}
	if err := s.auth.AuthorizeContext(ctx, authz.Require(authz.MinLevel(role.Level()))); err != nil {
		return nil, err
	}

	if err := s.users.UpdateRole(ctx, id, role); err != nil {
		return nil, errors.Wrap(err, "update role")
	}
	return s.users.GetByID(ctx, id)
}
