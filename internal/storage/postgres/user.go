package postgres

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/user"
)

const (
	updateRoleSQL = `UPDATE users SET role = $2, level = $3 WHERE id = $1`

	upsertUserSQL = `INSERT INTO users (id, username, name, role, level, active, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (username) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			level = EXCLUDED.level,
			active = EXCLUDED.active,
			password_hash = EXCLUDED.password_hash`

	insertGrantSQL = `INSERT INTO temporary_grants (id, user_id, permission, expires_at)
		VALUES ($1, $2, $3, $4)`

	activeGrantsSQL = `SELECT id, user_id, permission, expires_at
		FROM temporary_grants WHERE user_id = $1 AND expires_at > $2
		ORDER BY expires_at`

	insertTokenSQL = `INSERT INTO tokens (id, user_id, hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`

	findTokenSQL = `SELECT id, user_id, hash, created_at, expires_at FROM tokens WHERE hash = $1`

	deleteTokenSQL = `DELETE FROM tokens WHERE hash = $1`
)

var userColumns = []string{"id", "username", "name", "role", "level", "active", "password_hash", "created_at"}

var (
	_ user.Repository      = (*UserRepository)(nil)
	_ user.GrantRepository = (*UserRepository)(nil)
	_ user.TokenRepository = (*UserRepository)(nil)
)

// UserRepository persists users together with their grants and tokens.
type UserRepository struct {
	db DB
}

// NewUserRepository returns a UserRepository that uses db.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns the user with id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	return r.getOne(ctx, sq.Eq{"id": id})
}

// GetByUsername returns the user with username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	return r.getOne(ctx, sq.Eq{"username": username})
}

func (r *UserRepository) getOne(ctx context.Context, where sq.Eq) (*user.User, error) {
	stmt, args, err := psql.Select(userColumns...).From("users").Where(where).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build select user sql")
	}
	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Wrap(err, "get user")
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrap(err, "get user")
	}
	return &u, nil
}

// List returns users matching f ordered by username.
func (r *UserRepository) List(ctx context.Context, f user.Filter) ([]user.User, error) {
	q := psql.Select(userColumns...).From("users").OrderBy("username")
	if f.Role != 0 {
		q = q.Where(sq.Eq{"role": int16(f.Role)})
	}
	if f.Active != nil {
		q = q.Where(sq.Eq{"active": *f.Active})
	}
	if f.Search != "" {
		pattern := "%" + f.Search + "%"
		q = q.Where(sq.Or{
			sq.ILike{"username": pattern},
			sq.ILike{"name": pattern},
		})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	stmt, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build list users sql")
	}
	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	return pgx.CollectRows(rows, scanUser)
}

// UpdateRole sets the role of id and resets its level to the role's level.
func (r *UserRepository) UpdateRole(ctx context.Context, id string, role authz.Role) error {
	tag, err := r.db.Exec(ctx, updateRoleSQL, id, int16(role), int(role.Level()))
	if err != nil {
		return errors.Wrapf(err, "update role of %q", id)
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

// Upsert creates u or replaces the user with the same username.
func (r *UserRepository) Upsert(ctx context.Context, u user.User) error {
	_, err := r.db.Exec(ctx, upsertUserSQL,
		u.ID, u.Username, u.Name, int16(u.Role), int(u.Level), u.Active, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "upsert user %q", u.Username)
	}
	return nil
}

// CreateGrant stores g.
func (r *UserRepository) CreateGrant(ctx context.Context, g authz.TemporaryGrant) error {
	if _, err := r.db.Exec(ctx, insertGrantSQL, g.ID, g.PrincipalID, g.Permission, g.ExpiresAt); err != nil {
		return errors.Wrap(err, "insert grant")
	}
	return nil
}

// ActiveGrants returns the grants of userID that expire after now.
func (r *UserRepository) ActiveGrants(ctx context.Context, userID string, now time.Time) ([]authz.TemporaryGrant, error) {
	rows, err := r.db.Query(ctx, activeGrantsSQL, userID, now)
	if err != nil {
		return nil, errors.Wrap(err, "query grants")
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (authz.TemporaryGrant, error) {
		var g authz.TemporaryGrant
		err := row.Scan(&g.ID, &g.PrincipalID, &g.Permission, &g.ExpiresAt)
		return g, err
	})
}

// CreateToken stores t.
func (r *UserRepository) CreateToken(ctx context.Context, t user.Token) error {
	if _, err := r.db.Exec(ctx, insertTokenSQL, t.ID, t.UserID, t.Hash, t.CreatedAt, t.ExpiresAt); err != nil {
		return errors.Wrap(err, "insert token")
	}
	return nil
}

// FindByHash returns the token stored under hash.
func (r *UserRepository) FindByHash(ctx context.Context, hash string) (*user.Token, error) {
	var t user.Token
	err := r.db.QueryRow(ctx, findTokenSQL, hash).Scan(&t.ID, &t.UserID, &t.Hash, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrInvalidToken
		}
		return nil, errors.Wrap(err, "find token")
	}
	return &t, nil
}

// DeleteByHash removes the token stored under hash. Deleting an unknown
// token is not an error.
func (r *UserRepository) DeleteByHash(ctx context.Context, hash string) error {
	if _, err := r.db.Exec(ctx, deleteTokenSQL, hash); err != nil {
		return errors.Wrap(err, "delete token")
	}
	return nil
}

func scanUser(row pgx.CollectableRow) (user.User, error) {
	var (
		u     user.User
		role  int16
		level int
	)
	err := row.Scan(&u.ID, &u.Username, &u.Name, &role, &level, &u.Active, &u.PasswordHash, &u.CreatedAt)
	u.Role = authz.Role(role)
	u.Level = authz.Level(level)
	return u, err
}
