package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/retail-pos/internal/domain/loyalty"
)

const (
	getClientSQL = `SELECT id, name, points FROM clients WHERE id = $1`

	lockClientSQL = `SELECT id, name, points FROM clients WHERE id = $1 FOR UPDATE`

	setPointsSQL = `UPDATE clients SET points = $2 WHERE id = $1`

	insertEntrySQL = `INSERT INTO loyalty_entries (client_id, requested, delta, balance, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	upsertClientSQL = `INSERT INTO clients (id, name, points) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`
)

var _ loyalty.Repository = (*ClientRepository)(nil)

// ClientRepository implements loyalty.Repository backed by PostgreSQL.
type ClientRepository struct {
	db DB
}

// NewClientRepository returns a ClientRepository that uses db.
func NewClientRepository(db DB) *ClientRepository {
	return &ClientRepository{db: db}
}

// Get returns the client with its balance.
func (r *ClientRepository) Get(ctx context.Context, id string) (*loyalty.Client, error) {
	var c loyalty.Client
	if err := r.db.QueryRow(ctx, getClientSQL, id).Scan(&c.ID, &c.Name, &c.Points); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, loyalty.ErrClientNotFound
		}
		return nil, errors.Wrapf(err, "get client %q", id)
	}
	return &c, nil
}

// Update locks the client row, runs fn and stores the new balance together
// with the ledger entry fn returns.
func (r *ClientRepository) Update(ctx context.Context, id string, fn func(c *loyalty.Client) (loyalty.Entry, error)) (*loyalty.Client, error) {
	var c loyalty.Client
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, lockClientSQL, id).Scan(&c.ID, &c.Name, &c.Points); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return loyalty.ErrClientNotFound
			}
			return errors.Wrapf(err, "lock client %q", id)
		}

		e, err := fn(&c)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, setPointsSQL, c.ID, c.Points); err != nil {
			return errors.Wrap(err, "set points")
		}
		_, err = tx.Exec(ctx, insertEntrySQL, e.ClientID, e.Requested, e.Delta, e.Balance, e.Reason, e.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "insert ledger entry")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert creates c or renames an existing client. The balance of an
// existing client is left to the ledger.
func (r *ClientRepository) Upsert(ctx context.Context, c loyalty.Client) error {
	if _, err := r.db.Exec(ctx, upsertClientSQL, c.ID, c.Name, c.Points); err != nil {
		return errors.Wrapf(err, "upsert client %q", c.ID)
	}
	return nil
}
