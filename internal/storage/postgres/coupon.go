package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/retail-pos/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, discount_type, value, min_purchase, max_discount,
		COALESCE(client_id, ''), description, valid_from, valid_until, max_uses, uses, active
		FROM coupons WHERE code = UPPER($1)`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, value, min_purchase, max_discount,
		client_id, description, valid_from, valid_until, max_uses, active)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11)
		ON CONFLICT (code) DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			min_purchase = EXCLUDED.min_purchase,
			max_discount = EXCLUDED.max_discount,
			client_id = EXCLUDED.client_id,
			description = EXCLUDED.description,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			max_uses = EXCLUDED.max_uses,
			active = EXCLUDED.active`

	redeemCouponSQL = `UPDATE coupons SET uses = uses + 1
		WHERE code = $1 AND active AND (max_uses = 0 OR uses < max_uses)`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	db DB
}

// NewCouponRepository returns a CouponRepository that uses db.
func NewCouponRepository(db DB) *CouponRepository {
	return &CouponRepository{db: db}
}

// FindByCode returns the rule for code whatever its state; eligibility is
// decided by the validator. Returns coupon.ErrNotFound for unknown codes.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	var (
		rule     coupon.Rule
		dt       string
		from, to *time.Time
	)
	err := r.db.QueryRow(ctx, getCouponByCodeSQL, code).Scan(
		&rule.Code, &dt, &rule.Value, &rule.MinPurchase, &rule.MaxDiscount,
		&rule.ClientID, &rule.Description, &from, &to, &rule.MaxUses, &rule.Uses, &rule.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	rule.DiscountType = coupon.DiscountType(dt)
	rule.ValidFrom = from
	rule.ValidUntil = to
	return &rule, nil
}

// Upsert inserts rules or replaces the existing ones by code in one
// transaction. Redemption counts are preserved.
func (r *CouponRepository) Upsert(ctx context.Context, rules []coupon.Rule) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, c := range rules {
			code := coupon.NormalizeCode(c.Code)
			_, err := tx.Exec(ctx, upsertCouponSQL,
				code, string(c.DiscountType), c.Value, c.MinPurchase, c.MaxDiscount,
				c.ClientID, c.Description, c.ValidFrom, c.ValidUntil, c.MaxUses, c.Active,
			)
			if err != nil {
				return errors.Wrapf(err, "upsert coupon %q", code)
			}
		}
		return nil
	})
}

// redeem consumes one use of code inside tx.
func redeem(ctx context.Context, tx pgx.Tx, code string) error {
	tag, err := tx.Exec(ctx, redeemCouponSQL, code)
	if err != nil {
		return errors.Wrapf(err, "redeem coupon %q", code)
	}
	if tag.RowsAffected() == 0 {
		return &coupon.InvalidCouponError{Code: code, Issues: []string{"coupon usage limit reached"}}
	}
	return nil
}
