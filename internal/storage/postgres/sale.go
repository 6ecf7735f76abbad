package postgres

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/retail-pos/internal/domain/cart"
	"github.com/xenking/retail-pos/internal/domain/sale"
)

const (
	insertSaleSQL = `INSERT INTO sales (id, subtotal, discount, tax, total, payment_method, tendered, change,
		client_id, coupon_code, notes, cashier_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13)`

	insertSaleItemSQL = `INSERT INTO sale_items (sale_id, line, product_id, name, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5, $6)`

	decrementStockSQL = `UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`

	stockSQL = `SELECT stock FROM products WHERE id = $1`

	saleItemsSQL = `SELECT sale_id, product_id, name, quantity, unit_price
		FROM sale_items WHERE sale_id = ANY($1) ORDER BY sale_id, line`
)

var saleColumns = []string{
	"id", "subtotal", "discount", "tax", "total", "payment_method", "tendered", "change",
	"COALESCE(client_id, '')", "COALESCE(coupon_code, '')", "notes", "cashier_id", "created_at",
}

var _ sale.Repository = (*SaleRepository)(nil)

// SaleRepository implements sale.Repository backed by PostgreSQL.
type SaleRepository struct {
	db DB
}

// NewSaleRepository returns a SaleRepository that uses db.
func NewSaleRepository(db DB) *SaleRepository {
	return &SaleRepository{db: db}
}

// Create stores s with its lines, decrements stock for every line and
// redeems the coupon, all in one transaction. A line whose product no
// longer has enough stock aborts the sale with *cart.InsufficientStockError.
func (r *SaleRepository) Create(ctx context.Context, s *sale.Sale) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertSaleSQL,
			s.ID, s.Subtotal, s.Discount, s.Tax, s.Total, s.PaymentMethod, s.Tendered, s.Change,
			s.ClientID, s.CouponCode, s.Notes, s.CashierID, s.CreatedAt,
		)
		if err != nil {
			return errors.Wrapf(err, "insert sale %q", s.ID)
		}

		for i, it := range s.Items {
			tag, err := tx.Exec(ctx, decrementStockSQL, it.ProductID, it.Quantity)
			if err != nil {
				return errors.Wrapf(err, "decrement stock of %q", it.ProductID)
			}
			if tag.RowsAffected() == 0 {
				var available int
				if err := tx.QueryRow(ctx, stockSQL, it.ProductID).Scan(&available); err != nil {
					return errors.Wrapf(err, "read stock of %q", it.ProductID)
				}
				return &cart.InsufficientStockError{
					ProductID: it.ProductID,
					Requested: it.Quantity,
					Available: available,
				}
			}
			_, err = tx.Exec(ctx, insertSaleItemSQL,
				s.ID, i+1, it.ProductID, it.Name, it.Quantity, it.UnitPrice,
			)
			if err != nil {
				return errors.Wrapf(err, "insert line %d of sale %q", i+1, s.ID)
			}
		}

		if s.CouponCode != "" {
			return redeem(ctx, tx, s.CouponCode)
		}
		return nil
	})
}

// Get returns the sale with its lines.
func (r *SaleRepository) Get(ctx context.Context, id string) (*sale.Sale, error) {
	sales, err := r.query(ctx, psql.Select(saleColumns...).From("sales").Where(sq.Eq{"id": id}))
	if err != nil {
		return nil, errors.Wrapf(err, "get sale %q", id)
	}
	if len(sales) == 0 {
		return nil, sale.ErrNotFound
	}
	return &sales[0], nil
}

// List returns sales matching f, newest first.
func (r *SaleRepository) List(ctx context.Context, f sale.Filter) ([]sale.Sale, error) {
	q := psql.Select(saleColumns...).From("sales").OrderBy("created_at DESC", "id")
	if f.CashierID != "" {
		q = q.Where(sq.Eq{"cashier_id": f.CashierID})
	}
	if f.ClientID != "" {
		q = q.Where(sq.Eq{"client_id": f.ClientID})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	sales, err := r.query(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "list sales")
	}
	return sales, nil
}

func (r *SaleRepository) query(ctx context.Context, q sq.SelectBuilder) ([]sale.Sale, error) {
	stmt, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build query")
	}
	rows, err := r.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	sales, err := pgx.CollectRows(rows, scanSale)
	if err != nil {
		return nil, err
	}
	if len(sales) == 0 {
		return sales, nil
	}

	ids := make([]string, len(sales))
	index := make(map[string]int, len(sales))
	for i, s := range sales {
		ids[i] = s.ID
		index[s.ID] = i
	}
	rows, err = r.db.Query(ctx, saleItemsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "query lines")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			saleID string
			it     sale.Item
		)
		if err := rows.Scan(&saleID, &it.ProductID, &it.Name, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, errors.Wrap(err, "scan line")
		}
		if i, ok := index[saleID]; ok {
			sales[i].Items = append(sales[i].Items, it)
		}
	}
	return sales, rows.Err()
}

func scanSale(row pgx.CollectableRow) (sale.Sale, error) {
	var s sale.Sale
	err := row.Scan(
		&s.ID, &s.Subtotal, &s.Discount, &s.Tax, &s.Total, &s.PaymentMethod, &s.Tendered, &s.Change,
		&s.ClientID, &s.CouponCode, &s.Notes, &s.CashierID, &s.CreatedAt,
	)
	return s, err
}
