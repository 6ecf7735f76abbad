// Package sale defines the immutable record of a paid transaction and the
// money rules shared by the terminal and the backing service.
package sale

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a sale does not exist.
	ErrNotFound = errors.New("sale not found")
	// ErrInsufficientPayment is matched by every *InsufficientPaymentError.
	ErrInsufficientPayment = errors.New("insufficient payment")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation error")
)

// InsufficientPaymentError reports a tendered amount below the total.
type InsufficientPaymentError struct {
	Total    decimal.Decimal
	Tendered decimal.Decimal
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: tendered %s, total %s",
		e.Tendered.StringFixed(2), e.Total.StringFixed(2))
}

func (e *InsufficientPaymentError) Is(target error) bool { return target == ErrInsufficientPayment }

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Item is one sold line with the unit price at sale time.
type Item struct {
	ProductID string
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal returns quantity * unit price.
func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Sale is a finalized transaction. It is never mutated after creation.
type Sale struct {
	ID            string
	Items         []Item
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
	PaymentMethod string
	Tendered      decimal.Decimal
	Change        decimal.Decimal
	ClientID      string
	CouponCode    string
	Notes         string
	CashierID     string
	CreatedAt     time.Time
}

// Amounts is the money breakdown of a checkout.
type Amounts struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Totals returns subtotal - discount + tax rounded to 2 dp. The discount is
// expected to be already clamped to [0, subtotal]; the total is floored at 0.
func Totals(subtotal, discount, tax decimal.Decimal) Amounts {
	total := subtotal.Sub(discount).Add(tax)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Amounts{
		Subtotal: subtotal.Round(2),
		Discount: discount.Round(2),
		Tax:      tax.Round(2),
		Total:    total.Round(2),
	}
}

// Change returns tendered - total. A tendered amount below total is an
// *InsufficientPaymentError; the amount is never rounded up.
func Change(total, tendered decimal.Decimal) (decimal.Decimal, error) {
	if tendered.LessThan(total) {
		return decimal.Zero, &InsufficientPaymentError{Total: total, Tendered: tendered}
	}
	return tendered.Sub(total).Round(2), nil
}

// ParseAmount parses a required non-negative money field.
func ParseAmount(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, &ValidationError{Field: field, Reason: "required"}
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: field, Reason: fmt.Sprintf("%q is not an amount", s)}
	}
	if v.IsNegative() {
		return decimal.Zero, &ValidationError{Field: field, Reason: "must not be negative"}
	}
	return v, nil
}

// LineRequest is one requested line of a checkout.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// CheckoutRequest is the sale-creation request sent across the boundary.
// DiscountAmount is the manual discount; a coupon, when valid, replaces it.
type CheckoutRequest struct {
	IdempotencyKey string
	Items          []LineRequest
	ClientID       string
	PaymentMethod  string
	PaymentAmount  string
	DiscountAmount string
	CouponCode     string
	Notes          string
}

// Receipt is the result of a checkout. Replayed is set when the sale was
// created by an earlier submission with the same idempotency key.
type Receipt struct {
	Sale     *Sale
	Replayed bool
}

// Filter narrows a sale listing.
type Filter struct {
	CashierID string
	ClientID  string
	Limit     int
}

// Repository persists sales. Create must store the sale, decrement stock
// for every line and redeem the coupon in one transaction.
type Repository interface {
	Create(ctx context.Context, s *Sale) error
	Get(ctx context.Context, id string) (*Sale, error)
	List(ctx context.Context, f Filter) ([]Sale, error)
}
