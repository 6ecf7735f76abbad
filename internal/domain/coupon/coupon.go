package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage of the purchase amount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed amount capped at the purchase amount.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrInvalidCoupon is matched by every *InvalidCouponError.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrNotFound is returned by repositories for unknown codes.
	ErrNotFound = errors.New("coupon not found")
	// ErrInvalidManualDiscount is returned when a manual discount is not a number.
	ErrInvalidManualDiscount = errors.New("manual discount is not a valid amount")
)

// InvalidCouponError carries the human-readable reasons a coupon was refused.
type InvalidCouponError struct {
	Code   string
	Issues []string
}

func (e *InvalidCouponError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("invalid coupon %q", e.Code)
	}
	return fmt.Sprintf("invalid coupon %q: %s", e.Code, strings.Join(e.Issues, "; "))
}

func (e *InvalidCouponError) Is(target error) bool { return target == ErrInvalidCoupon }

// Rule defines a coupon's discount behaviour and eligibility constraints.
// Coupons are external reference data; the resolver only validates and
// applies them.
type Rule struct {
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MinPurchase  decimal.Decimal
	MaxDiscount  decimal.Decimal
	ClientID     string
	Description  string
	ValidFrom    *time.Time
	ValidUntil   *time.Time
	MaxUses      int
	Uses         int
	Active       bool
}

// Validation is the outcome of checking a code against a purchase.
type Validation struct {
	Code        string
	Valid       bool
	Amount      decimal.Decimal
	Description string
	Issues      []string
}

// Validator checks a coupon for a client and purchase amount. An invalid
// coupon is reported through Validation; errors mean the check itself failed.
type Validator interface {
	Validate(ctx context.Context, code, clientID string, purchase decimal.Decimal) (*Validation, error)
}

// Repository looks up coupon rules by code.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Rule, error)
}

// NormalizeCode trims and upper-cases a code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
