package coupon

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-pos/internal/domain/loyalty"
)

// Source names where the effective discount came from.
type Source string

const (
	SourceNone   Source = "none"
	SourceManual Source = "manual"
	SourceCoupon Source = "coupon"
)

// ResolveRequest is the input of Resolve.
type ResolveRequest struct {
	Subtotal   decimal.Decimal
	Manual     string
	CouponCode string
	Client     *loyalty.Client
}

// Resolution is the effective discount plus any coupon issues to display.
type Resolution struct {
	Effective  decimal.Decimal
	Manual     decimal.Decimal
	Coupon     *Validation
	CouponCode string
	Source     Source
	Issues     []string
}

// Err returns an *InvalidCouponError when a supplied coupon was refused.
func (r Resolution) Err() error {
	if r.CouponCode == "" || len(r.Issues) == 0 {
		return nil
	}
	return &InvalidCouponError{Code: r.CouponCode, Issues: r.Issues}
}

// Resolver computes the effective discount of a purchase from a manual value
// and an optional coupon validated by an external rule check.
type Resolver struct {
	validator Validator
}

// NewResolver creates a Resolver that validates coupons with v.
func NewResolver(v Validator) *Resolver {
	return &Resolver{validator: v}
}

// ParseManual parses a manual discount. Empty input is zero.
func ParseManual(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrInvalidManualDiscount, "%q", s)
	}
	return v, nil
}

// Resolve returns the effective discount for req. A valid coupon replaces
// the manual value; an invalid one leaves the manual value in place and
// reports its issues. The result is always within [0, subtotal]. Errors are
// returned only for unparseable manual input or a failed coupon check.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (Resolution, error) {
	manual, err := ParseManual(req.Manual)
	if err != nil {
		return Resolution{}, err
	}
	manual = Clamp(manual, req.Subtotal).Round(2)

	res := Resolution{
		Effective: manual,
		Manual:    manual,
		Source:    SourceNone,
	}
	if manual.IsPositive() {
		res.Source = SourceManual
	}

	code := NormalizeCode(req.CouponCode)
	if code == "" {
		return res, nil
	}
	res.CouponCode = code

	clientID := ""
	if req.Client != nil {
		clientID = req.Client.ID
	}
	v, err := r.validator.Validate(ctx, code, clientID, req.Subtotal)
	if err != nil {
		return Resolution{}, errors.Wrap(err, "validate coupon")
	}
	res.Coupon = v

	if !v.Valid {
		res.Issues = append([]string(nil), v.Issues...)
		if len(res.Issues) == 0 {
			res.Issues = []string{"coupon was refused"}
		}
		return res, nil
	}

	res.Effective = Clamp(v.Amount, req.Subtotal).Round(2)
	res.Source = SourceCoupon
	return res, nil
}
