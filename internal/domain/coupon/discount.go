package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// Apply calculates the discount the rule grants on purchase. The result is
// rounded to 2 dp and always within [0, purchase].
func Apply(rule *Rule, purchase decimal.Decimal) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch rule.DiscountType {
	case DiscountPercentage:
		amount = purchase.Mul(rule.Value).Div(hundred)
	case DiscountFixed:
		amount = rule.Value
	default:
		return zero, errors.Errorf("unsupported discount type: %q", rule.DiscountType)
	}

	if rule.MaxDiscount.IsPositive() {
		amount = decimal.Min(amount, rule.MaxDiscount)
	}
	return Clamp(amount, purchase).Round(2), nil
}

// Clamp bounds amount to [0, limit]. A non-positive limit yields zero.
func Clamp(amount, limit decimal.Decimal) decimal.Decimal {
	if !limit.IsPositive() || amount.IsNegative() {
		return zero
	}
	return decimal.Min(amount, limit)
}
