package cart

import "github.com/shopspring/decimal"

// TaxPolicy computes the tax owed on a subtotal.
type TaxPolicy interface {
	Tax(subtotal decimal.Decimal) decimal.Decimal
}

// NoTax charges nothing.
type NoTax struct{}

func (NoTax) Tax(decimal.Decimal) decimal.Decimal { return decimal.Zero }

// FlatRate applies a fixed fractional rate (0.16 for 16%) to the subtotal.
type FlatRate struct {
	Rate decimal.Decimal
}

func (r FlatRate) Tax(subtotal decimal.Decimal) decimal.Decimal {
	if r.Rate.IsNegative() || subtotal.IsNegative() {
		return decimal.Zero
	}
	return subtotal.Mul(r.Rate)
}

// PolicyFor returns FlatRate for a positive rate and NoTax otherwise.
func PolicyFor(rate decimal.Decimal) TaxPolicy {
	if rate.IsPositive() {
		return FlatRate{Rate: rate}
	}
	return NoTax{}
}
