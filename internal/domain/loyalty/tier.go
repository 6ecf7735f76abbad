// Package loyalty derives client tiers from accumulated points and applies
// point adjustments.
package loyalty

import "github.com/shopspring/decimal"

// Tier is a loyalty level. A client's tier is always the highest tier whose
// threshold the client's points satisfy.
type Tier struct {
	Name            string
	Threshold       int64
	DiscountPercent decimal.Decimal
}

var tiers = []Tier{
	{Name: "bronze", Threshold: 0, DiscountPercent: decimal.Zero},
	{Name: "silver", Threshold: 500, DiscountPercent: decimal.NewFromInt(5)},
	{Name: "gold", Threshold: 1500, DiscountPercent: decimal.NewFromInt(10)},
	{Name: "platinum", Threshold: 5000, DiscountPercent: decimal.NewFromInt(15)},
}

var hundred = decimal.NewFromInt(100)

// Tiers returns the tier table ordered by threshold.
func Tiers() []Tier {
	return append([]Tier(nil), tiers...)
}

// BaseTier is the tier with threshold 0.
func BaseTier() Tier { return tiers[0] }

// TierFor returns the highest tier whose threshold is <= points. Points
// below every threshold resolve to the base tier.
func TierFor(points int64) Tier {
	t := tiers[0]
	for _, candidate := range tiers[1:] {
		if points >= candidate.Threshold {
			t = candidate
		}
	}
	return t
}

// Discount returns the tier's percentage of subtotal, rounded to 2 dp.
func (t Tier) Discount(subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	return subtotal.Mul(t.DiscountPercent).Div(hundred).Round(2)
}
