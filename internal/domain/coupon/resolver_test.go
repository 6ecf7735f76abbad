package coupon

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/retail-pos/internal/domain/loyalty"
)

type mockValidator struct {
	result *Validation
	err    error

	calls    int
	code     string
	clientID string
	purchase decimal.Decimal
}

func (m *mockValidator) Validate(_ context.Context, code, clientID string, purchase decimal.Decimal) (*Validation, error) {
	m.calls++
	m.code, m.clientID, m.purchase = code, clientID, purchase
	return m.result, m.err
}

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name          string
		validator     *mockValidator
		req           ResolveRequest
		wantEffective string
		wantSource    Source
		wantIssues    bool
		wantCalls     int
	}{
		{
			name:          "manual above subtotal clamps to subtotal",
			validator:     &mockValidator{},
			req:           ResolveRequest{Subtotal: d("100.00"), Manual: "150"},
			wantEffective: "100.00",
			wantSource:    SourceManual,
		},
		{
			name:          "negative manual clamps to zero",
			validator:     &mockValidator{},
			req:           ResolveRequest{Subtotal: d("100.00"), Manual: "-20"},
			wantEffective: "0",
			wantSource:    SourceNone,
		},
		{
			name:          "empty manual is zero",
			validator:     &mockValidator{},
			req:           ResolveRequest{Subtotal: d("100.00")},
			wantEffective: "0",
			wantSource:    SourceNone,
		},
		{
			name:          "valid coupon replaces manual",
			validator:     &mockValidator{result: &Validation{Valid: true, Amount: d("15")}},
			req:           ResolveRequest{Subtotal: d("100"), Manual: "30", CouponCode: "save15"},
			wantEffective: "15",
			wantSource:    SourceCoupon,
			wantCalls:     1,
		},
		{
			name:          "oversized coupon amount re-clamped",
			validator:     &mockValidator{result: &Validation{Valid: true, Amount: d("500")}},
			req:           ResolveRequest{Subtotal: d("80"), CouponCode: "BIG"},
			wantEffective: "80",
			wantSource:    SourceCoupon,
			wantCalls:     1,
		},
		{
			name: "invalid coupon keeps manual and reports issues",
			validator: &mockValidator{result: &Validation{
				Valid: false, Amount: d("40"), Issues: []string{"coupon expired"},
			}},
			req:           ResolveRequest{Subtotal: d("100"), Manual: "10", CouponCode: "OLD"},
			wantEffective: "10",
			wantSource:    SourceManual,
			wantIssues:    true,
			wantCalls:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.validator)
			got, err := r.Resolve(context.Background(), tt.req)
			require.NoError(t, err)

			assert.True(t, d(tt.wantEffective).Equal(got.Effective),
				"expected %s, got %s", tt.wantEffective, got.Effective)
			assert.Equal(t, tt.wantSource, got.Source)
			assert.Equal(t, tt.wantCalls, tt.validator.calls)
			if tt.wantIssues {
				assert.NotEmpty(t, got.Issues)
				var invalid *InvalidCouponError
				require.ErrorAs(t, got.Err(), &invalid)
				assert.ErrorIs(t, got.Err(), ErrInvalidCoupon)
			} else {
				assert.Empty(t, got.Issues)
				assert.NoError(t, got.Err())
			}
		})
	}
}

func TestResolver_PassesClientAndSubtotal(t *testing.T) {
	v := &mockValidator{result: &Validation{Valid: true, Amount: d("1")}}
	_, err := NewResolver(v).Resolve(context.Background(), ResolveRequest{
		Subtotal:   d("42.10"),
		CouponCode: " vip ",
		Client:     &loyalty.Client{ID: "c7"},
	})
	require.NoError(t, err)
	assert.Equal(t, "VIP", v.code)
	assert.Equal(t, "c7", v.clientID)
	assert.True(t, d("42.10").Equal(v.purchase))
}

func TestResolver_Errors(t *testing.T) {
	_, err := NewResolver(&mockValidator{}).Resolve(context.Background(), ResolveRequest{
		Subtotal: d("10"), Manual: "ten",
	})
	require.ErrorIs(t, err, ErrInvalidManualDiscount)

	_, err = NewResolver(&mockValidator{err: errors.New("timeout")}).Resolve(context.Background(), ResolveRequest{
		Subtotal: d("10"), CouponCode: "X",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate coupon")
}

func TestResolver_EffectiveAlwaysWithinSubtotal(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for range 1000 {
		subtotal := decimal.New(rng.Int64N(100000), -2)
		manual := decimal.New(rng.Int64N(400000)-200000, -2)
		couponAmount := decimal.New(rng.Int64N(400000)-200000, -2)
		valid := rng.IntN(2) == 0

		code := ""
		if rng.IntN(3) > 0 {
			code = "ANY"
		}
		v := &mockValidator{result: &Validation{Valid: valid, Amount: couponAmount, Issues: []string{"x"}}}
		if valid {
			v.result.Issues = nil
		}

		got, err := NewResolver(v).Resolve(context.Background(), ResolveRequest{
			Subtotal:   subtotal,
			Manual:     manual.String(),
			CouponCode: code,
		})
		require.NoError(t, err)
		require.False(t, got.Effective.IsNegative(), "negative effective %s", got.Effective)
		require.True(t, got.Effective.LessThanOrEqual(subtotal),
			"effective %s exceeds subtotal %s", got.Effective, subtotal)
	}
}
