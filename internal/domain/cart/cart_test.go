package cart

import (
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/retail-pos/internal/domain/product"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func snapshot(id, price string, stock int) product.Product {
	return product.Product{ID: id, Name: "Product " + id, Price: d(price), Stock: stock, Unit: "pcs"}
}

func TestAddItem(t *testing.T) {
	c := New(nil)

	require.NoError(t, c.AddItem(snapshot("p1", "10.00", 5), 2))
	require.NoError(t, c.AddItem(snapshot("p2", "3.50", 10), 1))
	require.NoError(t, c.AddItem(snapshot("p1", "10.00", 5), 3))

	require.Equal(t, 2, c.Len())
	it, ok := c.Item("p1")
	require.True(t, ok)
	assert.Equal(t, 5, it.Quantity)

	items := c.Items()
	assert.Equal(t, "p1", items[0].ProductID)
	assert.Equal(t, "p2", items[1].ProductID)
}

func TestAddItem_RejectsAboveStock(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddItem(snapshot("p1", "10.00", 3), 2))

	err := c.AddItem(snapshot("p1", "10.00", 3), 2)
	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 4, stockErr.Requested)
	assert.Equal(t, 3, stockErr.Available)

	it, _ := c.Item("p1")
	assert.Equal(t, 2, it.Quantity)

	err = c.AddItem(snapshot("p9", "1.00", 0), 1)
	require.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 1, c.Len())
}

func TestAddItem_InvalidQuantity(t *testing.T) {
	c := New(nil)
	require.ErrorIs(t, c.AddItem(snapshot("p1", "1", 5), 0), ErrInvalidQuantity)
	require.ErrorIs(t, c.AddItem(snapshot("p1", "1", 5), -3), ErrInvalidQuantity)
	assert.Equal(t, 0, c.Len())
}

func TestAddItem_KeepsCapturedPrice(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddItem(snapshot("p1", "10.00", 5), 1))

	repriced := snapshot("p1", "12.00", 9)
	require.NoError(t, c.AddItem(repriced, 1))

	it, _ := c.Item("p1")
	assert.True(t, d("10.00").Equal(it.UnitPrice))
	assert.Equal(t, 9, it.Stock)
}

func TestSetQuantity(t *testing.T) {
	tests := []struct {
		name    string
		qty     int
		wantQty int
		wantErr error
	}{
		{name: "within stock", qty: 4, wantQty: 4},
		{name: "exactly stock", qty: 5, wantQty: 5},
		{name: "above stock rejected", qty: 6, wantQty: 2, wantErr: ErrInsufficientStock},
		{name: "zero rejected", qty: 0, wantQty: 2, wantErr: ErrInvalidQuantity},
		{name: "negative rejected", qty: -1, wantQty: 2, wantErr: ErrInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(nil)
			require.NoError(t, c.AddItem(snapshot("p1", "2.00", 5), 2))

			err := c.SetQuantity("p1", tt.qty)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			it, _ := c.Item("p1")
			assert.Equal(t, tt.wantQty, it.Quantity)
		})
	}
}

func TestSetQuantity_FailureIsIdempotent(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddItem(snapshot("p1", "2.00", 5), 3))
	before := c.Summary()

	for range 3 {
		require.ErrorIs(t, c.SetQuantity("p1", 50), ErrInsufficientStock)
	}

	it, _ := c.Item("p1")
	assert.Equal(t, 3, it.Quantity)
	assert.Equal(t, before, c.Summary())
}

func TestSetQuantity_UnknownItem(t *testing.T) {
	c := New(nil)
	require.ErrorIs(t, c.SetQuantity("nope", 1), ErrItemNotFound)
}

func TestRefresh(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddItem(snapshot("p1", "2.00", 5), 4))

	err := c.Refresh(snapshot("p1", "3.00", 3))
	require.ErrorIs(t, err, ErrInsufficientStock)
	it, _ := c.Item("p1")
	assert.Equal(t, 5, it.Stock)

	require.NoError(t, c.Refresh(snapshot("p1", "3.00", 8)))
	it, _ = c.Item("p1")
	assert.Equal(t, 8, it.Stock)
	assert.True(t, d("2.00").Equal(it.UnitPrice))

	require.ErrorIs(t, c.Refresh(snapshot("p2", "1", 1)), ErrItemNotFound)
}

func TestRemoveItemAndClear(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.AddItem(snapshot("p1", "1", 5), 1))
	require.NoError(t, c.AddItem(snapshot("p2", "1", 5), 1))
	require.NoError(t, c.AddItem(snapshot("p3", "1", 5), 1))

	require.NoError(t, c.RemoveItem("p2"))
	require.ErrorIs(t, c.RemoveItem("p2"), ErrItemNotFound)

	require.NoError(t, c.SetQuantity("p3", 2))
	it, ok := c.Item("p3")
	require.True(t, ok)
	assert.Equal(t, 2, it.Quantity)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.True(t, c.Summary().Total.IsZero())
}

func TestSummary(t *testing.T) {
	c := New(FlatRate{Rate: d("0.16")})
	require.NoError(t, c.AddItem(snapshot("p1", "9.99", 10), 3))
	require.NoError(t, c.AddItem(snapshot("p2", "0.50", 10), 1))

	s := c.Summary()
	assert.Equal(t, 4, s.ItemCount)
	assert.True(t, d("30.47").Equal(s.Subtotal), s.Subtotal.String())
	// 30.47 * 0.16 = 4.8752 -> 4.88
	assert.True(t, d("4.88").Equal(s.Tax), s.Tax.String())
	assert.True(t, d("35.35").Equal(s.Total), s.Total.String())
}

// freshSummary computes the aggregate straight from the lines.
func freshSummary(items []Item, tax TaxPolicy) Summary {
	var s Summary
	s.Subtotal = decimal.Zero
	for _, it := range items {
		s.ItemCount += it.Quantity
		s.Subtotal = s.Subtotal.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	s.Subtotal = s.Subtotal.Round(2)
	s.Tax = tax.Tax(s.Subtotal).Round(2)
	s.Total = s.Subtotal.Add(s.Tax)
	return s
}

func TestSummary_NoDriftAfterRandomOperations(t *testing.T) {
	tax := FlatRate{Rate: d("0.08")}
	c := New(tax)
	rng := rand.New(rand.NewPCG(1, 2))
	catalog := []product.Product{
		snapshot("a", "1.25", 20),
		snapshot("b", "19.99", 4),
		snapshot("c", "0.05", 100),
		snapshot("d", "7.00", 1),
	}

	for range 500 {
		p := catalog[rng.IntN(len(catalog))]
		switch rng.IntN(3) {
		case 0:
			_ = c.AddItem(p, rng.IntN(5)+1)
		case 1:
			_ = c.SetQuantity(p.ID, rng.IntN(8))
		case 2:
			_ = c.RemoveItem(p.ID)
		}

		got := c.Summary()
		want := freshSummary(c.Items(), tax)
		require.True(t, want.Total.Equal(got.Total))
		require.Equal(t, want.ItemCount, got.ItemCount)
		for _, it := range c.Items() {
			require.LessOrEqual(t, it.Quantity, it.Stock)
			require.GreaterOrEqual(t, it.Quantity, 1)
		}
	}
}
