// Package cart holds the session-scoped collection of pending purchase lines.
package cart

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/retail-pos/internal/domain/product"
)

var (
	// ErrInvalidQuantity is returned for quantities below 1.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrItemNotFound is returned when a line for the product does not exist.
	ErrItemNotFound = errors.New("item not in cart")
	// ErrInsufficientStock is matched by every *InsufficientStockError.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// InsufficientStockError reports a quantity request above the snapshot stock.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// Item is one product line. UnitPrice is captured when the line is created
// and never re-read from the catalog.
type Item struct {
	ProductID string
	Name      string
	Unit      string
	Quantity  int
	UnitPrice decimal.Decimal
	Stock     int
}

// Subtotal returns quantity * unit price.
func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Summary is the derived aggregate of a cart.
type Summary struct {
	ItemCount int
	Subtotal  decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
}

// Cart is an ordered collection of items keyed by product id. It is not
// safe for concurrent use; each session owns its own cart.
type Cart struct {
	tax   TaxPolicy
	items []Item
	index map[string]int
}

// New creates an empty cart using tax to compute summaries. A nil policy
// charges no tax.
func New(tax TaxPolicy) *Cart {
	if tax == nil {
		tax = NoTax{}
	}
	return &Cart{tax: tax, index: make(map[string]int)}
}

// AddItem adds qty of p. An existing line has its quantity increased and its
// stock snapshot replaced by p's; its unit price stays as captured.
func (c *Cart) AddItem(p product.Product, qty int) error {
	if qty < 1 {
		return ErrInvalidQuantity
	}

	if i, ok := c.index[p.ID]; ok {
		next := c.items[i].Quantity + qty
		if next > p.Stock {
			return &InsufficientStockError{ProductID: p.ID, Requested: next, Available: p.Stock}
		}
		c.items[i].Quantity = next
		c.items[i].Stock = p.Stock
		return nil
	}

	if qty > p.Stock {
		return &InsufficientStockError{ProductID: p.ID, Requested: qty, Available: p.Stock}
	}
	c.index[p.ID] = len(c.items)
	c.items = append(c.items, Item{
		ProductID: p.ID,
		Name:      p.Name,
		Unit:      p.Unit,
		Quantity:  qty,
		UnitPrice: p.Price,
		Stock:     p.Stock,
	})
	return nil
}

// SetQuantity replaces the quantity of an existing line. Quantities below 1
// or above the stock snapshot are rejected, never clamped.
func (c *Cart) SetQuantity(productID string, qty int) error {
	i, ok := c.index[productID]
	if !ok {
		return ErrItemNotFound
	}
	if qty < 1 {
		return ErrInvalidQuantity
	}
	if qty > c.items[i].Stock {
		return &InsufficientStockError{ProductID: productID, Requested: qty, Available: c.items[i].Stock}
	}
	c.items[i].Quantity = qty
	return nil
}

// Refresh replaces the stock snapshot of an existing line. The captured
// unit price is kept. A snapshot whose stock is below the current quantity
// is rejected and the line is left untouched.
func (c *Cart) Refresh(p product.Product) error {
	i, ok := c.index[p.ID]
	if !ok {
		return ErrItemNotFound
	}
	if c.items[i].Quantity > p.Stock {
		return &InsufficientStockError{ProductID: p.ID, Requested: c.items[i].Quantity, Available: p.Stock}
	}
	c.items[i].Stock = p.Stock
	return nil
}

// RemoveItem deletes the line for productID.
func (c *Cart) RemoveItem(productID string) error {
	i, ok := c.index[productID]
	if !ok {
		return ErrItemNotFound
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	delete(c.index, productID)
	for j := i; j < len(c.items); j++ {
		c.index[c.items[j].ProductID] = j
	}
	return nil
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.items = nil
	c.index = make(map[string]int)
}

// Len returns the number of lines.
func (c *Cart) Len() int { return len(c.items) }

// Item returns the line for productID.
func (c *Cart) Item(productID string) (Item, bool) {
	i, ok := c.index[productID]
	if !ok {
		return Item{}, false
	}
	return c.items[i], true
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []Item {
	return append([]Item(nil), c.items...)
}

// Summary recomputes the aggregate from the current lines.
func (c *Cart) Summary() Summary {
	count := 0
	subtotal := decimal.Zero
	for _, it := range c.items {
		count += it.Quantity
		subtotal = subtotal.Add(it.Subtotal())
	}
	subtotal = subtotal.Round(2)
	tax := c.tax.Tax(subtotal).Round(2)
	return Summary{
		ItemCount: count,
		Subtotal:  subtotal,
		Tax:       tax,
		Total:     subtotal.Add(tax),
	}
}
