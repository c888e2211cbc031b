// Package cart implements the shopper's in-progress selection. Every
// mutation either applies fully or leaves the cart untouched.
package cart

import (
	"errors"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/money"

	"github.com/shopspring/decimal"
)

var (
	ErrOutOfStock      = errors.New("product is out of stock")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrLineNotFound    = errors.New("product is not in the cart")
)

// StockExceededError rejects a quantity above the product's available stock
type StockExceededError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *StockExceededError) Error() string {
	unit := "units"
	if e.Available == 1 {
		unit = "unit"
	}
	return fmt.Sprintf("only %d %s of %s available (requested %d)", e.Available, unit, e.Name, e.Requested)
}

// Line is a product and the quantity selected of it
type Line struct {
	Product  models.Product
	Quantity int
}

// Subtotal returns quantity * unit price
func (l Line) Subtotal() decimal.Decimal {
	return l.Product.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is an insertion-ordered set of lines keyed by product id
type Cart struct {
	order []string
	lines map[string]*Line
}

// New returns an empty cart
func New() *Cart {
	return &Cart{lines: make(map[string]*Line)}
}

// AddItem adds quantity units of product, merging with an existing line
func (c *Cart) AddItem(product models.Product, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	if product.AvailableStock <= 0 {
		return fmt.Errorf("%s: %w", product.Name, ErrOutOfStock)
	}

	existing := 0
	if l, ok := c.lines[product.ID]; ok {
		existing = l.Quantity
	}
	if existing+quantity > product.AvailableStock {
		return &StockExceededError{
			ProductID: product.ID,
			Name:      product.Name,
			Available: product.AvailableStock,
			Requested: existing + quantity,
		}
	}

	if l, ok := c.lines[product.ID]; ok {
		l.Product = product
		l.Quantity = existing + quantity
		return nil
	}
	c.lines[product.ID] = &Line{Product: product, Quantity: quantity}
	c.order = append(c.order, product.ID)
	return nil
}

// SetQuantity replaces a line's quantity; zero or less removes the line
func (c *Cart) SetQuantity(productID string, quantity int) error {
	if quantity <= 0 {
		c.RemoveItem(productID)
		return nil
	}

	l, ok := c.lines[productID]
	if !ok {
		return ErrLineNotFound
	}
	if quantity > l.Product.AvailableStock {
		return &StockExceededError{
			ProductID: productID,
			Name:      l.Product.Name,
			Available: l.Product.AvailableStock,
			Requested: quantity,
		}
	}
	l.Quantity = quantity
	return nil
}

// RemoveItem deletes a line if present
func (c *Cart) RemoveItem(productID string) {
	if _, ok := c.lines[productID]; !ok {
		return
	}
	delete(c.lines, productID)
	for i, id := range c.order {
		if id == productID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Clear removes every line
func (c *Cart) Clear() {
	c.order = nil
	c.lines = make(map[string]*Line)
}

// Lines returns a copy of the lines in insertion order
func (c *Cart) Lines() []Line {
	out := make([]Line, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.lines[id])
	}
	return out
}

// Line returns the line for productID
func (c *Cart) Line(productID string) (Line, bool) {
	l, ok := c.lines[productID]
	if !ok {
		return Line{}, false
	}
	return *l, true
}

// IsEmpty reports whether the cart has no lines
func (c *Cart) IsEmpty() bool {
	return len(c.order) == 0
}

// ItemCount returns the sum of quantities
func (c *Cart) ItemCount() int {
	n := 0
	for _, l := range c.lines {
		n += l.Quantity
	}
	return n
}

// Subtotal returns the sum of line subtotals
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, id := range c.order {
		sum = sum.Add(c.lines[id].Subtotal())
	}
	return sum
}

// Tax returns the fixed-rate tax on the subtotal
func (c *Cart) Tax() decimal.Decimal {
	return money.Tax(c.Subtotal())
}

// Total returns subtotal plus tax
func (c *Cart) Total() decimal.Decimal {
	return money.Total(c.Subtotal())
}
