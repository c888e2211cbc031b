// Package invoice is the read-only projection of a completed checkout,
// shaped for display, printing and hand-off to e-mail delivery.
package invoice

import (
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/money"

	"github.com/shopspring/decimal"
)

// Customer is the contact block printed on an invoice
type Customer struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
}

// Shipping is the delivery block printed on an invoice
type Shipping struct {
	Address string `json:"address"`
	City    string `json:"city"`
	Notes   string `json:"notes,omitempty"`
}

// Item is one invoiced product line
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Brand     string          `json:"brand"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// NewItem builds an item with its subtotal computed from quantity and unit price
func NewItem(productID, name, brand string, quantity int, unitPrice decimal.Decimal) Item {
	return Item{
		ProductID: productID,
		Name:      name,
		Brand:     brand,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Subtotal:  unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// Invoice is immutable once built; accessors hand out copies
type Invoice struct {
	id            string
	issuedAt      time.Time
	customer      Customer
	shipping      Shipping
	paymentMethod models.PaymentMethod
	items         []Item
	subtotal      decimal.Decimal
	tax           decimal.Decimal
	total         decimal.Decimal
}

var (
	ErrNoItems       = errors.New("invoice has no items")
	ErrTotalMismatch = errors.New("invoice totals are inconsistent")
)

// New builds an invoice, deriving subtotal, tax and total from items
func New(id string, issuedAt time.Time, customer Customer, shipping Shipping, method models.PaymentMethod, items []Item) (*Invoice, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	own := make([]Item, len(items))
	subtotal := decimal.Zero
	for i, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("invoice item %s has quantity %d", it.ProductID, it.Quantity)
		}
		// the line subtotal is always derived, never trusted from the caller
		it.Subtotal = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		own[i] = it
		subtotal = subtotal.Add(it.Subtotal)
	}

	return &Invoice{
		id:            id,
		issuedAt:      issuedAt,
		customer:      customer,
		shipping:      shipping,
		paymentMethod: method,
		items:         own,
		subtotal:      subtotal,
		tax:           money.Tax(subtotal),
		total:         money.Total(subtotal),
	}, nil
}

func (inv *Invoice) ID() string                          { return inv.id }
func (inv *Invoice) IssuedAt() time.Time                 { return inv.issuedAt }
func (inv *Invoice) Customer() Customer                  { return inv.customer }
func (inv *Invoice) Shipping() Shipping                  { return inv.shipping }
func (inv *Invoice) PaymentMethod() models.PaymentMethod { return inv.paymentMethod }
func (inv *Invoice) Subtotal() decimal.Decimal           { return inv.subtotal }
func (inv *Invoice) Tax() decimal.Decimal                { return inv.tax }
func (inv *Invoice) Total() decimal.Decimal              { return inv.total }

// Items returns a copy of the invoiced lines
func (inv *Invoice) Items() []Item {
	out := make([]Item, len(inv.items))
	copy(out, inv.items)
	return out
}

// Verify re-checks the line-sum and tax invariants
func (inv *Invoice) Verify() error {
	sum := decimal.Zero
	for _, it := range inv.items {
		sum = sum.Add(it.Subtotal)
	}
	if !sum.Equal(inv.subtotal) {
		return fmt.Errorf("%w: items sum to %s, subtotal is %s", ErrTotalMismatch, sum, inv.subtotal)
	}
	if want := money.Total(inv.subtotal); !want.Equal(inv.total) {
		return fmt.Errorf("%w: total is %s, want %s", ErrTotalMismatch, inv.total, want)
	}
	if !money.Round2(inv.subtotal).Add(inv.tax).Equal(inv.total) {
		return fmt.Errorf("%w: subtotal plus tax differs from total", ErrTotalMismatch)
	}
	return nil
}

// LineItems converts the invoice lines to their wire form
func (inv *Invoice) LineItems() []models.LineItem {
	out := make([]models.LineItem, len(inv.items))
	for i, it := range inv.items {
		out[i] = models.LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Brand:     it.Brand,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
		}
	}
	return out
}

// DeliveryRequest shapes the invoice for the e-mail delivery collaborator
func (inv *Invoice) DeliveryRequest() models.DeliveryRequest {
	return models.DeliveryRequest{
		PaymentMethod: models.PaymentMethodEmailOnly,
		InvoiceID:     inv.id,
		Items:         inv.LineItems(),
		CustomerEmail: inv.customer.Email,
		CustomerName:  inv.customer.FullName,
		Subtotal:      inv.subtotal,
		Tax:           inv.tax,
		Total:         inv.total,
	}
}
