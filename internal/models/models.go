package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a sellable catalog item with its aggregated stock
type Product struct {
	ID             string          `db:"id" json:"id"`
	Code           string          `db:"code" json:"code"`
	Name           string          `db:"name" json:"name"`
	Description    string          `db:"description" json:"description"`
	UnitPrice      decimal.Decimal `db:"unit_price" json:"unitPrice"`
	Brand          string          `db:"brand" json:"brand"`
	Category       string          `db:"category" json:"category"`
	AvailableStock int             `db:"available_stock" json:"availableStock"`
	Rating         float64         `db:"rating" json:"rating"`
	ReviewCount    int             `db:"review_count" json:"reviewCount"`
	ImageRef       string          `db:"image_ref" json:"imageRef"`
}

// PaymentMethod is the closed set of accepted payment methods
type PaymentMethod string

const (
	PaymentMethodBankTransfer   PaymentMethod = "bankTransfer"
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodCashOnDelivery PaymentMethod = "cashOnDelivery"
	PaymentMethodDigitalWallet  PaymentMethod = "digitalWallet"

	// PaymentMethodEmailOnly tags invoice delivery requests
	PaymentMethodEmailOnly PaymentMethod = "email_only"
)

// PaymentMethods lists the methods a shopper can choose at checkout
var PaymentMethods = []PaymentMethod{
	PaymentMethodBankTransfer,
	PaymentMethodCard,
	PaymentMethodCashOnDelivery,
	PaymentMethodDigitalWallet,
}

// Valid reports whether m is one of the checkout payment methods
func (m PaymentMethod) Valid() bool {
	for _, pm := range PaymentMethods {
		if m == pm {
			return true
		}
	}
	return false
}

func (m PaymentMethod) String() string {
	return string(m)
}

// LineItem is the wire form of a cart line
type LineItem struct {
	ProductID string          `json:"productId" validate:"required"`
	Name      string          `json:"name"`
	Brand     string          `json:"brand"`
	Quantity  int             `json:"quantity" validate:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// PaymentRequest is the payload handed to the payment backend
type PaymentRequest struct {
	PaymentMethod   PaymentMethod   `json:"paymentMethod" validate:"required"`
	Items           []LineItem      `json:"items" validate:"required,min=1,dive"`
	CustomerEmail   string          `json:"customerEmail" validate:"required,email"`
	CustomerName    string          `json:"customerName" validate:"required"`
	CustomerPhone   string          `json:"customerPhone" validate:"required"`
	ShippingAddress string          `json:"shippingAddress" validate:"required"`
	ShippingCity    string          `json:"shippingCity" validate:"required"`
	ShippingNotes   string          `json:"shippingNotes,omitempty"`
	Total           decimal.Decimal `json:"total"`
	SessionUserID   string          `json:"sessionUserId,omitempty"`
	IdempotencyKey  string          `json:"idempotencyKey,omitempty"`
}

// InvoiceData is the backend's record of a settled sale
type InvoiceData struct {
	ID       string    `json:"id"`
	IssuedAt time.Time `json:"issuedAt"`
}

// PaymentResponse is returned by the payment backend
type PaymentResponse struct {
	Success      bool         `json:"success"`
	ClientSecret string       `json:"clientSecret,omitempty"`
	InvoiceData  *InvoiceData `json:"invoiceData,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// ConfirmPaymentRequest confirms a pending card payment
type ConfirmPaymentRequest struct {
	ClientSecret string `json:"clientSecret" validate:"required"`
}

// VoidPaymentRequest reverses whatever a submit recorded under its key
type VoidPaymentRequest struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"required"`
}

// DeliveryRequest asks the delivery collaborator to e-mail an invoice
type DeliveryRequest struct {
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	InvoiceID     string          `json:"invoiceId,omitempty"`
	Items         []LineItem      `json:"items" validate:"required,min=1"`
	CustomerEmail string          `json:"customerEmail" validate:"required,email"`
	CustomerName  string          `json:"customerName,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
}

// DeliveryResponse reports whether the invoice e-mail went out
type DeliveryResponse struct {
	Success   bool   `json:"success"`
	EmailSent bool   `json:"emailSent"`
	Error     string `json:"error,omitempty"`
}

// Sale represents a recorded storefront sale
type Sale struct {
	ID              string          `db:"id" json:"id"`
	CustomerName    string          `db:"customer_name" json:"customer_name"`
	CustomerEmail   string          `db:"customer_email" json:"customer_email"`
	CustomerPhone   string          `db:"customer_phone" json:"customer_phone"`
	ShippingAddress string          `db:"shipping_address" json:"shipping_address"`
	ShippingCity    string          `db:"shipping_city" json:"shipping_city"`
	ShippingNotes   string          `db:"shipping_notes" json:"shipping_notes,omitempty"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	Tax             decimal.Decimal `db:"tax" json:"tax"`
	Total           decimal.Decimal `db:"total" json:"total"`
	Status          string          `db:"status" json:"status"`
	UserID          string          `db:"user_id" json:"user_id,omitempty"`
	IdempotencyKey  string          `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// SaleItem represents a line of a recorded sale
type SaleItem struct {
	ID          int64           `db:"id" json:"id"`
	SaleID      string          `db:"sale_id" json:"sale_id"`
	ProductID   string          `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal    decimal.Decimal `db:"subtotal" json:"subtotal"`
}

// Payment represents a payment attempt against a sale
type Payment struct {
	ID           int64           `db:"id" json:"id"`
	SaleID       string          `db:"sale_id" json:"sale_id"`
	Status       string          `db:"status" json:"status"`
	ClientSecret string          `db:"client_secret" json:"-"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	ExpiresAt    time.Time       `db:"expires_at" json:"expires_at"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// Profile represents a signed-in shopper's stored contact data
type Profile struct {
	ID        string `db:"id"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	Email     string `db:"email"`
	Phone     string `db:"phone"`
}

// Sale statuses
const (
	SaleStatusPending   = "PENDING"
	SaleStatusCompleted = "COMPLETED"
	SaleStatusConfirmed = "CONFIRMED"
	SaleStatusCancelled = "CANCELLED"
)

// Payment statuses
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusSuccess   = "SUCCESS"
	PaymentStatusCancelled = "CANCELLED"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
