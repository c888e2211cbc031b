package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeSaleRecorded     = "SALE_RECORDED"
	EventTypePaymentPending   = "PAYMENT_PENDING"
	EventTypePaymentConfirmed = "PAYMENT_CONFIRMED"
	EventTypePaymentCancelled = "PAYMENT_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SaleRecordedEvent published when a non-card sale is settled
type SaleRecordedEvent struct {
	BaseEvent
	SaleID        string          `json:"sale_id"`
	PaymentMethod string          `json:"payment_method"`
	Total         decimal.Decimal `json:"total"`
	Items         []SaleItemData  `json:"items"`
}

// PaymentPendingEvent published when a card payment awaits confirmation
type PaymentPendingEvent struct {
	BaseEvent
	SaleID string          `json:"sale_id"`
	Amount decimal.Decimal `json:"amount"`
}

// PaymentConfirmedEvent published when a card payment is confirmed
type PaymentConfirmedEvent struct {
	BaseEvent
	SaleID    string          `json:"sale_id"`
	PaymentID int64           `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// PaymentCancelledEvent published when a pending card payment is abandoned (compensation)
type PaymentCancelledEvent struct {
	BaseEvent
	SaleID    string         `json:"sale_id"`
	PaymentID int64          `json:"payment_id"`
	Reason    string         `json:"reason"`
	Items     []SaleItemData `json:"items"`
}

// SaleItemData represents item data in events
type SaleItemData struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}
