package checkout

import (
	"context"
	"regexp"
	"strings"

	"storefront/internal/models"

	"github.com/go-playground/validator/v10"
)

// PaymentGateway is the payment backend the checkout hands off to
type PaymentGateway interface {
	Submit(ctx context.Context, req models.PaymentRequest) (models.PaymentResponse, error)
	Confirm(ctx context.Context, clientSecret string) (models.PaymentResponse, error)
	Cancel(ctx context.Context, clientSecret string) error
	// Void reverses whatever the submission under idempotencyKey recorded,
	// settled or pending; a key with nothing recorded is a no-op
	Void(ctx context.Context, idempotencyKey string) error
}

// InvoiceDelivery e-mails a finalized invoice
type InvoiceDelivery interface {
	Deliver(ctx context.Context, req models.DeliveryRequest) (models.DeliveryResponse, error)
}

// StockSource reports current available stock by product id
type StockSource interface {
	CurrentStock(ctx context.Context, productIDs []string) (map[string]int, error)
}

// CustomerProfile is the signed-in shopper's identity data
type CustomerProfile struct {
	UserID      string
	Email       string
	DisplayName string
	Phone       string
}

// Details are the contact, shipping and payment fields collected at checkout
type Details struct {
	Email         string               `json:"email"`
	FullName      string               `json:"fullName"`
	Phone         string               `json:"phone"`
	Address       string               `json:"address"`
	City          string               `json:"city"`
	Notes         string               `json:"notes,omitempty"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod"`
}

// withProfile overlays the profile's non-empty fields onto d
func (d Details) withProfile(p *CustomerProfile) Details {
	if p == nil {
		return d
	}
	if p.Email != "" {
		d.Email = p.Email
	}
	if p.DisplayName != "" {
		d.FullName = p.DisplayName
	}
	if p.Phone != "" {
		d.Phone = p.Phone
	}
	return d
}

func (d Details) trimmed() Details {
	d.Email = strings.TrimSpace(d.Email)
	d.FullName = strings.TrimSpace(d.FullName)
	d.Phone = strings.TrimSpace(d.Phone)
	d.Address = strings.TrimSpace(d.Address)
	d.City = strings.TrimSpace(d.City)
	d.Notes = strings.TrimSpace(d.Notes)
	return d
}

var (
	validate = validator.New()

	// validator accepts single-label domains; storefront addresses need a tld
	domainWithTLD = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@.]+$`)
)

// validateDetails checks the fields in display order and reports the first failure
func validateDetails(d Details) error {
	switch {
	case d.PaymentMethod == "":
		return &ValidationError{Field: "paymentMethod", Message: "select a payment method"}
	case !d.PaymentMethod.Valid():
		return &ValidationError{Field: "paymentMethod", Message: "payment method " + string(d.PaymentMethod) + " is not supported"}
	case d.Email == "":
		return &ValidationError{Field: "email", Message: "email is required"}
	case validate.Var(d.Email, "email") != nil || !domainWithTLD.MatchString(d.Email):
		return &ValidationError{Field: "email", Message: "enter a valid email address such as name@example.com"}
	case d.FullName == "":
		return &ValidationError{Field: "fullName", Message: "full name is required"}
	case d.Phone == "":
		return &ValidationError{Field: "phone", Message: "phone number is required"}
	case d.Address == "":
		return &ValidationError{Field: "address", Message: "shipping address is required"}
	case d.City == "":
		return &ValidationError{Field: "city", Message: "city is required"}
	}
	return nil
}
