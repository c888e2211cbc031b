package checkout

import (
	"errors"
	"fmt"
	"strings"

	"storefront/internal/cart"
)

var (
	ErrEmptyCart         = errors.New("cart is empty, nothing to checkout")
	ErrIllegalTransition = errors.New("illegal transition of checkout state")
	ErrStaleResult       = errors.New("checkout moved on before the result arrived")
	ErrBusy              = errors.New("a checkout request is already in flight")
)

// IllegalTransitionError names the rejected edge
type IllegalTransitionError struct {
	From   State
	Action string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot %s while checkout is %s", e.Action, e.From)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

// ValidationError reports the first checkout field that failed validation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// StockError lists every cart line whose quantity exceeds current stock
type StockError struct {
	Lines []*cart.StockExceededError
}

func (e *StockError) Error() string {
	msgs := make([]string, len(e.Lines))
	for i, l := range e.Lines {
		msgs[i] = l.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e *StockError) Unwrap() []error {
	out := make([]error, len(e.Lines))
	for i, l := range e.Lines {
		out[i] = l
	}
	return out
}

// PaymentGatewayError is a rejection reported by the payment backend
type PaymentGatewayError struct {
	Message string
}

func (e *PaymentGatewayError) Error() string {
	return "payment failed: " + e.Message
}

// NetworkError wraps a transport failure talking to a collaborator
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: could not reach the payment service: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DeliveryError reports an invoice that could not be e-mailed. It never
// affects the completed checkout.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("invoice e-mail could not be sent: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
