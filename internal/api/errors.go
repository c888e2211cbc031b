package api

import (
	"errors"
	"net/http"

	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/notify"

	"github.com/gin-gonic/gin"
)

var errProductNotFound = errors.New("product not found")

// statusFor maps the storefront error taxonomy onto HTTP statuses
func statusFor(err error) int {
	var (
		validation *checkout.ValidationError
		stock      *checkout.StockError
		exceeded   *cart.StockExceededError
		gateway    *checkout.PaymentGatewayError
		network    *checkout.NetworkError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &stock), errors.As(err, &exceeded),
		errors.Is(err, cart.ErrOutOfStock), errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusUnprocessableEntity
	case errors.Is(err, checkout.ErrIllegalTransition), errors.Is(err, checkout.ErrBusy),
		errors.Is(err, checkout.ErrStaleResult):
		return http.StatusConflict
	case errors.As(err, &gateway):
		return http.StatusPaymentRequired
	case errors.As(err, &network):
		return http.StatusBadGateway
	case errors.Is(err, cart.ErrLineNotFound), errors.Is(err, errProductNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, s *Session, err error) {
	body := gin.H{"error": err.Error()}

	var validation *checkout.ValidationError
	if errors.As(err, &validation) {
		body["field"] = validation.Field
	}
	var stock *checkout.StockError
	if errors.As(err, &stock) {
		lines := make([]gin.H, len(stock.Lines))
		for i, l := range stock.Lines {
			lines[i] = gin.H{
				"productId": l.ProductID,
				"name":      l.Name,
				"available": l.Available,
				"requested": l.Requested,
			}
		}
		body["lines"] = lines
	}
	if s != nil {
		body["notices"] = drain(s)
	}

	c.JSON(statusFor(err), body)
}

func drain(s *Session) []notify.Notice {
	notices := s.Notices.Drain()
	if notices == nil {
		return []notify.Notice{}
	}
	return notices
}
