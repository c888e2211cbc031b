package api

import (
	"net/http"

	"storefront/internal/models"

	"github.com/gin-gonic/gin"
)

// submitPayment is the wire form of the payment backend's submit call
func (h *Handler) submitPayment(c *gin.Context) {
	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.deps.Payments.Submit(c.Request.Context(), req)
	writePayment(c, resp, err)
}

// confirmPayment completes a pending card payment
func (h *Handler) confirmPayment(c *gin.Context) {
	var req models.ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ClientSecret == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "clientSecret is required",
		})
		return
	}

	resp, err := h.deps.Payments.Confirm(c.Request.Context(), req.ClientSecret)
	writePayment(c, resp, err)
}

// cancelPayment releases a pending card payment
func (h *Handler) cancelPayment(c *gin.Context) {
	if err := h.deps.Payments.Cancel(c.Request.Context(), c.Param("secret")); err != nil {
		c.JSON(http.StatusInternalServerError, models.PaymentResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.PaymentResponse{Success: true})
}

// voidPayment reverses an abandoned submission by its idempotency key
func (h *Handler) voidPayment(c *gin.Context) {
	var req models.VoidPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IdempotencyKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "idempotencyKey is required",
		})
		return
	}

	if err := h.deps.Payments.Void(c.Request.Context(), req.IdempotencyKey); err != nil {
		c.JSON(http.StatusInternalServerError, models.PaymentResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.PaymentResponse{Success: true})
}

func writePayment(c *gin.Context, resp models.PaymentResponse, err error) {
	switch {
	case err != nil:
		c.JSON(http.StatusInternalServerError, models.PaymentResponse{Error: "Failed to process payment: " + err.Error()})
	case !resp.Success:
		c.JSON(http.StatusPaymentRequired, resp)
	default:
		c.JSON(http.StatusOK, resp)
	}
}

// emailInvoice is the wire form of invoice delivery
func (h *Handler) emailInvoice(c *gin.Context) {
	var req models.DeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.deps.Delivery.Deliver(c.Request.Context(), req)
	switch {
	case err != nil:
		c.JSON(http.StatusInternalServerError, models.DeliveryResponse{Error: err.Error()})
	case !resp.EmailSent:
		c.JSON(http.StatusBadGateway, resp)
	default:
		c.JSON(http.StatusOK, resp)
	}
}
