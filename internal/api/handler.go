package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	sessionHeader = "X-Session-ID"
	userHeader    = "X-User-ID"
)

// Deps are the collaborators behind the HTTP surface
type Deps struct {
	Catalog        catalog.ProductSource
	Stock          checkout.StockSource
	Payments       checkout.PaymentGateway
	Delivery       checkout.InvoiceDelivery
	Profiles       profileResolver
	CatalogTimeout time.Duration
	SubmitTimeout  time.Duration
	SessionIdle    time.Duration
	// Ready reports whether backing stores are reachable
	Ready func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	deps     Deps
	sessions *Sessions
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	machine := checkout.Config{
		Gateway:       deps.Payments,
		Delivery:      deps.Delivery,
		Stock:         deps.Stock,
		SubmitTimeout: deps.SubmitTimeout,
	}
	return &Handler{
		deps:     deps,
		sessions: NewSessions(machine, deps.Profiles, deps.SessionIdle),
	}
}

// Sessions exposes the session registry for the idle sweeper
func (h *Handler) Sessions() *Sessions {
	return h.sessions
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		shop := v1.Group("", h.withSession)
		shop.GET("/catalog", h.queryCatalog)
		shop.GET("/catalog/categories", h.listCategories)
		shop.GET("/catalog/brands", h.listBrands)

		shop.GET("/cart", h.getCart)
		shop.POST("/cart/items", h.addCartItem)
		shop.PUT("/cart/items/:productId", h.setCartQuantity)
		shop.DELETE("/cart/items/:productId", h.removeCartItem)
		shop.DELETE("/cart", h.clearCart)

		shop.GET("/checkout", h.getCheckout)
		shop.POST("/checkout/start", h.startCheckout)
		shop.POST("/checkout/proceed", h.proceedToDetails)
		shop.PUT("/checkout/details", h.updateDetails)
		shop.POST("/checkout/submit", h.submitCheckout)
		shop.POST("/checkout/confirm", h.confirmCheckout)
		shop.POST("/checkout/finalize", h.finalizeCheckout)
		shop.POST("/checkout/cancel", h.cancelCheckout)
		shop.POST("/checkout/close", h.closeInvoice)
		shop.GET("/checkout/invoice", h.getInvoice)

		v1.POST("/payment", h.submitPayment)
		v1.PUT("/payment", h.confirmPayment)
		v1.DELETE("/payment/:secret", h.cancelPayment)
		v1.POST("/payment/void", h.voidPayment)
		v1.POST("/invoice/email", h.emailInvoice)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.deps.Ready != nil {
		if err := h.deps.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unavailable",
				"details": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ready",
		"sessions": h.sessions.Len(),
		"time":     time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
