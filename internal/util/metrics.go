package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CatalogFetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_fetch_latency_seconds",
		Help:    "Latency of product catalog fetches",
		Buckets: prometheus.DefBuckets,
	})

	CatalogDegradedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_degraded_loads_total",
		Help: "Total number of catalog loads that fell back to an empty catalog",
	})

	CatalogCacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_cache_requests_total",
		Help: "Catalog cache lookups by result",
	}, []string{"result"})

	CartRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_rejections_total",
		Help: "Total number of rejected cart mutations",
	}, []string{"reason"})

	CheckoutTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_transitions_total",
		Help: "Checkout state transitions",
	}, []string{"from", "to"})

	CheckoutFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_failures_total",
		Help: "Checkout attempts that did not advance",
	}, []string{"reason"})

	StockDecrementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stock_decrement_latency_seconds",
		Help:    "Latency of conditional stock decrements",
		Buckets: prometheus.DefBuckets,
	})

	StockDecrementsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_decrements_failed_total",
		Help: "Total number of failed stock decrements",
	}, []string{"reason"})

	SalesRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_recorded_total",
		Help: "Total number of sales recorded by payment method",
	}, []string{"payment_method"})

	PaymentAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts",
	})

	PaymentSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_success_total",
		Help: "Total number of successful payments",
	})

	PaymentFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failed_total",
		Help: "Total number of failed payments",
	}, []string{"reason"})

	PaymentsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_cancelled_total",
		Help: "Total number of pending card payments released",
	})

	SalesVoidedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_voided_total",
		Help: "Total number of recorded sales reversed after the shopper abandoned checkout",
	})

	PaymentProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment processing",
		Buckets: prometheus.DefBuckets,
	})

	InvoiceDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "invoice_deliveries_total",
		Help: "Invoice e-mail deliveries by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
