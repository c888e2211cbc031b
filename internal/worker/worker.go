package worker

import (
	"context"
	"time"

	"storefront/internal/broker"
	"storefront/internal/util"

	"go.uber.org/zap"
)

type messageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// SagaWorker consumes checkout events and hands them to the saga handlers
type SagaWorker struct {
	consumer messageSource
	handler  *broker.EventHandler
	logger   *zap.Logger
}

// NewSagaWorker creates a new saga worker. The handler must already have
// the saga registered on it.
func NewSagaWorker(consumer messageSource, handler *broker.EventHandler) *SagaWorker {
	return &SagaWorker{
		consumer: consumer,
		handler:  handler,
		logger:   util.GetLogger(),
	}
}

// Start blocks consuming until ctx is cancelled
func (w *SagaWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting saga worker")
	return w.consumer.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *SagaWorker) Stop() error {
	w.logger.Info("Stopping saga worker")
	return w.consumer.Close()
}

type paymentExpirer interface {
	ExpirePayments(ctx context.Context, now time.Time) (int, error)
}

// ExpiryWorker cancels card payments left unconfirmed past their window
type ExpiryWorker struct {
	payments paymentExpirer
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewExpiryWorker creates a worker sweeping every interval
func NewExpiryWorker(payments paymentExpirer, interval time.Duration) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpiryWorker{
		payments: payments,
		interval: interval,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Start blocks sweeping until ctx is cancelled
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment expiry worker", zap.Duration("interval", w.interval))
	return RunEvery(ctx, w.interval, w.Sweep)
}

// Sweep runs one expiry pass
func (w *ExpiryWorker) Sweep(ctx context.Context) {
	n, err := w.payments.ExpirePayments(ctx, w.now())
	if err != nil {
		w.logger.Error("Payment expiry sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Info("Expired pending card payments", zap.Int("count", n))
	}
}

// RunEvery calls fn every interval until ctx is cancelled
func RunEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}
