package service

import (
	"context"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// SagaOrchestrator applies the downstream effects of checkout events. Each
// handler runs at most once per event id.
type SagaOrchestrator struct {
	store     sagaStore
	inventory stockKeeper
	catalog   catalogInvalidator
	logger    *zap.Logger
}

// NewSagaOrchestrator creates a new saga orchestrator
func NewSagaOrchestrator(store sagaStore, inventory stockKeeper, catalog catalogInvalidator) *SagaOrchestrator {
	return &SagaOrchestrator{
		store:     store,
		inventory: inventory,
		catalog:   catalog,
		logger:    util.GetLogger(),
	}
}

func (so *SagaOrchestrator) seen(ctx context.Context, eventID string) (bool, error) {
	processed, err := so.store.IsEventProcessed(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		so.logger.Info("Event already processed", zap.String("event_id", eventID))
	}
	return processed, nil
}

func (so *SagaOrchestrator) done(ctx context.Context, event models.BaseEvent) {
	if err := so.catalog.Invalidate(ctx); err != nil {
		so.logger.Warn("Failed to invalidate catalog", zap.Error(err))
	}
	if err := so.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		so.logger.Error("Failed to mark event processed", zap.Error(err))
	}
}

// HandleSaleRecorded confirms a settled non-card sale
func (so *SagaOrchestrator) HandleSaleRecorded(ctx context.Context, event *models.SaleRecordedEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.HandleSaleRecorded")
	defer span.End()

	if processed, err := so.seen(ctx, event.EventID); err != nil || processed {
		return err
	}

	if err := so.confirm(ctx, event.SaleID); err != nil {
		return err
	}

	so.done(ctx, event.BaseEvent)
	return nil
}

// HandlePaymentConfirmed confirms the sale behind a card payment
func (so *SagaOrchestrator) HandlePaymentConfirmed(ctx context.Context, event *models.PaymentConfirmedEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.HandlePaymentConfirmed")
	defer span.End()

	if processed, err := so.seen(ctx, event.EventID); err != nil || processed {
		return err
	}

	if err := so.confirm(ctx, event.SaleID); err != nil {
		return err
	}

	so.done(ctx, event.BaseEvent)
	so.logger.Debug("Card payment settled", zap.Int64("payment_id", event.PaymentID))
	return nil
}

// confirm moves a completed sale to confirmed. A sale voided in the
// meantime stays cancelled.
func (so *SagaOrchestrator) confirm(ctx context.Context, saleID string) error {
	ok, err := so.store.TransitionSaleStatus(ctx, saleID,
		[]string{models.SaleStatusCompleted}, models.SaleStatusConfirmed)
	if err != nil {
		return fmt.Errorf("failed to update sale status: %w", err)
	}
	if !ok {
		so.logger.Warn("Sale no longer completed, not confirming", zap.String("sale_id", saleID))
		return nil
	}
	so.logger.Info("Sale confirmed", zap.String("sale_id", saleID))
	return nil
}

// HandlePaymentCancelled releases the stock of an abandoned card payment (compensation)
func (so *SagaOrchestrator) HandlePaymentCancelled(ctx context.Context, event *models.PaymentCancelledEvent) error {
	ctx, span := util.StartSpan(ctx, "SagaOrchestrator.HandlePaymentCancelled")
	defer span.End()

	if processed, err := so.seen(ctx, event.EventID); err != nil || processed {
		return err
	}

	so.logger.Warn("Handling payment cancellation - starting compensation",
		zap.String("sale_id", event.SaleID),
		zap.String("reason", event.Reason))

	if err := so.inventory.Restore(ctx, event.Items); err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to restore stock: %w", err)
	}

	if err := so.store.UpdateSaleStatus(ctx, event.SaleID, models.SaleStatusCancelled); err != nil {
		return fmt.Errorf("failed to update sale status: %w", err)
	}

	so.done(ctx, event.BaseEvent)
	so.logger.Info("Sale cancelled and compensated", zap.String("sale_id", event.SaleID))
	return nil
}

// Register wires the saga handlers onto h
func (so *SagaOrchestrator) Register(h eventRouter) {
	h.OnSaleRecorded(so.HandleSaleRecorded)
	h.OnPaymentConfirmed(so.HandlePaymentConfirmed)
	h.OnPaymentCancelled(so.HandlePaymentCancelled)
}

type eventRouter interface {
	OnSaleRecorded(func(context.Context, *models.SaleRecordedEvent) error)
	OnPaymentConfirmed(func(context.Context, *models.PaymentConfirmedEvent) error)
	OnPaymentCancelled(func(context.Context, *models.PaymentCancelledEvent) error)
}
