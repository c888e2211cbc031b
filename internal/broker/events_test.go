package broker

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlinePublisherRoutesToHandlers(t *testing.T) {
	handler := NewEventHandler()

	var cancelled *models.PaymentCancelledEvent
	handler.OnPaymentCancelled(func(ctx context.Context, e *models.PaymentCancelledEvent) error {
		cancelled = e
		return nil
	})
	var confirmed *models.PaymentConfirmedEvent
	handler.OnPaymentConfirmed(func(ctx context.Context, e *models.PaymentConfirmedEvent) error {
		confirmed = e
		return nil
	})

	publisher := NewEventPublisher(NewInlinePublisher(handler.HandleMessage))
	ctx := context.Background()

	require.NoError(t, publisher.PublishPaymentCancelled(ctx, &models.PaymentCancelledEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypePaymentCancelled},
		SaleID:    "VEN-1",
		PaymentID: 4,
		Reason:    "cancelled_by_shopper",
		Items:     []models.SaleItemData{{ProductID: "A", Quantity: 3}},
	}))
	require.NoError(t, publisher.PublishPaymentConfirmed(ctx, &models.PaymentConfirmedEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypePaymentConfirmed},
		SaleID:    "VEN-2",
		Amount:    decimal.RequireFromString("34.50"),
	}))

	require.NotNil(t, cancelled)
	assert.Equal(t, "VEN-1", cancelled.SaleID)
	assert.Equal(t, []models.SaleItemData{{ProductID: "A", Quantity: 3}}, cancelled.Items)
	require.NotNil(t, confirmed)
	assert.True(t, confirmed.Amount.Equal(decimal.RequireFromString("34.50")))
}

func TestHandleMessagePropagatesHandlerError(t *testing.T) {
	handler := NewEventHandler()
	boom := errors.New("db down")
	handler.OnSaleRecorded(func(ctx context.Context, e *models.SaleRecordedEvent) error { return boom })

	msg, err := encodeEvent("sale-VEN-1", &models.SaleRecordedEvent{
		BaseEvent: models.BaseEvent{EventID: "e3", EventType: models.EventTypeSaleRecorded},
		SaleID:    "VEN-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "sale-VEN-1", string(msg.Key))

	assert.ErrorIs(t, handler.HandleMessage(context.Background(), msg), boom)
}

func TestHandleMessageIgnoresUnknownAndRejectsGarbage(t *testing.T) {
	handler := NewEventHandler()

	assert.NoError(t, handler.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"SOMETHING_ELSE"}`)}))
	assert.Error(t, handler.HandleMessage(context.Background(), kafka.Message{Value: []byte(`not json`)}))
}
