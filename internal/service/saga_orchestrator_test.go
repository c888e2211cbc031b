package service

import (
	"context"
	"testing"

	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlePaymentCancelledIsIdempotent(t *testing.T) {
	b := newBackend(t, nil)
	ctx := context.Background()
	require.NoError(t, b.store.CreateSaleTx(ctx, &models.Sale{ID: "VEN-1", Status: models.SaleStatusPending}, nil))

	event := &models.PaymentCancelledEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1", EventType: models.EventTypePaymentCancelled},
		SaleID:    "VEN-1",
		Reason:    ReasonExpired,
		Items:     []models.SaleItemData{{ProductID: "A", Quantity: 2}},
	}

	require.NoError(t, b.saga.HandlePaymentCancelled(ctx, event))
	require.NoError(t, b.saga.HandlePaymentCancelled(ctx, event))

	assert.Equal(t, 7, b.store.stock("A"))
	assert.Equal(t, 1, b.store.restores)
	assert.Equal(t, models.SaleStatusCancelled, b.store.sale("VEN-1").Status)
	assert.True(t, b.store.processed["evt-1"])
}

func TestHandleSaleRecordedInvalidatesCatalog(t *testing.T) {
	b := newBackend(t, nil)
	ctx := context.Background()
	require.NoError(t, b.store.CreateSaleTx(ctx, &models.Sale{ID: "VEN-2", Status: models.SaleStatusCompleted}, nil))

	_, err := b.catalog.ListProducts(ctx)
	require.NoError(t, err)
	require.True(t, b.mr.Exists("catalog:products"))

	require.NoError(t, b.saga.HandleSaleRecorded(ctx, &models.SaleRecordedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-2", EventType: models.EventTypeSaleRecorded},
		SaleID:    "VEN-2",
	}))

	assert.Equal(t, models.SaleStatusConfirmed, b.store.sale("VEN-2").Status)
	assert.False(t, b.mr.Exists("catalog:products"))
}

func TestHandlePaymentConfirmedUnknownSale(t *testing.T) {
	b := newBackend(t, nil)
	err := b.saga.HandlePaymentConfirmed(context.Background(), &models.PaymentConfirmedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-3", EventType: models.EventTypePaymentConfirmed},
		SaleID:    "VEN-missing",
	})
	assert.Error(t, err)
	assert.False(t, b.store.processed["evt-3"])
}

func TestHandlePaymentConfirmedLeavesVoidedSaleCancelled(t *testing.T) {
	b := newBackend(t, nil)
	ctx := context.Background()
	require.NoError(t, b.store.CreateSaleTx(ctx, &models.Sale{ID: "VEN-4", Status: models.SaleStatusCancelled}, nil))

	require.NoError(t, b.saga.HandlePaymentConfirmed(ctx, &models.PaymentConfirmedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-4", EventType: models.EventTypePaymentConfirmed},
		SaleID:    "VEN-4",
	}))

	assert.Equal(t, models.SaleStatusCancelled, b.store.sale("VEN-4").Status)
	assert.True(t, b.store.processed["evt-4"])
}
