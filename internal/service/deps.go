package service

import (
	"context"
	"time"

	"storefront/internal/models"
	"storefront/internal/redisclient"
)

// The interfaces below are the slices of *store.Store and
// *redisclient.Client each service depends on.

type catalogStore interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	CurrentStock(ctx context.Context, productIDs []string) (map[string]int, error)
}

type catalogCache interface {
	GetCatalog(ctx context.Context) ([]models.Product, error)
	SetCatalog(ctx context.Context, products []models.Product, ttl time.Duration) error
	InvalidateCatalog(ctx context.Context) error
}

type inventoryStore interface {
	DecrementStockTx(ctx context.Context, items []models.SaleItemData) error
	RestoreStock(ctx context.Context, productID string, quantity int) error
	ListInventory(ctx context.Context) (map[string]int, error)
	CurrentStock(ctx context.Context, productIDs []string) (map[string]int, error)
}

type stockCache interface {
	DecrementStock(ctx context.Context, items []models.SaleItemData) (redisclient.DecrementResult, error)
	RestoreStock(ctx context.Context, productID string, quantity int) error
	InitInventory(ctx context.Context, productID string, available int) error
}

type salesStore interface {
	GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error)
	CreateSaleTx(ctx context.Context, sale *models.Sale, items []models.SaleItem) error
	GetSaleByID(ctx context.Context, id string) (*models.Sale, error)
	GetSaleByIdempotencyKey(ctx context.Context, key string) (*models.Sale, error)
	GetSaleItems(ctx context.Context, saleID string) ([]models.SaleItem, error)
	UpdateSaleStatus(ctx context.Context, saleID, status string) error
	TransitionSaleStatus(ctx context.Context, saleID string, from []string, to string) (bool, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByClientSecret(ctx context.Context, secret string) (*models.Payment, error)
	GetPaymentBySaleID(ctx context.Context, saleID string) (*models.Payment, error)
	TransitionPaymentStatus(ctx context.Context, paymentID int64, from, to string) (bool, error)
	ListExpiredPayments(ctx context.Context, t time.Time) ([]models.Payment, error)
}

type eventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

type sagaStore interface {
	eventStore
	UpdateSaleStatus(ctx context.Context, saleID, status string) error
	TransitionSaleStatus(ctx context.Context, saleID string, from []string, to string) (bool, error)
}

type profileStore interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

type idempotencyCache interface {
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	GetIdempotencyKey(ctx context.Context, key string) ([]byte, error)
	DeleteIdempotencyKey(ctx context.Context, key string) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// stockKeeper is the inventory side of a sale
type stockKeeper interface {
	Decrement(ctx context.Context, items []models.SaleItemData) error
	Restore(ctx context.Context, items []models.SaleItemData) error
}

type catalogInvalidator interface {
	Invalidate(ctx context.Context) error
}

func saleItemData(items []models.SaleItem) []models.SaleItemData {
	out := make([]models.SaleItemData, len(items))
	for i, it := range items {
		out[i] = models.SaleItemData{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}
