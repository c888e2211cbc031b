package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// InventoryClient handles stock decrements for settled sales. Postgres is
// the source of truth, Redis answers the fast-path check.
type InventoryClient struct {
	store  inventoryStore
	redis  stockCache
	logger *zap.Logger
}

// NewInventoryClient creates a new inventory client
func NewInventoryClient(store inventoryStore, redis stockCache) *InventoryClient {
	return &InventoryClient{
		store:  store,
		redis:  redis,
		logger: util.GetLogger(),
	}
}

// Decrement removes every line's quantity from stock, or none of it. A
// shortage is reported as *store.InsufficientStockError.
func (ic *InventoryClient) Decrement(ctx context.Context, items []models.SaleItemData) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Decrement")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockDecrementLatency.Observe(time.Since(start).Seconds())
	}()

	res, err := ic.redis.DecrementStock(ctx, items)
	if err != nil {
		ic.logger.Warn("Redis decrement failed, falling back to DB", zap.Error(err))
		return ic.decrementDB(ctx, items)
	}

	if res.Missing {
		ic.logger.Info("Stock not cached, falling back to DB", zap.String("product_id", res.ProductID))
		if err := ic.decrementDB(ctx, items); err != nil {
			return err
		}
		ic.resync(ctx, items)
		return nil
	}

	if !res.OK {
		util.StockDecrementsFailed.WithLabelValues("insufficient").Inc()
		return &store.InsufficientStockError{
			ProductID: res.ProductID,
			Available: res.Available,
			Requested: res.Requested,
		}
	}

	if err := ic.store.DecrementStockTx(ctx, items); err != nil {
		ic.undoCache(ctx, items)

		var ise *store.InsufficientStockError
		if errors.As(err, &ise) {
			ic.logger.Warn("Redis stock drifted from DB",
				zap.String("product_id", ise.ProductID),
				zap.Int("db_available", ise.Available))
			util.StockDecrementsFailed.WithLabelValues("insufficient").Inc()
			ic.resync(ctx, items)
			return err
		}
		util.StockDecrementsFailed.WithLabelValues("db_error").Inc()
		util.RecordError(span, err)
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	return nil
}

func (ic *InventoryClient) decrementDB(ctx context.Context, items []models.SaleItemData) error {
	err := ic.store.DecrementStockTx(ctx, items)
	if err == nil {
		return nil
	}

	var ise *store.InsufficientStockError
	if errors.As(err, &ise) {
		util.StockDecrementsFailed.WithLabelValues("insufficient").Inc()
		return err
	}
	util.StockDecrementsFailed.WithLabelValues("db_error").Inc()
	return fmt.Errorf("failed to decrement stock: %w", err)
}

func (ic *InventoryClient) undoCache(ctx context.Context, items []models.SaleItemData) {
	for _, it := range items {
		if err := ic.redis.RestoreStock(ctx, it.ProductID, it.Quantity); err != nil {
			ic.logger.Error("Failed to undo Redis decrement",
				zap.String("product_id", it.ProductID),
				zap.Error(err))
		}
	}
}

// resync copies the DB count of each item into Redis
func (ic *InventoryClient) resync(ctx context.Context, items []models.SaleItemData) {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}

	stock, err := ic.store.CurrentStock(ctx, ids)
	if err != nil {
		ic.logger.Error("Failed to read stock for resync", zap.Error(err))
		return
	}
	for _, id := range ids {
		if err := ic.redis.InitInventory(ctx, id, stock[id]); err != nil {
			ic.logger.Error("Failed to resync Redis inventory",
				zap.String("product_id", id),
				zap.Error(err))
		}
	}
}

// Restore adds quantities back to stock (compensation)
func (ic *InventoryClient) Restore(ctx context.Context, items []models.SaleItemData) error {
	ctx, span := util.StartSpan(ctx, "InventoryClient.Restore")
	defer span.End()

	var errs []error
	for _, it := range items {
		if err := ic.store.RestoreStock(ctx, it.ProductID, it.Quantity); err != nil {
			errs = append(errs, err)
			continue
		}
		// an uncached product is seeded from the DB on its next miss
		if err := ic.redis.RestoreStock(ctx, it.ProductID, it.Quantity); err != nil && !errors.Is(err, redisclient.ErrStockMissing) {
			ic.logger.Error("Failed to restore stock in Redis",
				zap.String("product_id", it.ProductID),
				zap.Error(err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		util.RecordError(span, err)
		return err
	}
	return nil
}

// SyncInventoryToRedis synchronizes database inventory to Redis
func (ic *InventoryClient) SyncInventoryToRedis(ctx context.Context) error {
	ic.logger.Info("Starting inventory sync to Redis")

	inventory, err := ic.store.ListInventory(ctx)
	if err != nil {
		return fmt.Errorf("failed to list inventory: %w", err)
	}

	for productID, available := range inventory {
		if err := ic.redis.InitInventory(ctx, productID, available); err != nil {
			ic.logger.Error("Failed to init Redis inventory",
				zap.String("product_id", productID),
				zap.Error(err))
		}
	}

	ic.logger.Info("Inventory sync completed", zap.Int("count", len(inventory)))
	return nil
}
