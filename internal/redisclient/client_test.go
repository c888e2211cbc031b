package redisclient

import (
	"context"
	"testing"
	"time"

	"storefront/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr
}

func TestDecrementStock(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, c.InitInventory(ctx, "A", 5))
	require.NoError(t, c.InitInventory(ctx, "B", 1))

	res, err := c.DecrementStock(ctx, []models.SaleItemData{{ProductID: "A", Quantity: 3}, {ProductID: "B", Quantity: 1}})
	require.NoError(t, err)
	assert.True(t, res.OK)

	a, err := c.GetInventory(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, a)
	b, err := c.GetInventory(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 0, b)
}

func TestDecrementStockIsAllOrNothing(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, c.InitInventory(ctx, "A", 5))
	require.NoError(t, c.InitInventory(ctx, "B", 1))

	res, err := c.DecrementStock(ctx, []models.SaleItemData{{ProductID: "A", Quantity: 3}, {ProductID: "B", Quantity: 2}})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.False(t, res.Missing)
	assert.Equal(t, "B", res.ProductID)
	assert.Equal(t, 2, res.Requested)
	assert.Equal(t, 1, res.Available)

	a, _ := c.GetInventory(ctx, "A")
	assert.Equal(t, 5, a)
}

func TestDecrementStockMissingKey(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	res, err := c.DecrementStock(ctx, []models.SaleItemData{{ProductID: "Z", Quantity: 1}})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.True(t, res.Missing)
	assert.Equal(t, "Z", res.ProductID)
}

func TestRestoreStock(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, c.InitInventory(ctx, "A", 2))

	require.NoError(t, c.RestoreStock(ctx, "A", 3))
	a, _ := c.GetInventory(ctx, "A")
	assert.Equal(t, 5, a)

	assert.ErrorIs(t, c.RestoreStock(ctx, "missing", 1), ErrStockMissing)
	_, err := c.GetInventory(ctx, "missing")
	assert.ErrorIs(t, err, ErrStockMissing)
}

func TestCatalogCache(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	_, err := c.GetCatalog(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	products := []models.Product{{ID: "A", Name: "Gauze", UnitPrice: decimal.RequireFromString("1.25"), AvailableStock: 4}}
	require.NoError(t, c.SetCatalog(ctx, products, time.Minute))

	got, err := c.GetCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Gauze", got[0].Name)
	assert.True(t, got[0].UnitPrice.Equal(decimal.RequireFromString("1.25")))

	mr.FastForward(2 * time.Minute)
	_, err = c.GetCatalog(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.SetCatalog(ctx, products, time.Minute))
	require.NoError(t, c.InvalidateCatalog(ctx))
	_, err = c.GetCatalog(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestIdempotencyAndLocks(t *testing.T) {
	c, _ := setupTestRedis(t)
	ctx := context.Background()

	_, err := c.GetIdempotencyKey(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.SetIdempotencyKey(ctx, "k1", `{"success":true}`, time.Hour))
	val, err := c.GetIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true}`, string(val))

	require.NoError(t, c.DeleteIdempotencyKey(ctx, "k1"))
	_, err = c.GetIdempotencyKey(ctx, "k1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	ok, err := c.AcquireLock(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.AcquireLock(ctx, "k1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, "k1"))
	ok, _ = c.AcquireLock(ctx, "k1", time.Minute)
	assert.True(t, ok)
}
