package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"storefront/internal/models"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/decrement_stock.lua
var decrementStockScript string

//go:embed scripts/restore_stock.lua
var restoreStockScript string

const catalogKey = "catalog:products"

var (
	ErrCacheMiss    = errors.New("cache miss")
	ErrStockMissing = errors.New("inventory not cached")
)

// DecrementResult reports the outcome of a conditional stock decrement
type DecrementResult struct {
	OK bool
	// Missing is set when the failing product has no cached inventory
	Missing   bool
	ProductID string
	Available int
	Requested int
}

type Client struct {
	rdb             *redis.Client
	decrementScript *redis.Script
	restoreScript   *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return New(rdb), nil
}

// New wraps an existing redis connection
func New(rdb *redis.Client) *Client {
	return &Client{
		rdb:             rdb,
		decrementScript: redis.NewScript(decrementStockScript),
		restoreScript:   redis.NewScript(restoreStockScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func inventoryKey(productID string) string {
	return "inventory:" + productID
}

// DecrementStock atomically decrements every item only if all of them have
// enough available stock
func (c *Client) DecrementStock(ctx context.Context, items []models.SaleItemData) (DecrementResult, error) {
	if len(items) == 0 {
		return DecrementResult{OK: true}, nil
	}

	keys := make([]string, len(items))
	args := make([]interface{}, len(items))
	for i, it := range items {
		keys[i] = inventoryKey(it.ProductID)
		args[i] = it.Quantity
	}

	result, err := c.decrementScript.Run(ctx, c.rdb, keys, args...).Result()
	if err != nil {
		return DecrementResult{}, fmt.Errorf("decrement stock script failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return DecrementResult{}, fmt.Errorf("unexpected script result type")
	}
	status, _ := values[0].(int64)
	index, _ := values[1].(int64)
	available, _ := values[2].(int64)

	switch status {
	case 1:
		return DecrementResult{OK: true}, nil
	case 0, -1:
		if index < 1 || int(index) > len(items) {
			return DecrementResult{}, fmt.Errorf("unexpected script index %d", index)
		}
		failed := items[index-1]
		return DecrementResult{
			Missing:   status == -1,
			ProductID: failed.ProductID,
			Available: int(available),
			Requested: failed.Quantity,
		}, nil
	}
	return DecrementResult{}, fmt.Errorf("unexpected script status %d", status)
}

// RestoreStock adds quantity back to a cached product (compensation)
func (c *Client) RestoreStock(ctx context.Context, productID string, quantity int) error {
	result, err := c.restoreScript.Run(ctx, c.rdb, []string{inventoryKey(productID)}, quantity).Int64()
	if err != nil {
		return fmt.Errorf("restore stock script failed: %w", err)
	}
	if result < 0 {
		return ErrStockMissing
	}
	return nil
}

// InitInventory seeds the cached available count for a product
func (c *Client) InitInventory(ctx context.Context, productID string, available int) error {
	return c.rdb.HSet(ctx, inventoryKey(productID), "available", available).Err()
}

// GetInventory returns the cached available count
func (c *Client) GetInventory(ctx context.Context, productID string) (int, error) {
	val, err := c.rdb.HGet(ctx, inventoryKey(productID), "available").Result()
	if err == redis.Nil {
		return 0, ErrStockMissing
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}

// GetCatalog returns the cached product list
func (c *Client) GetCatalog(ctx context.Context) ([]models.Product, error) {
	raw, err := c.rdb.Get(ctx, catalogKey).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	var products []models.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, fmt.Errorf("failed to decode cached catalog: %w", err)
	}
	return products, nil
}

// SetCatalog caches the product list for ttl
func (c *Client) SetCatalog(ctx context.Context, products []models.Product, ttl time.Duration) error {
	raw, err := json.Marshal(products)
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	return c.rdb.Set(ctx, catalogKey, raw, ttl).Err()
}

// InvalidateCatalog drops the cached product list
func (c *Client) InvalidateCatalog(ctx context.Context) error {
	return c.rdb.Del(ctx, catalogKey).Err()
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the value stored under an idempotency key
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	return val, err
}

// DeleteIdempotencyKey forgets the value stored under an idempotency key
func (c *Client) DeleteIdempotencyKey(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:%s", key)).Err()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}
