package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/util"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// catalogLoadTimeout bounds a shared store load, which outlives any one caller
const catalogLoadTimeout = 10 * time.Second

// CatalogService serves the product list from the Redis cache, loading it
// from Postgres on a miss
type CatalogService struct {
	store  catalogStore
	cache  catalogCache
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(store catalogStore, cache catalogCache, ttl time.Duration) *CatalogService {
	return &CatalogService{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// ListProducts returns every sellable product with its aggregated stock.
// Concurrent misses share a single store query.
func (cs *CatalogService) ListProducts(ctx context.Context) ([]models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListProducts")
	defer span.End()

	products, err := cs.cache.GetCatalog(ctx)
	switch {
	case err == nil:
		util.CatalogCacheHitsTotal.WithLabelValues("hit").Inc()
		return products, nil
	case errors.Is(err, redisclient.ErrCacheMiss):
		util.CatalogCacheHitsTotal.WithLabelValues("miss").Inc()
	default:
		util.CatalogCacheHitsTotal.WithLabelValues("error").Inc()
		cs.logger.Warn("Catalog cache read failed", zap.Error(err))
	}

	// the load is shared, so one caller giving up must not fail the others
	loadCtx := context.WithoutCancel(ctx)
	ch := cs.group.DoChan("catalog", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(loadCtx, catalogLoadTimeout)
		defer cancel()
		products, err := cs.store.ListProducts(ctx)
		if err != nil {
			return nil, err
		}
		if err := cs.cache.SetCatalog(ctx, products, cs.ttl); err != nil {
			cs.logger.Warn("Failed to cache catalog", zap.Error(err))
		}
		return products, nil
	})

	select {
	case <-ctx.Done():
		util.RecordError(span, ctx.Err())
		return nil, fmt.Errorf("failed to list products: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			util.RecordError(span, res.Err)
			return nil, fmt.Errorf("failed to list products: %w", res.Err)
		}
		cs.logger.Debug("Catalog loaded from store", zap.Bool("shared", res.Shared))
		return res.Val.([]models.Product), nil
	}
}

// CurrentStock reads live stock, bypassing the cache
func (cs *CatalogService) CurrentStock(ctx context.Context, productIDs []string) (map[string]int, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CurrentStock")
	defer span.End()

	stock, err := cs.store.CurrentStock(ctx, productIDs)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to read stock: %w", err)
	}
	return stock, nil
}

// Invalidate drops the cached catalog so the next read sees new stock
func (cs *CatalogService) Invalidate(ctx context.Context) error {
	if err := cs.cache.InvalidateCatalog(ctx); err != nil {
		return fmt.Errorf("failed to invalidate catalog cache: %w", err)
	}
	return nil
}
