// Package catalog holds the read-only product snapshot a browsing session
// works against and the filter/sort engine that runs over it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"storefront/internal/models"
	"storefront/internal/money"
	"storefront/internal/notify"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// DefaultFetchTimeout bounds a product source fetch
const DefaultFetchTimeout = 10 * time.Second

// DegradedNotice is shown to the shopper when the catalog could not be loaded
const DegradedNotice = "The catalog is temporarily unavailable. Please try again in a moment."

// ErrFetchTimeout is reported when the product source does not answer in time
var ErrFetchTimeout = errors.New("catalog fetch timed out")

// ProductSource supplies the sellable products with aggregated stock
type ProductSource interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
}

// Snapshot is an immutable view of the catalog taken at load time
type Snapshot struct {
	products []models.Product
	index    map[string]int
	loadedAt time.Time

	// Degraded is set when the load failed and the snapshot is empty
	Degraded bool
	Err      error
}

// NewSnapshot copies products into a snapshot, normalizing prices to minor units
func NewSnapshot(products []models.Product, loadedAt time.Time) Snapshot {
	s := Snapshot{
		products: make([]models.Product, 0, len(products)),
		index:    make(map[string]int, len(products)),
		loadedAt: loadedAt,
	}
	for _, p := range products {
		if _, dup := s.index[p.ID]; dup {
			continue
		}
		p.UnitPrice = money.Round2(p.UnitPrice)
		if p.AvailableStock < 0 {
			p.AvailableStock = 0
		}
		s.index[p.ID] = len(s.products)
		s.products = append(s.products, p)
	}
	return s
}

// Products returns a copy of the snapshot's products in source order
func (s Snapshot) Products() []models.Product {
	out := make([]models.Product, len(s.products))
	copy(out, s.products)
	return out
}

// Len returns the number of products
func (s Snapshot) Len() int { return len(s.products) }

// LoadedAt returns when the snapshot was taken
func (s Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Lookup finds a product by id
func (s Snapshot) Lookup(id string) (models.Product, bool) {
	i, ok := s.index[id]
	if !ok {
		return models.Product{}, false
	}
	return s.products[i], true
}

// Query runs the filter/sort engine over the snapshot
func (s Snapshot) Query(c Criteria) []models.Product {
	return Apply(s.products, c)
}

// Load fetches the catalog, racing the source against timeout. A failure or
// timeout produces an empty, degraded snapshot and a warning on sink.
func Load(ctx context.Context, src ProductSource, timeout time.Duration, sink notify.Sink) Snapshot {
	sink = notify.OrNop(sink)
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()

	type result struct {
		products []models.Product
		err      error
	}
	done := make(chan result, 1)
	go func() {
		ps, err := src.ListProducts(fetchCtx)
		done <- result{ps, err}
	}()

	var (
		res result
		err error
	)
	select {
	case res = <-done:
		err = res.err
	case <-fetchCtx.Done():
		if errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			err = ErrFetchTimeout
		} else {
			err = fetchCtx.Err()
		}
	}

	util.CatalogFetchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.CatalogDegradedTotal.Inc()
		util.GetLogger().Warn("Catalog unavailable, serving empty catalog", zap.Error(err))
		sink.Notify(notify.LevelWarning, DegradedNotice)
		s := NewSnapshot(nil, time.Now())
		s.Degraded = true
		s.Err = fmt.Errorf("failed to load catalog: %w", err)
		return s
	}

	return NewSnapshot(res.products, time.Now())
}

// Categories lists the distinct categories in first-seen order, led by CategoryAll
func Categories(products []models.Product) []string {
	seen := make(map[string]struct{})
	out := []string{CategoryAll}
	for _, p := range products {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; ok {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	return out
}

// Brands lists the distinct brand names in lexical order
func Brands(products []models.Product) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range products {
		if p.Brand == "" {
			continue
		}
		if _, ok := seen[p.Brand]; ok {
			continue
		}
		seen[p.Brand] = struct{}{}
		out = append(out, p.Brand)
	}
	sort.Strings(out)
	return out
}
