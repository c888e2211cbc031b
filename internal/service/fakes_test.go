package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/redisclient"
	"storefront/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory stand-in for *store.Store
type memStore struct {
	mu         sync.Mutex
	products   map[string]models.Product
	inventory  map[string]int
	sales      map[string]*models.Sale
	saleItems  map[string][]models.SaleItem
	payments   []*models.Payment
	processed  map[string]bool
	profiles   map[string]models.Profile
	listCalls  int
	restores   int
	listErr    error
	decrements int
}

func newMemStore() *memStore {
	return &memStore{
		products:  map[string]models.Product{},
		inventory: map[string]int{},
		sales:     map[string]*models.Sale{},
		saleItems: map[string][]models.SaleItem{},
		processed: map[string]bool{},
		profiles:  map[string]models.Profile{},
	}
}

func (s *memStore) addProduct(id, name, price string, stock int) {
	s.products[id] = models.Product{
		ID:        id,
		Code:      "SKU-" + id,
		Name:      name,
		UnitPrice: decimal.RequireFromString(price),
		Brand:     "Acme",
		Category:  "tools",
	}
	s.inventory[id] = stock
}

func (s *memStore) stock(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inventory[id]
}

func (s *memStore) sale(id string) models.Sale {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.sales[id]
}

func (s *memStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		p.AvailableStock = s.inventory[p.ID]
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) CurrentStock(ctx context.Context, ids []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int{}
	for _, id := range ids {
		if n, ok := s.inventory[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (s *memStore) ListInventory(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.inventory))
	for id, n := range s.inventory {
		out[id] = n
	}
	return out, nil
}

func (s *memStore) DecrementStockTx(ctx context.Context, items []models.SaleItemData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if s.inventory[it.ProductID] < it.Quantity {
			return &store.InsufficientStockError{ProductID: it.ProductID, Available: s.inventory[it.ProductID], Requested: it.Quantity}
		}
	}
	for _, it := range items {
		s.inventory[it.ProductID] -= it.Quantity
	}
	s.decrements++
	return nil
}

func (s *memStore) RestoreStock(ctx context.Context, productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[productID] += quantity
	s.restores++
	return nil
}

func (s *memStore) GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memStore) CreateSaleTx(ctx context.Context, sale *models.Sale, items []models.SaleItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sale.IdempotencyKey != "" {
		for _, other := range s.sales {
			if other.IdempotencyKey == sale.IdempotencyKey && other.Status != models.SaleStatusCancelled {
				return fmt.Errorf("duplicate idempotency key %s", sale.IdempotencyKey)
			}
		}
	}
	sale.CreatedAt = time.Now()
	sale.UpdatedAt = sale.CreatedAt
	cp := *sale
	s.sales[sale.ID] = &cp
	for i := range items {
		items[i].SaleID = sale.ID
		items[i].ID = int64(i + 1)
	}
	s.saleItems[sale.ID] = append([]models.SaleItem(nil), items...)
	return nil
}

func (s *memStore) GetSaleByID(ctx context.Context, id string) (*models.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[id]
	if !ok {
		return nil, fmt.Errorf("sale %s: %w", id, store.ErrNotFound)
	}
	cp := *sale
	return &cp, nil
}

func (s *memStore) GetSaleByIdempotencyKey(ctx context.Context, key string) (*models.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.Sale
	for _, sale := range s.sales {
		if sale.IdempotencyKey != key {
			continue
		}
		if found == nil || found.Status == models.SaleStatusCancelled {
			found = sale
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (s *memStore) GetSaleItems(ctx context.Context, saleID string) ([]models.SaleItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SaleItem(nil), s.saleItems[saleID]...), nil
}

func (s *memStore) UpdateSaleStatus(ctx context.Context, saleID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[saleID]
	if !ok {
		return fmt.Errorf("sale %s: %w", saleID, store.ErrNotFound)
	}
	sale.Status = status
	return nil
}

func (s *memStore) TransitionSaleStatus(ctx context.Context, saleID string, from []string, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[saleID]
	if !ok {
		return false, fmt.Errorf("sale %s: %w", saleID, store.ErrNotFound)
	}
	for _, f := range from {
		if sale.Status == f {
			sale.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payment.ID = int64(len(s.payments) + 1)
	payment.CreatedAt = time.Now()
	payment.UpdatedAt = payment.CreatedAt
	cp := *payment
	s.payments = append(s.payments, &cp)
	return nil
}

func (s *memStore) GetPaymentByClientSecret(ctx context.Context, secret string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ClientSecret == secret {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("payment: %w", store.ErrNotFound)
}

func (s *memStore) GetPaymentBySaleID(ctx context.Context, saleID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.payments) - 1; i >= 0; i-- {
		if s.payments[i].SaleID == saleID {
			cp := *s.payments[i]
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("payment for sale %s: %w", saleID, store.ErrNotFound)
}

func (s *memStore) TransitionPaymentStatus(ctx context.Context, paymentID int64, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ID == paymentID && p.Status == from {
			p.Status = to
			p.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ListExpiredPayments(ctx context.Context, t time.Time) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if p.Status == models.PaymentStatusPending && p.ExpiresAt.Before(t) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[eventID], nil
}

func (s *memStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[eventID] = true
	return nil
}

func (s *memStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", userID, store.ErrNotFound)
	}
	return &p, nil
}

func newTestRedis(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return redisclient.New(rdb), mr
}

type failingPublisher struct{}

func (failingPublisher) PublishEvent(ctx context.Context, key string, event interface{}) error {
	return fmt.Errorf("broker unavailable")
}

// backend is the full payment backend over a memStore and miniredis, with
// events dispatched inline to the saga
type backend struct {
	store     *memStore
	redis     *redisclient.Client
	mr        *miniredis.Miniredis
	inventory *InventoryClient
	catalog   *CatalogService
	saga      *SagaOrchestrator
	payments  *PaymentService
}

func newBackend(t *testing.T, publisher broker.Publisher) *backend {
	t.Helper()
	st := newMemStore()
	st.addProduct("A", "Widget", "10.00", 5)
	st.addProduct("B", "Gadget", "4.50", 2)

	rc, mr := newTestRedis(t)
	b := &backend{store: st, redis: rc, mr: mr}
	b.inventory = NewInventoryClient(st, rc)
	b.catalog = NewCatalogService(st, rc, time.Minute)
	b.saga = NewSagaOrchestrator(st, b.inventory, b.catalog)

	if publisher == nil {
		handler := broker.NewEventHandler()
		b.saga.Register(handler)
		publisher = broker.NewInlinePublisher(handler.HandleMessage)
	}
	b.payments = NewPaymentService(st, b.inventory, rc, broker.NewEventPublisher(publisher), 0, 0)

	if err := b.inventory.SyncInventoryToRedis(context.Background()); err != nil {
		t.Fatal(err)
	}
	return b
}

func (b *backend) cachedStock(t *testing.T, id string) int {
	t.Helper()
	n, err := b.redis.GetInventory(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return n
}
