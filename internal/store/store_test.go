package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"storefront/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewFromDB(sqlx.NewDb(mockDB, "postgres")), mock
}

func TestListProducts(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"id", "code", "name", "description", "unit_price", "brand", "category",
		"rating", "review_count", "image_ref", "available_stock"}).
		AddRow("A", "P-001", "Paracetamol", "Pain relief", "10.00", "Qualipharm", "Analgesics", 4.5, 12, "a.png", 5).
		AddRow("B", "P-002", "Gauze", "", "1.25", "Genfar", "First aid", 0.0, 0, "", 0)
	mock.ExpectQuery(`SELECT .* FROM products p LEFT JOIN inventory i`).WillReturnRows(rows)

	products, err := s.ListProducts(context.Background())

	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Paracetamol", products[0].Name)
	assert.True(t, products[0].UnitPrice.Equal(decimal.RequireFromString("10.00")))
	assert.Equal(t, 5, products[0].AvailableStock)
	assert.Equal(t, 0, products[1].AvailableStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListProductsError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM products`).WillReturnError(errors.New("connection reset"))

	_, err := s.ListProducts(context.Background())
	assert.ErrorContains(t, err, "failed to list products")
}

func TestCurrentStock(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT product_id, available FROM inventory WHERE product_id IN ($1, $2)")).
		WithArgs("A", "B").
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "available"}).AddRow("A", 2))

	stock, err := s.CurrentStock(context.Background(), []string{"A", "B"})

	require.NoError(t, err)
	assert.Equal(t, map[string]int{"A": 2}, stock)
	assert.NoError(t, mock.ExpectationsWereMet())

	empty, err := s.CurrentStock(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDecrementStockTx(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT available FROM inventory WHERE product_id = $1 FOR UPDATE")).
		WithArgs("A").WillReturnRows(sqlmock.NewRows([]string{"available"}).AddRow(5))
	mock.ExpectExec("UPDATE inventory SET available = available - ").
		WithArgs(3, "A").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT available FROM inventory WHERE product_id = $1 FOR UPDATE")).
		WithArgs("B").WillReturnRows(sqlmock.NewRows([]string{"available"}).AddRow(1))
	mock.ExpectExec("UPDATE inventory SET available = available - ").
		WithArgs(1, "B").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// locked in id order regardless of input order
	err := s.DecrementStockTx(context.Background(), []models.SaleItemData{
		{ProductID: "B", Quantity: 1},
		{ProductID: "A", Quantity: 3},
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecrementStockTxInsufficient(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("A").
		WillReturnRows(sqlmock.NewRows([]string{"available"}).AddRow(2))
	mock.ExpectRollback()

	err := s.DecrementStockTx(context.Background(), []models.SaleItemData{{ProductID: "A", Quantity: 3}})

	var serr *InsufficientStockError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 2, serr.Available)
	assert.Equal(t, 3, serr.Requested)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSaleTx(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	sale := &models.Sale{
		ID:            "VEN-1",
		CustomerName:  "Ana Perez",
		CustomerEmail: "ana@example.com",
		PaymentMethod: "cashOnDelivery",
		Subtotal:      decimal.RequireFromString("30.00"),
		Tax:           decimal.RequireFromString("4.50"),
		Total:         decimal.RequireFromString("34.50"),
		Status:        models.SaleStatusCompleted,
	}
	items := []models.SaleItem{{ProductID: "A", ProductName: "Paracetamol", Quantity: 3,
		UnitPrice: decimal.RequireFromString("10.00"), Subtotal: decimal.RequireFromString("30.00")}}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO sales").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery("INSERT INTO sale_items").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	require.NoError(t, s.CreateSaleTx(context.Background(), sale, items))
	assert.Equal(t, now, sale.CreatedAt)
	assert.Equal(t, int64(7), items[0].ID)
	assert.Equal(t, "VEN-1", items[0].SaleID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionPaymentStatus(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE payments SET status").
		WithArgs(models.PaymentStatusCancelled, int64(3), models.PaymentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE payments SET status").
		WithArgs(models.PaymentStatusCancelled, int64(3), models.PaymentStatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := s.TransitionPaymentStatus(context.Background(), 3, models.PaymentStatusPending, models.PaymentStatusCancelled)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.TransitionPaymentStatus(context.Background(), 3, models.PaymentStatusPending, models.PaymentStatusCancelled)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProfileNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("FROM profiles").WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "first_name", "last_name", "email", "phone"}))

	_, err := s.GetProfile(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEventIdempotency(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO processed_events").WithArgs("evt-1", models.EventTypePaymentCancelled).
		WillReturnResult(sqlmock.NewResult(0, 1))

	done, err := s.IsEventProcessed(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.False(t, done)
	require.NoError(t, s.MarkEventProcessed(context.Background(), "evt-1", models.EventTypePaymentCancelled))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionSaleStatus(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	from := []string{models.SaleStatusCompleted, models.SaleStatusConfirmed}

	mock.ExpectExec("UPDATE sales SET status").
		WithArgs(models.SaleStatusCancelled, "VEN-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := s.TransitionSaleStatus(ctx, "VEN-1", from, models.SaleStatusCancelled)
	require.NoError(t, err)
	assert.True(t, ok)

	// already moved on
	mock.ExpectExec("UPDATE sales SET status").
		WithArgs(models.SaleStatusCancelled, "VEN-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("VEN-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err = s.TransitionSaleStatus(ctx, "VEN-1", from, models.SaleStatusCancelled)
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectExec("UPDATE sales SET status").
		WithArgs(models.SaleStatusCancelled, "VEN-404", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("VEN-404").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	_, err = s.TransitionSaleStatus(ctx, "VEN-404", from, models.SaleStatusCancelled)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSaleByIdempotencyKeyPrefersOpenSale(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY (status = $2), created_at DESC LIMIT 1")).
		WithArgs("sess-1", models.SaleStatusCancelled).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status", "idempotency_key"}).
			AddRow("VEN-2", models.SaleStatusPending, "sess-1"))

	sale, err := s.GetSaleByIdempotencyKey(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sale)
	assert.Equal(t, "VEN-2", sale.ID)

	mock.ExpectQuery("FROM sales WHERE idempotency_key").
		WithArgs("sess-9", models.SaleStatusCancelled).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	sale, err = s.GetSaleByIdempotencyKey(context.Background(), "sess-9")
	require.NoError(t, err)
	assert.Nil(t, sale)
	assert.NoError(t, mock.ExpectationsWereMet())
}
