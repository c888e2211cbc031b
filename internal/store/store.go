package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/001_storefront.sql
var schemaSQL string

var ErrNotFound = errors.New("not found")

// InsufficientStockError is returned when a conditional decrement cannot be applied
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available=%d, requested=%d", e.ProductID, e.Available, e.Requested)
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an existing connection
func NewFromDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the storefront schema
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

const productColumns = `p.id, p.code, p.name, p.description, p.unit_price, p.brand, p.category,
	p.rating, p.review_count, p.image_ref, COALESCE(i.available, 0) AS available_stock`

// ListProducts returns every active product with its aggregated stock
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		`SELECT `+productColumns+`
		FROM products p LEFT JOIN inventory i ON i.product_id = p.id
		WHERE p.active ORDER BY p.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In(`SELECT `+productColumns+`
		FROM products p LEFT JOIN inventory i ON i.product_id = p.id
		WHERE p.id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// CurrentStock returns available stock for ids; unknown ids are absent from the map
func (s *Store) CurrentStock(ctx context.Context, ids []string) (map[string]int, error) {
	stock := make(map[string]int, len(ids))
	if len(ids) == 0 {
		return stock, nil
	}

	query, args, err := sqlx.In("SELECT product_id, available FROM inventory WHERE product_id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var rows []struct {
		ProductID string `db:"product_id"`
		Available int    `db:"available"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to read stock: %w", err)
	}
	for _, r := range rows {
		stock[r.ProductID] = r.Available
	}
	return stock, nil
}

// ListInventory returns available stock for every product
func (s *Store) ListInventory(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		ProductID string `db:"product_id"`
		Available int    `db:"available"`
	}
	if err := s.db.SelectContext(ctx, &rows, "SELECT product_id, available FROM inventory"); err != nil {
		return nil, fmt.Errorf("failed to list inventory: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.ProductID] = r.Available
	}
	return out, nil
}

// DecrementStockTx decrements every line in one transaction, or none of them.
// Rows are locked FOR UPDATE in product id order.
func (s *Store) DecrementStockTx(ctx context.Context, items []models.SaleItemData) error {
	lines := append([]models.SaleItemData(nil), items...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, l := range lines {
		var available int
		err = tx.GetContext(ctx, &available,
			"SELECT available FROM inventory WHERE product_id = $1 FOR UPDATE", l.ProductID)
		if err == sql.ErrNoRows {
			return &InsufficientStockError{ProductID: l.ProductID, Available: 0, Requested: l.Quantity}
		}
		if err != nil {
			return fmt.Errorf("failed to lock inventory: %w", err)
		}

		if available < l.Quantity {
			return &InsufficientStockError{ProductID: l.ProductID, Available: available, Requested: l.Quantity}
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE inventory SET available = available - $1, updated_at = NOW() WHERE product_id = $2",
			l.Quantity, l.ProductID)
		if err != nil {
			return fmt.Errorf("failed to decrement stock: %w", err)
		}
	}

	return tx.Commit()
}

// RestoreStock adds quantity back to a product (compensation)
func (s *Store) RestoreStock(ctx context.Context, productID string, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE inventory SET available = available + $1, updated_at = NOW() WHERE product_id = $2",
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to restore stock: %w", err)
	}
	return nil
}
