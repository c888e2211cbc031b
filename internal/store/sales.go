package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/lib/pq"
)

// CreateSaleTx records a sale and its items in one transaction
func (s *Store) CreateSaleTx(ctx context.Context, sale *models.Sale, items []models.SaleItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO sales (id, customer_name, customer_email, customer_phone, shipping_address,
			shipping_city, shipping_notes, payment_method, subtotal, tax, total, status, user_id, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		sale.ID, sale.CustomerName, sale.CustomerEmail, sale.CustomerPhone, sale.ShippingAddress,
		sale.ShippingCity, sale.ShippingNotes, sale.PaymentMethod, sale.Subtotal, sale.Tax, sale.Total,
		sale.Status, sale.UserID, sale.IdempotencyKey,
	).Scan(&sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sale: %w", err)
	}

	for i := range items {
		items[i].SaleID = sale.ID
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, product_name, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			items[i].SaleID, items[i].ProductID, items[i].ProductName, items[i].Quantity,
			items[i].UnitPrice, items[i].Subtotal,
		).Scan(&items[i].ID)
		if err != nil {
			return fmt.Errorf("failed to create sale item: %w", err)
		}
	}

	return tx.Commit()
}

// GetSaleByID retrieves a sale by ID
func (s *Store) GetSaleByID(ctx context.Context, id string) (*models.Sale, error) {
	var sale models.Sale
	err := s.db.GetContext(ctx, &sale, "SELECT * FROM sales WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sale %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// GetSaleByIdempotencyKey retrieves the sale recorded under key, nil when
// absent. An open sale is preferred over cancelled attempts.
func (s *Store) GetSaleByIdempotencyKey(ctx context.Context, key string) (*models.Sale, error) {
	var sale models.Sale
	err := s.db.GetContext(ctx, &sale, `
		SELECT * FROM sales WHERE idempotency_key = $1
		ORDER BY (status = $2), created_at DESC LIMIT 1`,
		key, models.SaleStatusCancelled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// GetSaleItems retrieves all items of a sale
func (s *Store) GetSaleItems(ctx context.Context, saleID string) ([]models.SaleItem, error) {
	var items []models.SaleItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM sale_items WHERE sale_id = $1 ORDER BY id", saleID)
	return items, err
}

// UpdateSaleStatus updates sale status
func (s *Store) UpdateSaleStatus(ctx context.Context, saleID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sales SET status = $1, updated_at = NOW() WHERE id = $2",
		status, saleID)
	return err
}

// TransitionSaleStatus moves a sale to status to when its current status is
// one of from, and reports whether this call performed the change
func (s *Store) TransitionSaleStatus(ctx context.Context, saleID string, from []string, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sales SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)",
		to, saleID, pq.Array(from))
	if err != nil {
		return false, fmt.Errorf("failed to update sale status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM sales WHERE id = $1)", saleID); err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("sale %s: %w", saleID, ErrNotFound)
	}
	return false, nil
}

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (sale_id, status, client_secret, amount, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		payment.SaleID, payment.Status, payment.ClientSecret, payment.Amount, payment.ExpiresAt,
	).Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
}

// GetPaymentByClientSecret retrieves the payment a card confirmation refers to
func (s *Store) GetPaymentByClientSecret(ctx context.Context, secret string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE client_secret = $1", secret)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentBySaleID retrieves the most recent payment recorded for a sale
func (s *Store) GetPaymentBySaleID(ctx context.Context, saleID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE sale_id = $1 ORDER BY created_at DESC LIMIT 1", saleID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment for sale %s: %w", saleID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// TransitionPaymentStatus moves a payment from one status to another and
// reports whether this call performed the change
func (s *Store) TransitionPaymentStatus(ctx context.Context, paymentID int64, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, paymentID, from)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListExpiredPayments returns pending payments whose confirmation window closed before t
func (s *Store) ListExpiredPayments(ctx context.Context, t time.Time) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE status = $1 AND expires_at < $2 ORDER BY expires_at",
		models.PaymentStatusPending, t)
	return payments, err
}

// GetProfile retrieves a signed-in shopper's profile
func (s *Store) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.GetContext(ctx, &profile,
		"SELECT id, first_name, last_name, email, phone FROM profiles WHERE id = $1", userID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
