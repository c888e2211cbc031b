package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/money"
	"storefront/internal/store"
	"storefront/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultConfirmationTTL = 15 * time.Minute
	DefaultIdempotencyTTL  = 24 * time.Hour

	submitLockTTL = 30 * time.Second
)

// Cancellation reasons carried on PAYMENT_CANCELLED
const (
	ReasonCancelledByShopper = "cancelled_by_shopper"
	ReasonExpired            = "expired"
	ReasonVoided             = "voided"
)

// PaymentService is the payment backend. It re-prices the request, applies
// the conditional stock decrement and records the sale. Card payments are
// left pending until confirmed with their client secret.
type PaymentService struct {
	sales           salesStore
	inventory       stockKeeper
	cache           idempotencyCache
	events          *broker.EventPublisher
	validate        *validator.Validate
	confirmationTTL time.Duration
	idempotencyTTL  time.Duration
	now             func() time.Time
	logger          *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	sales salesStore,
	inventory stockKeeper,
	cache idempotencyCache,
	events *broker.EventPublisher,
	confirmationTTL, idempotencyTTL time.Duration,
) *PaymentService {
	if confirmationTTL <= 0 {
		confirmationTTL = DefaultConfirmationTTL
	}
	if idempotencyTTL <= 0 {
		idempotencyTTL = DefaultIdempotencyTTL
	}
	return &PaymentService{
		sales:           sales,
		inventory:       inventory,
		cache:           cache,
		events:          events,
		validate:        validator.New(),
		confirmationTTL: confirmationTTL,
		idempotencyTTL:  idempotencyTTL,
		now:             time.Now,
		logger:          util.GetLogger(),
	}
}

func declined(reason, message string) models.PaymentResponse {
	util.PaymentFailedTotal.WithLabelValues(reason).Inc()
	return models.PaymentResponse{Success: false, Error: message}
}

func idempotencyKey(key string) string {
	return "payment:" + key
}

// Submit processes a checkout. Business refusals come back as
// Success=false with a shopper-facing Error; a returned error means the
// backend could not be reached or failed part way.
func (ps *PaymentService) Submit(ctx context.Context, req models.PaymentRequest) (models.PaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Submit")
	defer span.End()

	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	if err := ps.validate.Struct(req); err != nil {
		return declined("validation", "the checkout request is incomplete"), nil
	}
	if !req.PaymentMethod.Valid() {
		return declined("validation", "unsupported payment method "+req.PaymentMethod.String()), nil
	}

	if req.IdempotencyKey != "" {
		if resp, ok := ps.cachedResponse(ctx, req.IdempotencyKey); ok {
			ps.logger.Info("Returning cached payment response", zap.String("idempotency_key", req.IdempotencyKey))
			return resp, nil
		}

		acquired, err := ps.cache.AcquireLock(ctx, idempotencyKey(req.IdempotencyKey), submitLockTTL)
		if err != nil {
			ps.logger.Warn("Failed to acquire submit lock", zap.Error(err))
		} else if !acquired {
			return declined("duplicate", "this checkout is already being processed"), nil
		} else {
			defer ps.cache.ReleaseLock(context.WithoutCancel(ctx), idempotencyKey(req.IdempotencyKey))
		}

		if resp, ok, err := ps.recordedResponse(ctx, req.IdempotencyKey); err != nil {
			return models.PaymentResponse{}, err
		} else if ok {
			return resp, nil
		}
	}

	saleItems, subtotal, refusal, err := ps.price(ctx, req.Items)
	if err != nil {
		util.RecordError(span, err)
		return models.PaymentResponse{}, err
	}
	if refusal != "" {
		return declined("unavailable", refusal), nil
	}
	total := money.Total(subtotal)
	if !total.Equal(money.Round2(req.Total)) {
		ps.logger.Warn("Checkout total mismatch",
			zap.String("client_total", req.Total.StringFixed(2)),
			zap.String("server_total", total.StringFixed(2)))
		return declined("price_changed", "prices changed since the cart was reviewed, please check your cart"), nil
	}

	stockItems := saleItemData(saleItems)
	if err := ps.inventory.Decrement(ctx, stockItems); err != nil {
		var ise *store.InsufficientStockError
		if errors.As(err, &ise) {
			return declined("out_of_stock", shortageMessage(ise, saleItems)), nil
		}
		util.RecordError(span, err)
		return models.PaymentResponse{}, err
	}

	card := req.PaymentMethod == models.PaymentMethodCard
	sale := &models.Sale{
		ID:              newSaleID(ps.now()),
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		ShippingAddress: req.ShippingAddress,
		ShippingCity:    req.ShippingCity,
		ShippingNotes:   req.ShippingNotes,
		PaymentMethod:   req.PaymentMethod.String(),
		Subtotal:        money.Round2(subtotal),
		Tax:             money.Tax(subtotal),
		Total:           total,
		Status:          models.SaleStatusCompleted,
		UserID:          req.SessionUserID,
		IdempotencyKey:  req.IdempotencyKey,
	}
	if card {
		sale.Status = models.SaleStatusPending
	}

	if err := ps.sales.CreateSaleTx(ctx, sale, saleItems); err != nil {
		ps.compensate(ctx, "", stockItems)
		util.RecordError(span, err)
		return models.PaymentResponse{}, fmt.Errorf("failed to record sale: %w", err)
	}

	var resp models.PaymentResponse
	if card {
		resp, err = ps.openCardPayment(ctx, sale, stockItems)
		if err != nil {
			util.RecordError(span, err)
			return models.PaymentResponse{}, err
		}
	} else {
		resp = ps.settle(ctx, sale, stockItems)
	}

	if req.IdempotencyKey != "" {
		ps.cacheResponse(ctx, req.IdempotencyKey, resp)
	}
	return resp, nil
}

// price re-reads every product and returns the sale lines and subtotal at
// current prices. A non-empty refusal names a product that can no longer
// be sold.
func (ps *PaymentService) price(ctx context.Context, items []models.LineItem) ([]models.SaleItem, decimal.Decimal, string, error) {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ProductID
	}

	products, err := ps.sales.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, "", fmt.Errorf("failed to load products: %w", err)
	}
	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	subtotal := decimal.Zero
	lines := make([]models.SaleItem, 0, len(items))
	for _, it := range items {
		p, ok := byID[it.ProductID]
		if !ok {
			name := it.Name
			if name == "" {
				name = it.ProductID
			}
			return nil, decimal.Zero, name + " is no longer available", nil
		}
		lineTotal := p.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		subtotal = subtotal.Add(lineTotal)
		lines = append(lines, models.SaleItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    it.Quantity,
			UnitPrice:   p.UnitPrice,
			Subtotal:    money.Round2(lineTotal),
		})
	}
	return lines, subtotal, "", nil
}

func shortageMessage(ise *store.InsufficientStockError, items []models.SaleItem) string {
	name := ise.ProductID
	for _, it := range items {
		if it.ProductID == ise.ProductID {
			name = it.ProductName
			break
		}
	}
	return fmt.Sprintf("only %d units of %s available", ise.Available, name)
}

func (ps *PaymentService) openCardPayment(ctx context.Context, sale *models.Sale, items []models.SaleItemData) (models.PaymentResponse, error) {
	payment := &models.Payment{
		SaleID:       sale.ID,
		Status:       models.PaymentStatusPending,
		ClientSecret: "cs_" + strings.ReplaceAll(uuid.New().String(), "-", ""),
		Amount:       sale.Total,
		ExpiresAt:    ps.now().Add(ps.confirmationTTL),
	}
	if err := ps.sales.CreatePayment(ctx, payment); err != nil {
		ps.compensate(ctx, sale.ID, items)
		return models.PaymentResponse{}, fmt.Errorf("failed to create payment: %w", err)
	}

	event := &models.PaymentPendingEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentPending,
			Timestamp: ps.now(),
		},
		SaleID: sale.ID,
		Amount: sale.Total,
	}
	if err := ps.events.PublishPaymentPending(ctx, event); err != nil {
		ps.logger.Error("Failed to publish payment pending event", zap.Error(err))
	}

	ps.logger.Info("Card payment pending confirmation",
		zap.String("sale_id", sale.ID),
		zap.Time("expires_at", payment.ExpiresAt))

	return models.PaymentResponse{Success: true, ClientSecret: payment.ClientSecret}, nil
}

func (ps *PaymentService) settle(ctx context.Context, sale *models.Sale, items []models.SaleItemData) models.PaymentResponse {
	util.PaymentSuccessTotal.Inc()
	util.SalesRecordedTotal.WithLabelValues(sale.PaymentMethod).Inc()

	event := &models.SaleRecordedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeSaleRecorded,
			Timestamp: ps.now(),
		},
		SaleID:        sale.ID,
		PaymentMethod: sale.PaymentMethod,
		Total:         sale.Total,
		Items:         items,
	}
	if err := ps.events.PublishSaleRecorded(ctx, event); err != nil {
		ps.logger.Error("Failed to publish sale recorded event", zap.Error(err))
	}

	ps.logger.Info("Sale recorded",
		zap.String("sale_id", sale.ID),
		zap.String("payment_method", sale.PaymentMethod),
		zap.String("total", sale.Total.StringFixed(2)))

	return models.PaymentResponse{
		Success:     true,
		InvoiceData: &models.InvoiceData{ID: sale.ID, IssuedAt: sale.CreatedAt},
	}
}

// compensate puts stock back after a failure and cancels the sale if one was recorded
func (ps *PaymentService) compensate(ctx context.Context, saleID string, items []models.SaleItemData) {
	ctx = context.WithoutCancel(ctx)
	if err := ps.inventory.Restore(ctx, items); err != nil {
		ps.logger.Error("Failed to restore stock during compensation", zap.Error(err))
	}
	if saleID == "" {
		return
	}
	if err := ps.sales.UpdateSaleStatus(ctx, saleID, models.SaleStatusCancelled); err != nil {
		ps.logger.Error("Failed to cancel sale during compensation",
			zap.String("sale_id", saleID),
			zap.Error(err))
	}
}

func (ps *PaymentService) cachedResponse(ctx context.Context, key string) (models.PaymentResponse, bool) {
	raw, err := ps.cache.GetIdempotencyKey(ctx, idempotencyKey(key))
	if err != nil {
		return models.PaymentResponse{}, false
	}
	var resp models.PaymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		ps.logger.Warn("Discarding unreadable cached payment response", zap.Error(err))
		return models.PaymentResponse{}, false
	}
	return resp, true
}

func (ps *PaymentService) cacheResponse(ctx context.Context, key string, resp models.PaymentResponse) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := ps.cache.SetIdempotencyKey(ctx, idempotencyKey(key), raw, ps.idempotencyTTL); err != nil {
		ps.logger.Warn("Failed to cache payment response", zap.Error(err))
	}
}

// recordedResponse rebuilds the response of a sale already recorded under
// key, for retries whose cached response was lost
func (ps *PaymentService) recordedResponse(ctx context.Context, key string) (models.PaymentResponse, bool, error) {
	sale, err := ps.sales.GetSaleByIdempotencyKey(ctx, key)
	if err != nil {
		return models.PaymentResponse{}, false, fmt.Errorf("failed to check idempotency key: %w", err)
	}
	if sale == nil {
		return models.PaymentResponse{}, false, nil
	}

	switch sale.Status {
	case models.SaleStatusCompleted, models.SaleStatusConfirmed:
		return models.PaymentResponse{
			Success:     true,
			InvoiceData: &models.InvoiceData{ID: sale.ID, IssuedAt: sale.CreatedAt},
		}, true, nil
	case models.SaleStatusPending:
		payment, err := ps.sales.GetPaymentBySaleID(ctx, sale.ID)
		if err != nil {
			return models.PaymentResponse{}, false, fmt.Errorf("failed to load payment: %w", err)
		}
		switch payment.Status {
		case models.PaymentStatusPending:
			return models.PaymentResponse{Success: true, ClientSecret: payment.ClientSecret}, true, nil
		case models.PaymentStatusSuccess:
			return models.PaymentResponse{
				Success:     true,
				InvoiceData: &models.InvoiceData{ID: sale.ID, IssuedAt: payment.UpdatedAt},
			}, true, nil
		}
	}
	// a cancelled sale does not block a fresh attempt
	return models.PaymentResponse{}, false, nil
}

// Confirm completes a pending card payment
func (ps *PaymentService) Confirm(ctx context.Context, clientSecret string) (models.PaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.Confirm")
	defer span.End()

	payment, err := ps.sales.GetPaymentByClientSecret(ctx, clientSecret)
	if errors.Is(err, store.ErrNotFound) {
		return declined("unknown_payment", "the payment could not be found"), nil
	}
	if err != nil {
		util.RecordError(span, err)
		return models.PaymentResponse{}, fmt.Errorf("failed to load payment: %w", err)
	}

	switch payment.Status {
	case models.PaymentStatusSuccess:
		sale, err := ps.sales.GetSaleByID(ctx, payment.SaleID)
		if err != nil {
			return models.PaymentResponse{}, fmt.Errorf("failed to load sale: %w", err)
		}
		return models.PaymentResponse{
			Success:     true,
			InvoiceData: &models.InvoiceData{ID: sale.ID, IssuedAt: payment.UpdatedAt},
		}, nil
	case models.PaymentStatusCancelled:
		return declined("cancelled", "the payment was cancelled"), nil
	}

	now := ps.now()
	if now.After(payment.ExpiresAt) {
		if err := ps.cancelPayment(ctx, payment, ReasonExpired); err != nil {
			ps.logger.Error("Failed to expire payment", zap.Int64("payment_id", payment.ID), zap.Error(err))
		}
		return declined("expired", "the payment session expired, please check out again"), nil
	}

	ok, err := ps.sales.TransitionPaymentStatus(ctx, payment.ID, models.PaymentStatusPending, models.PaymentStatusSuccess)
	if err != nil {
		util.RecordError(span, err)
		return models.PaymentResponse{}, err
	}
	if !ok {
		return declined("not_pending", "the payment is no longer pending"), nil
	}

	if err := ps.sales.UpdateSaleStatus(ctx, payment.SaleID, models.SaleStatusCompleted); err != nil {
		ps.logger.Error("Failed to complete sale", zap.String("sale_id", payment.SaleID), zap.Error(err))
	}
	// the cached response still carries the spent secret
	ps.forget(ctx, payment.SaleID)

	util.PaymentSuccessTotal.Inc()
	util.SalesRecordedTotal.WithLabelValues(models.PaymentMethodCard.String()).Inc()

	event := &models.PaymentConfirmedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentConfirmed,
			Timestamp: now,
		},
		SaleID:    payment.SaleID,
		PaymentID: payment.ID,
		Amount:    payment.Amount,
	}
	if err := ps.events.PublishPaymentConfirmed(ctx, event); err != nil {
		ps.logger.Error("Failed to publish payment confirmed event", zap.Error(err))
	}

	ps.logger.Info("Card payment confirmed",
		zap.String("sale_id", payment.SaleID),
		zap.Int64("payment_id", payment.ID))

	return models.PaymentResponse{
		Success:     true,
		InvoiceData: &models.InvoiceData{ID: payment.SaleID, IssuedAt: now},
	}, nil
}

// Cancel abandons a pending card payment and releases its stock. Unknown
// or already settled secrets are ignored.
func (ps *PaymentService) Cancel(ctx context.Context, clientSecret string) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.Cancel")
	defer span.End()

	payment, err := ps.sales.GetPaymentByClientSecret(ctx, clientSecret)
	if errors.Is(err, store.ErrNotFound) {
		ps.logger.Debug("Cancel for unknown payment ignored")
		return nil
	}
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to load payment: %w", err)
	}
	if payment.Status != models.PaymentStatusPending {
		return nil
	}
	return ps.cancelPayment(ctx, payment, ReasonCancelledByShopper)
}

// ExpirePayments cancels every pending payment whose confirmation window
// closed before now and returns how many were cancelled
func (ps *PaymentService) ExpirePayments(ctx context.Context, now time.Time) (int, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.ExpirePayments")
	defer span.End()

	payments, err := ps.sales.ListExpiredPayments(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired payments: %w", err)
	}

	expired := 0
	for i := range payments {
		if err := ps.cancelPayment(ctx, &payments[i], ReasonExpired); err != nil {
			ps.logger.Error("Failed to expire payment",
				zap.Int64("payment_id", payments[i].ID),
				zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

// cancelPayment moves payment to cancelled and starts the stock release.
// Only the caller that wins the status transition publishes.
func (ps *PaymentService) cancelPayment(ctx context.Context, payment *models.Payment, reason string) error {
	ok, err := ps.sales.TransitionPaymentStatus(ctx, payment.ID, models.PaymentStatusPending, models.PaymentStatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	// frees the idempotency key before the saga catches up
	if _, err := ps.sales.TransitionSaleStatus(ctx, payment.SaleID,
		[]string{models.SaleStatusPending}, models.SaleStatusCancelled); err != nil {
		ps.logger.Error("Failed to cancel sale", zap.String("sale_id", payment.SaleID), zap.Error(err))
	}
	ps.forget(ctx, payment.SaleID)

	util.PaymentsCancelledTotal.Inc()
	ps.logger.Warn("Card payment cancelled",
		zap.String("sale_id", payment.SaleID),
		zap.String("reason", reason))

	return ps.releaseSale(ctx, payment.SaleID, payment.ID, reason)
}

// releaseSale publishes the cancellation that returns a sale's stock,
// restoring it inline when the broker is unreachable
func (ps *PaymentService) releaseSale(ctx context.Context, saleID string, paymentID int64, reason string) error {
	items, err := ps.sales.GetSaleItems(ctx, saleID)
	if err != nil {
		return fmt.Errorf("failed to get sale items: %w", err)
	}
	stockItems := saleItemData(items)

	event := &models.PaymentCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePaymentCancelled,
			Timestamp: ps.now(),
		},
		SaleID:    saleID,
		PaymentID: paymentID,
		Reason:    reason,
		Items:     stockItems,
	}
	if err := ps.events.PublishPaymentCancelled(ctx, event); err != nil {
		ps.logger.Error("Failed to publish payment cancelled event, compensating inline", zap.Error(err))
		ps.compensate(ctx, saleID, stockItems)
	}
	return nil
}

// Void reverses whatever the submit under idempotencyKey recorded: a
// pending card payment is cancelled and a settled sale is cancelled with
// its stock returned. Keys with nothing recorded are ignored.
func (ps *PaymentService) Void(ctx context.Context, idempotencyKey string) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.Void")
	defer span.End()

	if idempotencyKey == "" {
		return nil
	}
	sale, err := ps.sales.GetSaleByIdempotencyKey(ctx, idempotencyKey)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("failed to check idempotency key: %w", err)
	}
	if sale == nil || sale.Status == models.SaleStatusCancelled {
		ps.logger.Debug("Void with nothing recorded ignored", zap.String("idempotency_key", idempotencyKey))
		return nil
	}

	if sale.Status == models.SaleStatusPending {
		payment, err := ps.sales.GetPaymentBySaleID(ctx, sale.ID)
		if err != nil {
			return fmt.Errorf("failed to load payment: %w", err)
		}
		if payment.Status == models.PaymentStatusPending {
			return ps.cancelPayment(ctx, payment, ReasonVoided)
		}
	}

	ok, err := ps.sales.TransitionSaleStatus(ctx, sale.ID,
		[]string{models.SaleStatusPending, models.SaleStatusCompleted, models.SaleStatusConfirmed},
		models.SaleStatusCancelled)
	if err != nil {
		util.RecordError(span, err)
		return err
	}
	if !ok {
		return nil
	}
	ps.forget(ctx, sale.ID)

	util.SalesVoidedTotal.Inc()
	ps.logger.Warn("Sale voided",
		zap.String("sale_id", sale.ID),
		zap.String("payment_method", sale.PaymentMethod))

	return ps.releaseSale(ctx, sale.ID, 0, ReasonVoided)
}

// forget drops the cached response of the submit that recorded saleID
func (ps *PaymentService) forget(ctx context.Context, saleID string) {
	ctx = context.WithoutCancel(ctx)
	sale, err := ps.sales.GetSaleByID(ctx, saleID)
	if err != nil || sale.IdempotencyKey == "" {
		return
	}
	if err := ps.cache.DeleteIdempotencyKey(ctx, idempotencyKey(sale.IdempotencyKey)); err != nil {
		ps.logger.Warn("Failed to drop cached payment response",
			zap.String("sale_id", saleID),
			zap.Error(err))
	}
}

// newSaleID returns VEN-<unix ms>-<8 hex>
func newSaleID(now time.Time) string {
	id := uuid.New()
	return fmt.Sprintf("VEN-%d-%s", now.UnixMilli(), strings.ToUpper(hex.EncodeToString(id[:4])))
}
