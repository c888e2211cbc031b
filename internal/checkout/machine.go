// Package checkout drives a cart through contact details, payment hand-off
// and invoice issue. A Machine owns one browsing session's checkout and is
// safe for concurrent use; collaborator calls run without holding its lock so
// a submission can be abandoned while it is in flight.
package checkout

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"storefront/internal/cart"
	"storefront/internal/invoice"
	"storefront/internal/models"
	"storefront/internal/money"
	"storefront/internal/notify"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultSubmitTimeout bounds each gateway and stock call when Config
// leaves SubmitTimeout unset
const DefaultSubmitTimeout = 30 * time.Second

var errIncompleteResponse = &PaymentGatewayError{Message: "the payment service returned an incomplete response"}

// Config wires a Machine to its collaborators. Gateway is required.
type Config struct {
	Gateway       PaymentGateway
	Delivery      InvoiceDelivery
	Stock         StockSource
	Sink          notify.Sink
	Profile       *CustomerProfile
	SubmitTimeout time.Duration
	Now           func() time.Time
	Logger        *zap.Logger
}

// Session is the immutable snapshot handed to the payment backend
type Session struct {
	ID             string
	Lines          []invoice.Item
	Details        Details
	Subtotal       decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal
	IdempotencyKey string
}

// Receipt is the outcome of finalizing a checkout
type Receipt struct {
	Invoice     *invoice.Invoice
	EmailSent   bool
	DeliveryErr error
}

// Machine is the checkout state machine for one browsing session. Each
// submission attempt of a session carries its own idempotency key, so a
// declined or abandoned attempt never answers the next one.
type Machine struct {
	mu  sync.Mutex
	cfg Config

	cart      *cart.Cart
	state     State
	sessionID string
	attempt   int
	details   Details
	session   *Session

	clientSecret   string
	pendingInvoice *models.InvoiceData
	invoice        *invoice.Invoice

	generation     uint64
	inflight       bool
	cancelInflight context.CancelFunc

	logger *zap.Logger
	sink   notify.Sink
}

// NewMachine creates an idle checkout over c
func NewMachine(c *cart.Cart, cfg Config) *Machine {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = util.GetLogger()
	}
	return &Machine{
		cfg:    cfg,
		cart:   c,
		state:  StateIdle,
		logger: logger,
		sink:   notify.OrNop(cfg.Sink),
	}
}

// State returns the current checkout state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID identifies the current checkout attempt; empty before Start
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Details returns the entered checkout fields
func (m *Machine) Details() Details {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.details
}

// Session returns a copy of the submitted snapshot, or nil before Submit
func (m *Machine) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	s.Lines = append([]invoice.Item(nil), m.session.Lines...)
	return &s
}

// Invoice returns the issued invoice, retained until CloseInvoice or Start
func (m *Machine) Invoice() *invoice.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoice
}

// ClientSecret returns the pending card confirmation token
func (m *Machine) ClientSecret() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientSecret
}

// Profile returns the signed-in identity used for pre-fill, or nil for guests
func (m *Machine) Profile() *CustomerProfile {
	return m.cfg.Profile
}

// ReadCart runs fn with the cart under the machine's lock
func (m *Machine) ReadCart(fn func(c *cart.Cart)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.cart)
}

// MutateCart runs fn with the cart under the machine's lock. The cart is
// frozen once stock has been re-checked until the invoice is finalized;
// cancelling the checkout unfreezes it.
func (m *Machine) MutateCart(fn func(c *cart.Cart) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateEnteringDetails, StateValidating, StateSubmitting, StateAwaitingExternalConfirmation, StateInvoiceReady:
		return &IllegalTransitionError{From: m.state, Action: "change the cart"}
	}
	return fn(m.cart)
}

// Start opens a checkout session over the current cart
func (m *Machine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !CanTransition(m.state, StateReviewingCart) {
		return &IllegalTransitionError{From: m.state, Action: "start checkout"}
	}
	if m.cart.IsEmpty() {
		return ErrEmptyCart
	}

	m.abandonLocked()
	m.sessionID = uuid.New().String()
	m.attempt = 0
	m.details = Details{}
	m.invoice = nil
	m.transitionLocked(StateReviewingCart)
	m.logger.Info("Checkout started",
		zap.String("session_id", m.sessionID),
		zap.Int("items", m.cart.ItemCount()))
	return nil
}

// ProceedToDetails re-checks every cart line against current stock and
// moves on to the details form
func (m *Machine) ProceedToDetails(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "Machine.ProceedToDetails")
	defer span.End()

	m.mu.Lock()
	if m.state != StateReviewingCart {
		defer m.mu.Unlock()
		return &IllegalTransitionError{From: m.state, Action: "enter details"}
	}
	if m.inflight {
		m.mu.Unlock()
		return ErrBusy
	}
	if m.cart.ItemCount() == 0 {
		m.mu.Unlock()
		return ErrEmptyCart
	}
	lines := m.cart.Lines()

	var stock map[string]int
	if m.cfg.Stock != nil {
		ids := make([]string, len(lines))
		for i, l := range lines {
			ids[i] = l.Product.ID
		}
		gen, callCtx := m.beginCallLocked(ctx, m.cfg.SubmitTimeout)
		m.mu.Unlock()

		current, err := m.cfg.Stock.CurrentStock(callCtx, ids)

		m.mu.Lock()
		if !m.endCallLocked(gen) {
			m.mu.Unlock()
			return ErrStaleResult
		}
		if err != nil {
			m.mu.Unlock()
			nerr := &NetworkError{Op: "stock check", Err: err}
			m.sink.Notify(notify.LevelError, "We could not verify stock right now, please try again.")
			m.logger.Warn("Stock re-validation failed", zap.String("session_id", m.sessionID), zap.Error(err))
			return nerr
		}
		stock = current
	}
	defer m.mu.Unlock()

	var exceeded []*cart.StockExceededError
	for _, l := range lines {
		available := l.Product.AvailableStock
		if stock != nil {
			available = stock[l.Product.ID]
		}
		if l.Quantity > available {
			exceeded = append(exceeded, &cart.StockExceededError{
				ProductID: l.Product.ID,
				Name:      l.Product.Name,
				Available: available,
				Requested: l.Quantity,
			})
		}
	}
	if len(exceeded) > 0 {
		for _, e := range exceeded {
			m.sink.Notify(notify.LevelError, e.Error())
		}
		util.CheckoutFailuresTotal.WithLabelValues("stock").Inc()
		return &StockError{Lines: exceeded}
	}

	m.details = m.details.withProfile(m.cfg.Profile)
	m.transitionLocked(StateEnteringDetails)
	return nil
}

// UpdateDetails stores the shopper's entries. Signed-in profile fields win.
func (m *Machine) UpdateDetails(d Details) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateEnteringDetails {
		return &IllegalTransitionError{From: m.state, Action: "update details"}
	}
	m.details = d.withProfile(m.cfg.Profile)
	return nil
}

// Submit validates the details, snapshots the cart and hands the order to
// the payment gateway. A card payment that needs confirmation returns a nil
// invoice and leaves the machine awaiting Confirm.
func (m *Machine) Submit(ctx context.Context) (*invoice.Invoice, error) {
	ctx, span := util.StartSpan(ctx, "Machine.Submit")
	defer span.End()

	m.mu.Lock()
	if m.state != StateEnteringDetails {
		defer m.mu.Unlock()
		return nil, &IllegalTransitionError{From: m.state, Action: "submit"}
	}
	if m.cart.IsEmpty() {
		m.mu.Unlock()
		return nil, ErrEmptyCart
	}

	m.transitionLocked(StateValidating)
	details := m.details.trimmed()
	if err := validateDetails(details); err != nil {
		m.transitionLocked(StateEnteringDetails)
		m.mu.Unlock()
		m.sink.Notify(notify.LevelError, err.Error())
		util.CheckoutFailuresTotal.WithLabelValues("validation").Inc()
		return nil, err
	}
	m.details = details

	session := m.snapshotLocked(details)
	m.session = session
	m.transitionLocked(StateSubmitting)
	gen, callCtx := m.beginCallLocked(ctx, m.cfg.SubmitTimeout)
	req := session.paymentRequest(m.cfg.Profile)
	m.mu.Unlock()

	m.logger.Info("Submitting payment",
		zap.String("session_id", session.ID),
		zap.String("payment_method", string(details.PaymentMethod)),
		zap.String("total", session.Total.StringFixed(2)))

	resp, err := m.cfg.Gateway.Submit(callCtx, req)

	m.mu.Lock()
	if !m.endCallLocked(gen) {
		m.mu.Unlock()
		m.release(ctx, session.IdempotencyKey, "stale")
		return nil, ErrStaleResult
	}

	switch {
	case err != nil:
		// the backend may have recorded the sale before the connection dropped
		err = m.failLocked(&NetworkError{Op: "submit payment", Err: err}, "network")
	case !resp.Success:
		err = m.failLocked(&PaymentGatewayError{Message: gatewayMessage(resp)}, "gateway")
		m.mu.Unlock()
		return nil, err
	case details.PaymentMethod == models.PaymentMethodCard && resp.ClientSecret != "":
		m.clientSecret = resp.ClientSecret
		m.pendingInvoice = resp.InvoiceData
		m.transitionLocked(StateAwaitingExternalConfirmation)
		m.mu.Unlock()
		m.sink.Notify(notify.LevelInfo, "Confirm your card payment to finish the order.")
		return nil, nil
	case resp.ClientSecret != "":
		// only card payments are confirmed externally
		err = m.failLocked(errIncompleteResponse, "gateway")
	default:
		inv, ierr := m.issueLocked(resp.InvoiceData)
		if ierr == nil {
			m.mu.Unlock()
			return inv, nil
		}
		err = m.failLocked(ierr, "invoice")
	}
	m.mu.Unlock()

	m.release(ctx, session.IdempotencyKey, "failed submit")
	return nil, err
}

// Confirm completes a card payment that is awaiting external confirmation
func (m *Machine) Confirm(ctx context.Context) (*invoice.Invoice, error) {
	ctx, span := util.StartSpan(ctx, "Machine.Confirm")
	defer span.End()

	m.mu.Lock()
	if m.state != StateAwaitingExternalConfirmation {
		defer m.mu.Unlock()
		return nil, &IllegalTransitionError{From: m.state, Action: "confirm payment"}
	}
	if m.inflight {
		m.mu.Unlock()
		return nil, ErrBusy
	}
	secret := m.clientSecret
	key := m.session.IdempotencyKey
	gen, callCtx := m.beginCallLocked(ctx, m.cfg.SubmitTimeout)
	m.mu.Unlock()

	resp, err := m.cfg.Gateway.Confirm(callCtx, secret)

	m.mu.Lock()
	if !m.endCallLocked(gen) {
		m.mu.Unlock()
		m.release(ctx, key, "stale")
		return nil, ErrStaleResult
	}

	switch {
	case err != nil:
		err = m.failLocked(&NetworkError{Op: "confirm payment", Err: err}, "network")
	case !resp.Success:
		err = m.failLocked(&PaymentGatewayError{Message: gatewayMessage(resp)}, "gateway")
	default:
		data := resp.InvoiceData
		if data == nil {
			data = m.pendingInvoice
		}
		inv, ierr := m.issueLocked(data)
		if ierr == nil {
			m.mu.Unlock()
			return inv, nil
		}
		err = m.failLocked(ierr, "invoice")
	}
	m.mu.Unlock()

	// a declined confirmation still holds stock until released
	m.release(ctx, key, "failed confirmation")
	return nil, err
}

// Finalize completes the checkout: the cart is cleared, the session dropped
// and the invoice kept for display. E-mail delivery is best-effort.
func (m *Machine) Finalize(ctx context.Context) (Receipt, error) {
	ctx, span := util.StartSpan(ctx, "Machine.Finalize")
	defer span.End()

	m.mu.Lock()
	if m.state != StateInvoiceReady {
		defer m.mu.Unlock()
		return Receipt{}, &IllegalTransitionError{From: m.state, Action: "finalize"}
	}
	inv := m.invoice
	m.transitionLocked(StateCompleted)
	m.cart.Clear()
	m.session = nil
	m.clientSecret = ""
	m.pendingInvoice = nil
	m.details = Details{}
	m.mu.Unlock()

	receipt := Receipt{Invoice: inv}
	if m.cfg.Delivery == nil {
		return receipt, nil
	}

	resp, err := m.cfg.Delivery.Deliver(ctx, inv.DeliveryRequest())
	switch {
	case err != nil:
		receipt.DeliveryErr = &DeliveryError{Err: err}
	case !resp.Success || !resp.EmailSent:
		msg := resp.Error
		if msg == "" {
			msg = "the mail service did not accept the message"
		}
		receipt.DeliveryErr = &DeliveryError{Err: errors.New(msg)}
	default:
		receipt.EmailSent = true
	}

	if receipt.DeliveryErr != nil {
		util.InvoiceDeliveriesTotal.WithLabelValues("failed").Inc()
		m.logger.Warn("Invoice delivery failed",
			zap.String("invoice_id", inv.ID()),
			zap.Error(receipt.DeliveryErr))
		m.sink.Notify(notify.LevelWarning, "Your order is complete, but we could not e-mail the invoice. You can print it instead.")
	} else {
		util.InvoiceDeliveriesTotal.WithLabelValues("sent").Inc()
		m.sink.Notify(notify.LevelSuccess, "Invoice sent to "+inv.Customer().Email)
	}
	return receipt, nil
}

// Cancel abandons the checkout without touching the cart. Any in-flight
// gateway call is cancelled and its result discarded.
func (m *Machine) Cancel(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.Cancellable() {
		defer m.mu.Unlock()
		return &IllegalTransitionError{From: m.state, Action: "cancel"}
	}
	secret := m.clientSecret
	sessionID := m.sessionID
	m.abandonLocked()
	m.transitionLocked(StateCancelled)
	m.details = Details{}
	m.mu.Unlock()

	m.logger.Info("Checkout cancelled", zap.String("session_id", sessionID))
	m.sink.Notify(notify.LevelInfo, "Checkout cancelled. Your cart was kept.")
	util.CheckoutFailuresTotal.WithLabelValues("cancelled").Inc()

	if secret != "" {
		if err := m.cfg.Gateway.Cancel(ctx, secret); err != nil {
			m.logger.Warn("Failed to release pending card payment",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}
	return nil
}

// CloseInvoice dismisses the completed invoice and returns to idle
func (m *Machine) CloseInvoice() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateCompleted {
		return &IllegalTransitionError{From: m.state, Action: "close the invoice"}
	}
	m.invoice = nil
	m.transitionLocked(StateIdle)
	return nil
}

func (m *Machine) transitionLocked(to State) {
	from := m.state
	m.state = to
	util.CheckoutTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	m.logger.Debug("Checkout transition",
		zap.String("session_id", m.sessionID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

// beginCallLocked starts a collaborator call tied to the current generation
func (m *Machine) beginCallLocked(ctx context.Context, timeout time.Duration) (uint64, context.Context) {
	m.generation++
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	m.cancelInflight = cancel
	m.inflight = true
	return m.generation, callCtx
}

// endCallLocked reports whether the call that captured gen is still current
func (m *Machine) endCallLocked(gen uint64) bool {
	if gen != m.generation {
		return false
	}
	if m.cancelInflight != nil {
		m.cancelInflight()
		m.cancelInflight = nil
	}
	m.inflight = false
	return true
}

// abandonLocked invalidates any in-flight call and drops session data
func (m *Machine) abandonLocked() {
	m.generation++
	if m.cancelInflight != nil {
		m.cancelInflight()
		m.cancelInflight = nil
	}
	m.inflight = false
	m.session = nil
	m.clientSecret = ""
	m.pendingInvoice = nil
}

// release voids whatever the attempt under key left on the backend. Runs
// without the lock and outlives the caller's context.
func (m *Machine) release(ctx context.Context, key, why string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.SubmitTimeout)
	defer cancel()
	m.logger.Warn("Releasing payment attempt",
		zap.String("idempotency_key", key),
		zap.String("cause", why))
	if err := m.cfg.Gateway.Void(ctx, key); err != nil {
		m.logger.Warn("Failed to release payment attempt",
			zap.String("idempotency_key", key),
			zap.Error(err))
	}
}

// failLocked returns the machine to the details form. The next submission
// uses a fresh idempotency key.
func (m *Machine) failLocked(err error, reason string) error {
	m.attempt++
	m.session = nil
	m.clientSecret = ""
	m.pendingInvoice = nil
	m.transitionLocked(StateEnteringDetails)
	util.CheckoutFailuresTotal.WithLabelValues(reason).Inc()
	m.logger.Warn("Checkout submission failed",
		zap.String("session_id", m.sessionID),
		zap.String("reason", reason),
		zap.Error(err))
	m.sink.Notify(notify.LevelError, err.Error())
	return err
}

func (m *Machine) snapshotLocked(d Details) *Session {
	lines := m.cart.Lines()
	items := make([]invoice.Item, len(lines))
	subtotal := decimal.Zero
	for i, l := range lines {
		items[i] = invoice.NewItem(l.Product.ID, l.Product.Name, l.Product.Brand, l.Quantity, l.Product.UnitPrice)
		subtotal = subtotal.Add(items[i].Subtotal)
	}
	return &Session{
		ID:             m.sessionID,
		Lines:          items,
		Details:        d,
		Subtotal:       subtotal,
		Tax:            money.Tax(subtotal),
		Total:          money.Total(subtotal),
		IdempotencyKey: m.attemptKeyLocked(),
	}
}

// attemptKeyLocked is the session id for the first attempt and
// <session id>-<n> for retries
func (m *Machine) attemptKeyLocked() string {
	if m.attempt == 0 {
		return m.sessionID
	}
	return m.sessionID + "-" + strconv.Itoa(m.attempt)
}

func (m *Machine) issueLocked(data *models.InvoiceData) (*invoice.Invoice, error) {
	// the invoice number is the backend's sale id; never issue without one
	if data == nil || data.ID == "" {
		return nil, errIncompleteResponse
	}
	id := data.ID
	issuedAt := m.cfg.Now()
	if !data.IssuedAt.IsZero() {
		issuedAt = data.IssuedAt
	}

	s := m.session
	inv, err := invoice.New(id, issuedAt,
		invoice.Customer{Email: s.Details.Email, FullName: s.Details.FullName, Phone: s.Details.Phone},
		invoice.Shipping{Address: s.Details.Address, City: s.Details.City, Notes: s.Details.Notes},
		s.Details.PaymentMethod, s.Lines)
	if err != nil {
		return nil, err
	}

	m.invoice = inv
	m.clientSecret = ""
	m.pendingInvoice = nil
	m.transitionLocked(StateInvoiceReady)
	m.logger.Info("Invoice issued",
		zap.String("session_id", s.ID),
		zap.String("invoice_id", id),
		zap.String("total", inv.Total().StringFixed(2)))
	m.sink.Notify(notify.LevelSuccess, "Payment received. Invoice "+id+" is ready.")
	return inv, nil
}

func (s *Session) paymentRequest(p *CustomerProfile) models.PaymentRequest {
	items := make([]models.LineItem, len(s.Lines))
	for i, it := range s.Lines {
		items[i] = models.LineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Brand:     it.Brand,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
		}
	}
	req := models.PaymentRequest{
		PaymentMethod:   s.Details.PaymentMethod,
		Items:           items,
		CustomerEmail:   s.Details.Email,
		CustomerName:    s.Details.FullName,
		CustomerPhone:   s.Details.Phone,
		ShippingAddress: s.Details.Address,
		ShippingCity:    s.Details.City,
		ShippingNotes:   s.Details.Notes,
		Total:           s.Total,
		IdempotencyKey:  s.IdempotencyKey,
	}
	if p != nil {
		req.SessionUserID = p.UserID
	}
	return req
}

func gatewayMessage(resp models.PaymentResponse) string {
	if resp.Error != "" {
		return resp.Error
	}
	return "the payment was declined"
}
