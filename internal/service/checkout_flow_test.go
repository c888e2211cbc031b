package service

import (
	"context"
	"testing"
	"time"

	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// shopperDetails passes checkout validation for any method
func shopperDetails(method models.PaymentMethod) checkout.Details {
	return checkout.Details{
		Email:         "ana@example.com",
		FullName:      "Ana Perez",
		Phone:         "0991234567",
		Address:       "Av. Siempre Viva 742",
		City:          "Springfield",
		PaymentMethod: method,
	}
}

// newCheckout returns a machine over the real payment backend, holding qty
// of product A and parked on the details form
func newCheckout(t *testing.T, b *backend, gateway checkout.PaymentGateway, qty int) *checkout.Machine {
	t.Helper()
	p := b.store.products["A"]
	p.AvailableStock = b.store.stock("A")

	c := cart.New()
	require.NoError(t, c.AddItem(p, qty))
	if gateway == nil {
		gateway = b.payments
	}
	m := checkout.NewMachine(c, checkout.Config{
		Gateway: gateway,
		Stock:   b.catalog,
		Logger:  zap.NewNop(),
	})
	require.NoError(t, m.Start())
	require.NoError(t, m.ProceedToDetails(context.Background()))
	return m
}

// openSales counts the sales still holding stock
func (b *backend) openSales() []models.Sale {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	var out []models.Sale
	for _, s := range b.store.sales {
		if s.Status != models.SaleStatusCancelled {
			out = append(out, *s)
		}
	}
	return out
}

// expireConfirmation drives a card checkout to a declined confirmation
func expireConfirmation(t *testing.T, b *backend, m *checkout.Machine) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, m.UpdateDetails(shopperDetails(models.PaymentMethodCard)))
	inv, err := m.Submit(ctx)
	require.NoError(t, err)
	require.Nil(t, inv)
	secret := m.ClientSecret()
	require.NotEmpty(t, secret)
	require.Equal(t, 3, b.store.stock("A"))

	later := time.Now().Add(DefaultConfirmationTTL + time.Minute)
	b.payments.now = func() time.Time { return later }
	_, err = m.Confirm(ctx)
	var gerr *checkout.PaymentGatewayError
	require.ErrorAs(t, err, &gerr)
	assert.Contains(t, gerr.Message, "expired")
	require.Equal(t, checkout.StateEnteringDetails, m.State())
	b.payments.now = time.Now

	assert.Equal(t, 5, b.store.stock("A"))
	assert.Empty(t, b.openSales())
	return secret
}

func TestCheckoutRetriesCardAfterDeclinedConfirmation(t *testing.T) {
	b := newBackend(t, nil)
	ctx := context.Background()
	m := newCheckout(t, b, nil, 2)
	first := expireConfirmation(t, b, m)

	_, err := m.Submit(ctx)
	require.NoError(t, err)
	require.Equal(t, checkout.StateAwaitingExternalConfirmation, m.State())
	assert.NotEqual(t, first, m.ClientSecret())

	inv, err := m.Confirm(ctx)
	require.NoError(t, err)
	require.NotNil(t, inv)

	sale := b.store.sale(inv.ID())
	assert.Equal(t, models.SaleStatusConfirmed, sale.Status)
	assert.Equal(t, models.PaymentMethodCard.String(), sale.PaymentMethod)
	assert.True(t, sale.Total.Equal(inv.Total()))
	assert.Equal(t, 3, b.store.stock("A"))
	assert.Len(t, b.openSales(), 1)
}

func TestCheckoutSwitchesMethodAfterDeclinedConfirmation(t *testing.T) {
	b := newBackend(t, nil)
	ctx := context.Background()
	m := newCheckout(t, b, nil, 2)
	expireConfirmation(t, b, m)

	require.NoError(t, m.UpdateDetails(shopperDetails(models.PaymentMethodBankTransfer)))
	inv, err := m.Submit(ctx)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, checkout.StateInvoiceReady, m.State())

	// the invoice is a sale the backend actually recorded
	sale := b.store.sale(inv.ID())
	assert.Equal(t, models.PaymentMethodBankTransfer.String(), sale.PaymentMethod)
	assert.Equal(t, models.SaleStatusConfirmed, sale.Status)
	assert.Equal(t, 3, b.store.stock("A"))
	assert.Equal(t, 3, b.cachedStock(t, "A"))
	assert.Len(t, b.openSales(), 1)
}

func TestCheckoutRetryAfterCachedResponseLost(t *testing.T) {
	b := newBackend(t, nil)
	ctx := context.Background()
	m := newCheckout(t, b, nil, 2)
	expireConfirmation(t, b, m)

	b.mr.FlushAll()
	require.NoError(t, b.inventory.SyncInventoryToRedis(ctx))

	require.NoError(t, m.UpdateDetails(shopperDetails(models.PaymentMethodCashOnDelivery)))
	inv, err := m.Submit(ctx)
	require.NoError(t, err)
	require.NotNil(t, inv)
	assert.Equal(t, models.PaymentMethodCashOnDelivery.String(), b.store.sale(inv.ID()).PaymentMethod)
	assert.Equal(t, 3, b.store.stock("A"))
}

// slowGateway lets the backend record a submission, then holds the answer
// back until released
type slowGateway struct {
	*PaymentService
	recorded chan struct{}
	release  chan struct{}
}

func (g *slowGateway) Submit(ctx context.Context, req models.PaymentRequest) (models.PaymentResponse, error) {
	resp, err := g.PaymentService.Submit(context.WithoutCancel(ctx), req)
	close(g.recorded)
	<-g.release
	return resp, err
}

func TestCancelDuringSubmitReversesRecordedSale(t *testing.T) {
	for _, method := range []models.PaymentMethod{models.PaymentMethodCashOnDelivery, models.PaymentMethodCard} {
		t.Run(method.String(), func(t *testing.T) {
			b := newBackend(t, nil)
			ctx := context.Background()
			gw := &slowGateway{PaymentService: b.payments, recorded: make(chan struct{}), release: make(chan struct{})}
			m := newCheckout(t, b, gw, 2)
			require.NoError(t, m.UpdateDetails(shopperDetails(method)))

			done := make(chan error, 1)
			go func() {
				_, err := m.Submit(ctx)
				done <- err
			}()

			<-gw.recorded
			require.Len(t, b.openSales(), 1)
			require.Equal(t, 3, b.store.stock("A"))

			require.NoError(t, m.Cancel(ctx))
			close(gw.release)
			assert.ErrorIs(t, <-done, checkout.ErrStaleResult)

			assert.Equal(t, checkout.StateCancelled, m.State())
			assert.Nil(t, m.Invoice())
			assert.Empty(t, b.openSales())
			assert.Equal(t, 5, b.store.stock("A"))
			assert.Equal(t, 5, b.cachedStock(t, "A"))
		})
	}
}
