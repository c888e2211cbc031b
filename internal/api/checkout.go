package api

import (
	"errors"
	"net/http"

	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/invoice"
	"storefront/internal/money"
	"storefront/internal/notify"

	"github.com/gin-gonic/gin"
)

type checkoutView struct {
	State                checkout.State   `json:"state"`
	SessionID            string           `json:"sessionId,omitempty"`
	Details              checkout.Details `json:"details"`
	Subtotal             string           `json:"subtotal"`
	Tax                  string           `json:"tax"`
	Total                string           `json:"total"`
	AwaitingConfirmation bool             `json:"awaitingConfirmation"`
	ClientSecret         string           `json:"clientSecret,omitempty"`
	Invoice              *invoice.View    `json:"invoice,omitempty"`
	EmailSent            *bool            `json:"emailSent,omitempty"`
	DeliveryError        string           `json:"deliveryError,omitempty"`
	Notices              []notify.Notice  `json:"notices"`
}

// viewCheckout reports the machine's state. Amounts come from the
// submitted session when there is one, else from the live cart.
func viewCheckout(s *Session) checkoutView {
	m := s.Checkout
	v := checkoutView{
		State:        m.State(),
		SessionID:    m.SessionID(),
		Details:      m.Details(),
		ClientSecret: m.ClientSecret(),
	}
	v.AwaitingConfirmation = v.State == checkout.StateAwaitingExternalConfirmation

	if sess := m.Session(); sess != nil {
		v.Subtotal = money.Format(sess.Subtotal)
		v.Tax = money.Format(sess.Tax)
		v.Total = money.Format(sess.Total)
	} else {
		m.ReadCart(func(ct *cart.Cart) {
			v.Subtotal = money.Format(money.Round2(ct.Subtotal()))
			v.Tax = money.Format(ct.Tax())
			v.Total = money.Format(ct.Total())
		})
	}

	if inv := m.Invoice(); inv != nil {
		view := invoice.NewView(inv)
		v.Invoice = &view
	}
	v.Notices = drain(s)
	return v
}

func respondCheckout(c *gin.Context, s *Session, err error) {
	if err != nil {
		writeError(c, s, err)
		return
	}
	c.JSON(http.StatusOK, viewCheckout(s))
}

func (h *Handler) getCheckout(c *gin.Context) {
	c.JSON(http.StatusOK, viewCheckout(session(c)))
}

func (h *Handler) startCheckout(c *gin.Context) {
	s := session(c)
	respondCheckout(c, s, s.Checkout.Start())
}

func (h *Handler) proceedToDetails(c *gin.Context) {
	s := session(c)
	respondCheckout(c, s, s.Checkout.ProceedToDetails(c.Request.Context()))
}

func (h *Handler) updateDetails(c *gin.Context) {
	s := session(c)

	var d checkout.Details
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	respondCheckout(c, s, s.Checkout.UpdateDetails(d))
}

// submitCheckout validates the details and hands the order to the payment
// backend. A body, when present, replaces the details first.
func (h *Handler) submitCheckout(c *gin.Context) {
	s := session(c)

	if c.Request.ContentLength > 0 {
		var d checkout.Details
		if err := c.ShouldBindJSON(&d); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}
		if err := s.Checkout.UpdateDetails(d); err != nil {
			writeError(c, s, err)
			return
		}
	}

	_, err := s.Checkout.Submit(c.Request.Context())
	respondCheckout(c, s, err)
}

func (h *Handler) confirmCheckout(c *gin.Context) {
	s := session(c)
	_, err := s.Checkout.Confirm(c.Request.Context())
	respondCheckout(c, s, err)
}

func (h *Handler) finalizeCheckout(c *gin.Context) {
	s := session(c)
	receipt, err := s.Checkout.Finalize(c.Request.Context())
	if err != nil {
		writeError(c, s, err)
		return
	}

	v := viewCheckout(s)
	sent := receipt.EmailSent
	v.EmailSent = &sent
	if receipt.DeliveryErr != nil {
		v.DeliveryError = receipt.DeliveryErr.Error()
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) cancelCheckout(c *gin.Context) {
	s := session(c)
	respondCheckout(c, s, s.Checkout.Cancel(c.Request.Context()))
}

func (h *Handler) closeInvoice(c *gin.Context) {
	s := session(c)
	respondCheckout(c, s, s.Checkout.CloseInvoice())
}

var errNoInvoice = errors.New("no invoice has been issued")

// getInvoice renders the current invoice as JSON, text or HTML for printing
func (h *Handler) getInvoice(c *gin.Context) {
	s := session(c)
	inv := s.Checkout.Invoice()
	if inv == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": errNoInvoice.Error()})
		return
	}

	view := invoice.NewView(inv)
	switch c.Query("format") {
	case "text":
		c.String(http.StatusOK, invoice.RenderText(view))
	case "html":
		html, err := invoice.RenderHTML(view)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
	default:
		c.JSON(http.StatusOK, view)
	}
}
