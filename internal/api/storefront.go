package api

import (
	"errors"
	"net/http"
	"strings"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/money"
	"storefront/internal/notify"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const sessionKey = "session"

// withSession resolves the caller's session and echoes its id back
func (h *Handler) withSession(c *gin.Context) {
	s, err := h.sessions.Get(c.Request.Context(), c.GetHeader(sessionHeader), c.GetHeader(userHeader))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to resolve session",
			"details": err.Error(),
		})
		return
	}
	c.Header(sessionHeader, s.ID)
	c.Set(sessionKey, s)
	c.Next()
}

func session(c *gin.Context) *Session {
	return c.MustGet(sessionKey).(*Session)
}

func (h *Handler) snapshot(c *gin.Context, s *Session) catalog.Snapshot {
	refresh := c.Query("refresh") == "true"
	return s.Snapshot(c.Request.Context(), h.deps.Catalog, h.deps.CatalogTimeout, refresh)
}

// criteriaFromQuery builds catalog criteria from query parameters.
// Unparseable price bounds are ignored.
func criteriaFromQuery(c *gin.Context) catalog.Criteria {
	crit := catalog.Criteria{
		SearchText: c.Query("q"),
		Category:   c.Query("category"),
		SortKey:    catalog.ParseSortKey(c.Query("sort")),
		SortOrder:  catalog.ParseSortOrder(c.Query("order")),
	}
	if v, err := decimal.NewFromString(c.Query("minPrice")); err == nil {
		crit.PriceMin = decimal.NewNullDecimal(v)
	}
	if v, err := decimal.NewFromString(c.Query("maxPrice")); err == nil {
		crit.PriceMax = decimal.NewNullDecimal(v)
	}

	var brands []string
	for _, b := range c.QueryArray("brand") {
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" {
				brands = append(brands, part)
			}
		}
	}
	if len(brands) > 0 {
		crit = crit.WithBrands(brands...)
	}
	return crit
}

// queryCatalog runs the filter/sort engine over the session's snapshot
func (h *Handler) queryCatalog(c *gin.Context) {
	s := session(c)
	snap := h.snapshot(c, s)
	products := snap.Query(criteriaFromQuery(c))
	all := snap.Products()

	c.JSON(http.StatusOK, gin.H{
		"products":   products,
		"count":      len(products),
		"degraded":   snap.Degraded,
		"categories": catalog.Categories(all),
		"brands":     catalog.Brands(all),
		"notices":    drain(s),
	})
}

func (h *Handler) listCategories(c *gin.Context) {
	s := session(c)
	c.JSON(http.StatusOK, gin.H{"categories": catalog.Categories(h.snapshot(c, s).Products())})
}

func (h *Handler) listBrands(c *gin.Context) {
	s := session(c)
	c.JSON(http.StatusOK, gin.H{"brands": catalog.Brands(h.snapshot(c, s).Products())})
}

type cartLineView struct {
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	Brand          string `json:"brand"`
	Quantity       int    `json:"quantity"`
	AvailableStock int    `json:"availableStock"`
	UnitPrice      string `json:"unitPrice"`
	Subtotal       string `json:"subtotal"`
}

type cartView struct {
	Items     []cartLineView  `json:"items"`
	ItemCount int             `json:"itemCount"`
	Subtotal  string          `json:"subtotal"`
	Tax       string          `json:"tax"`
	Total     string          `json:"total"`
	Notices   []notify.Notice `json:"notices"`
}

func viewCart(s *Session) cartView {
	var v cartView
	s.Checkout.ReadCart(func(ct *cart.Cart) {
		v.Items = make([]cartLineView, 0, ct.ItemCount())
		for _, l := range ct.Lines() {
			v.Items = append(v.Items, cartLineView{
				ProductID:      l.Product.ID,
				Name:           l.Product.Name,
				Brand:          l.Product.Brand,
				Quantity:       l.Quantity,
				AvailableStock: l.Product.AvailableStock,
				UnitPrice:      money.Format(l.Product.UnitPrice),
				Subtotal:       money.Format(l.Subtotal()),
			})
		}
		v.ItemCount = ct.ItemCount()
		v.Subtotal = money.Format(money.Round2(ct.Subtotal()))
		v.Tax = money.Format(ct.Tax())
		v.Total = money.Format(ct.Total())
	})
	v.Notices = drain(s)
	return v
}

func (h *Handler) getCart(c *gin.Context) {
	c.JSON(http.StatusOK, viewCart(session(c)))
}

type addItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  *int   `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// rejectCart counts and reports a refused cart change
func rejectCart(c *gin.Context, s *Session, err error) {
	var exceeded *cart.StockExceededError
	reason := "other"
	switch {
	case errors.As(err, &exceeded):
		reason = "stock_exceeded"
	case errors.Is(err, cart.ErrOutOfStock):
		reason = "out_of_stock"
	case errors.Is(err, cart.ErrInvalidQuantity):
		reason = "invalid_quantity"
	case errors.Is(err, checkout.ErrIllegalTransition):
		reason = "checkout_in_progress"
	case errors.Is(err, cart.ErrLineNotFound), errors.Is(err, errProductNotFound):
		reason = "not_found"
	}
	util.CartRejectionsTotal.WithLabelValues(reason).Inc()
	s.Notices.Notify(notify.LevelWarning, err.Error())
	writeError(c, s, err)
}

func (h *Handler) addCartItem(c *gin.Context) {
	s := session(c)

	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	product, ok := h.snapshot(c, s).Lookup(req.ProductID)
	if !ok {
		rejectCart(c, s, errProductNotFound)
		return
	}

	err := s.Checkout.MutateCart(func(ct *cart.Cart) error {
		return ct.AddItem(product, quantity)
	})
	if err != nil {
		rejectCart(c, s, err)
		return
	}
	s.Notices.Notify(notify.LevelSuccess, product.Name+" added to the cart")
	c.JSON(http.StatusOK, viewCart(s))
}

func (h *Handler) setCartQuantity(c *gin.Context) {
	s := session(c)

	var req setQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	err := s.Checkout.MutateCart(func(ct *cart.Cart) error {
		return ct.SetQuantity(c.Param("productId"), req.Quantity)
	})
	if err != nil {
		rejectCart(c, s, err)
		return
	}
	c.JSON(http.StatusOK, viewCart(s))
}

func (h *Handler) removeCartItem(c *gin.Context) {
	s := session(c)
	err := s.Checkout.MutateCart(func(ct *cart.Cart) error {
		ct.RemoveItem(c.Param("productId"))
		return nil
	})
	if err != nil {
		rejectCart(c, s, err)
		return
	}
	c.JSON(http.StatusOK, viewCart(s))
}

func (h *Handler) clearCart(c *gin.Context) {
	s := session(c)
	err := s.Checkout.MutateCart(func(ct *cart.Cart) error {
		ct.Clear()
		return nil
	})
	if err != nil {
		rejectCart(c, s, err)
		return
	}
	c.JSON(http.StatusOK, viewCart(s))
}
