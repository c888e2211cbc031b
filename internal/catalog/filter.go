package catalog

import (
	"cmp"
	"slices"
	"strings"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

// CategoryAll disables the category filter
const CategoryAll = "all"

// SortKey selects the product attribute used for ordering
type SortKey string

const (
	SortNone    SortKey = ""
	SortByName  SortKey = "name"
	SortByPrice SortKey = "price"
	SortByStock SortKey = "availableStock"
	SortByRate  SortKey = "rating"
)

// SortOrder is the ordering direction
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Criteria describes a catalog query. Zero-valued fields do not filter.
type Criteria struct {
	SearchText string
	Category   string
	PriceMin   decimal.NullDecimal
	PriceMax   decimal.NullDecimal
	Brands     map[string]struct{}
	SortKey    SortKey
	SortOrder  SortOrder
}

// WithBrands returns a copy of c keeping only products of the given brands
func (c Criteria) WithBrands(brands ...string) Criteria {
	set := make(map[string]struct{}, len(brands))
	for _, b := range brands {
		if b != "" {
			set[b] = struct{}{}
		}
	}
	c.Brands = set
	return c
}

// ParseSortKey maps a query value onto a SortKey; unknown values disable sorting
func ParseSortKey(s string) SortKey {
	switch SortKey(s) {
	case SortByName, SortByPrice, SortByStock, SortByRate:
		return SortKey(s)
	}
	return SortNone
}

// ParseSortOrder maps a query value onto a SortOrder, defaulting to Asc
func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(s, string(Desc)) {
		return Desc
	}
	return Asc
}

// Apply filters and orders products according to c. The input slice is
// never modified; ties keep their relative input order.
func Apply(products []models.Product, c Criteria) []models.Product {
	if c.PriceMin.Valid && c.PriceMax.Valid && c.PriceMin.Decimal.GreaterThan(c.PriceMax.Decimal) {
		return []models.Product{}
	}

	needle := strings.ToLower(strings.TrimSpace(c.SearchText))
	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		if needle != "" && !matchesText(p, needle) {
			continue
		}
		if c.Category != "" && c.Category != CategoryAll && p.Category != c.Category {
			continue
		}
		if c.PriceMin.Valid && p.UnitPrice.LessThan(c.PriceMin.Decimal) {
			continue
		}
		if c.PriceMax.Valid && p.UnitPrice.GreaterThan(c.PriceMax.Decimal) {
			continue
		}
		if len(c.Brands) > 0 {
			if _, ok := c.Brands[p.Brand]; !ok {
				continue
			}
		}
		out = append(out, p)
	}

	if cmpFn := comparator(c.SortKey, c.SortOrder); cmpFn != nil {
		slices.SortStableFunc(out, cmpFn)
	}
	return out
}

func matchesText(p models.Product, needle string) bool {
	return strings.Contains(strings.ToLower(p.Name), needle) ||
		strings.Contains(strings.ToLower(p.Description), needle) ||
		strings.Contains(strings.ToLower(p.Brand), needle)
}

func comparator(key SortKey, order SortOrder) func(a, b models.Product) int {
	var base func(a, b models.Product) int
	switch key {
	case SortByName:
		base = func(a, b models.Product) int {
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
	case SortByPrice:
		base = func(a, b models.Product) int {
			return a.UnitPrice.Cmp(b.UnitPrice)
		}
	case SortByStock:
		base = func(a, b models.Product) int {
			return cmp.Compare(a.AvailableStock, b.AvailableStock)
		}
	case SortByRate:
		base = func(a, b models.Product) int {
			return cmp.Compare(a.Rating, b.Rating)
		}
	default:
		return nil
	}

	if order == Desc {
		return func(a, b models.Product) int {
			return base(b, a)
		}
	}
	return base
}
