// Package money holds the storefront's fixed-rate tax arithmetic and
// currency formatting. Amounts are shopspring decimals in currency units.
package money

import (
	"github.com/shopspring/decimal"
)

// TaxRate is the single flat sales tax applied to every order
var TaxRate = decimal.RequireFromString("0.15")

var taxMultiplier = decimal.NewFromInt(1).Add(TaxRate)

const minorUnits = 2

// Round2 rounds to the currency's minor unit, half away from zero.
// Amounts are never negative here, so this is half-up.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(minorUnits)
}

// Total returns round2(subtotal * 1.15)
func Total(subtotal decimal.Decimal) decimal.Decimal {
	return Round2(subtotal.Mul(taxMultiplier))
}

// Tax returns the tax share of Total so that subtotal + tax == total holds exactly
func Tax(subtotal decimal.Decimal) decimal.Decimal {
	return Total(subtotal).Sub(Round2(subtotal))
}

// Format renders an amount as "$" followed by two decimals
func Format(d decimal.Decimal) string {
	return "$" + d.StringFixed(minorUnits)
}
