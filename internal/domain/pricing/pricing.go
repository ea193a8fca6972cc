// Package pricing computes the tiered order-level discount applied at
// checkout. It is pure and has no storage dependencies.
package pricing

import "github.com/shopspring/decimal"

// Tier thresholds are exclusive lower bounds on the subtotal.
var (
	// HighTierThreshold: subtotals strictly above it get HighTierRate.
	HighTierThreshold = decimal.NewFromInt(1_000_000)
	// MidTierThreshold: subtotals strictly above it (and at most
	// HighTierThreshold) get MidTierRate.
	MidTierThreshold = decimal.NewFromInt(500_000)

	HighTierRate = decimal.RequireFromString("0.15")
	MidTierRate  = decimal.RequireFromString("0.10")
)

// Quote is the priced view of a cart subtotal.
type Quote struct {
	Subtotal   decimal.Decimal
	Rate       decimal.Decimal
	Discount   decimal.Decimal
	FinalTotal decimal.Decimal
}

// RateFor returns the discount rate that applies to subtotal.
func RateFor(subtotal decimal.Decimal) decimal.Decimal {
	switch {
	case subtotal.GreaterThan(HighTierThreshold):
		return HighTierRate
	case subtotal.GreaterThan(MidTierThreshold):
		return MidTierRate
	default:
		return decimal.Zero
	}
}

// ComputeDiscount returns the discount amount for subtotal, rounded to two
// decimal places.
func ComputeDiscount(subtotal decimal.Decimal) decimal.Decimal {
	rate := RateFor(subtotal)
	if rate.IsZero() {
		return decimal.Zero
	}
	return subtotal.Mul(rate).Round(2)
}

// QuoteFor prices subtotal. FinalTotal is Subtotal minus Discount and never
// negative.
func QuoteFor(subtotal decimal.Decimal) Quote {
	subtotal = subtotal.Round(2)
	discount := ComputeDiscount(subtotal)

	final := subtotal.Sub(discount)
	if final.IsNegative() {
		final = decimal.Zero
	}

	return Quote{
		Subtotal:   subtotal,
		Rate:       RateFor(subtotal),
		Discount:   discount,
		FinalTotal: final,
	}
}

// LineTotal returns unitPrice * qty.
func LineTotal(unitPrice decimal.Decimal, qty int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(qty)))
}
