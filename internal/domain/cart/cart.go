// Package cart implements the shopping cart engine: the canonical in-memory
// list of cart lines, mirrored to the device-local store after every change
// and to the signed-in user's remote document, and reconciled with that
// document on every identity transition.
package cart

import (
	"github.com/shopspring/decimal"
)

const (
	// LocalKey is the device-local key holding the cart snapshot. It is
	// shared by anonymous and signed-in sessions.
	LocalKey = "venkat.cart"
	// Collection is the remote collection holding per-user carts.
	Collection = "carts"
)

// Line is one product in the cart. Display fields and prices are captured
// when the product is added and are not joined back to the catalog.
type Line struct {
	ProductID         string
	Title             string
	Image             string
	UnitPrice         decimal.Decimal
	OriginalUnitPrice decimal.NullDecimal
	Quantity          int
	Slug              string
}

// Total returns UnitPrice * Quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Candidate is a product being added to the cart.
type Candidate struct {
	ProductID         string
	Title             string
	Image             string
	UnitPrice         decimal.Decimal
	OriginalUnitPrice decimal.NullDecimal
	Slug              string
}

func (c Candidate) line() Line {
	return Line{
		ProductID:         c.ProductID,
		Title:             c.Title,
		Image:             c.Image,
		UnitPrice:         c.UnitPrice,
		OriginalUnitPrice: c.OriginalUnitPrice,
		Quantity:          1,
		Slug:              c.Slug,
	}
}

// Outcome reports what a mutation did. Outcomes are informational; no cart
// operation fails.
type Outcome string

const (
	OutcomeAdded           Outcome = "added"
	OutcomeQuantityUpdated Outcome = "quantity_updated"
	OutcomeRemoved         Outcome = "removed"
	OutcomeCleared         Outcome = "cleared"
	// OutcomeIgnored is returned when SetQuantity targets a product that is
	// not in the cart.
	OutcomeIgnored Outcome = "ignored"
)

// Summary is a point-in-time view of the cart with its derived values.
type Summary struct {
	Lines          []Line
	TotalItemCount int
	Subtotal       decimal.Decimal
}

// TotalItemCount returns the sum of quantities.
func TotalItemCount(lines []Line) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

// Subtotal returns the sum of UnitPrice * Quantity over lines.
func Subtotal(lines []Line) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total
}
