// Package wishlist implements the wishlist engine. Unlike the cart, a
// wishlist belongs either to the guest (stored on the device) or to the
// signed-in user (stored remotely); the guest list is migrated to the user
// once, on a sign-in that finds no remote wishlist.
package wishlist

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// GuestKey is the device-local key holding the anonymous wishlist.
	GuestKey = "venkat.wishlist.guest"
	// Collection is the remote collection holding per-user wishlists.
	Collection = "wishlists"
)

// Entry is one saved product.
type Entry struct {
	ProductID string
	Title     string
	UnitPrice decimal.Decimal
	Image     string
	Slug      string
	// AddedAt is set when the entry is created and never changes.
	AddedAt time.Time
}

// Candidate is a product being saved.
type Candidate struct {
	ProductID string
	Title     string
	UnitPrice decimal.Decimal
	Image     string
	Slug      string
}

func (c Candidate) entry(now time.Time) Entry {
	return Entry{
		ProductID: c.ProductID,
		Title:     c.Title,
		UnitPrice: c.UnitPrice,
		Image:     c.Image,
		Slug:      c.Slug,
		AddedAt:   now,
	}
}

// Outcome reports what a mutation did.
type Outcome string

const (
	OutcomeAdded          Outcome = "added"
	OutcomeAlreadyPresent Outcome = "already_present"
	OutcomeRemoved        Outcome = "removed"
)
