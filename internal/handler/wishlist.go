package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/venkat-express/internal/domain/wishlist"
	"github.com/xenking/venkat-express/pkg/httpmiddleware"
)

// WishlistEntry is one saved product as returned to clients.
type WishlistEntry struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Image     string          `json:"image"`
	Slug      string          `json:"slug,omitempty"`
	AddedAt   time.Time       `json:"addedAt"`
}

// WishlistResponse is the wishlist in insertion order.
type WishlistResponse struct {
	Entries []WishlistEntry `json:"entries"`
	Count   int             `json:"count"`
}

// WishlistMutationResponse reports what a wishlist change did and the
// resulting list.
type WishlistMutationResponse struct {
	Outcome  wishlist.Outcome `json:"outcome"`
	Wishlist WishlistResponse `json:"wishlist"`
}

// WishlistEntryStatus tells whether a product is saved.
type WishlistEntryStatus struct {
	ProductID string `json:"productId"`
	Saved     bool   `json:"saved"`
}

// SaveRequest saves or toggles a product on the wishlist.
type SaveRequest struct {
	ProductID string          `json:"productId"`
	Title     string          `json:"title"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Image     string          `json:"image"`
	Slug      string          `json:"slug"`
}

func (h *Handler) wishlistResponse(entries []wishlist.Entry) WishlistResponse {
	out := make([]WishlistEntry, len(entries))
	for i, e := range entries {
		out[i] = WishlistEntry{
			ProductID: e.ProductID,
			Title:     e.Title,
			UnitPrice: e.UnitPrice,
			Image:     h.imageURL(e.Image),
			Slug:      e.Slug,
			AddedAt:   e.AddedAt,
		}
	}
	return WishlistResponse{Entries: out, Count: len(out)}
}

func decodeCandidate(w http.ResponseWriter, r *http.Request) (wishlist.Candidate, bool) {
	var req SaveRequest
	if !decodeBody(w, r, &req) {
		return wishlist.Candidate{}, false
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "productId is required")
		return wishlist.Candidate{}, false
	}
	return wishlist.Candidate{
		ProductID: req.ProductID,
		Title:     req.Title,
		UnitPrice: req.UnitPrice,
		Image:     req.Image,
		Slug:      req.Slug,
	}, true
}

// GetWishlist handles GET /api/wishlist.
func (h *Handler) GetWishlist(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, r, http.StatusOK, h.wishlistResponse(s.Wishlist.Entries()))
}

// HasWishlistEntry handles GET /api/wishlist/entries/{productID}.
func (h *Handler) HasWishlistEntry(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "productID")
	respondJSON(w, r, http.StatusOK, WishlistEntryStatus{
		ProductID: id,
		Saved:     s.Wishlist.Has(id),
	})
}

// AddToWishlist handles POST /api/wishlist/entries.
func (h *Handler) AddToWishlist(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCandidate(w, r)
	if !ok {
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	outcome := s.Wishlist.Add(h.completeWishlist(c))
	respondJSON(w, r, http.StatusOK, WishlistMutationResponse{
		Outcome:  outcome,
		Wishlist: h.wishlistResponse(s.Wishlist.Entries()),
	})
}

// ToggleWishlist handles POST /api/wishlist/toggle.
func (h *Handler) ToggleWishlist(w http.ResponseWriter, r *http.Request) {
	c, ok := decodeCandidate(w, r)
	if !ok {
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	outcome := s.Wishlist.Toggle(h.completeWishlist(c))
	respondJSON(w, r, http.StatusOK, WishlistMutationResponse{
		Outcome:  outcome,
		Wishlist: h.wishlistResponse(s.Wishlist.Entries()),
	})
}

// RemoveFromWishlist handles DELETE /api/wishlist/entries/{productID}.
func (h *Handler) RemoveFromWishlist(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	outcome := s.Wishlist.Remove(chi.URLParam(r, "productID"))
	respondJSON(w, r, http.StatusOK, WishlistMutationResponse{
		Outcome:  outcome,
		Wishlist: h.wishlistResponse(s.Wishlist.Entries()),
	})
}
