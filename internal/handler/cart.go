package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/venkat-express/internal/domain/cart"
	"github.com/xenking/venkat-express/pkg/httpmiddleware"
)

// CartLine is one cart line as returned to clients.
type CartLine struct {
	ProductID         string           `json:"productId"`
	Title             string           `json:"title"`
	Image             string           `json:"image"`
	UnitPrice         decimal.Decimal  `json:"unitPrice"`
	OriginalUnitPrice *decimal.Decimal `json:"originalUnitPrice,omitempty"`
	Quantity          int              `json:"quantity"`
	Slug              string           `json:"slug,omitempty"`
	Total             decimal.Decimal  `json:"total"`
}

// CartResponse is the cart with its derived totals.
type CartResponse struct {
	Lines          []CartLine      `json:"lines"`
	TotalItemCount int             `json:"totalItemCount"`
	Subtotal       decimal.Decimal `json:"subtotal"`
}

// CartMutationResponse reports what a cart change did and the resulting cart.
type CartMutationResponse struct {
	Outcome cart.Outcome `json:"outcome"`
	Cart    CartResponse `json:"cart"`
}

// AddToCartRequest adds one unit of a product. Empty details are filled from
// the catalog when the product is known.
type AddToCartRequest struct {
	ProductID         string           `json:"productId"`
	Title             string           `json:"title"`
	Image             string           `json:"image"`
	UnitPrice         decimal.Decimal  `json:"unitPrice"`
	OriginalUnitPrice *decimal.Decimal `json:"originalUnitPrice"`
	Slug              string           `json:"slug"`
}

// SetQuantityRequest sets the quantity of a line. Zero or less removes it.
type SetQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *Handler) cartResponse(sum cart.Summary) CartResponse {
	lines := make([]CartLine, len(sum.Lines))
	for i, l := range sum.Lines {
		lines[i] = CartLine{
			ProductID: l.ProductID,
			Title:     l.Title,
			Image:     h.imageURL(l.Image),
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			Slug:      l.Slug,
			Total:     l.Total(),
		}
		if l.OriginalUnitPrice.Valid {
			orig := l.OriginalUnitPrice.Decimal
			lines[i].OriginalUnitPrice = &orig
		}
	}
	return CartResponse{
		Lines:          lines,
		TotalItemCount: sum.TotalItemCount,
		Subtotal:       sum.Subtotal,
	}
}

// GetCart handles GET /api/cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	respondJSON(w, r, http.StatusOK, h.cartResponse(s.Cart.Summary()))
}

// AddToCart handles POST /api/cart/lines.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req AddToCartRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "productId is required")
		return
	}
	if req.UnitPrice.IsNegative() {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "unitPrice must not be negative")
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	c := cart.Candidate{
		ProductID: req.ProductID,
		Title:     req.Title,
		Image:     req.Image,
		UnitPrice: req.UnitPrice,
		Slug:      req.Slug,
	}
	if req.OriginalUnitPrice != nil {
		c.OriginalUnitPrice = decimal.NewNullDecimal(*req.OriginalUnitPrice)
	}
	outcome := s.Cart.Add(h.completeCart(c))
	respondJSON(w, r, http.StatusOK, CartMutationResponse{
		Outcome: outcome,
		Cart:    h.cartResponse(s.Cart.Summary()),
	})
}

// SetQuantity handles PUT /api/cart/lines/{productID}. It removes the line
// when quantity is zero or negative.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req SetQuantityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "quantity is required")
		return
	}

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	outcome := s.Cart.SetQuantity(chi.URLParam(r, "productID"), *req.Quantity)
	respondJSON(w, r, http.StatusOK, CartMutationResponse{
		Outcome: outcome,
		Cart:    h.cartResponse(s.Cart.Summary()),
	})
}

// RemoveFromCart handles DELETE /api/cart/lines/{productID}.
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	outcome := s.Cart.Remove(chi.URLParam(r, "productID"))
	respondJSON(w, r, http.StatusOK, CartMutationResponse{
		Outcome: outcome,
		Cart:    h.cartResponse(s.Cart.Summary()),
	})
}

// ClearCart handles DELETE /api/cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	outcome := s.Cart.Clear()
	respondJSON(w, r, http.StatusOK, CartMutationResponse{
		Outcome: outcome,
		Cart:    h.cartResponse(s.Cart.Summary()),
	})
}
