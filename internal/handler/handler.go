// Package handler exposes device sessions over HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/venkat-express/internal/domain/cart"
	"github.com/xenking/venkat-express/internal/domain/product"
	"github.com/xenking/venkat-express/internal/domain/wishlist"
	"github.com/xenking/venkat-express/internal/session"
	"github.com/xenking/venkat-express/pkg/httpmiddleware"
)

const maxBodyBytes = 64 << 10

// Sessions resolves the session of a device.
type Sessions interface {
	Get(deviceID string) (*session.Session, error)
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in responses.
	// When empty, image paths are returned as stored.
	ImageBaseURL string

	// Catalog fills in details a client left out when adding an item.
	// Optional.
	Catalog *product.Catalog
}

// Handler serves the session, cart and wishlist routes.
type Handler struct {
	sessions     Sessions
	catalog      *product.Catalog
	imageBaseURL string
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig, sessions Sessions) *Handler {
	return &Handler{
		sessions:     sessions,
		catalog:      cfg.Catalog,
		imageBaseURL: strings.TrimSuffix(cfg.ImageBaseURL, "/"),
	}
}

// Mount registers the API routes on r. Requests are expected to have passed
// through httpmiddleware.DeviceID.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/session", h.GetSession)
		r.Post("/session/sign-in", h.SignIn)
		r.Post("/session/sign-out", h.SignOut)

		r.Get("/cart", h.GetCart)
		r.Delete("/cart", h.ClearCart)
		r.Post("/cart/lines", h.AddToCart)
		r.Put("/cart/lines/{productID}", h.SetQuantity)
		r.Delete("/cart/lines/{productID}", h.RemoveFromCart)

		r.Get("/wishlist", h.GetWishlist)
		r.Post("/wishlist/entries", h.AddToWishlist)
		r.Get("/wishlist/entries/{productID}", h.HasWishlistEntry)
		r.Delete("/wishlist/entries/{productID}", h.RemoveFromWishlist)
		r.Post("/wishlist/toggle", h.ToggleWishlist)
	})
}

// session resolves the request's session, writing an error response when it
// cannot.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	deviceID := httpmiddleware.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		deviceID = httpmiddleware.DefaultDevice
	}
	s, err := h.sessions.Get(deviceID)
	switch {
	case err == nil:
		return s, true
	case errors.Is(err, session.ErrClosed):
		httpmiddleware.WriteError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		zctx.From(r.Context()).Error("Open session", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal error")
	}
	return nil, false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(r.Context()).Warn("Write response", zap.Error(err))
	}
}

// imageURL resolves a relative image path against the configured base URL.
func (h *Handler) imageURL(path string) string {
	if h.imageBaseURL == "" || path == "" || strings.Contains(path, "://") {
		return path
	}
	return h.imageBaseURL + "/" + strings.TrimPrefix(path, "/")
}

// completeCart fills empty fields of c from the catalog entry of the same
// product. Fields sent by the client are kept.
func (h *Handler) completeCart(c cart.Candidate) cart.Candidate {
	p, err := h.catalog.Get(c.ProductID)
	if err != nil {
		return c
	}
	if c.Title == "" {
		c.Title = p.Name
	}
	if c.Image == "" {
		c.Image = p.Image
	}
	if c.UnitPrice.IsZero() {
		c.UnitPrice = p.Price
		if !c.OriginalUnitPrice.Valid {
			c.OriginalUnitPrice = p.OriginalPrice
		}
	}
	if c.Slug == "" {
		c.Slug = p.ID
	}
	return c
}

func (h *Handler) completeWishlist(c wishlist.Candidate) wishlist.Candidate {
	p, err := h.catalog.Get(c.ProductID)
	if err != nil {
		return c
	}
	if c.Title == "" {
		c.Title = p.Name
	}
	if c.Image == "" {
		c.Image = p.Image
	}
	if c.UnitPrice.IsZero() {
		c.UnitPrice = p.Price
	}
	if c.Slug == "" {
		c.Slug = p.ID
	}
	return c
}
