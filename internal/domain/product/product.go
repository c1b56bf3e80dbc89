// Package product holds the read-only product catalog. Carts and wishlists
// capture product details when an item is added; the catalog supplies those
// details when a client only sends a product id.
package product

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/venkat-express/internal/domain/cart"
	"github.com/xenking/venkat-express/internal/domain/snapshot"
	"github.com/xenking/venkat-express/internal/domain/wishlist"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog item available for purchase.
type Product struct {
	ID            string
	Name          string
	Price         decimal.Decimal
	OriginalPrice decimal.NullDecimal
	Category      string
	Image         string
}

// CartCandidate returns p as an item to add to a cart.
func (p Product) CartCandidate() cart.Candidate {
	return cart.Candidate{
		ProductID:         p.ID,
		Title:             p.Name,
		Image:             p.Image,
		UnitPrice:         p.Price,
		OriginalUnitPrice: p.OriginalPrice,
		Slug:              p.ID,
	}
}

// WishlistCandidate returns p as an item to save.
func (p Product) WishlistCandidate() wishlist.Candidate {
	return wishlist.Candidate{
		ProductID: p.ID,
		Title:     p.Name,
		UnitPrice: p.Price,
		Image:     p.Image,
		Slug:      p.ID,
	}
}

// Catalog is an immutable set of products in listing order.
type Catalog struct {
	products []Product
	byID     map[string]int
}

// NewCatalog indexes products. Later duplicates of an id are ignored.
func NewCatalog(products []Product) *Catalog {
	c := &Catalog{byID: make(map[string]int, len(products))}
	for _, p := range products {
		if _, dup := c.byID[p.ID]; dup || p.ID == "" {
			continue
		}
		c.byID[p.ID] = len(c.products)
		c.products = append(c.products, p)
	}
	return c
}

// Get returns the product with id or ErrNotFound.
func (c *Catalog) Get(id string) (Product, error) {
	if c == nil {
		return Product{}, ErrNotFound
	}
	i, ok := c.byID[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return c.products[i], nil
}

// List returns every product in listing order.
func (c *Catalog) List() []Product {
	if c == nil {
		return nil
	}
	return append([]Product(nil), c.products...)
}

// Len returns the number of products.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.products)
}

// ParseCatalog decodes a JSON array of products. Prices may be numbers or
// numeric strings; image is either a URL or an object of responsive URLs of
// which the thumbnail is kept.
func ParseCatalog(data []byte) (*Catalog, error) {
	var products []Product
	err := jx.DecodeBytes(data).Arr(func(d *jx.Decoder) error {
		p, err := decodeProduct(d)
		if err != nil {
			return errors.Wrapf(err, "product %d", len(products))
		}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	return NewCatalog(products), nil
}

func decodeProduct(d *jx.Decoder) (Product, error) {
	var p Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = snapshot.DecodeString(d)
		case "name":
			p.Name, err = snapshot.DecodeString(d)
		case "price":
			p.Price, err = snapshot.DecodeDecimal(d)
		case "originalPrice":
			p.OriginalPrice, err = snapshot.DecodeNullDecimal(d)
		case "category":
			p.Category, err = snapshot.DecodeString(d)
		case "image":
			p.Image, err = decodeImage(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	return p, err
}

func decodeImage(d *jx.Decoder) (string, error) {
	if d.Next() != jx.Object {
		return snapshot.DecodeString(d)
	}
	var thumbnail string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "thumbnail" {
			return d.Skip()
		}
		v, err := snapshot.DecodeString(d)
		thumbnail = v
		return err
	})
	return thumbnail, err
}
