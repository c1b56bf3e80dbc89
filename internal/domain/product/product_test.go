package product

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/venkat-express/db"
)

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(`[
		{"id":"p1","name":"Waffle","price":6.5,"originalPrice":"7.00","category":"Waffle","image":"/w.jpg"},
		{"id":"p2","name":"Brownie","price":"4.50","image":{"thumbnail":"/b-thumb.jpg","desktop":"/b.jpg"},"stock":3},
		{"id":"p1","name":"Duplicate","price":1},
		{"id":"","name":"No id","price":1}
	]`))
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())

	p, err := c.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, "Waffle", p.Name)
	assert.Equal(t, "6.5", p.Price.String())
	require.True(t, p.OriginalPrice.Valid)
	assert.Equal(t, "7", p.OriginalPrice.Decimal.String())

	p, err = c.Get("p2")
	require.NoError(t, err)
	assert.Equal(t, "/b-thumb.jpg", p.Image)
	assert.False(t, p.OriginalPrice.Valid)

	_, err = c.Get("p3")
	require.ErrorIs(t, err, ErrNotFound)

	ids := make([]string, 0, c.Len())
	for _, p := range c.List() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"p1", "p2"}, ids)
}

func TestParseCatalog_Invalid(t *testing.T) {
	for _, input := range []string{`{}`, `[{"id":"p1","price":"cheap"}]`, `[`} {
		_, err := ParseCatalog([]byte(input))
		assert.Error(t, err, input)
	}
}

func TestEmbeddedCatalog(t *testing.T) {
	c, err := ParseCatalog(db.Catalog)
	require.NoError(t, err)
	assert.Equal(t, 9, c.Len())
	for _, p := range c.List() {
		assert.NotEmpty(t, p.Name, p.ID)
		assert.True(t, p.Price.IsPositive(), p.ID)
	}
}

func TestCandidates(t *testing.T) {
	c := NewCatalog([]Product{{ID: "p1", Name: "Waffle", Image: "/w.jpg"}})
	p, err := c.Get("p1")
	require.NoError(t, err)

	cc := p.CartCandidate()
	assert.Equal(t, "p1", cc.ProductID)
	assert.Equal(t, "Waffle", cc.Title)
	assert.Equal(t, "p1", cc.Slug)

	wc := p.WishlistCandidate()
	assert.Equal(t, "p1", wc.ProductID)
	assert.Equal(t, "/w.jpg", wc.Image)

	var nilCatalog *Catalog
	_, err = nilCatalog.Get("p1")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, nilCatalog.Len())
}
