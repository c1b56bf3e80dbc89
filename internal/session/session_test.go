package session

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/venkat-express/internal/domain/cart"
	"github.com/xenking/venkat-express/internal/domain/identity"
	"github.com/xenking/venkat-express/internal/domain/wishlist"
	"github.com/xenking/venkat-express/internal/storage/memory"
)

func newRegistry(t *testing.T) (*Registry, *memory.Local, *memory.Documents) {
	t.Helper()
	local := memory.NewLocal()
	docs := memory.NewDocuments()
	r := NewRegistry(Options{Local: local, Remote: docs})
	t.Cleanup(r.Close)
	return r, local, docs
}

func TestRegistry_GetReusesSession(t *testing.T) {
	r, _, _ := newRegistry(t)

	a, err := r.Get("phone")
	require.NoError(t, err)
	again, err := r.Get("phone")
	require.NoError(t, err)
	b, err := r.Get("laptop")
	require.NoError(t, err)

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_DevicesAreIsolated(t *testing.T) {
	r, local, _ := newRegistry(t)

	phone, err := r.Get("phone")
	require.NoError(t, err)
	phone.Cart.Add(cart.Candidate{ProductID: "p1", UnitPrice: decimal.NewFromInt(10)})
	phone.Wishlist.Add(wishlist.Candidate{ProductID: "w1"})

	laptop, err := r.Get("laptop")
	require.NoError(t, err)
	assert.Empty(t, laptop.Cart.Lines())
	assert.Zero(t, laptop.Wishlist.Count())

	_, ok, err := local.Read("device/phone/" + cart.LocalKey)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = local.Read("device/phone/" + wishlist.GuestKey)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistry_CrossDeviceSync(t *testing.T) {
	r, _, _ := newRegistry(t)

	phone, err := r.Get("phone")
	require.NoError(t, err)
	laptop, err := r.Get("laptop")
	require.NoError(t, err)

	require.NoError(t, phone.SignIn("u1"))
	require.NoError(t, laptop.SignIn("u1"))

	phone.Cart.Add(cart.Candidate{ProductID: "p1", UnitPrice: decimal.NewFromInt(5)})
	require.Eventually(t, func() bool {
		return laptop.Cart.TotalItemCount() == 1
	}, time.Second, 5*time.Millisecond, "change pushed to the other device")

	laptop.Wishlist.Add(wishlist.Candidate{ProductID: "w1"})
	require.Eventually(t, func() bool {
		return phone.Wishlist.Has("w1")
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_RemembersUser(t *testing.T) {
	local := memory.NewLocal()
	docs := memory.NewDocuments()

	r := NewRegistry(Options{Local: local, Remote: docs})
	s, err := r.Get("phone")
	require.NoError(t, err)
	require.NoError(t, s.SignIn("u1"))
	s.Cart.Add(cart.Candidate{ProductID: "p1", UnitPrice: decimal.NewFromInt(1)})
	r.Close()

	restarted := NewRegistry(Options{Local: local, Remote: docs})
	defer restarted.Close()
	s, err = restarted.Get("phone")
	require.NoError(t, err)
	assert.Equal(t, identity.SignedIn("u1"), s.Identity.Current())

	s.SignOut()
	_, ok, err := local.Read("device/phone/" + UserKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry_Close(t *testing.T) {
	r, _, _ := newRegistry(t)
	_, err := r.Get("phone")
	require.NoError(t, err)

	r.Close()
	r.Close()
	_, err = r.Get("phone")
	require.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, r.Len())
}
