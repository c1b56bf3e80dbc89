package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/venkat-express/internal/domain/snapshot"
)

func TestDocuments_GetPut(t *testing.T) {
	docs := NewDocuments()
	ctx := context.Background()

	_, err := docs.Get(ctx, "carts", "u1")
	require.ErrorIs(t, err, snapshot.ErrNotFound)

	in := []byte(`[1]`)
	require.NoError(t, docs.Put(ctx, "carts", "u1", in))
	in[1] = '2'

	got, err := docs.Get(ctx, "carts", "u1")
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(got), "stored document is a copy")

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, docs.Put(canceled, "carts", "u1", []byte(`[]`)))
}

func TestDocuments_Watch(t *testing.T) {
	docs := NewDocuments()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []string
	unwatch, err := docs.Watch(ctx, "carts", "u1", func(doc []byte) { got = append(got, string(doc)) })
	require.NoError(t, err)
	_, err = docs.Watch(ctx, "carts", "u2", func([]byte) {})
	require.NoError(t, err)
	assert.Equal(t, 1, docs.Watchers("carts", "u1"))

	require.NoError(t, docs.Put(ctx, "carts", "u1", []byte(`[1]`)))
	require.NoError(t, docs.Put(ctx, "wishlists", "u1", []byte(`[2]`)))
	assert.Equal(t, []string{`[1]`}, got)

	unwatch()
	unwatch()
	assert.Zero(t, docs.Watchers("carts", "u1"))

	cancel()
	require.Eventually(t, func() bool {
		return docs.Watchers("carts", "u2") == 0
	}, time.Second, 5*time.Millisecond, "context cancellation unsubscribes")
}

func TestLocal(t *testing.T) {
	local := NewLocal()

	require.NoError(t, local.Write("k", "v"))
	v, ok, err := local.Read("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, local.Remove("k"))
	_, ok, err = local.Read("k")
	require.NoError(t, err)
	assert.False(t, ok)
}
