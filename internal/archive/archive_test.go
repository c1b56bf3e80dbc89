package archive

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compress(t *testing.T, lines string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	_, err := gz.Write([]byte(lines))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return &buf
}

func readAll(t *testing.T, buf *bytes.Buffer) ([]Record, error) {
	t.Helper()
	var got []Record
	_, err := Read(context.Background(), buf, func(r Record) error {
		got = append(got, r)
		return nil
	})
	return got, err
}

func TestWriteRead(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	records := []Record{
		{Collection: "carts", UserID: "u1", UpdatedAt: at, Payload: []byte(`[{"productId":"p1","quantity":2}]`)},
		{Collection: "wishlists", UserID: "u\"2", Payload: []byte(`[]`)},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, r := range records {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	assert.Equal(t, 2, w.Count())

	got, err := readAll(t, &buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, records[0].UserID, got[0].UserID)
	assert.True(t, at.Equal(got[0].UpdatedAt))
	assert.JSONEq(t, string(records[0].Payload), string(got[0].Payload))
	assert.Equal(t, `u"2`, got[1].UserID)
	assert.True(t, got[1].UpdatedAt.IsZero())
}

func TestWrite_InvalidPayload(t *testing.T) {
	w := NewWriter(&bytes.Buffer{})
	require.Error(t, w.Write(Record{Collection: "carts", UserID: "u1", Payload: []byte(`[{`)}))
	assert.Zero(t, w.Count())
}

func TestRead_SkipsUnknownFieldsAndBlankLines(t *testing.T) {
	buf := compress(t, `{"collection":"carts","userId":"u1","extra":{"a":1},"payload":{"v":1}}`+"\n\n")
	got, err := readAll(t, buf)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"v":1}`, string(got[0].Payload))
}

func TestRead_Errors(t *testing.T) {
	for _, tt := range []struct {
		name  string
		lines string
	}{
		{"Malformed", `{"collection":`},
		{"MissingPayload", `{"collection":"carts","userId":"u1"}`},
		{"BadTime", `{"collection":"carts","userId":"u1","updatedAt":"yesterday","payload":[]}`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readAll(t, compress(t, tt.lines+"\n"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "line 1")
		})
	}

	_, err := readAll(t, bytes.NewBufferString("not gzip"))
	require.Error(t, err)
}

func TestRead_StopsOnCallbackError(t *testing.T) {
	buf := compress(t, `{"collection":"c","userId":"1","payload":[]}`+"\n"+`{"collection":"c","userId":"2","payload":[]}`+"\n")
	stop := errors.New("stop")
	n, err := Read(context.Background(), buf, func(Record) error { return stop })
	require.ErrorIs(t, err, stop)
	assert.Zero(t, n)
}
