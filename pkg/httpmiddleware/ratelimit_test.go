package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func fromDevice(id string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if id != "" {
		req.Header.Set(DeviceHeader, id)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_PerDevice(t *testing.T) {
	h := Wrap(okHandler(),
		DeviceID(),
		RateLimit(RateLimitConfig{Max: 2, Window: time.Minute}),
	)

	for i := range 2 {
		w := serve(h, fromDevice("phone"))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := serve(h, fromDevice("phone"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, http.StatusTooManyRequests, body.Code)
	assert.Equal(t, "rate limit exceeded", body.Message)

	// Same address, different device.
	assert.Equal(t, http.StatusOK, serve(h, fromDevice("laptop")).Code)
}

func TestRateLimit_Remaining(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 3, Window: time.Minute})(okHandler())

	for _, want := range []string{"2", "1", "0"} {
		w := serve(h, fromDevice(""))
		assert.Equal(t, want, w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimit_ClientIPFallback(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	req := fromDevice("")
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
	require.Equal(t, http.StatusOK, serve(h, req).Code)

	req = fromDevice("")
	req.RemoteAddr = "192.168.1.2:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	assert.Equal(t, http.StatusTooManyRequests, serve(h, req).Code)

	req = fromDevice("")
	req.RemoteAddr = "192.168.1.3:5555"
	assert.Equal(t, http.StatusOK, serve(h, req).Code)
}

func TestRateLimit_CustomKey(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: func(*http.Request) string { return "global" },
	})(okHandler())

	assert.Equal(t, http.StatusOK, serve(h, fromDevice("a")).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, fromDevice("b")).Code)
}

func TestLimiter_SlidingWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	l := newLimiter(RateLimitConfig{Max: 4, Window: time.Minute})
	l.now = func() time.Time { return now }

	for range 4 {
		_, _, ok := l.take("k")
		require.True(t, ok)
	}
	_, _, ok := l.take("k")
	require.False(t, ok)

	// Halfway into the next window half of the previous count still applies.
	now = start.Add(90 * time.Second)
	_, _, ok = l.take("k")
	assert.True(t, ok)
	_, _, ok = l.take("k")
	assert.True(t, ok)
	_, _, ok = l.take("k")
	assert.False(t, ok)

	// Two idle windows reset the key.
	now = start.Add(4 * time.Minute)
	remaining, _, ok := l.take("k")
	assert.True(t, ok)
	assert.Equal(t, 3, remaining)
}

func TestLimiter_Evict(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	l.now = func() time.Time { return now }

	l.take("a")
	now = start.Add(90 * time.Second)
	l.take("b")

	now = start.Add(2 * time.Minute)
	l.evict()
	assert.NotContains(t, l.states, "a")
	assert.Contains(t, l.states, "b")
}
