package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/venkat-express/internal/handler"
	"github.com/xenking/venkat-express/internal/session"
	"github.com/xenking/venkat-express/internal/storage/memory"
	"github.com/xenking/venkat-express/internal/storage/sqlite"
	"github.com/xenking/venkat-express/pkg/health"
	"github.com/xenking/venkat-express/pkg/httpmiddleware"
)

func validConfig() *Config {
	return &Config{
		Addr:      "127.0.0.1:0",
		Remote:    RemoteConfig{Backend: BackendMemory, Timeout: time.Second},
		RateLimit: RateLimitConfig{Max: 2, Window: time.Minute},
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	for _, tt := range []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"UnknownBackend", func(c *Config) { c.Remote.Backend = "etcd" }, "unknown remote backend"},
		{"PostgresWithoutURL", func(c *Config) { c.Remote.Backend = BackendPostgres }, "database URL"},
		{"ZeroTimeout", func(c *Config) { c.Remote.Timeout = 0 }, "remote timeout"},
		{"ZeroRateLimit", func(c *Config) { c.RateLimit.Max = 0 }, "rate limit"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/venkat")
	t.Setenv("PORT", "9000")

	cfg := &Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://db/venkat", cfg.Remote.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
}

func TestLocalConfig_Persistent(t *testing.T) {
	assert.False(t, LocalConfig{}.Persistent())
	assert.False(t, LocalConfig{Path: ":memory:"}.Persistent())
	assert.True(t, LocalConfig{Path: "local.db"}.Persistent())
}

func TestOpenStores(t *testing.T) {
	lg := zaptest.NewLogger(t)

	t.Run("Memory", func(t *testing.T) {
		s, err := OpenStores(context.Background(), lg, validConfig())
		require.NoError(t, err)
		defer s.Close()

		assert.IsType(t, &memory.Local{}, s.Local)
		assert.IsType(t, &memory.Documents{}, s.Remote)
		assert.Contains(t, s.Pingers, "remote")
	})
	t.Run("SQLite", func(t *testing.T) {
		cfg := validConfig()
		cfg.Local.Path = filepath.Join(t.TempDir(), "local.db")

		s, err := OpenStores(context.Background(), lg, cfg)
		require.NoError(t, err)
		defer s.Close()

		assert.IsType(t, &sqlite.Local{}, s.Local)
		require.Contains(t, s.Pingers, "local")
		require.NoError(t, s.Pingers["local"].Ping(context.Background()))
	})
}

func TestRouter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := validConfig()
	reg := session.NewRegistry(session.Options{Local: memory.NewLocal(), Remote: memory.NewDocuments()})
	defer reg.Close()

	healthSvc := health.New()
	healthSvc.SetReady(true)
	srv := httptest.NewServer(newRouter(ctx, cfg, handler.NewHandler(handler.HandlerConfig{}, reg), healthSvc))
	defer srv.Close()

	get := func(path, device string) *http.Response {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set(httpmiddleware.DeviceHeader, device)
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := get("/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(httpmiddleware.RequestIDHeader))

	// Health probes are not rate limited.
	for range 5 {
		assert.Equal(t, http.StatusOK, get("/livez", "").StatusCode)
	}

	assert.Equal(t, http.StatusOK, get("/api/cart", "phone").StatusCode)
	assert.Equal(t, http.StatusOK, get("/api/cart", "phone").StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, get("/api/cart", "phone").StatusCode)
	assert.Equal(t, http.StatusOK, get("/api/wishlist", "laptop").StatusCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, srv.URL+"/api/cart/lines", strings.NewReader(""))
	require.NoError(t, err)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
