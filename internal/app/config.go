package app

import (
	"os"
	"slices"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/venkat-express/internal/storage/redis"
)

// Remote backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

// Config holds the complete application configuration, loadable from
// environment variables (VENKAT_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	ImageBaseURL string `default:"" usage:"Base URL prepended to relative image paths" flag:"image-base-url"`
	Local        LocalConfig
	Remote       RemoteConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// LocalConfig selects the device-local snapshot store.
type LocalConfig struct {
	Path string `default:"venkat-local.db" usage:"SQLite file for device-local snapshots, empty or :memory: keeps them in process memory" flag:"local-path"`
}

// Persistent reports whether local snapshots go to SQLite.
func (c LocalConfig) Persistent() bool {
	return c.Path != "" && c.Path != ":memory:"
}

// RemoteConfig selects and configures the remote document store.
type RemoteConfig struct {
	Backend     string        `default:"memory" usage:"Remote document store: memory, redis, postgres or mongo" flag:"remote-backend"`
	Timeout     time.Duration `default:"10s" usage:"Deadline for a single remote read or write" flag:"remote-timeout"`
	DatabaseURL string        `usage:"PostgreSQL connection URL (VENKAT_REMOTE_DATABASEURL or DATABASE_URL)" flag:"database-url"`
	Redis       redis.Config
	Mongo       MongoConfig
}

// MongoConfig locates the MongoDB database. Watching requires a replica set.
type MongoConfig struct {
	URI      string `default:"mongodb://localhost:27017/?replicaSet=rs0" usage:"MongoDB connection URI"`
	Database string `default:"venkat" usage:"MongoDB database name"`
}

// RateLimitConfig controls the per-device sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"300" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "VENKAT",
		Files:     []string{"config.yaml", "/etc/venkat/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that defaults cannot fix.
func (c *Config) Validate() error {
	backends := []string{BackendMemory, BackendRedis, BackendPostgres, BackendMongo}
	if !slices.Contains(backends, c.Remote.Backend) {
		return errors.Errorf("unknown remote backend %q, want one of %v", c.Remote.Backend, backends)
	}
	if c.Remote.Backend == BackendPostgres && c.Remote.DatabaseURL == "" {
		return errors.New("database URL is required for the postgres backend: set VENKAT_REMOTE_DATABASEURL or DATABASE_URL")
	}
	if c.Remote.Timeout <= 0 {
		return errors.New("remote timeout must be positive")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's VENKAT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Remote.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Remote.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
