package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/venkat-express/internal/domain/snapshot"
	"github.com/xenking/venkat-express/internal/storage/memory"
	"github.com/xenking/venkat-express/internal/storage/mongo"
	"github.com/xenking/venkat-express/internal/storage/postgres"
	"github.com/xenking/venkat-express/internal/storage/redis"
	"github.com/xenking/venkat-express/internal/storage/sqlite"
)

// Stores are the opened snapshot stores and the cleanup that releases them.
type Stores struct {
	Local  snapshot.Local
	Remote snapshot.Documents
	// Pingers are readiness checks keyed by check name.
	Pingers map[string]snapshot.Pinger

	closers []func()
}

// Close releases the stores in reverse opening order.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// OpenStores opens the local and remote stores selected by cfg. On error
// anything already opened is closed.
func OpenStores(ctx context.Context, lg *zap.Logger, cfg *Config) (_ *Stores, rerr error) {
	s := &Stores{Pingers: make(map[string]snapshot.Pinger)}
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()

	if cfg.Local.Persistent() {
		local, err := sqlite.Open(cfg.Local.Path)
		if err != nil {
			return nil, errors.Wrap(err, "open local store")
		}
		s.Local = local
		s.Pingers["local"] = local
		s.closers = append(s.closers, func() {
			if err := local.Close(); err != nil {
				lg.Warn("Close local store", zap.Error(err))
			}
		})
		lg.Info("Local snapshots in SQLite", zap.String("path", cfg.Local.Path))
	} else {
		s.Local = memory.NewLocal()
		lg.Warn("Local snapshots kept in memory, they will not survive a restart")
	}

	switch cfg.Remote.Backend {
	case BackendMemory:
		docs := memory.NewDocuments()
		s.Remote = docs
		s.Pingers["remote"] = docs
	case BackendRedis:
		client, err := redis.NewClient(ctx, cfg.Remote.Redis)
		if err != nil {
			return nil, errors.Wrap(err, "connect redis")
		}
		s.closers = append(s.closers, func() { _ = client.Close() })
		docs := redis.NewDocuments(client, lg)
		s.Remote = docs
		s.Pingers["remote"] = docs
	case BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Remote.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		s.closers = append(s.closers, pool.Close)
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return nil, errors.Wrap(err, "run migrations")
		}
		docs := postgres.NewDocuments(pool, lg)
		s.Remote = docs
		s.Pingers["remote"] = docs
	case BackendMongo:
		db, err := mongo.Connect(ctx, cfg.Remote.Mongo.URI, cfg.Remote.Mongo.Database)
		if err != nil {
			return nil, errors.Wrap(err, "connect mongo")
		}
		s.closers = append(s.closers, func() { _ = db.Client().Disconnect(context.Background()) })
		docs := mongo.NewDocuments(db, lg)
		if err := docs.CreateIndexes(ctx); err != nil {
			return nil, errors.Wrap(err, "create indexes")
		}
		s.Remote = docs
		s.Pingers["remote"] = docs
	default:
		return nil, errors.Errorf("unknown remote backend %q", cfg.Remote.Backend)
	}
	lg.Info("Remote documents", zap.String("backend", cfg.Remote.Backend))
	return s, nil
}
