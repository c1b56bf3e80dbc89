// Package redis stores remote snapshots as plain Redis strings and pushes
// changes over pub/sub.
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/venkat-express/internal/domain/snapshot"
)

var (
	_ snapshot.Documents = (*Documents)(nil)
	_ snapshot.Watcher   = (*Documents)(nil)
	_ snapshot.Pinger    = (*Documents)(nil)
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NewClient creates an instrumented client and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := redisotel.InstrumentTracing(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("instrumenting redis tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("instrumenting redis metrics: %w", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// Documents implements snapshot.Documents. Snapshots never expire.
type Documents struct {
	client *goredis.Client
	lg     *zap.Logger
}

// NewDocuments returns a Documents backed by client.
func NewDocuments(client *goredis.Client, lg *zap.Logger) *Documents {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Documents{client: client, lg: lg.Named("redis")}
}

func documentKey(collection, userID string) string {
	return fmt.Sprintf("snapshot:%s:%s", collection, userID)
}

func changesChannel(collection, userID string) string {
	return fmt.Sprintf("snapshot-changes:%s:%s", collection, userID)
}

// Get returns snapshot.ErrNotFound when the key is absent.
func (d *Documents) Get(ctx context.Context, collection, userID string) ([]byte, error) {
	data, err := d.client.Get(ctx, documentKey(collection, userID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, snapshot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s/%s: %w", collection, userID, err)
	}
	return data, nil
}

// Put stores doc and publishes it in one MULTI/EXEC block.
func (d *Documents) Put(ctx context.Context, collection, userID string, doc []byte) error {
	_, err := d.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, documentKey(collection, userID), doc, 0)
		p.Publish(ctx, changesChannel(collection, userID), doc)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s/%s: %w", collection, userID, err)
	}
	return nil
}

// Watch subscribes to the document's change channel.
func (d *Documents) Watch(ctx context.Context, collection, userID string, fn func([]byte)) (func(), error) {
	channel := changesChannel(collection, userID)
	ps := d.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			fn([]byte(msg.Payload))
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				d.lg.Debug("Close subscription", zap.String("channel", channel), zap.Error(err))
			}
			<-done
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return func() {
		stop()
		unsubscribe()
	}, nil
}

func (d *Documents) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}
