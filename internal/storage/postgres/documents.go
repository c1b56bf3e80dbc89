package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xenking/venkat-express/internal/domain/snapshot"
)

// NotifyChannel carries "collection:user_id" for every written snapshot.
const NotifyChannel = "snapshots"

var (
	_ snapshot.Documents = (*Documents)(nil)
	_ snapshot.Watcher   = (*Documents)(nil)
	_ snapshot.Pinger    = (*Documents)(nil)
)

const (
	getSnapshotSQL = `SELECT payload::text FROM snapshots WHERE collection = $1 AND user_id = $2`

	// The upsert and the notification run as one statement so a watcher
	// never sees a notification for a write that did not commit.
	putSnapshotSQL = `
WITH up AS (
    INSERT INTO snapshots (collection, user_id, payload, updated_at)
    VALUES ($1, $2, $3::jsonb, now())
    ON CONFLICT (collection, user_id)
    DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
    RETURNING collection, user_id
)
SELECT pg_notify('` + NotifyChannel + `', collection || ':' || user_id) FROM up`

	exportSnapshotsSQL = `SELECT user_id, payload::text, updated_at FROM snapshots WHERE collection = $1 ORDER BY user_id`
)

// Documents implements snapshot.Documents on the snapshots table.
type Documents struct {
	pool *pgxpool.Pool
	lg   *zap.Logger
}

// NewDocuments returns a Documents that uses the given pool.
func NewDocuments(pool *pgxpool.Pool, lg *zap.Logger) *Documents {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Documents{pool: pool, lg: lg.Named("postgres")}
}

// Get returns snapshot.ErrNotFound when no row exists.
func (d *Documents) Get(ctx context.Context, collection, userID string) ([]byte, error) {
	var payload string
	err := d.pool.QueryRow(ctx, getSnapshotSQL, collection, userID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("selecting snapshot %s/%s: %w", collection, userID, err)
	}
	return []byte(payload), nil
}

func (d *Documents) Put(ctx context.Context, collection, userID string, doc []byte) error {
	if _, err := d.pool.Exec(ctx, putSnapshotSQL, collection, userID, string(doc)); err != nil {
		return fmt.Errorf("upserting snapshot %s/%s: %w", collection, userID, err)
	}
	return nil
}

// Watch holds a dedicated connection listening on NotifyChannel and re-reads
// the document for every matching notification.
func (d *Documents) Watch(ctx context.Context, collection, userID string, fn func([]byte)) (func(), error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listening on %s: %w", NotifyChannel, err)
	}

	lg := d.lg.With(zap.String("collection", collection), zap.String("user_id", userID))
	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if !conn.Conn().IsClosed() {
				_, _ = conn.Exec(context.Background(), "UNLISTEN *")
			}
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(wctx)
			if err != nil {
				if wctx.Err() == nil {
					lg.Warn("Snapshot listener stopped", zap.Error(err))
				}
				return
			}
			c, u, ok := strings.Cut(n.Payload, ":")
			if !ok || c != collection || u != userID {
				continue
			}
			doc, err := d.Get(wctx, collection, userID)
			if err != nil {
				if wctx.Err() == nil {
					lg.Warn("Read notified snapshot", zap.Error(err))
				}
				continue
			}
			fn(doc)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (d *Documents) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Record is one stored snapshot with its bookkeeping columns.
type Record struct {
	Collection string
	UserID     string
	Payload    []byte
	UpdatedAt  time.Time
}

// Export streams every snapshot of collection to fn in user order and
// returns how many were visited. It stops at the first error fn returns.
func (d *Documents) Export(ctx context.Context, collection string, fn func(Record) error) (int, error) {
	rows, err := d.pool.Query(ctx, exportSnapshotsSQL, collection)
	if err != nil {
		return 0, fmt.Errorf("querying %s snapshots: %w", collection, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var (
			r       = Record{Collection: collection}
			payload string
		)
		if err := rows.Scan(&r.UserID, &payload, &r.UpdatedAt); err != nil {
			return n, fmt.Errorf("scanning %s snapshot: %w", collection, err)
		}
		r.Payload = []byte(payload)
		if err := fn(r); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("iterating %s snapshots: %w", collection, err)
	}
	return n, nil
}
