// Command snapshot-archive exports the remote cart and wishlist snapshots of
// a PostgreSQL store to gzip JSON lines, one file per collection, and imports
// such archives into any configured remote backend.
//
//	snapshot-archive -mode export -database-url postgres://... -out-dir archive
//	snapshot-archive -mode import archive/carts-20260102.jsonl.gz ...
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/venkat-express/internal/app"
	"github.com/xenking/venkat-express/internal/archive"
	"github.com/xenking/venkat-express/internal/domain/cart"
	"github.com/xenking/venkat-express/internal/domain/wishlist"
	"github.com/xenking/venkat-express/internal/storage/postgres"
)

const progressEvery = 10_000

func main() {
	var (
		mode        string
		databaseURL string
		outDir      string
		collections string
	)

	flag.StringVar(&mode, "mode", "export", "export or import")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL for export (or DATABASE_URL env)")
	flag.StringVar(&outDir, "out-dir", "archive", "directory receiving exported archives")
	flag.StringVar(&collections, "collections", cart.Collection+","+wishlist.Collection, "comma-separated collections to export")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var err error
	switch mode {
	case "export":
		if databaseURL == "" {
			databaseURL = os.Getenv("DATABASE_URL")
		}
		if databaseURL == "" {
			slog.Error("database URL is required: set --database-url or DATABASE_URL")
			os.Exit(1)
		}
		err = runExport(ctx, databaseURL, outDir, strings.Split(collections, ","))
	case "import":
		if flag.NArg() == 0 {
			slog.Error("import needs at least one archive file")
			os.Exit(1)
		}
		err = runImport(ctx, flag.Args())
	default:
		slog.Error("unknown mode", slog.String("mode", mode))
		os.Exit(1)
	}
	if err != nil {
		slog.Error("snapshot archive failed", slog.String("mode", mode), slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("snapshot archive completed successfully", slog.String("mode", mode))
}

func runExport(ctx context.Context, databaseURL, outDir string, collections []string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrap(err, "create output dir")
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()
	docs := postgres.NewDocuments(pool, nil)

	stamp := time.Now().UTC().Format("20060102T150405")
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range collections {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		path := filepath.Join(outDir, fmt.Sprintf("%s-%s.jsonl.gz", c, stamp))
		g.Go(func() error {
			return exportCollection(ctx, docs, c, path)
		})
	}
	return g.Wait()
}

func exportCollection(ctx context.Context, docs *postgres.Documents, collection, path string) (rerr error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if err := f.Close(); err != nil && rerr == nil {
			rerr = errors.Wrapf(err, "close %s", path)
		}
	}()

	w := archive.NewWriter(f)
	if _, err := docs.Export(ctx, collection, func(r postgres.Record) error {
		if err := w.Write(archive.Record{
			Collection: r.Collection,
			UserID:     r.UserID,
			UpdatedAt:  r.UpdatedAt,
			Payload:    r.Payload,
		}); err != nil {
			return err
		}
		if w.Count()%progressEvery == 0 {
			slog.Info("export progress", slog.String("collection", collection), slog.Int("records", w.Count()))
		}
		return nil
	}); err != nil {
		return errors.Wrapf(err, "export %s", collection)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "flush %s", path)
	}

	slog.Info("export complete",
		slog.String("collection", collection),
		slog.String("path", path),
		slog.Int("records", w.Count()),
	)
	return nil
}

// normalize re-encodes an archived payload with the collection's codec, so
// imported documents get the same cleanup as documents read by the engines.
func normalize(collection string, payload []byte) ([]byte, error) {
	switch collection {
	case cart.Collection:
		var c cart.Codec
		lines, err := c.Decode(payload)
		if err != nil {
			return nil, err
		}
		return c.Encode(lines)
	case wishlist.Collection:
		var c wishlist.Codec
		entries, err := c.Decode(payload)
		if err != nil {
			return nil, err
		}
		return c.Encode(entries)
	default:
		return nil, errors.Errorf("unknown collection %q", collection)
	}
}

func runImport(ctx context.Context, files []string) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	stores, err := app.OpenStores(ctx, zap.NewNop(), cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	for _, path := range files {
		if err := importFile(ctx, stores, cfg.Remote.Timeout, path); err != nil {
			return err
		}
	}
	return nil
}

func importFile(ctx context.Context, stores *app.Stores, timeout time.Duration, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	skipped := 0
	n, err := archive.Read(ctx, f, func(r archive.Record) error {
		doc, err := normalize(r.Collection, r.Payload)
		if err != nil {
			skipped++
			slog.Warn("skipping unreadable snapshot",
				slog.String("collection", r.Collection),
				slog.String("user_id", r.UserID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		putCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := stores.Remote.Put(putCtx, r.Collection, r.UserID, doc); err != nil {
			return errors.Wrapf(err, "put %s/%s", r.Collection, r.UserID)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "import %s", path)
	}

	slog.Info("import complete",
		slog.String("path", path),
		slog.Int("records", n),
		slog.Int("skipped", skipped),
	)
	return nil
}
