// Command seed-db writes demo carts and wishlists for a range of users into
// the configured remote store, picking products from the embedded catalog.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/venkat-express/db"
	"github.com/xenking/venkat-express/internal/app"
	"github.com/xenking/venkat-express/internal/domain/cart"
	"github.com/xenking/venkat-express/internal/domain/product"
	"github.com/xenking/venkat-express/internal/domain/wishlist"
)

func main() {
	var (
		users  int
		prefix string
		seed   uint64
	)

	flag.IntVar(&users, "users", 10, "number of demo users to seed")
	flag.StringVar(&prefix, "user-prefix", "demo-", "prefix of the generated user ids")
	flag.Uint64Var(&seed, "seed", 42, "random seed, the same seed produces the same documents")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, users, prefix, seed); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, users int, prefix string, seed uint64) error {
	parsed, err := product.ParseCatalog(db.Catalog)
	if err != nil {
		return err
	}
	catalog := parsed.List()
	if len(catalog) == 0 {
		return errors.New("catalog is empty")
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	slog.Info("opening remote store", slog.String("backend", cfg.Remote.Backend))
	stores, err := app.OpenStores(ctx, zap.NewNop(), cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	rng := rand.New(rand.NewPCG(seed, seed))
	now := time.Now().UTC()
	for i := range users {
		userID := fmt.Sprintf("%s%03d", prefix, i+1)
		lines, entries := demoDocuments(rng, catalog, now)

		cartDoc, err := cart.Codec{}.Encode(lines)
		if err != nil {
			return errors.Wrapf(err, "encode cart of %s", userID)
		}
		wishDoc, err := wishlist.Codec{}.Encode(entries)
		if err != nil {
			return errors.Wrapf(err, "encode wishlist of %s", userID)
		}
		if err := stores.Remote.Put(ctx, cart.Collection, userID, cartDoc); err != nil {
			return errors.Wrapf(err, "put cart of %s", userID)
		}
		if err := stores.Remote.Put(ctx, wishlist.Collection, userID, wishDoc); err != nil {
			return errors.Wrapf(err, "put wishlist of %s", userID)
		}

		slog.Info("seeded user",
			slog.String("user_id", userID),
			slog.Int("cart_items", cart.TotalItemCount(lines)),
			slog.String("subtotal", cart.Subtotal(lines).StringFixed(2)),
			slog.Int("wishlist_entries", len(entries)),
		)
	}
	return nil
}

// demoDocuments puts up to three random products in the cart and up to three
// others on the wishlist.
func demoDocuments(rng *rand.Rand, catalog []product.Product, now time.Time) ([]cart.Line, []wishlist.Entry) {
	order := rng.Perm(len(catalog))
	nCart := min(rng.IntN(4), len(order))
	nWish := min(rng.IntN(4), len(order)-nCart)

	lines := make([]cart.Line, 0, nCart)
	for _, idx := range order[:nCart] {
		c := catalog[idx].CartCandidate()
		lines = append(lines, cart.Line{
			ProductID:         c.ProductID,
			Title:             c.Title,
			Image:             c.Image,
			UnitPrice:         c.UnitPrice,
			OriginalUnitPrice: c.OriginalUnitPrice,
			Quantity:          1 + rng.IntN(3),
			Slug:              c.Slug,
		})
	}

	entries := make([]wishlist.Entry, 0, nWish)
	for j, idx := range order[nCart : nCart+nWish] {
		c := catalog[idx].WishlistCandidate()
		entries = append(entries, wishlist.Entry{
			ProductID: c.ProductID,
			Title:     c.Title,
			UnitPrice: c.UnitPrice,
			Image:     c.Image,
			Slug:      c.Slug,
			AddedAt:   now.Add(-time.Duration(nWish-j) * time.Hour).Truncate(time.Millisecond),
		})
	}
	return lines, entries
}
