package wishlist

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/venkat-express/internal/domain/identity"
	"github.com/xenking/venkat-express/internal/domain/snapshot"
)

const defaultRemoteTimeout = 10 * time.Second

// Options configures an Engine.
type Options struct {
	Local    snapshot.Local
	Remote   snapshot.Documents
	Identity identity.Provider

	Logger *zap.Logger
	// RemoteTimeout bounds each remote read and write. Defaults to 10s.
	RemoteTimeout time.Duration
	MeterProvider metric.MeterProvider
	OnRemoteWrite func(snapshot.WriteResult)
	// Now stamps new entries. Defaults to time.Now.
	Now func() time.Time
}

// Engine owns the wishlist of one device session.
//
// While anonymous, every change is written to the guest key. While signed
// in, changes go to the user's remote document only and the guest key is
// left alone.
type Engine struct {
	lg      *zap.Logger
	guest   *snapshot.Slot[Entry]
	remote  *snapshot.Replica[Entry]
	writer  *snapshot.Writer[Entry]
	timeout time.Duration
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu      sync.Mutex
	entries []Entry
	ident   identity.State
	epoch   uint64
	// synced is set once the signed-in user's remote wishlist was fetched.
	// Changes made before that are kept in pending.
	synced      bool
	reconciling bool
	pending     []mutation
	unwatch     func()
	starting    bool
	closed      bool

	unsubscribe func()
	closeOnce   sync.Once
}

// NewEngine loads the guest wishlist and subscribes to identity. Like the
// cart engine it never waits for the network.
func NewEngine(opts Options) (*Engine, error) {
	switch {
	case opts.Local == nil:
		return nil, errors.New("wishlist: local store required")
	case opts.Remote == nil:
		return nil, errors.New("wishlist: remote store required")
	case opts.Identity == nil:
		return nil, errors.New("wishlist: identity provider required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = defaultRemoteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	lg := opts.Logger.Named("wishlist")
	remote := snapshot.NewReplica[Entry](opts.Remote, Collection, Codec{})
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		lg:     lg,
		guest:  snapshot.NewSlot[Entry](opts.Local, GuestKey, Codec{}, lg),
		remote: remote,
		writer: snapshot.NewWriter(remote, snapshot.WriterOptions{
			Timeout:       opts.RemoteTimeout,
			Logger:        lg,
			MeterProvider: opts.MeterProvider,
			OnResult:      opts.OnRemoteWrite,
		}),
		timeout: opts.RemoteTimeout,
		now:     opts.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	e.entries = e.guest.Load()

	e.starting = true
	e.unsubscribe = opts.Identity.Subscribe(e.onIdentity)
	e.mu.Lock()
	e.starting = false
	e.mu.Unlock()

	return e, nil
}

// Add saves c unless the product is already on the list.
func (e *Engine) Add(c Candidate) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(addEntry(c.entry(e.now().UTC())))
}

// Remove drops productID from the list. Removing an absent product is a
// no-op that still reports OutcomeRemoved.
func (e *Engine) Remove(productID string) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(removeEntry(productID))
}

// Toggle removes c when present and adds it otherwise.
func (e *Engine) Toggle(c Candidate) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	if indexOf(e.entries, c.ProductID) >= 0 {
		return e.applyLocked(removeEntry(c.ProductID))
	}
	return e.applyLocked(addEntry(c.entry(e.now().UTC())))
}

// Entries returns a copy of the list in insertion order.
func (e *Engine) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.entries)
}

// Has reports whether productID is on the list.
func (e *Engine) Has(productID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return indexOf(e.entries, productID) >= 0
}

// Count returns the number of entries.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Close stops following identity and remote changes and flushes queued
// remote writes. It is safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.unsubscribe()

		e.mu.Lock()
		e.closed = true
		unwatch := e.unwatch
		e.unwatch = nil
		e.mu.Unlock()

		if unwatch != nil {
			unwatch()
		}
		e.bg.Wait()
		e.writer.Close()
		e.cancel()
	})
}

// mutation is one wishlist change. It may modify entries in place and
// reports whether anything changed.
type mutation func(entries []Entry) ([]Entry, Outcome, bool)

func indexOf(entries []Entry, productID string) int {
	return slices.IndexFunc(entries, func(en Entry) bool { return en.ProductID == productID })
}

func addEntry(en Entry) mutation {
	return func(entries []Entry) ([]Entry, Outcome, bool) {
		if indexOf(entries, en.ProductID) >= 0 {
			return entries, OutcomeAlreadyPresent, false
		}
		return append(entries, en), OutcomeAdded, true
	}
}

func removeEntry(productID string) mutation {
	return func(entries []Entry) ([]Entry, Outcome, bool) {
		i := indexOf(entries, productID)
		if i < 0 {
			return entries, OutcomeRemoved, false
		}
		return slices.Delete(entries, i, i+1), OutcomeRemoved, true
	}
}

// applyLocked runs m on the list and persists the result: to the guest key
// while anonymous, to the user's remote document once it has been fetched,
// and into pending in between.
func (e *Engine) applyLocked(m mutation) Outcome {
	entries, outcome, changed := m(e.entries)
	if !changed {
		return outcome
	}
	e.entries = entries

	switch {
	case !e.ident.Authenticated:
		e.guest.Save(e.entries)
	case e.synced:
		e.writer.Enqueue(e.ident.UserID, slices.Clone(e.entries))
	default:
		e.pending = append(e.pending, m)
		e.resyncLocked()
	}
	return outcome
}

// resyncLocked retries reconciliation after a failed fetch.
func (e *Engine) resyncLocked() {
	if e.closed || e.reconciling {
		return
	}
	e.reconciling = true
	epoch, userID := e.epoch, e.ident.UserID
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		e.signIn(epoch, userID)
	}()
}

func (e *Engine) onIdentity(next identity.State) {
	e.mu.Lock()
	if e.closed || next == e.ident {
		e.mu.Unlock()
		return
	}
	e.ident = next
	e.epoch++
	epoch := e.epoch
	unwatch := e.unwatch
	e.unwatch = nil
	e.synced = false
	e.pending = nil
	e.reconciling = next.Authenticated
	starting := e.starting
	if !next.Authenticated {
		e.entries = e.guest.Load()
	}
	e.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if !next.Authenticated {
		e.lg.Info("Signed out, showing guest wishlist")
		return
	}

	if starting {
		e.bg.Add(1)
		go func() {
			defer e.bg.Done()
			e.signIn(epoch, next.UserID)
		}()
		return
	}
	e.signIn(epoch, next.UserID)
}

func (e *Engine) signIn(epoch uint64, userID string) {
	if e.reconcile(epoch, userID) {
		e.watch(epoch, userID)
	}
}

// reconcile makes the remote wishlist authoritative for the signed-in user.
// An existing remote document replaces the guest list, which is discarded;
// changes made during the fetch are replayed on top. Without one, the list
// is migrated and the guest key is removed once the migration lands. It
// reports whether the list is now in sync.
func (e *Engine) reconcile(epoch uint64, userID string) bool {
	lg := e.lg.With(zap.String("user_id", userID))

	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	remote, found, err := e.remote.Get(ctx, userID)
	cancel()
	if err != nil && found {
		// The document exists but cannot be decoded.
		lg.Warn("Remote wishlist unreadable, treating as missing", zap.Error(err))
		remote, found, err = nil, false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.epoch != epoch {
		lg.Debug("Discarding stale wishlist reconciliation")
		return false
	}
	e.reconciling = false
	if err != nil {
		lg.Warn("Fetch remote wishlist failed, holding remote writes", zap.Error(err))
		return false
	}

	switch {
	case found:
		discarded := len(e.entries)
		replayed := len(e.pending)
		for _, m := range e.pending {
			remote, _, _ = m(remote)
		}
		e.entries = remote
		e.guest.Clear()
		if replayed > 0 {
			e.writer.Enqueue(userID, slices.Clone(e.entries))
		}
		lg.Info("Remote wishlist loaded",
			zap.Int("entries", len(remote)),
			zap.Int("guest_discarded", discarded),
			zap.Int("replayed", replayed),
		)
	case len(e.entries) > 0:
		lg.Info("Migrating guest wishlist", zap.Int("entries", len(e.entries)))
		migrating := slices.Clone(e.entries)
		e.writer.Enqueue(userID, migrating, func(res snapshot.WriteResult) {
			e.migrated(migrating, res)
		})
	default:
		lg.Debug("No wishlist to reconcile")
	}
	e.pending = nil
	e.synced = true
	return true
}

// migrated removes the migrated products from the guest key once the
// migration landed, even if the user has signed out since. A failed
// migration keeps them, so the next sign-in retries.
func (e *Engine) migrated(migrating []Entry, res snapshot.WriteResult) {
	lg := e.lg.With(zap.String("user_id", res.UserID))
	if !res.OK() {
		lg.Warn("Guest wishlist migration failed, keeping guest wishlist", zap.Error(res.Err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	left := slices.DeleteFunc(e.guest.Load(), func(en Entry) bool {
		return indexOf(migrating, en.ProductID) >= 0
	})
	if len(left) == 0 {
		e.guest.Clear()
	} else {
		e.guest.Save(left)
	}
	if !e.ident.Authenticated {
		e.entries = left
	}
	lg.Info("Guest wishlist migrated", zap.Int("entries", len(migrating)))
}

func (e *Engine) watch(epoch uint64, userID string) {
	lg := e.lg.With(zap.String("user_id", userID))

	unwatch, err := e.remote.Watch(e.ctx, userID,
		func(entries []Entry) { e.applyRemote(epoch, userID, entries) },
		func(err error) { lg.Warn("Ignoring remote wishlist push", zap.Error(err)) },
	)
	if errors.Is(err, snapshot.ErrWatchUnsupported) {
		return
	}
	if err != nil {
		lg.Warn("Watch remote wishlist failed", zap.Error(err))
		return
	}

	e.mu.Lock()
	if e.closed || e.epoch != epoch {
		e.mu.Unlock()
		unwatch()
		return
	}
	e.unwatch = unwatch
	e.mu.Unlock()
}

func (e *Engine) applyRemote(epoch uint64, userID string, entries []Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.epoch != epoch {
		return
	}
	if e.writer.Busy(userID) {
		e.lg.Debug("Dropping remote wishlist push during local write", zap.String("user_id", userID))
		return
	}
	e.entries = entries
}
