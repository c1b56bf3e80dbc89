package cart

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
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
	// OnRemoteWrite observes every remote write attempt.
	OnRemoteWrite func(snapshot.WriteResult)
}

// Engine owns the cart of one device session.
//
// The in-memory list is canonical. Every change is written to the local
// store before the mutating call returns and, while a user is signed in,
// queued for the remote document. Remote failures never surface to callers.
type Engine struct {
	lg      *zap.Logger
	local   *snapshot.Slot[Line]
	remote  *snapshot.Replica[Line]
	writer  *snapshot.Writer[Line]
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu    sync.Mutex
	lines []Line
	ident identity.State
	epoch uint64
	// synced is set once the signed-in user's remote cart was fetched.
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

// NewEngine loads the cart from the local store and subscribes to identity.
// It does not wait for the network: if a user is already signed in, the
// first reconciliation runs in the background.
func NewEngine(opts Options) (*Engine, error) {
	switch {
	case opts.Local == nil:
		return nil, errors.New("cart: local store required")
	case opts.Remote == nil:
		return nil, errors.New("cart: remote store required")
	case opts.Identity == nil:
		return nil, errors.New("cart: identity provider required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = defaultRemoteTimeout
	}

	lg := opts.Logger.Named("cart")
	remote := snapshot.NewReplica[Line](opts.Remote, Collection, Codec{})
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		lg:     lg,
		local:  snapshot.NewSlot[Line](opts.Local, LocalKey, Codec{}, lg),
		remote: remote,
		writer: snapshot.NewWriter(remote, snapshot.WriterOptions{
			Timeout:       opts.RemoteTimeout,
			Logger:        lg,
			MeterProvider: opts.MeterProvider,
			OnResult:      opts.OnRemoteWrite,
		}),
		timeout: opts.RemoteTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
	e.lines = e.local.Load()

	e.starting = true
	e.unsubscribe = opts.Identity.Subscribe(e.onIdentity)
	e.mu.Lock()
	e.starting = false
	e.mu.Unlock()

	lg.Debug("Cart loaded", zap.Int("lines", len(e.lines)))
	return e, nil
}

// Add puts one unit of c into the cart, merging with an existing line for
// the same product.
func (e *Engine) Add(c Candidate) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(addLine(c))
}

// Remove deletes the line for productID. Removing an absent product is a
// no-op that still reports OutcomeRemoved.
func (e *Engine) Remove(productID string) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(removeLine(productID))
}

// SetQuantity sets the quantity of an existing line. A quantity of zero or
// less removes the line.
func (e *Engine) SetQuantity(productID string, quantity int) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(setQuantity(productID, quantity))
}

// Clear empties the cart.
func (e *Engine) Clear() Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyLocked(clearLines)
}

// Lines returns a copy of the cart in insertion order.
func (e *Engine) Lines() []Line {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.lines)
}

// TotalItemCount returns the sum of quantities.
func (e *Engine) TotalItemCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return TotalItemCount(e.lines)
}

// Subtotal returns the sum of line totals.
func (e *Engine) Subtotal() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Subtotal(e.lines)
}

// Summary returns lines and derived values from a single consistent view.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Summary{
		Lines:          slices.Clone(e.lines),
		TotalItemCount: TotalItemCount(e.lines),
		Subtotal:       Subtotal(e.lines),
	}
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

// mutation is one cart change. It may modify lines in place and reports
// whether anything changed.
type mutation func(lines []Line) ([]Line, Outcome, bool)

func indexOf(lines []Line, productID string) int {
	return slices.IndexFunc(lines, func(l Line) bool { return l.ProductID == productID })
}

func addLine(c Candidate) mutation {
	return func(lines []Line) ([]Line, Outcome, bool) {
		if i := indexOf(lines, c.ProductID); i >= 0 {
			lines[i].Quantity++
			return lines, OutcomeQuantityUpdated, true
		}
		return append(lines, c.line()), OutcomeAdded, true
	}
}

func removeLine(productID string) mutation {
	return func(lines []Line) ([]Line, Outcome, bool) {
		i := indexOf(lines, productID)
		if i < 0 {
			return lines, OutcomeRemoved, false
		}
		return slices.Delete(lines, i, i+1), OutcomeRemoved, true
	}
}

func setQuantity(productID string, quantity int) mutation {
	if quantity <= 0 {
		return removeLine(productID)
	}
	return func(lines []Line) ([]Line, Outcome, bool) {
		i := indexOf(lines, productID)
		if i < 0 {
			return lines, OutcomeIgnored, false
		}
		lines[i].Quantity = quantity
		return lines, OutcomeQuantityUpdated, true
	}
}

func clearLines([]Line) ([]Line, Outcome, bool) {
	return nil, OutcomeCleared, true
}

// applyLocked runs m on the cart and persists the result. Until the
// signed-in user's remote cart has been fetched, changes are kept for
// replay instead of being written remotely.
func (e *Engine) applyLocked(m mutation) Outcome {
	lines, outcome, changed := m(e.lines)
	if !changed {
		return outcome
	}
	e.lines = lines
	e.local.Save(e.lines)

	switch {
	case !e.ident.Authenticated:
	case e.synced:
		e.writer.Enqueue(e.ident.UserID, slices.Clone(e.lines))
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
	lines := len(e.lines)
	e.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if !next.Authenticated {
		// The cart stays on the device after sign-out.
		e.lg.Info("Signed out, keeping cart", zap.Int("lines", lines))
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

// reconcile merges the signed-in user's remote cart with the local one. A
// non-empty remote cart replaces local state, with changes made during the
// fetch replayed on top; otherwise a non-empty local cart is adopted as the
// user's remote cart. It reports whether the cart is now in sync.
func (e *Engine) reconcile(epoch uint64, userID string) bool {
	lg := e.lg.With(zap.String("user_id", userID))

	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	remote, found, err := e.remote.Get(ctx, userID)
	cancel()
	if err != nil && found {
		// The document exists but cannot be decoded.
		lg.Warn("Remote cart unreadable, treating as empty", zap.Error(err))
		remote, err = nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.epoch != epoch {
		lg.Debug("Discarding stale cart reconciliation")
		return false
	}
	e.reconciling = false
	if err != nil {
		lg.Warn("Fetch remote cart failed, holding remote writes", zap.Error(err))
		return false
	}

	switch {
	case len(remote) > 0:
		replayed := len(e.pending)
		for _, m := range e.pending {
			remote, _, _ = m(remote)
		}
		e.lines = remote
		e.local.Save(e.lines)
		if replayed > 0 {
			e.writer.Enqueue(userID, slices.Clone(e.lines))
		}
		lg.Info("Remote cart replaced local cart",
			zap.Int("lines", len(remote)),
			zap.Int("replayed", replayed),
		)
	case len(e.lines) > 0:
		e.writer.Enqueue(userID, slices.Clone(e.lines))
		lg.Info("Local cart adopted as remote cart", zap.Int("lines", len(e.lines)))
	default:
		lg.Debug("Both carts empty")
	}
	e.pending = nil
	e.synced = true
	return true
}

func (e *Engine) watch(epoch uint64, userID string) {
	lg := e.lg.With(zap.String("user_id", userID))

	unwatch, err := e.remote.Watch(e.ctx, userID,
		func(lines []Line) { e.applyRemote(epoch, userID, lines) },
		func(err error) { lg.Warn("Ignoring remote cart push", zap.Error(err)) },
	)
	if errors.Is(err, snapshot.ErrWatchUnsupported) {
		return
	}
	if err != nil {
		lg.Warn("Watch remote cart failed", zap.Error(err))
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

// applyRemote overwrites the cart with a pushed remote snapshot. Pushes that
// arrive while this engine still has writes queued for the user are echoes
// of its own older state and are dropped.
func (e *Engine) applyRemote(epoch uint64, userID string, lines []Line) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.epoch != epoch {
		return
	}
	if e.writer.Busy(userID) {
		e.lg.Debug("Dropping remote cart push during local write", zap.String("user_id", userID))
		return
	}
	e.lines = lines
	e.local.Save(lines)
}
