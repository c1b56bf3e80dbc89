package snapshot

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

const defaultWriteTimeout = 10 * time.Second

// WriteResult describes the outcome of one remote write attempt.
type WriteResult struct {
	Collection string
	UserID     string
	// Seq is the sequence number of the snapshot that was written. Snapshots
	// coalesced into a newer one report the newer Seq.
	Seq      uint64
	Items    int
	Err      error
	Duration time.Duration
}

// OK reports whether the write landed.
func (r WriteResult) OK() bool { return r.Err == nil }

// WriterOptions configures a Writer.
type WriterOptions struct {
	// Timeout bounds a single remote write. Defaults to 10s.
	Timeout       time.Duration
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
	// OnResult observes every write attempt. It runs on the writer goroutine
	// and must not block.
	OnResult func(WriteResult)
}

type job[T any] struct {
	userID    string
	items     []T
	seq       uint64
	callbacks []func(WriteResult)
}

// Writer pushes snapshots to a Replica in the background.
//
// Enqueue never blocks on I/O. Writes are issued one at a time; a snapshot
// enqueued while an older one for the same user is still pending replaces
// it, so the remote document converges on the last issued state. Failed
// writes are logged and reported, never retried.
type Writer[T any] struct {
	replica  *Replica[T]
	timeout  time.Duration
	lg       *zap.Logger
	onResult func(WriteResult)
	writes   metric.Int64Counter

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	pending  map[string]*job[T]
	order    []string
	inflight string
	seq      uint64
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewWriter starts a Writer for replica. Call Close to drain and stop it.
func NewWriter[T any](replica *Replica[T], opts WriterOptions) *Writer[T] {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = noop.NewMeterProvider()
	}

	lg := opts.Logger.With(zap.String("collection", replica.Collection()))
	writes, err := opts.MeterProvider.
		Meter("github.com/xenking/venkat-express/internal/domain/snapshot").
		Int64Counter("snapshot.remote.writes",
			metric.WithDescription("Remote snapshot write attempts by outcome"),
		)
	if err != nil {
		lg.Warn("Create remote write counter", zap.Error(err))
		writes, _ = noop.NewMeterProvider().Meter("").Int64Counter("snapshot.remote.writes")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer[T]{
		replica:  replica,
		timeout:  opts.Timeout,
		lg:       lg,
		onResult: opts.OnResult,
		writes:   writes,
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*job[T]),
		done:     make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// Enqueue schedules items to be written as the user's snapshot and returns
// its sequence number. callbacks run on the writer goroutine once the write
// (or the newer write that superseded it) completes.
func (w *Writer[T]) Enqueue(userID string, items []T, callbacks ...func(WriteResult)) uint64 {
	w.mu.Lock()
	w.seq++
	seq := w.seq
	if w.closed {
		w.mu.Unlock()
		res := WriteResult{
			Collection: w.replica.Collection(),
			UserID:     userID,
			Seq:        seq,
			Items:      len(items),
			Err:        ErrWriterClosed,
		}
		// Callers may hold their own locks here.
		go w.report(res, callbacks)
		return seq
	}

	if prev, ok := w.pending[userID]; ok {
		callbacks = append(prev.callbacks, callbacks...)
	} else {
		w.order = append(w.order, userID)
	}
	w.pending[userID] = &job[T]{
		userID:    userID,
		items:     items,
		seq:       seq,
		callbacks: callbacks,
	}
	w.cond.Signal()
	w.mu.Unlock()
	return seq
}

// Busy reports whether a write for userID is pending or in flight.
func (w *Writer[T]) Busy(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, pending := w.pending[userID]
	return pending || w.inflight == userID
}

// Close writes everything still pending, then stops the writer. It is safe
// to call more than once.
func (w *Writer[T]) Close() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.cond.Broadcast()
		w.mu.Unlock()

		<-w.done
		w.cancel()
	})
}

func (w *Writer[T]) run() {
	defer close(w.done)
	for {
		j, ok := w.next()
		if !ok {
			return
		}
		w.write(j)
	}
}

func (w *Writer[T]) next() (*job[T], bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.order) == 0 {
		if w.closed {
			return nil, false
		}
		w.cond.Wait()
	}

	userID := w.order[0]
	w.order = w.order[1:]
	j := w.pending[userID]
	delete(w.pending, userID)
	w.inflight = userID
	return j, true
}

func (w *Writer[T]) write(j *job[T]) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	err := w.replica.Set(ctx, j.userID, j.items)
	cancel()

	w.mu.Lock()
	w.inflight = ""
	w.mu.Unlock()

	w.report(WriteResult{
		Collection: w.replica.Collection(),
		UserID:     j.userID,
		Seq:        j.seq,
		Items:      len(j.items),
		Err:        err,
		Duration:   time.Since(start),
	}, j.callbacks)
}

func (w *Writer[T]) report(res WriteResult, callbacks []func(WriteResult)) {
	outcome := "ok"
	if res.Err != nil {
		outcome = "error"
		w.lg.Warn("Remote snapshot write failed",
			zap.String("user_id", res.UserID),
			zap.Uint64("seq", res.Seq),
			zap.Error(res.Err),
		)
	} else {
		w.lg.Debug("Remote snapshot written",
			zap.String("user_id", res.UserID),
			zap.Uint64("seq", res.Seq),
			zap.Int("items", res.Items),
			zap.Duration("duration", res.Duration),
		)
	}
	w.writes.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("collection", res.Collection),
		attribute.String("outcome", outcome),
	))

	if w.onResult != nil {
		w.onResult(res)
	}
	for _, cb := range callbacks {
		cb(res)
	}
}
