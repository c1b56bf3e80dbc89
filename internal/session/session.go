// Package session composes the cart and wishlist engines for each device.
//
// A device is one client installation. Its local store is a prefixed view of
// the shared physical store, its identity is remembered across restarts, and
// its engines share one remote document store with every other device.
package session

import (
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/venkat-express/internal/domain/cart"
	"github.com/xenking/venkat-express/internal/domain/identity"
	"github.com/xenking/venkat-express/internal/domain/snapshot"
	"github.com/xenking/venkat-express/internal/domain/wishlist"
)

// UserKey is the device-local key remembering the signed-in user.
const UserKey = "venkat.session.user"

// ErrClosed is returned by Registry.Get after Close.
var ErrClosed = errors.New("session registry closed")

// Options configures a Registry.
type Options struct {
	Local  snapshot.Local
	Remote snapshot.Documents

	Logger        *zap.Logger
	RemoteTimeout time.Duration
	MeterProvider metric.MeterProvider
	Now           func() time.Time
}

// Session is the state of one device.
type Session struct {
	DeviceID string
	Identity *identity.Broadcaster
	Cart     *cart.Engine
	Wishlist *wishlist.Engine

	local snapshot.Local
	lg    *zap.Logger
}

// SignIn switches the device to userID and remembers it. Both engines have
// reconciled by the time it returns.
func (s *Session) SignIn(userID string) error {
	if err := s.Identity.SignIn(userID); err != nil {
		return err
	}
	if err := s.local.Write(UserKey, userID); err != nil {
		s.lg.Warn("Remember signed-in user", zap.Error(err))
	}
	return nil
}

// SignOut switches the device to the anonymous state.
func (s *Session) SignOut() {
	s.Identity.SignOut()
	if err := s.local.Remove(UserKey); err != nil {
		s.lg.Warn("Forget signed-in user", zap.Error(err))
	}
}

// Close closes both engines, flushing their queued remote writes.
func (s *Session) Close() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Cart.Close()
	}()
	go func() {
		defer wg.Done()
		s.Wishlist.Close()
	}()
	wg.Wait()
}

// Registry lazily creates one Session per device.
type Registry struct {
	opts Options
	lg   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Registry{
		opts:     opts,
		lg:       opts.Logger.Named("session"),
		sessions: make(map[string]*Session),
	}
}

// Get returns the session of deviceID, creating it on first use.
func (r *Registry) Get(deviceID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if s, ok := r.sessions[deviceID]; ok {
		return s, nil
	}

	s, err := r.open(deviceID)
	if err != nil {
		return nil, errors.Wrapf(err, "open session %q", deviceID)
	}
	r.sessions[deviceID] = s
	return s, nil
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close closes every session. Further Get calls fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = nil
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	r.lg.Info("Sessions closed", zap.Int("count", len(sessions)))
}

func (r *Registry) open(deviceID string) (*Session, error) {
	lg := r.lg.With(zap.String("device_id", deviceID))
	local := snapshot.Prefixed(r.opts.Local, "device/"+deviceID+"/")

	initial := identity.Anonymous()
	if userID, ok, err := local.Read(UserKey); err != nil {
		lg.Warn("Read remembered user, starting anonymous", zap.Error(err))
	} else if ok && userID != "" {
		initial = identity.SignedIn(userID)
	}
	ident := identity.NewBroadcaster(initial)

	c, err := cart.NewEngine(cart.Options{
		Local:         local,
		Remote:        r.opts.Remote,
		Identity:      ident,
		Logger:        lg,
		RemoteTimeout: r.opts.RemoteTimeout,
		MeterProvider: r.opts.MeterProvider,
	})
	if err != nil {
		return nil, err
	}
	w, err := wishlist.NewEngine(wishlist.Options{
		Local:         local,
		Remote:        r.opts.Remote,
		Identity:      ident,
		Logger:        lg,
		RemoteTimeout: r.opts.RemoteTimeout,
		MeterProvider: r.opts.MeterProvider,
		Now:           r.opts.Now,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	lg.Info("Session opened", zap.Bool("authenticated", initial.Authenticated))
	return &Session{
		DeviceID: deviceID,
		Identity: ident,
		Cart:     c,
		Wishlist: w,
		local:    local,
		lg:       lg,
	}, nil
}
