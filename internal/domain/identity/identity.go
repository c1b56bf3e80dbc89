// Package identity models the authentication state the engines reconcile
// against. The authentication provider itself is external; this package only
// carries its transitions.
package identity

import (
	"sync"

	"github.com/go-faster/errors"
)

// ErrEmptyUserID is returned when signing in without a user identifier.
var ErrEmptyUserID = errors.New("user id required")

// State is one point in the identity stream.
type State struct {
	Authenticated bool
	UserID        string
}

// Anonymous returns the signed-out state.
func Anonymous() State { return State{} }

// SignedIn returns the state of an authenticated user.
func SignedIn(userID string) State {
	return State{Authenticated: true, UserID: userID}
}

// Provider emits identity transitions.
type Provider interface {
	// Subscribe calls fn with the current state right away and then with
	// every transition, in order, until unsubscribe is called.
	Subscribe(fn func(State)) (unsubscribe func())
}

var _ Provider = (*Broadcaster)(nil)

// Broadcaster is an in-process Provider fed by explicit SignIn and SignOut
// calls.
//
// Transitions are delivered synchronously on the goroutine that caused them,
// after the state lock is released, so subscribers may call Current. Delivery
// of consecutive transitions is serialized. Subscribers must not call SignIn,
// SignOut or Subscribe from inside their callback.
type Broadcaster struct {
	emit sync.Mutex

	mu      sync.Mutex
	current State
	subs    map[int]func(State)
	nextID  int
}

// NewBroadcaster returns a Broadcaster starting at initial.
func NewBroadcaster(initial State) *Broadcaster {
	return &Broadcaster{
		current: initial,
		subs:    make(map[int]func(State)),
	}
}

// Current returns the latest state.
func (b *Broadcaster) Current() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Subscribe implements Provider.
func (b *Broadcaster) Subscribe(fn func(State)) func() {
	b.emit.Lock()
	defer b.emit.Unlock()

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
	current := b.current
	b.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
		})
	}
}

// SignIn moves to the authenticated state of userID.
func (b *Broadcaster) SignIn(userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	b.set(SignedIn(userID))
	return nil
}

// SignOut moves to the anonymous state.
func (b *Broadcaster) SignOut() {
	b.set(Anonymous())
}

func (b *Broadcaster) set(next State) {
	b.emit.Lock()
	defer b.emit.Unlock()

	b.mu.Lock()
	if b.current == next {
		b.mu.Unlock()
		return
	}
	b.current = next
	fns := make([]func(State), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
}
