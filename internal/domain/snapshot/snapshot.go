// Package snapshot holds the persistence primitives shared by the cart and
// wishlist engines: a synchronous device-local key/value store, a remote
// per-user document store, and the typed adapters and asynchronous writer the
// engines build on.
//
// The engines own the in-memory state. Local and remote copies are replicas
// that are rewritten wholesale after every change.
package snapshot

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned by Documents.Get when no document exists for
	// the requested user.
	ErrNotFound = errors.New("snapshot not found")
	// ErrWatchUnsupported is returned by Replica.Watch when the backing
	// document store cannot push changes.
	ErrWatchUnsupported = errors.New("snapshot watch not supported")
	// ErrWriterClosed is reported for writes enqueued after Writer.Close.
	ErrWriterClosed = errors.New("snapshot writer closed")
)

// Local is a synchronous device-local key/value store that survives process
// restarts. Implementations must be safe for concurrent use.
type Local interface {
	// Read returns the stored value and whether the key exists.
	Read(key string) (string, bool, error)
	Write(key, value string) error
	// Remove deletes the key. Removing an absent key is not an error.
	Remove(key string) error
}

// Documents is the remote per-user document store. One document per
// (collection, userID) pair holds the full encoded snapshot.
type Documents interface {
	// Get returns ErrNotFound when the user has no document in collection.
	Get(ctx context.Context, collection, userID string) ([]byte, error)
	Put(ctx context.Context, collection, userID string, doc []byte) error
}

// Watcher is implemented by Documents backends that can push changes made
// elsewhere (another device, an admin tool) in real time.
type Watcher interface {
	// Watch calls fn with the full document every time it changes until the
	// returned unsubscribe function is called or ctx is done.
	Watch(ctx context.Context, collection, userID string, fn func(doc []byte)) (unsubscribe func(), err error)
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Codec converts a snapshot to and from its stored representation.
type Codec[T any] interface {
	Encode(items []T) ([]byte, error)
	Decode(data []byte) ([]T, error)
}

// Prefixed scopes a Local store to keys beginning with prefix, so several
// devices can share one physical store without seeing each other's keys.
func Prefixed(local Local, prefix string) Local {
	return prefixed{local: local, prefix: prefix}
}

type prefixed struct {
	local  Local
	prefix string
}

func (p prefixed) Read(key string) (string, bool, error) { return p.local.Read(p.prefix + key) }

func (p prefixed) Write(key, value string) error { return p.local.Write(p.prefix+key, value) }

func (p prefixed) Remove(key string) error { return p.local.Remove(p.prefix + key) }
