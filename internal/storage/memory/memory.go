// Package memory provides in-process implementations of the snapshot stores.
// They back the "memory" remote backend and serve as test doubles.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/xenking/venkat-express/internal/domain/snapshot"
)

var (
	_ snapshot.Local     = (*Local)(nil)
	_ snapshot.Documents = (*Documents)(nil)
	_ snapshot.Watcher   = (*Documents)(nil)
	_ snapshot.Pinger    = (*Documents)(nil)
)

// Local is a map-backed snapshot.Local.
type Local struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewLocal returns an empty Local.
func NewLocal() *Local {
	return &Local{values: make(map[string]string)}
}

func (l *Local) Read(key string) (string, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.values[key]
	return v, ok, nil
}

func (l *Local) Write(key, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values[key] = value
	return nil
}

func (l *Local) Remove(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.values, key)
	return nil
}

type docKey struct {
	collection string
	userID     string
}

// Documents is a map-backed snapshot.Documents. Watchers are notified
// synchronously from Put, outside the store lock.
type Documents struct {
	mu       sync.RWMutex
	docs     map[docKey][]byte
	watchers map[docKey]map[int]func([]byte)
	nextID   int
}

// NewDocuments returns an empty Documents.
func NewDocuments() *Documents {
	return &Documents{
		docs:     make(map[docKey][]byte),
		watchers: make(map[docKey]map[int]func([]byte)),
	}
}

func (d *Documents) Get(_ context.Context, collection, userID string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc, ok := d.docs[docKey{collection, userID}]
	if !ok {
		return nil, snapshot.ErrNotFound
	}
	return bytes.Clone(doc), nil
}

func (d *Documents) Put(ctx context.Context, collection, userID string, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := docKey{collection, userID}

	d.mu.Lock()
	d.docs[k] = bytes.Clone(doc)
	fns := make([]func([]byte), 0, len(d.watchers[k]))
	for _, fn := range d.watchers[k] {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(bytes.Clone(doc))
	}
	return nil
}

// Watch registers fn for changes of one document. The subscription ends when
// unsubscribe is called or ctx is done.
func (d *Documents) Watch(ctx context.Context, collection, userID string, fn func([]byte)) (func(), error) {
	k := docKey{collection, userID}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	if d.watchers[k] == nil {
		d.watchers[k] = make(map[int]func([]byte))
	}
	d.watchers[k][id] = fn
	d.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			delete(d.watchers[k], id)
			if len(d.watchers[k]) == 0 {
				delete(d.watchers, k)
			}
		})
	}
	stop := context.AfterFunc(ctx, unsubscribe)
	return func() {
		stop()
		unsubscribe()
	}, nil
}

// Watchers returns the number of active subscriptions for one document.
func (d *Documents) Watchers(collection, userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.watchers[docKey{collection, userID}])
}

// Ping always succeeds.
func (d *Documents) Ping(context.Context) error { return nil }
