package snapshot

import (
	"context"

	"github.com/go-faster/errors"
)

// Replica is a typed view of one remote collection.
type Replica[T any] struct {
	docs       Documents
	collection string
	codec      Codec[T]
}

// NewReplica returns a Replica for collection backed by docs.
func NewReplica[T any](docs Documents, collection string, codec Codec[T]) *Replica[T] {
	return &Replica[T]{docs: docs, collection: collection, codec: codec}
}

// Collection returns the remote collection name.
func (r *Replica[T]) Collection() string { return r.collection }

// Get fetches the user's snapshot. found is false when no document exists;
// an existing document holding an empty list reports found with no items.
func (r *Replica[T]) Get(ctx context.Context, userID string) (items []T, found bool, err error) {
	data, err := r.docs.Get(ctx, r.collection, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "get %s for %s", r.collection, userID)
	}
	items, err = r.codec.Decode(data)
	if err != nil {
		return nil, true, errors.Wrapf(err, "decode %s for %s", r.collection, userID)
	}
	return items, true, nil
}

// Set overwrites the user's snapshot.
func (r *Replica[T]) Set(ctx context.Context, userID string, items []T) error {
	data, err := r.codec.Encode(items)
	if err != nil {
		return errors.Wrapf(err, "encode %s", r.collection)
	}
	if err := r.docs.Put(ctx, r.collection, userID, data); err != nil {
		return errors.Wrapf(err, "put %s for %s", r.collection, userID)
	}
	return nil
}

// Watch subscribes to remote changes of the user's snapshot. Documents that
// fail to decode are passed to onErr and otherwise ignored.
func (r *Replica[T]) Watch(
	ctx context.Context,
	userID string,
	fn func(items []T),
	onErr func(error),
) (unsubscribe func(), err error) {
	w, ok := r.docs.(Watcher)
	if !ok {
		return nil, ErrWatchUnsupported
	}
	return w.Watch(ctx, r.collection, userID, func(doc []byte) {
		items, err := r.codec.Decode(doc)
		if err != nil {
			if onErr != nil {
				onErr(errors.Wrapf(err, "decode pushed %s for %s", r.collection, userID))
			}
			return
		}
		fn(items)
	})
}
