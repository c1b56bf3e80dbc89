// Package mongo stores remote snapshots in a MongoDB collection and pushes
// changes with change streams. Change streams require a replica set.
package mongo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/xenking/venkat-express/internal/domain/snapshot"
)

// CollectionName is the MongoDB collection holding every snapshot.
const CollectionName = "snapshots"

var (
	_ snapshot.Documents = (*Documents)(nil)
	_ snapshot.Watcher   = (*Documents)(nil)
	_ snapshot.Pinger    = (*Documents)(nil)
)

// Connect opens a client and returns the named database.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	return client.Database(database), nil
}

type document struct {
	ID         string    `bson:"_id"`
	Collection string    `bson:"collection"`
	UserID     string    `bson:"user_id"`
	Payload    string    `bson:"payload"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func documentID(collection, userID string) string {
	return collection + ":" + userID
}

// Documents implements snapshot.Documents. The encoded snapshot is stored as
// an opaque string so the wire format stays identical across backends.
type Documents struct {
	coll *mongo.Collection
	lg   *zap.Logger
}

// NewDocuments returns a Documents over db's snapshots collection.
func NewDocuments(db *mongo.Database, lg *zap.Logger) *Documents {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Documents{coll: db.Collection(CollectionName), lg: lg.Named("mongo")}
}

// CreateIndexes creates the secondary index used by the export tool.
func (d *Documents) CreateIndexes(ctx context.Context) error {
	_, err := d.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "collection", Value: 1}, {Key: "updated_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("creating snapshot index: %w", err)
	}
	return nil
}

// Get returns snapshot.ErrNotFound when no document exists.
func (d *Documents) Get(ctx context.Context, collection, userID string) ([]byte, error) {
	var doc document
	err := d.coll.FindOne(ctx, bson.M{"_id": documentID(collection, userID)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("finding snapshot %s/%s: %w", collection, userID, err)
	}
	return []byte(doc.Payload), nil
}

func (d *Documents) Put(ctx context.Context, collection, userID string, payload []byte) error {
	id := documentID(collection, userID)
	doc := document{
		ID:         id,
		Collection: collection,
		UserID:     userID,
		Payload:    string(payload),
		UpdatedAt:  time.Now().UTC(),
	}
	_, err := d.coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replacing snapshot %s/%s: %w", collection, userID, err)
	}
	return nil
}

// Watch opens a change stream filtered to one document.
func (d *Documents) Watch(ctx context.Context, collection, userID string, fn func([]byte)) (func(), error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "documentKey._id", Value: documentID(collection, userID)},
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace"}}}},
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	wctx, cancel := context.WithCancel(ctx)
	stream, err := d.coll.Watch(wctx, pipeline, opts)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watching snapshot %s/%s: %w", collection, userID, err)
	}

	lg := d.lg.With(zap.String("collection", collection), zap.String("user_id", userID))
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { _ = stream.Close(context.Background()) }()

		for stream.Next(wctx) {
			var event struct {
				FullDocument *document `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil {
				lg.Warn("Decode change event", zap.Error(err))
				continue
			}
			if event.FullDocument == nil {
				continue
			}
			fn([]byte(event.FullDocument.Payload))
		}
		if err := stream.Err(); err != nil && wctx.Err() == nil {
			lg.Warn("Change stream stopped", zap.Error(err))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (d *Documents) Ping(ctx context.Context) error {
	return d.coll.Database().Client().Ping(ctx, nil)
}
