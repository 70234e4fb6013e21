// Package mongo implements store.Store on MongoDB. All collections share one
// Mongo collection; each record is keyed by a hash of its path and carries
// its collection name so queries and change streams can select it.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/internal/store"
	"github.com/syntrixbase/bizdata/pkg/model"
)

const (
	DefaultCollection = "documents"
	defaultTimeout    = 10 * time.Second
)

// record is the stored shape of a document.
type record struct {
	ID             string                 `bson:"_id"`
	DocID          string                 `bson:"doc_id"`
	Collection     string                 `bson:"collection"`
	CollectionHash string                 `bson:"collection_hash"`
	Data           map[string]interface{} `bson:"data"`
	Version        int64                  `bson:"version"`
	CreatedAt      int64                  `bson:"created_at"`
	UpdatedAt      int64                  `bson:"updated_at"`
	Deleted        bool                   `bson:"deleted"`
}

func (r *record) document() model.Document {
	doc := make(model.Document, len(r.Data)+4)
	for k, v := range r.Data {
		doc[k] = v
	}
	doc.SetID(r.DocID)
	doc["version"] = r.Version
	doc["createdAt"] = r.CreatedAt
	doc["updatedAt"] = r.UpdatedAt
	return doc
}

type Options struct {
	URI        string
	Database   string
	Collection string
	// ConnectTimeout bounds the initial connect and ping.
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
	now    func() time.Time

	offline atomic.Bool
	subsMu  sync.Mutex
	subs    map[uint64]context.CancelFunc
	nextSub uint64
	wg      sync.WaitGroup
}

var _ store.Store = (*Store)(nil)

// Open connects, verifies the connection and ensures indexes.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Nested documents decode as maps so they serialize as plain JSON objects.
	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetServerSelectionTimeout(timeout).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, wrapError("connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, wrapError("ping", err)
	}

	s := newStore(client, client.Database(opts.Database).Collection(opts.Collection), opts.Logger)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func newStore(client *mongo.Client, coll *mongo.Collection, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		coll:   coll,
		logger: logger.With("component", "mongo-store"),
		now:    time.Now,
		subs:   make(map[uint64]context.CancelFunc),
	}
}

// EnsureIndexes creates the indexes queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "collection_hash", Value: 1}, {Key: "deleted", Value: 1}}},
		{Keys: bson.D{{Key: "collection", Value: 1}, {Key: "doc_id", Value: 1}}},
	})
	return wrapError("ensure indexes", err)
}

func (s *Store) check(op string) error {
	if s.offline.Load() {
		return netstatus.Unavailable(op)
	}
	return nil
}

func (s *Store) GetDocuments(ctx context.Context, collectionPath string, q model.Query) ([]model.Document, error) {
	if err := s.check("get"); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return s.query(ctx, collectionPath, q)
}

func (s *Store) query(ctx context.Context, collectionPath string, q model.Query) ([]model.Document, error) {
	filter := makeFilterBSON(q.Filters)
	filter["collection_hash"] = collectionHash(collectionPath)
	filter["deleted"] = bson.M{"$ne": true}

	findOptions := options.Find().SetSort(makeSortBSON(q.OrderBy))
	if q.Limit > 0 {
		findOptions.SetLimit(int64(q.Limit))
	}

	cursor, err := s.coll.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, wrapError("get", err)
	}
	defer cursor.Close(ctx)

	var records []record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, wrapError("get", err)
	}
	docs := make([]model.Document, 0, len(records))
	for i := range records {
		docs = append(docs, records[i].document())
	}
	return docs, nil
}

// SetDocument creates or replaces collectionPath/id.
func (s *Store) SetDocument(ctx context.Context, collectionPath, id string, data model.Document) error {
	if err := s.check("set"); err != nil {
		return err
	}
	if !model.CheckDocumentID(id) {
		return fmt.Errorf("%w: invalid id %q", model.ErrInvalidQuery, id)
	}
	body := data.Clone()
	if body == nil {
		body = model.Document{}
	}
	model.StripProtectedFields(body)
	delete(body, "id")

	now := s.now().UnixMilli()
	update := bson.M{
		"$set": bson.M{
			"doc_id":          id,
			"collection":      collectionPath,
			"collection_hash": collectionHash(collectionPath),
			"data":            map[string]interface{}(body),
			"updated_at":      now,
			"deleted":         false,
		},
		"$setOnInsert": bson.M{"created_at": now},
		"$inc":         bson.M{"version": 1},
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": documentKey(collectionPath, id)}, update, options.Update().SetUpsert(true))
	return wrapError("set", err)
}

// UpdateDocument merges data into an existing document.
func (s *Store) UpdateDocument(ctx context.Context, collectionPath, id string, data model.Document) error {
	if err := s.check("update"); err != nil {
		return err
	}
	updates := bson.M{"updated_at": s.now().UnixMilli()}
	for k, v := range data {
		switch k {
		case "id", "version", "updatedAt", "createdAt", "collection", "deleted":
			continue
		}
		updates["data."+k] = v
	}

	filter := bson.M{"_id": documentKey(collectionPath, id), "deleted": bson.M{"$ne": true}}
	result, err := s.coll.UpdateOne(ctx, filter, bson.M{"$set": updates, "$inc": bson.M{"version": 1}})
	if err != nil {
		return wrapError("update", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s/%s: %w", collectionPath, id, model.ErrNotFound)
	}
	return nil
}

// DeleteDocument soft-deletes collectionPath/id. Deleting a missing document
// succeeds.
func (s *Store) DeleteDocument(ctx context.Context, collectionPath, id string) error {
	if err := s.check("delete"); err != nil {
		return err
	}
	filter := bson.M{"_id": documentKey(collectionPath, id), "deleted": bson.M{"$ne": true}}
	update := bson.M{
		"$set": bson.M{"deleted": true, "data": bson.M{}, "updated_at": s.now().UnixMilli()},
		"$inc": bson.M{"version": 1},
	}
	_, err := s.coll.UpdateOne(ctx, filter, update)
	return wrapError("delete", err)
}

// Subscribe delivers the query result now and again after every change to
// the collection. It needs a replica set; on a standalone server it fails and
// callers fall back to one-shot reads.
func (s *Store) Subscribe(ctx context.Context, collectionPath string, q model.Query, onNext func([]model.Document), onError func(error)) (store.Unsubscribe, error) {
	if err := s.check("subscribe"); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	hash := collectionHash(collectionPath)
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "fullDocument.collection_hash", Value: hash}},
				bson.D{{Key: "operationType", Value: "delete"}},
			}},
		}}},
	}
	csOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := s.coll.Watch(subCtx, pipeline, csOpts)
	if err != nil {
		cancel()
		return nil, wrapError("subscribe", err)
	}

	initial, err := s.query(subCtx, collectionPath, q)
	if err != nil {
		cancel()
		_ = stream.Close(context.Background())
		return nil, err
	}

	s.subsMu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subs[id] = cancel
	s.subsMu.Unlock()

	onNext(initial)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer stream.Close(context.Background())
		for stream.Next(subCtx) {
			if s.offline.Load() {
				continue
			}
			docs, err := s.query(subCtx, collectionPath, q)
			if err != nil {
				if subCtx.Err() == nil {
					onError(err)
				}
				return
			}
			onNext(docs)
		}
		if err := stream.Err(); err != nil && subCtx.Err() == nil {
			onError(wrapError("subscribe", err))
		}
	}()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
		cancel()
	}, nil
}

// EnableNetwork resumes operations after checking the server answers.
func (s *Store) EnableNetwork(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return wrapError("enable network", err)
	}
	s.offline.Store(false)
	return nil
}

// DisableNetwork makes every operation fail as unavailable until enabled.
func (s *Store) DisableNetwork(ctx context.Context) error {
	s.offline.Store(true)
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.subsMu.Lock()
	for id, cancel := range s.subs {
		cancel()
		delete(s.subs, id)
	}
	s.subsMu.Unlock()
	s.wg.Wait()

	if s.client != nil {
		return s.client.Disconnect(ctx)
	}
	return nil
}
