// Package repository reads and writes a mirrored entity collection. Reads go
// cache, then remote store, then local mirror. Writes always succeed locally:
// a write the remote store rejects is mirrored and queued for Sync.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/syntrixbase/bizdata/internal/cache"
	"github.com/syntrixbase/bizdata/internal/events"
	"github.com/syntrixbase/bizdata/internal/executor"
	"github.com/syntrixbase/bizdata/internal/mirror"
	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/internal/notify"
	"github.com/syntrixbase/bizdata/internal/store"
	"github.com/syntrixbase/bizdata/pkg/model"
)

var ErrInvalidDocument = errors.New("invalid document")

const savedLocallyMessage = "Enregistré localement. La synchronisation reprendra au retour de la connexion."

// WriteResult reports how a write was persisted. Synced is false when only
// the local mirror holds it.
type WriteResult struct {
	ID     string
	Synced bool
}

type Options struct {
	Entity string
	// CollectionPath defaults to Entity.
	CollectionPath string
	Store          store.Store
	Mirror         *mirror.Mirror
	Executor       *executor.Executor
	CacheTTL       time.Duration
	Notifier       notify.Notifier
	Bus            *events.Bus
	Logger         *slog.Logger
}

type Repository struct {
	entity   string
	path     string
	store    store.Store
	mirror   *mirror.Mirror
	executor *executor.Executor
	cache    *cache.Collection
	notifier notify.Notifier
	bus      *events.Bus
	logger   *slog.Logger
	group    singleflight.Group
}

func New(opts Options) (*Repository, error) {
	if opts.Entity == "" {
		return nil, errors.New("repository: entity is required")
	}
	if opts.Store == nil || opts.Mirror == nil {
		return nil, errors.New("repository: store and mirror are required")
	}
	path := opts.CollectionPath
	if path == "" {
		path = opts.Entity
	}
	if _, err := model.ResolveCollectionPath(path); err != nil {
		return nil, err
	}
	ex := opts.Executor
	if ex == nil {
		ex = executor.New(executor.Options{Logger: opts.Logger})
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		entity:   opts.Entity,
		path:     path,
		store:    opts.Store,
		mirror:   opts.Mirror,
		executor: ex,
		cache:    cache.New(cache.Config{TTL: opts.CacheTTL}),
		notifier: notifier,
		bus:      opts.Bus,
		logger:   logger.With("component", "repository", "entity", opts.Entity),
	}, nil
}

func (r *Repository) Entity() string { return r.entity }

// GetAll returns the collection. Concurrent callers share one remote read.
func (r *Repository) GetAll(ctx context.Context) ([]model.Document, error) {
	if docs, ok := r.cache.Get(); ok {
		return docs, nil
	}

	v, err, _ := r.group.Do("all", func() (interface{}, error) {
		return r.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return model.CloneAll(v.([]model.Document)), nil
}

func (r *Repository) load(ctx context.Context) ([]model.Document, error) {
	fetcher := store.Fetcher{Store: r.store, Path: r.path}
	docs, err := executor.Do(ctx, r.executor, func(ctx context.Context) ([]model.Document, error) {
		return fetcher.Fetch(ctx, model.Query{})
	})

	switch {
	case err == nil && len(docs) > 0:
		return r.reconcile(docs), nil

	case err == nil:
		// An empty remote answer may just be a store that lost our writes.
		local, ok := r.loadMirror()
		if ok && len(local) > 0 {
			r.logger.Info("Remote returned no documents, serving local mirror", "count", len(local))
			return local, nil
		}
		docs = []model.Document{}
		r.cache.Set(docs)
		return docs, nil

	case netstatus.Classify(err) == netstatus.KindCanceled:
		return nil, err

	default:
		local, ok := r.loadMirror()
		if !ok {
			return nil, err
		}
		r.logger.Warn("Remote read failed, serving local mirror", "count", len(local), "error", err)
		if netstatus.IsNetworkError(err) {
			r.notifier.Notify(ctx, notify.FetchWarning(r.entity, err))
		}
		return local, nil
	}
}

// reconcile stores the remote snapshot with still-pending local writes on top.
func (r *Repository) reconcile(remote []model.Document) []model.Document {
	docs := remote
	pending, err := r.mirror.Pending()
	if err != nil {
		r.logger.Warn("Failed to read pending writes", "error", err)
	} else if len(pending) > 0 {
		docs = mirror.Overlay(remote, pending)
	}
	if err := r.mirror.Save(docs); err != nil {
		r.logger.Warn("Failed to update local mirror", "error", err)
	}
	r.cache.Set(docs)
	return docs
}

func (r *Repository) loadMirror() ([]model.Document, bool) {
	docs, ok, err := r.mirror.Load()
	if err != nil {
		r.logger.Warn("Failed to read local mirror", "error", err)
		return nil, false
	}
	return docs, ok
}

// Create writes data, generating an id when it has none.
func (r *Repository) Create(ctx context.Context, data model.Document) (WriteResult, error) {
	doc := data.Clone()
	if doc == nil {
		return WriteResult{}, fmt.Errorf("%w: data cannot be nil", ErrInvalidDocument)
	}
	doc.GenerateIDIfEmpty()
	if err := doc.ValidateDocument(); err != nil {
		return WriteResult{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	id := doc.GetID()

	return r.write(ctx, mirror.ActionCreate, id, doc, func(ctx context.Context, path string) error {
		return r.store.SetDocument(ctx, path, id, doc)
	})
}

// Update merges patch into the document id.
func (r *Repository) Update(ctx context.Context, id string, patch model.Document) (WriteResult, error) {
	if !model.CheckDocumentID(id) {
		return WriteResult{}, fmt.Errorf("%w: invalid id %q", ErrInvalidDocument, id)
	}
	doc := patch.Clone()
	if doc == nil {
		doc = model.Document{}
	}
	delete(doc, "id")

	return r.write(ctx, mirror.ActionUpdate, id, doc, func(ctx context.Context, path string) error {
		return r.store.UpdateDocument(ctx, path, id, doc)
	})
}

func (r *Repository) Delete(ctx context.Context, id string) (WriteResult, error) {
	if !model.CheckDocumentID(id) {
		return WriteResult{}, fmt.Errorf("%w: invalid id %q", ErrInvalidDocument, id)
	}
	return r.write(ctx, mirror.ActionDelete, id, nil, func(ctx context.Context, path string) error {
		return r.store.DeleteDocument(ctx, path, id)
	})
}

func (r *Repository) write(ctx context.Context, action mirror.Action, id string, data model.Document, remote func(ctx context.Context, path string) error) (WriteResult, error) {
	path, err := model.ResolveCollectionPath(r.path)
	if err != nil {
		return WriteResult{}, err
	}

	_, rerr := executor.Do(ctx, r.executor, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, remote(ctx, path)
	})
	if rerr != nil && netstatus.Classify(rerr) == netstatus.KindCanceled {
		return WriteResult{}, rerr
	}

	result := WriteResult{ID: id, Synced: rerr == nil}
	if err := r.mirror.Apply(action, id, data); err != nil {
		if rerr != nil {
			return WriteResult{}, errors.Join(rerr, fmt.Errorf("failed to save locally: %w", err))
		}
		r.logger.Warn("Failed to mirror write", "action", action, "id", id, "error", err)
	}

	if rerr != nil {
		if _, err := r.mirror.Enqueue(action, id, data); err != nil {
			return WriteResult{}, errors.Join(rerr, fmt.Errorf("failed to queue write: %w", err))
		}
		r.logger.Warn("Remote write failed, saved locally", "action", action, "id", id, "error", rerr)
		r.notifier.Notify(ctx, notify.Notification{
			Level:      notify.LevelWarning,
			Category:   notify.CategorySavedLocally,
			Message:    savedLocallyMessage,
			Collection: r.entity,
		})
	}

	r.cache.Invalidate()
	r.publish(ctx, events.Action(action), id, data)
	return result, nil
}

func (r *Repository) publish(ctx context.Context, action events.Action, id string, payload model.Document) {
	if r.bus == nil {
		return
	}
	err := r.bus.Publish(ctx, events.Change{Entity: r.entity, Action: action, ID: id, Payload: payload})
	if err != nil {
		r.logger.Warn("Failed to publish change", "action", action, "id", id, "error", err)
	}
}

// Pending returns the writes waiting for Sync.
func (r *Repository) Pending() ([]mirror.PendingWrite, error) {
	return r.mirror.Pending()
}

// Sync replays pending writes in queue order and returns how many reached
// the remote store. It stops at the first network failure; writes the store
// rejects for any other reason are dropped.
func (r *Repository) Sync(ctx context.Context) (int, error) {
	v, err, _ := r.group.Do("sync", func() (interface{}, error) {
		return r.sync(ctx)
	})
	n, _ := v.(int)
	return n, err
}

func (r *Repository) sync(ctx context.Context) (int, error) {
	pending, err := r.mirror.Pending()
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	path, err := model.ResolveCollectionPath(r.path)
	if err != nil {
		return 0, err
	}

	synced, dropped := 0, 0
	defer func() {
		if synced+dropped > 0 {
			r.cache.Invalidate()
			r.publish(context.WithoutCancel(ctx), events.ActionSync, "", nil)
		}
	}()

	for _, w := range pending {
		_, err := executor.DoWithRetries(ctx, r.executor, 1, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, r.replay(ctx, path, w)
		})
		switch kind := netstatus.Classify(err); {
		case err == nil:
			synced++
		case kind == netstatus.KindNetwork || kind == netstatus.KindCanceled:
			r.logger.Info("Sync interrupted", "synced", synced, "remaining", len(pending)-synced-dropped, "error", err)
			return synced, err
		default:
			dropped++
			r.logger.Error("Dropping pending write rejected by store", "action", w.Action, "id", w.ID, "error", err)
			r.notifier.Notify(ctx, notify.Notification{
				Level:      notify.LevelError,
				Category:   notify.CategoryGeneric,
				Message:    fmt.Sprintf("Une modification locale n'a pas pu être synchronisée (%s).", w.ID),
				Collection: r.entity,
			})
		}
		if err := r.mirror.Dequeue(w.Seq); err != nil {
			return synced, err
		}
	}

	if synced > 0 {
		r.logger.Info("Pending writes synchronized", "count", synced)
	}
	return synced, nil
}

// replay applies one pending write with last-write-wins semantics.
func (r *Repository) replay(ctx context.Context, path string, w mirror.PendingWrite) error {
	switch w.Action {
	case mirror.ActionCreate:
		return r.store.SetDocument(ctx, path, w.ID, withID(w.Data, w.ID))
	case mirror.ActionUpdate:
		err := r.store.UpdateDocument(ctx, path, w.ID, w.Data)
		if errors.Is(err, model.ErrNotFound) {
			return r.store.SetDocument(ctx, path, w.ID, r.localCopy(w))
		}
		return err
	case mirror.ActionDelete:
		err := r.store.DeleteDocument(ctx, path, w.ID)
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidDocument, w.Action)
	}
}

// localCopy is the mirrored document for w, or its patch when the mirror has
// none.
func (r *Repository) localCopy(w mirror.PendingWrite) model.Document {
	if docs, ok := r.loadMirror(); ok {
		for _, d := range docs {
			if d.GetID() == w.ID {
				return d.Clone()
			}
		}
	}
	return withID(w.Data, w.ID)
}

func withID(data model.Document, id string) model.Document {
	d := data.Clone()
	if d == nil {
		d = model.Document{}
	}
	d.SetID(id)
	return d
}
