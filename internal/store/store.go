// Package store defines the remote document store the data layer consumes.
package store

import (
	"context"

	"github.com/syntrixbase/bizdata/pkg/model"
)

// Unsubscribe tears a subscription down. It is safe to call more than once.
type Unsubscribe func()

// Store is a remote document store.
//
// Collection paths are resolved paths (see model.ResolveCollectionPath).
// Errors caused by connectivity must satisfy netstatus.IsNetworkError;
// refusals must wrap model.ErrPermissionDenied.
type Store interface {
	GetDocuments(ctx context.Context, collectionPath string, q model.Query) ([]model.Document, error)

	// Subscribe delivers the full matching snapshot to onNext after
	// registration and after every change. Failures after registration are
	// reported to onError; the subscription stays registered until
	// Unsubscribe is called.
	Subscribe(ctx context.Context, collectionPath string, q model.Query, onNext func([]model.Document), onError func(error)) (Unsubscribe, error)

	SetDocument(ctx context.Context, collectionPath, id string, data model.Document) error
	UpdateDocument(ctx context.Context, collectionPath, id string, data model.Document) error
	DeleteDocument(ctx context.Context, collectionPath, id string) error

	EnableNetwork(ctx context.Context) error
	DisableNetwork(ctx context.Context) error

	Close(ctx context.Context) error
}

// Fetcher reads one collection from a store.
type Fetcher struct {
	Store Store
	// Path is the collection handle; it is resolved on every call.
	Path string
}

// Fetch reads the collection with the given constraints.
func (f Fetcher) Fetch(ctx context.Context, q model.Query) ([]model.Document, error) {
	path := f.Path
	if path == "" {
		path = q.Collection
	}
	resolved, err := model.ResolveCollectionPath(path)
	if err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return f.Store.GetDocuments(ctx, resolved, q)
}

// Ping checks that the store answers a minimal read.
func Ping(ctx context.Context, s Store, collection string) error {
	resolved, err := model.ResolveCollectionPath(collection)
	if err != nil {
		return err
	}
	_, err = s.GetDocuments(ctx, resolved, model.Query{Limit: 1})
	return err
}
