package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/bizdata/internal/events"
	"github.com/syntrixbase/bizdata/internal/executor"
	"github.com/syntrixbase/bizdata/internal/mirror"
	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/internal/notify"
	pubmem "github.com/syntrixbase/bizdata/internal/pubsub/memory"
	memstore "github.com/syntrixbase/bizdata/internal/store/memory"
	"github.com/syntrixbase/bizdata/pkg/model"
)

type fixture struct {
	repo     *Repository
	store    *memstore.Store
	mirror   *mirror.Mirror
	kv       *mirror.MemoryKV
	notes    *notify.Recorder
	changes  *[]events.Change
	executor *executor.Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New(memstore.Options{})
	kv := mirror.NewMemoryKV()
	m := mirror.New(kv, "departments", mirror.Options{})
	notes := &notify.Recorder{}
	bus := events.New(pubmem.New(nil), events.Options{})

	changes := &[]events.Change{}
	_, err := bus.SubscribeAll(func(c events.Change) { *changes = append(*changes, c) })
	require.NoError(t, err)

	ex := executor.New(executor.Options{Timeout: time.Second, MaxRetries: 2, BaseDelay: time.Millisecond})
	repo, err := New(Options{
		Entity:   "departments",
		Store:    st,
		Mirror:   m,
		Executor: ex,
		Notifier: notes,
		Bus:      bus,
	})
	require.NoError(t, err)
	return &fixture{repo: repo, store: st, mirror: m, kv: kv, notes: notes, changes: changes, executor: ex}
}

func networkDown() error { return netstatus.Unavailable("set") }

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Entity: "departments", Store: memstore.New(memstore.Options{})})
	assert.Error(t, err)

	_, err = New(Options{
		Entity:         "departments",
		CollectionPath: "a//b",
		Store:          memstore.New(memstore.Options{}),
		Mirror:         mirror.New(mirror.NewMemoryKV(), "departments", mirror.Options{}),
	})
	assert.ErrorIs(t, err, model.ErrInvalidPath)
}

func TestGetAll_RemoteThenCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Seed("departments", model.Document{"id": "d1", "name": "RH"})

	docs, err := f.repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	docs[0]["name"] = "mutated"
	again, err := f.repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "RH", again[0]["name"], "callers get copies")
	assert.Equal(t, 1, f.store.Calls(memstore.OpGet), "second read served from cache")

	mirrored, ok, err := f.mirror.Load()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, mirrored, 1)
}

func TestCreate_ThenEmptyRemoteFallsBackToMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.FailWith(memstore.OpSet, networkDown(), 0)
	res, err := f.repo.Create(ctx, model.Document{"name": "Finance"})
	require.NoError(t, err)
	assert.False(t, res.Synced)
	assert.NotEmpty(t, res.ID)

	docs, err := f.repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, res.ID, docs[0].GetID())
	assert.Equal(t, "Finance", docs[0]["name"])
}

func TestCreate_SyncedWriteSurvivesRemoteWipe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.repo.Create(ctx, model.Document{"id": "d9", "name": "Achats"})
	require.NoError(t, err)
	assert.True(t, res.Synced)

	f.store.Seed("departments")
	docs, err := f.repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d9", docs[0].GetID())
}

func TestGetAll_EmptyEverywhere(t *testing.T) {
	f := newFixture(t)
	docs, err := f.repo.GetAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestGetAll_RemoteFailureServesMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mirror.Save([]model.Document{{"id": "d1", "name": "RH"}}))

	require.NoError(t, f.store.DisableNetwork(ctx))
	docs, err := f.repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, 1, f.notes.Levels(notify.LevelWarning))
	assert.Equal(t, 2, f.store.Calls(memstore.OpGet), "network errors are retried")
}

func TestGetAll_RemoteFailureWithoutMirror(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.DisableNetwork(context.Background()))

	_, err := f.repo.GetAll(context.Background())
	assert.True(t, netstatus.IsNetworkError(err))
}

func TestGetAll_Canceled(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mirror.Save([]model.Document{{"id": "d1"}}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.repo.GetAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetAll_ReconcilesPendingWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Seed("departments", model.Document{"id": "d1", "name": "RH"}, model.Document{"id": "d2", "name": "IT"})

	f.store.FailWith(memstore.OpDelete, networkDown(), 0)
	_, err := f.repo.Delete(ctx, "d2")
	require.NoError(t, err)

	docs, err := f.repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1, "pending delete hides the remote copy")
	assert.Equal(t, "d1", docs[0].GetID())

	mirrored, _, _ := f.mirror.Load()
	assert.Len(t, mirrored, 1)
}

func TestWrites_PublishAndInvalidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.GetAll(ctx)
	require.NoError(t, err)

	_, err = f.repo.Create(ctx, model.Document{"id": "d1", "name": "RH"})
	require.NoError(t, err)
	_, err = f.repo.Update(ctx, "d1", model.Document{"name": "Ressources humaines", "id": "ignored"})
	require.NoError(t, err)

	docs, err := f.repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Ressources humaines", docs[0]["name"])
	assert.Equal(t, "d1", docs[0].GetID())

	_, err = f.repo.Delete(ctx, "d1")
	require.NoError(t, err)

	require.Len(t, *f.changes, 3)
	assert.Equal(t, events.ActionCreate, (*f.changes)[0].Action)
	assert.Equal(t, "RH", (*f.changes)[0].Payload["name"])
	assert.Equal(t, events.ActionUpdate, (*f.changes)[1].Action)
	assert.Equal(t, events.ActionDelete, (*f.changes)[2].Action)
	for _, c := range *f.changes {
		assert.Equal(t, "departments", c.Entity)
		assert.Equal(t, "d1", c.ID)
	}
	assert.Equal(t, 2, f.store.Calls(memstore.OpGet), "the write invalidated the cache")
}

func TestWrites_LocalFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.DisableNetwork(ctx))

	res, err := f.repo.Create(ctx, model.Document{"id": "d1", "name": "RH"})
	require.NoError(t, err)
	assert.Equal(t, WriteResult{ID: "d1", Synced: false}, res)

	pending, err := f.repo.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, mirror.PendingTag, pending[0].Tag)

	_, ok, _ := f.kv.Get("departments_last_update")
	assert.True(t, ok)
	assert.Equal(t, 1, f.notes.Count(notify.CategorySavedLocally))
	assert.Len(t, *f.changes, 1, "local-only writes are announced too")
}

func TestWrites_Invalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Create(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidDocument)
	_, err = f.repo.Create(ctx, model.Document{"id": "bad id"})
	assert.ErrorIs(t, err, ErrInvalidDocument)
	_, err = f.repo.Update(ctx, "", model.Document{})
	assert.ErrorIs(t, err, ErrInvalidDocument)
	_, err = f.repo.Delete(ctx, "a/b")
	assert.ErrorIs(t, err, ErrInvalidDocument)

	assert.Zero(t, f.store.Calls(memstore.OpSet))
	assert.Empty(t, *f.changes)
}

func TestWrites_CanceledIsNotMirrored(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.repo.Create(ctx, model.Document{"id": "d1"})
	assert.ErrorIs(t, err, context.Canceled)
	_, ok, _ := f.mirror.Load()
	assert.False(t, ok)
}

func TestSync_ReplaysInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Seed("departments", model.Document{"id": "gone", "name": "Old"})
	require.NoError(t, f.store.DisableNetwork(ctx))

	_, err := f.repo.Create(ctx, model.Document{"id": "d1", "name": "RH"})
	require.NoError(t, err)
	_, err = f.repo.Update(ctx, "d1", model.Document{"floor": 2})
	require.NoError(t, err)
	_, err = f.repo.Update(ctx, "d7", model.Document{"name": "Orphan"})
	require.NoError(t, err)
	_, err = f.repo.Delete(ctx, "gone")
	require.NoError(t, err)
	_, err = f.repo.Delete(ctx, "never-existed")
	require.NoError(t, err)

	n, err := f.repo.Sync(ctx)
	assert.True(t, netstatus.IsNetworkError(err))
	assert.Zero(t, n)
	pending, _ := f.repo.Pending()
	assert.Len(t, pending, 5, "nothing dequeued while offline")

	require.NoError(t, f.store.EnableNetwork(ctx))
	*f.changes = nil
	n, err = f.repo.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	pending, _ = f.repo.Pending()
	assert.Empty(t, pending)

	remote, err := f.store.GetDocuments(ctx, "departments", model.Query{OrderBy: []model.Order{{Field: "id"}}})
	require.NoError(t, err)
	require.Len(t, remote, 2)
	assert.Equal(t, "d1", remote[0].GetID())
	assert.Equal(t, "RH", remote[0]["name"])
	assert.EqualValues(t, 2, remote[0]["floor"])
	assert.Equal(t, "d7", remote[1].GetID(), "update of a missing document becomes a set")
	assert.Equal(t, "Orphan", remote[1]["name"])

	require.Len(t, *f.changes, 1)
	assert.Equal(t, events.ActionSync, (*f.changes)[0].Action)
}

func TestSync_DropsRejectedWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.DisableNetwork(ctx))
	_, err := f.repo.Create(ctx, model.Document{"id": "d1"})
	require.NoError(t, err)
	_, err = f.repo.Create(ctx, model.Document{"id": "d2"})
	require.NoError(t, err)
	require.NoError(t, f.store.EnableNetwork(ctx))

	f.store.FailWith(memstore.OpSet, model.ErrPermissionDenied, 1)
	n, err := f.repo.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.notes.Levels(notify.LevelError))

	pending, _ := f.repo.Pending()
	assert.Empty(t, pending)
}

func TestSync_NothingPending(t *testing.T) {
	f := newFixture(t)
	n, err := f.repo.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, *f.changes)
}
