package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/syntrixbase/bizdata/internal/config"
	"github.com/syntrixbase/bizdata/internal/events"
	"github.com/syntrixbase/bizdata/internal/executor"
	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/internal/readmodel"
	"github.com/syntrixbase/bizdata/internal/repository"
	"github.com/syntrixbase/bizdata/internal/store"
	"github.com/syntrixbase/bizdata/internal/subscriber"
	"github.com/syntrixbase/bizdata/pkg/model"
)

// ErrNotLive is returned by Watch for entities using the fetch strategy.
var ErrNotLive = errors.New("entity is not configured for live updates")

// List returns the current documents of an entity.
//
// Mirrored entities read through their repository and fall back to the
// mirror. Other fetch entities read through their accessor; once a fetch
// succeeded, its result is served until a change or a reconnection makes it
// stale. Live entities are read once through the executor.
func (m *Manager) List(ctx context.Context, name string) ([]model.Document, error) {
	e, err := m.entity(name)
	if err != nil {
		return nil, err
	}

	switch {
	case e.cfg.Strategy == config.StrategyLive:
		return executor.Do(ctx, m.exec, func(ctx context.Context) ([]model.Document, error) {
			return store.Fetcher{Store: m.store, Path: e.cfg.Collection}.Fetch(ctx, model.Query{})
		})

	case e.cfg.Mirror:
		docs, err := e.repo.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		e.held.Set(docs)
		return docs, nil

	default:
		if st := e.accessor.State(); st.DataFetched && !st.NetworkError {
			return e.held.Documents(), nil
		}
		docs, err := e.accessor.GetAll(ctx, model.Query{})
		if err != nil {
			return nil, err
		}
		e.held.Set(docs)
		return docs, nil
	}
}

// Put writes a whole document. An empty id lets the store layer generate one.
func (m *Manager) Put(ctx context.Context, name, id string, data model.Document) (repository.WriteResult, error) {
	e, err := m.entity(name)
	if err != nil {
		return repository.WriteResult{}, err
	}
	doc := data.Clone()
	if doc == nil {
		doc = model.Document{}
	}
	if id != "" {
		doc.SetID(id)
	}
	if e.repo != nil {
		return e.repo.Create(ctx, doc)
	}

	doc.GenerateIDIfEmpty()
	if err := doc.ValidateDocument(); err != nil {
		return repository.WriteResult{}, fmt.Errorf("%w: %v", repository.ErrInvalidDocument, err)
	}
	id = doc.GetID()
	return m.writeDirect(ctx, e, events.ActionCreate, id, doc, func(ctx context.Context, path string) error {
		return m.store.SetDocument(ctx, path, id, doc)
	})
}

// Patch merges fields into an existing document.
func (m *Manager) Patch(ctx context.Context, name, id string, patch model.Document) (repository.WriteResult, error) {
	e, err := m.entity(name)
	if err != nil {
		return repository.WriteResult{}, err
	}
	if e.repo != nil {
		return e.repo.Update(ctx, id, patch)
	}
	if !model.CheckDocumentID(id) {
		return repository.WriteResult{}, fmt.Errorf("%w: invalid id %q", repository.ErrInvalidDocument, id)
	}
	doc := patch.Clone()
	delete(doc, "id")
	return m.writeDirect(ctx, e, events.ActionUpdate, id, doc, func(ctx context.Context, path string) error {
		return m.store.UpdateDocument(ctx, path, id, doc)
	})
}

func (m *Manager) Delete(ctx context.Context, name, id string) (repository.WriteResult, error) {
	e, err := m.entity(name)
	if err != nil {
		return repository.WriteResult{}, err
	}
	if e.repo != nil {
		return e.repo.Delete(ctx, id)
	}
	if !model.CheckDocumentID(id) {
		return repository.WriteResult{}, fmt.Errorf("%w: invalid id %q", repository.ErrInvalidDocument, id)
	}
	return m.writeDirect(ctx, e, events.ActionDelete, id, nil, func(ctx context.Context, path string) error {
		return m.store.DeleteDocument(ctx, path, id)
	})
}

// writeDirect writes a live entity. Live entities have no local copy, so a
// failed write is returned to the caller rather than queued.
func (m *Manager) writeDirect(ctx context.Context, e *entity, action events.Action, id string, data model.Document, fn func(ctx context.Context, path string) error) (repository.WriteResult, error) {
	path, err := model.ResolveCollectionPath(e.cfg.Collection)
	if err != nil {
		return repository.WriteResult{}, err
	}
	_, err = executor.Do(ctx, m.exec, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx, path)
	})
	if err != nil {
		return repository.WriteResult{}, err
	}
	if err := m.bus.Publish(ctx, events.Change{Entity: e.name, Action: action, ID: id, Payload: data}); err != nil {
		m.logger.Warn("Failed to publish change", "entity", e.name, "error", err)
	}
	return repository.WriteResult{ID: id, Synced: true}, nil
}

// Sync replays queued writes of every entity. It returns the number of
// writes replayed per entity; entities with nothing to replay are omitted.
func (m *Manager) Sync(ctx context.Context) (map[string]int, error) {
	if m.store == nil {
		return nil, ErrNotStarted
	}
	out := make(map[string]int)
	var errs []error
	for _, name := range m.Entities() {
		e := m.entities[name]
		if e.repo == nil {
			continue
		}
		n, err := e.repo.Sync(ctx)
		if n > 0 {
			out[name] = n
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			if netstatus.Classify(err) == netstatus.KindCanceled {
				break
			}
		}
	}
	return out, errors.Join(errs...)
}

// Watch opens a live subscription on a live entity. The caller owns it and
// must Close it. fallback is shown when the store cannot be reached.
func (m *Manager) Watch(ctx context.Context, name string, fallback []model.Document) (*subscriber.Subscription, error) {
	e, err := m.entity(name)
	if err != nil {
		return nil, err
	}
	if e.cfg.Strategy != config.StrategyLive {
		return nil, fmt.Errorf("%w: %s", ErrNotLive, name)
	}
	return m.subscriber.Subscribe(ctx, e.cfg.Collection, model.Query{}, fallback)
}

// liveSource returns the manager-owned subscription of a live entity,
// opening it on first use.
func (m *Manager) liveSource(e *entity) (*subscriber.Subscription, error) {
	e.liveMu.Lock()
	defer e.liveMu.Unlock()
	if e.live != nil {
		return e.live, nil
	}
	sub, err := m.subscriber.Subscribe(m.context(), e.cfg.Collection, model.Query{}, nil)
	if err != nil {
		return nil, err
	}
	e.live = sub
	return sub, nil
}

// HR entity names read by HRView.
const (
	EntityEmployees     = "employees"
	EntityLeaveRequests = "leaveRequests"
	EntityContracts     = "contracts"
	EntityDepartments   = "departments"
)

// HRView builds the joined HR read model. Fetch entities are loaded
// concurrently; one that cannot be read contributes its last known
// documents. Live entities stay attached to their subscription, so the view
// follows their changes until Shutdown.
func (m *Manager) HRView(ctx context.Context) (*readmodel.HRView, error) {
	if m.store == nil {
		return nil, ErrNotStarted
	}

	sources := make(map[string]readmodel.Source)
	var fetch []string
	for _, name := range []string{EntityEmployees, EntityLeaveRequests, EntityContracts, EntityDepartments} {
		e, ok := m.entities[name]
		if !ok {
			continue
		}
		if e.cfg.Strategy == config.StrategyLive {
			sub, err := m.liveSource(e)
			if err != nil {
				return nil, err
			}
			sources[name] = sub
			continue
		}
		sources[name] = e.held
		fetch = append(fetch, name)
	}

	_, err := readmodel.LoadAll(ctx, func(ctx context.Context, name string) ([]model.Document, error) {
		docs, err := m.List(ctx, name)
		if err != nil && netstatus.Classify(err) != netstatus.KindCanceled {
			m.logger.Warn("Using last known data", "entity", name, "error", err)
			return m.entities[name].held.Documents(), nil
		}
		return docs, err
	}, fetch...)
	if err != nil {
		return nil, err
	}

	return readmodel.NewHRView(readmodel.HRSources{
		Employees:     sources[EntityEmployees],
		LeaveRequests: sources[EntityLeaveRequests],
		Contracts:     sources[EntityContracts],
		Departments:   sources[EntityDepartments],
	}, m.logger), nil
}
