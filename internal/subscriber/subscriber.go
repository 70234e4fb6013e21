// Package subscriber keeps a local copy of a collection in sync with the
// store's push updates and degrades to fallback data when it cannot.
package subscriber

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/syntrixbase/bizdata/internal/executor"
	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/internal/notify"
	"github.com/syntrixbase/bizdata/internal/store"
	"github.com/syntrixbase/bizdata/pkg/model"
)

// Reconnector re-establishes the store connection.
type Reconnector interface {
	Reconnect(ctx context.Context) bool
}

// Options configures a subscriber.
type Options struct {
	Executor    *executor.Executor
	Reconnector Reconnector
	Notifier    notify.Notifier
	Logger      *slog.Logger
}

// Subscriber opens live subscriptions against a store.
type Subscriber struct {
	store       store.Store
	exec        *executor.Executor
	reconnector Reconnector
	notifier    notify.Notifier
	logger      *slog.Logger
}

// New creates a subscriber for s.
func New(s store.Store, opts Options) *Subscriber {
	exec := opts.Executor
	if exec == nil {
		exec = executor.New(executor.Options{Logger: opts.Logger})
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		store:       s,
		exec:        exec,
		reconnector: opts.Reconnector,
		notifier:    notifier,
		logger:      logger.With("component", "subscriber"),
	}
}

// Subscribe opens a live view of the collection at path. If the store
// refuses the subscription, the view is filled once through the executor
// instead and Live reports false. Only an unresolvable path is returned as an
// error; every other failure is reported through the subscription.
func (s *Subscriber) Subscribe(ctx context.Context, path string, q model.Query, fallback []model.Document) (*Subscription, error) {
	resolved, err := model.ResolveCollectionPath(path)
	if err != nil {
		return nil, err
	}
	if q.Collection == "" {
		q.Collection = path
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &Subscription{
		path:     resolved,
		query:    q,
		fallback: model.CloneAll(fallback),
		updates:  make(chan struct{}, 1),
		owner:    s,
		ctx:      subCtx,
		cancel:   cancel,
	}

	unsub, err := s.store.Subscribe(ctx, resolved, q, sub.onNext, sub.onError)
	if err == nil {
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			unsub()
			return sub, nil
		}
		sub.unsub = unsub
		sub.live = true
		sub.mu.Unlock()
		return sub, nil
	}

	s.logger.Warn("subscription failed, falling back to one-shot fetch", "path", resolved, "error", err)
	docs, ferr := executor.Do(ctx, s.exec, func(ctx context.Context) ([]model.Document, error) {
		return s.store.GetDocuments(ctx, resolved, q)
	})
	if ferr != nil {
		sub.onError(ferr)
	} else {
		sub.onNext(docs)
	}
	return sub, nil
}

// Snapshot is a consistent view of a subscription at one version.
type Snapshot struct {
	Documents    []model.Document
	Version      uint64
	Offline      bool
	UsedFallback bool
	Err          error
}

// Subscription is a live view of one collection.
type Subscription struct {
	mu            sync.Mutex
	path          string
	query         model.Query
	data          []model.Document
	fallback      []model.Document
	offline       bool
	usedFallback  bool
	err           error
	version       uint64
	fingerprint   uint64
	fingerprinted bool
	live          bool
	closed        bool
	unsub         store.Unsubscribe
	updates       chan struct{}

	owner  *Subscriber
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Path returns the resolved collection path.
func (s *Subscription) Path() string { return s.path }

// Data returns a copy of the current documents.
func (s *Subscription) Data() []model.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneAll(s.data)
}

// Documents is Data; it lets a subscription act as a projection source.
func (s *Subscription) Documents() []model.Document { return s.Data() }

// Version increments on every change of the exposed state.
func (s *Subscription) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Subscription) Offline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline
}

func (s *Subscription) UsedFallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedFallback
}

// Err returns the last unclassified error, cleared by the next snapshot.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Live reports whether a push subscription is registered.
func (s *Subscription) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Snapshot returns all exposed state at once.
func (s *Subscription) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Documents:    model.CloneAll(s.data),
		Version:      s.version,
		Offline:      s.offline,
		UsedFallback: s.usedFallback,
		Err:          s.err,
	}
}

// Updates signals state changes. Signals coalesce: a reader sees at least one
// signal after the latest change, not one per change. The channel is closed
// by Close.
func (s *Subscription) Updates() <-chan struct{} {
	return s.updates
}

// Close tears the subscription down. Once it returns no snapshot or error is
// applied and no notification is sent. It is safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.live = false
	unsub := s.unsub
	s.unsub = nil
	close(s.updates)
	s.mu.Unlock()

	s.cancel()
	if unsub != nil {
		unsub()
	}
	s.wg.Wait()
}

func (s *Subscription) onNext(docs []model.Document) {
	fp, fpErr := fingerprint(docs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	unchanged := fpErr == nil && s.fingerprinted && fp == s.fingerprint
	if unchanged && !s.offline && !s.usedFallback && s.err == nil {
		return
	}

	s.data = model.CloneAll(docs)
	if s.data == nil {
		s.data = []model.Document{}
	}
	s.fingerprint, s.fingerprinted = fp, fpErr == nil
	s.offline = false
	s.usedFallback = false
	s.err = nil
	s.changedLocked()
}

func (s *Subscription) onError(err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	hasFallback := len(s.fallback) > 0
	kind := netstatus.Classify(err)

	switch {
	case kind == netstatus.KindPermission && hasFallback:
		s.useFallbackLocked()
		s.changedLocked()
		s.mu.Unlock()
		s.owner.logger.Debug("permission denied, serving fallback data", "path", s.path)

	case kind == netstatus.KindNetwork:
		s.offline = true
		if hasFallback {
			s.useFallbackLocked()
		}
		s.changedLocked()
		s.wg.Add(1)
		s.mu.Unlock()

		s.owner.logger.Warn("subscription offline", "path", s.path, "error", err)
		s.owner.notifier.Notify(s.ctx, notify.Notification{
			Level:      notify.LevelWarning,
			Category:   notify.CategoryOffline,
			Message:    "Connexion perdue. Affichage des données disponibles hors ligne.",
			Collection: s.path,
		})
		go s.reconnectOnce()

	default:
		s.err = err
		s.changedLocked()
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()

		cat := notify.CategoryGeneric
		if kind == netstatus.KindPermission {
			cat = notify.CategoryPermission
		}
		s.owner.logger.Error("subscription error", "path", s.path, "error", err)
		s.owner.notifier.Notify(s.ctx, notify.Notification{
			Level:      notify.LevelError,
			Category:   cat,
			Message:    err.Error(),
			Collection: s.path,
		})
	}
}

// reconnectOnce makes one reconnection cycle. A registered push
// subscription delivers fresh data by itself once the store is reachable
// again; a view that never got one subscribes again.
func (s *Subscription) reconnectOnce() {
	defer s.wg.Done()
	r := s.owner.reconnector
	if r == nil {
		return
	}
	ok := r.Reconnect(s.ctx)

	s.mu.Lock()
	closed, live := s.closed, s.live
	s.mu.Unlock()
	if !ok || closed {
		return
	}
	if !live && !s.resubscribe() {
		return
	}
	s.owner.notifier.Notify(s.ctx, notify.Notification{
		Level:      notify.LevelSuccess,
		Category:   notify.CategoryReconnected,
		Message:    "Connexion rétablie. Les données vont se recharger automatiquement.",
		Collection: s.path,
	})
}

// resubscribe registers the push subscription that failed at setup. When the
// store still refuses it, the view is refreshed once by a direct read. It
// reports whether fresh data is on its way.
func (s *Subscription) resubscribe() bool {
	st, logger := s.owner.store, s.owner.logger

	unsub, err := st.Subscribe(s.ctx, s.path, s.query, s.onNext, s.onError)
	if err == nil {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			unsub()
			return false
		}
		s.unsub = unsub
		s.live = true
		s.mu.Unlock()
		return true
	}

	logger.Warn("resubscribe failed, refreshing once", "path", s.path, "error", err)
	docs, err := st.GetDocuments(s.ctx, s.path, s.query)
	if err != nil {
		logger.Warn("refresh after reconnect failed", "path", s.path, "error", err)
		return false
	}
	s.onNext(docs)
	return true
}

// useFallbackLocked must be called with mu held.
func (s *Subscription) useFallbackLocked() {
	s.data = model.CloneAll(s.fallback)
	s.usedFallback = true
	s.err = nil
	s.fingerprinted = false
}

// changedLocked must be called with mu held.
func (s *Subscription) changedLocked() {
	s.version++
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// fingerprint hashes the canonical JSON of docs; map keys are sorted by the
// encoder so equal snapshots hash equally.
func fingerprint(docs []model.Document) (uint64, error) {
	h := xxhash.New()
	if err := json.NewEncoder(h).Encode(docs); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}
