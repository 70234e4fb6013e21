// Package memory is a process-local document store. It backs tests and
// single-process runs and supports fault injection.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/cel-go/cel"

	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/internal/store"
	"github.com/syntrixbase/bizdata/pkg/model"
)

// Op names a store operation for fault injection and call counting.
type Op string

const (
	OpGet       Op = "get"
	OpSubscribe Op = "subscribe"
	OpSet       Op = "set"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
	OpEnable    Op = "enable"
	OpDisable   Op = "disable"
)

type fault struct {
	err       error
	remaining int // <=0 means until cleared
}

type subscription struct {
	id      uint64
	path    string
	query   model.Query
	program cel.Program
	onNext  func([]model.Document)
	onError func(error)
	closed  atomic.Bool
	mu      sync.Mutex // serialises deliveries
}

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]model.Document
	subs        map[uint64]*subscription
	nextSub     uint64
	offline     bool
	faults      map[Op]*fault
	calls       map[Op]int
	logger      *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Options configures the store.
type Options struct {
	Logger *slog.Logger
}

// New creates an empty store.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		collections: make(map[string]map[string]model.Document),
		subs:        make(map[uint64]*subscription),
		faults:      make(map[Op]*fault),
		calls:       make(map[Op]int),
		logger:      logger.With("component", "memory-store"),
	}
}

// FailWith makes the next times calls of op fail with err. times <= 0 keeps
// failing until FailWith(op, nil, 0) clears it.
func (s *Store) FailWith(op Op, err error, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = &fault{err: err, remaining: times}
}

// EmitError reports err to every live subscription on path.
func (s *Store) EmitError(path string, err error) {
	for _, sub := range s.subscriptionsFor(path) {
		sub.deliverError(err)
	}
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op Op) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Online reports whether the network channel is enabled.
func (s *Store) Online() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.offline
}

// Seed replaces the contents of a collection without notifying subscribers.
func (s *Store) Seed(path string, docs ...model.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := make(map[string]model.Document, len(docs))
	for _, d := range docs {
		c := d.Clone()
		c.GenerateIDIfEmpty()
		coll[c.GetID()] = c
	}
	s.collections[path] = coll
}

// begin counts the call and returns the error it must fail with, if any.
func (s *Store) begin(ctx context.Context, op Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[op]++
	if f, ok := s.faults[op]; ok {
		if f.remaining > 0 {
			f.remaining--
			if f.remaining == 0 {
				delete(s.faults, op)
			}
		}
		return f.err
	}
	if s.offline && op != OpEnable && op != OpDisable {
		return netstatus.Unavailable(string(op))
	}
	return nil
}

func (s *Store) GetDocuments(ctx context.Context, collectionPath string, q model.Query) ([]model.Document, error) {
	if err := s.begin(ctx, OpGet); err != nil {
		return nil, err
	}
	prg, err := compileFilters(q.Filters)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query(collectionPath, q, prg), nil
}

// query must be called with at least the read lock held.
func (s *Store) query(path string, q model.Query, prg cel.Program) []model.Document {
	out := make([]model.Document, 0, len(s.collections[path]))
	for _, doc := range s.collections[path] {
		if matches(prg, doc) {
			out = append(out, doc.Clone())
		}
	}
	sortDocuments(out, q.OrderBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (s *Store) Subscribe(ctx context.Context, collectionPath string, q model.Query, onNext func([]model.Document), onError func(error)) (store.Unsubscribe, error) {
	if err := s.begin(ctx, OpSubscribe); err != nil {
		return nil, err
	}
	prg, err := compileFilters(q.Filters)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		path:    collectionPath,
		query:   q,
		program: prg,
		onNext:  onNext,
		onError: onError,
	}

	s.mu.Lock()
	s.nextSub++
	sub.id = s.nextSub
	s.subs[sub.id] = sub
	snapshot := s.query(collectionPath, q, prg)
	s.mu.Unlock()

	sub.deliver(snapshot)

	return func() {
		if sub.closed.Swap(true) {
			return
		}
		s.mu.Lock()
		delete(s.subs, sub.id)
		s.mu.Unlock()
	}, nil
}

func (s *Store) SetDocument(ctx context.Context, collectionPath, id string, data model.Document) error {
	if err := s.begin(ctx, OpSet); err != nil {
		return err
	}
	doc := data.Clone()
	if doc == nil {
		doc = model.Document{}
	}
	doc.SetID(id)
	if err := doc.ValidateDocument(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidQuery, err)
	}

	s.mu.Lock()
	coll, ok := s.collections[collectionPath]
	if !ok {
		coll = make(map[string]model.Document)
		s.collections[collectionPath] = coll
	}
	coll[id] = doc
	s.mu.Unlock()

	s.publish(collectionPath)
	return nil
}

func (s *Store) UpdateDocument(ctx context.Context, collectionPath, id string, data model.Document) error {
	if err := s.begin(ctx, OpUpdate); err != nil {
		return err
	}

	s.mu.Lock()
	existing, ok := s.collections[collectionPath][id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", collectionPath, id, model.ErrNotFound)
	}
	merged := existing.Merge(data)
	merged.SetID(id)
	s.collections[collectionPath][id] = merged
	s.mu.Unlock()

	s.publish(collectionPath)
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, collectionPath, id string) error {
	if err := s.begin(ctx, OpDelete); err != nil {
		return err
	}

	s.mu.Lock()
	_, ok := s.collections[collectionPath][id]
	if ok {
		delete(s.collections[collectionPath], id)
	}
	s.mu.Unlock()

	if ok {
		s.publish(collectionPath)
	}
	return nil
}

// EnableNetwork reconnects and pushes a fresh snapshot to every subscription.
func (s *Store) EnableNetwork(ctx context.Context) error {
	if err := s.begin(ctx, OpEnable); err != nil {
		return err
	}
	s.mu.Lock()
	was := s.offline
	s.offline = false
	s.mu.Unlock()

	if was {
		s.logger.Info("network enabled")
		s.publishAll()
	}
	return nil
}

// DisableNetwork makes every call fail as unavailable. Subscriptions stay
// registered but receive nothing until the network is enabled.
func (s *Store) DisableNetwork(ctx context.Context) error {
	if err := s.begin(ctx, OpDisable); err != nil {
		return err
	}
	s.mu.Lock()
	s.offline = true
	s.mu.Unlock()
	s.logger.Info("network disabled")
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[uint64]*subscription)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.closed.Store(true)
	}
	return nil
}

func (s *Store) subscriptionsFor(path string) []*subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*subscription
	for _, sub := range s.subs {
		if sub.path == path {
			out = append(out, sub)
		}
	}
	return out
}

func (s *Store) publish(path string) {
	s.mu.RLock()
	if s.offline {
		s.mu.RUnlock()
		return
	}
	type pending struct {
		sub  *subscription
		docs []model.Document
	}
	var deliveries []pending
	for _, sub := range s.subs {
		if sub.path == path {
			deliveries = append(deliveries, pending{sub, s.query(path, sub.query, sub.program)})
		}
	}
	s.mu.RUnlock()

	for _, d := range deliveries {
		d.sub.deliver(d.docs)
	}
}

func (s *Store) publishAll() {
	seen := make(map[string]bool)
	s.mu.RLock()
	var paths []string
	for _, sub := range s.subs {
		if !seen[sub.path] {
			seen[sub.path] = true
			paths = append(paths, sub.path)
		}
	}
	s.mu.RUnlock()
	for _, p := range paths {
		s.publish(p)
	}
}

func (sub *subscription) deliver(docs []model.Document) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed.Load() || sub.onNext == nil {
		return
	}
	sub.onNext(docs)
}

func (sub *subscription) deliverError(err error) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed.Load() || sub.onError == nil {
		return
	}
	sub.onError(err)
}
