package readmodel

import (
	"sync"

	"github.com/syntrixbase/bizdata/pkg/model"
)

// Source is a versioned collection feeding a projection. Subscriptions
// implement it.
type Source interface {
	Version() uint64
	Documents() []model.Document
}

// StaticSource holds a one-shot result, such as an accessor or repository
// read.
type StaticSource struct {
	mu      sync.RWMutex
	docs    []model.Document
	version uint64
}

// NewStaticSource creates a source holding docs.
func NewStaticSource(docs []model.Document) *StaticSource {
	return &StaticSource{docs: model.CloneAll(docs), version: 1}
}

// Set replaces the documents and bumps the version.
func (s *StaticSource) Set(docs []model.Document) {
	s.mu.Lock()
	s.docs = model.CloneAll(docs)
	s.version++
	s.mu.Unlock()
}

func (s *StaticSource) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *StaticSource) Documents() []model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.CloneAll(s.docs)
}

// Projection memoises a pure function of its sources. The function runs
// again only when a source version changes.
type Projection[T any] struct {
	mu       sync.Mutex
	sources  []Source
	versions []uint64
	computed bool
	value    T
	runs     int
	fn       func(inputs ...[]model.Document) T
}

// NewProjection creates a projection of fn over sources, in order.
func NewProjection[T any](fn func(inputs ...[]model.Document) T, sources ...Source) *Projection[T] {
	return &Projection[T]{
		sources:  sources,
		versions: make([]uint64, len(sources)),
		fn:       fn,
	}
}

// Get returns the projected value, recomputing it if a source changed.
func (p *Projection[T]) Get() T {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := make([]uint64, len(p.sources))
	stale := !p.computed
	for i, s := range p.sources {
		current[i] = s.Version()
		if current[i] != p.versions[i] {
			stale = true
		}
	}
	if !stale {
		return p.value
	}

	inputs := make([][]model.Document, len(p.sources))
	for i, s := range p.sources {
		inputs[i] = s.Documents()
	}
	p.value = p.fn(inputs...)
	p.versions = current
	p.computed = true
	p.runs++
	return p.value
}

// Runs returns how many times the function has been evaluated.
func (p *Projection[T]) Runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}
