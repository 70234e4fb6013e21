// Package services assembles the data layer from configuration and owns its
// lifecycle.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syntrixbase/bizdata/internal/accessor"
	"github.com/syntrixbase/bizdata/internal/config"
	"github.com/syntrixbase/bizdata/internal/events"
	"github.com/syntrixbase/bizdata/internal/executor"
	"github.com/syntrixbase/bizdata/internal/mirror"
	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/internal/notify"
	"github.com/syntrixbase/bizdata/internal/pubsub"
	"github.com/syntrixbase/bizdata/internal/readmodel"
	"github.com/syntrixbase/bizdata/internal/reconnect"
	"github.com/syntrixbase/bizdata/internal/repository"
	"github.com/syntrixbase/bizdata/internal/store"
	"github.com/syntrixbase/bizdata/internal/subscriber"
)

var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrNotStarted    = errors.New("manager not initialized")
)

type Options struct {
	// Notifier receives user notifications in addition to the log.
	Notifier notify.Notifier
	Logger   *slog.Logger
}

// entity is the runtime wiring of one configured business entity.
type entity struct {
	name string
	cfg  config.EntityConfig

	// fetch strategy
	accessor *accessor.Accessor
	repo     *repository.Repository
	held     *readmodel.StaticSource

	// live strategy, opened on first use
	liveMu sync.Mutex
	live   *subscriber.Subscription
}

type Manager struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store      store.Store
	kv         mirror.KV
	broker     pubsub.Broker
	bus        *events.Bus
	notifier   notify.Notifier
	monitor    *netstatus.Monitor
	reconnect  *reconnect.Controller
	exec       *executor.Executor
	subscriber *subscriber.Subscriber
	entities   map[string]*entity

	baseCtx   context.Context
	disposers []func()

	// bgMu orders wg.Add against the Wait in Shutdown.
	bgMu     sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		opts:     opts,
		logger:   logger.With("component", "manager"),
		entities: make(map[string]*entity),
	}
}

func (m *Manager) entity(name string) (*entity, error) {
	if m.store == nil {
		return nil, ErrNotStarted
	}
	e, ok := m.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return e, nil
}

// Entities returns the configured entity names in sorted order.
func (m *Manager) Entities() []string {
	return config.EntitiesConfig(m.cfg.Entities).Names()
}

// Accessor returns the accessor of a fetch entity, or nil.
func (m *Manager) Accessor(name string) *accessor.Accessor {
	if e, ok := m.entities[name]; ok {
		return e.accessor
	}
	return nil
}

// Repository returns the repository of a mirrored entity, or nil.
func (m *Manager) Repository(name string) *repository.Repository {
	if e, ok := m.entities[name]; ok {
		return e.repo
	}
	return nil
}

func (m *Manager) Store() store.Store          { return m.store }
func (m *Manager) Bus() *events.Bus            { return m.bus }
func (m *Manager) Monitor() *netstatus.Monitor { return m.monitor }
