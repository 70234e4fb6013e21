package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/syntrixbase/bizdata/internal/accessor"
	"github.com/syntrixbase/bizdata/internal/breaker"
	"github.com/syntrixbase/bizdata/internal/config"
	"github.com/syntrixbase/bizdata/internal/events"
	"github.com/syntrixbase/bizdata/internal/executor"
	"github.com/syntrixbase/bizdata/internal/mirror"
	"github.com/syntrixbase/bizdata/internal/mirror/boltkv"
	"github.com/syntrixbase/bizdata/internal/mirror/sqlitekv"
	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/internal/notify"
	"github.com/syntrixbase/bizdata/internal/pubsub"
	pubsubmemory "github.com/syntrixbase/bizdata/internal/pubsub/memory"
	pubsubnats "github.com/syntrixbase/bizdata/internal/pubsub/nats"
	"github.com/syntrixbase/bizdata/internal/readmodel"
	"github.com/syntrixbase/bizdata/internal/reconnect"
	"github.com/syntrixbase/bizdata/internal/repository"
	"github.com/syntrixbase/bizdata/internal/store"
	"github.com/syntrixbase/bizdata/internal/store/memory"
	"github.com/syntrixbase/bizdata/internal/store/mongo"
	"github.com/syntrixbase/bizdata/internal/store/remote"
	"github.com/syntrixbase/bizdata/internal/subscriber"
)

// Factories are variables so tests can substitute backends.
var (
	storeFactory  = newStore
	mirrorFactory = newMirrorKV
	brokerFactory = newBroker
)

func newStore(ctx context.Context, m *Manager) (store.Store, error) {
	cfg := m.cfg.Store
	switch cfg.Type {
	case config.StoreMongo:
		s, err := mongo.Open(ctx, mongo.Options{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.DatabaseName,
			Collection:     cfg.Mongo.Collection,
			ConnectTimeout: cfg.Mongo.ConnectTimeout,
			Logger:         m.logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreRemote:
		clientID := cfg.Remote.ClientID
		if clientID == "" {
			clientID = "bizdata-" + uuid.NewString()
		}
		c, err := remote.New(remote.Options{
			BaseURL:     cfg.Remote.URL,
			RealtimeURL: cfg.Remote.RealtimeURL,
			Token:       cfg.Remote.Token,
			ClientID:    clientID,
			Logger:      m.logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return memory.New(memory.Options{Logger: m.logger}), nil
	}
}

func newMirrorKV(_ context.Context, m *Manager) (mirror.KV, error) {
	cfg := m.cfg.Mirror
	var (
		kv  mirror.KV
		err error
	)
	switch cfg.Backend {
	case config.MirrorBolt:
		kv, err = boltkv.Open(cfg.Path)
	case config.MirrorSQLite:
		kv, err = sqlitekv.Open(cfg.Path)
	default:
		kv = mirror.NewMemoryKV()
	}
	if err != nil {
		return nil, err
	}
	return kv, nil
}

func newBroker(ctx context.Context, m *Manager) (pubsub.Broker, error) {
	cfg := m.cfg.Events
	if cfg.Backend == config.EventsNATS {
		b := pubsubnats.New(pubsubnats.Options{URL: cfg.NatsURL, Logger: m.logger})
		if err := b.Connect(ctx); err != nil {
			return nil, err
		}
		return b, nil
	}
	return pubsubmemory.New(m.logger), nil
}

// Init builds every component. On error, whatever was opened is closed again.
func (m *Manager) Init(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			m.closeBackends(context.Background())
		}
	}()

	m.initNotifier()

	if m.store, err = storeFactory(ctx, m); err != nil {
		return fmt.Errorf("failed to open %s store: %w", m.cfg.Store.Type, err)
	}
	if m.kv, err = mirrorFactory(ctx, m); err != nil {
		return fmt.Errorf("failed to open %s mirror: %w", m.cfg.Mirror.Backend, err)
	}
	if m.broker, err = brokerFactory(ctx, m); err != nil {
		return fmt.Errorf("failed to open %s event bus: %w", m.cfg.Events.Backend, err)
	}
	m.bus = events.New(m.broker, events.Options{Prefix: m.cfg.Events.Prefix, Logger: m.logger})

	res := m.cfg.Resilience
	m.monitor = netstatus.NewMonitor(netstatus.MonitorOptions{Logger: m.logger})
	m.reconnect = reconnect.New(m.store, reconnect.Options{
		MaxAttempts: res.ReconnectAttempts,
		BaseDelay:   res.ReconnectBaseDelay,
		Logger:      m.logger,
	})
	m.exec = executor.New(executor.Options{
		Timeout:     res.OperationTimeout,
		MaxRetries:  res.MaxRetries,
		BaseDelay:   res.BackoffBase,
		Reconnector: m.reconnect,
		Observer:    m.monitor,
		Logger:      m.logger,
	})
	m.subscriber = subscriber.New(m.store, subscriber.Options{
		Executor:    m.exec,
		Reconnector: m.reconnect,
		Notifier:    m.notifier,
		Logger:      m.logger,
	})

	for _, name := range m.Entities() {
		if err := m.initEntity(name, m.cfg.Entities[name]); err != nil {
			return err
		}
	}

	// Any change, local or from another process on the same bus, makes the
	// accessor's previous result stale.
	dispose, err := m.bus.SubscribeAll(func(c events.Change) {
		if e, ok := m.entities[c.Entity]; ok && e.accessor != nil {
			e.accessor.ResetFetchState()
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to changes: %w", err)
	}
	m.disposers = append(m.disposers, dispose)
	return nil
}

func (m *Manager) initNotifier() {
	var n notify.Notifier = notify.NewLogNotifier(m.logger)
	if m.opts.Notifier != nil {
		n = notify.Multi{n, m.opts.Notifier}
	}
	if throttle := m.cfg.Notify.Throttle; throttle > 0 {
		n = notify.NewThrottled(n, throttle)
	}
	m.notifier = n
}

func (m *Manager) initEntity(name string, cfg config.EntityConfig) error {
	e := &entity{name: name, cfg: cfg}
	m.entities[name] = e
	if cfg.Strategy == config.StrategyLive {
		return nil
	}

	res := m.cfg.Resilience
	e.held = readmodel.NewStaticSource(nil)
	e.accessor = accessor.New(accessor.Options{
		Collection:  cfg.Collection,
		Fetcher:     store.Fetcher{Store: m.store, Path: cfg.Collection},
		Executor:    m.exec,
		Reconnector: m.reconnect,
		Notifier:    m.notifier,
		Breaker: breaker.New(breaker.Options{
			Threshold: res.CircuitThreshold,
			Cooldown:  res.CircuitCooldown,
			OnStateChange: func(from, to breaker.State) {
				m.logger.Info("circuit state changed", "entity", name, "from", from.String(), "to", to.String())
			},
		}),
		MaxRetryAttempts: res.MaxRetries,
		Logger:           m.logger,
	})

	repo, err := repository.New(repository.Options{
		Entity:         name,
		CollectionPath: cfg.Collection,
		Store:          m.store,
		Mirror:         m.mirrorFor(name, cfg),
		Executor:       m.exec,
		CacheTTL:       m.cfg.Cache.TTL,
		Notifier:       m.notifier,
		Bus:            m.bus,
		Logger:         m.logger,
	})
	if err != nil {
		return fmt.Errorf("entity %s: %w", name, err)
	}
	e.repo = repo
	return nil
}

// mirrorFor returns the persistent mirror for mirrored entities. Others get a
// process-local one so their writes still go through the repository.
func (m *Manager) mirrorFor(name string, cfg config.EntityConfig) *mirror.Mirror {
	kv := m.kv
	if !cfg.Mirror {
		kv = mirror.NewMemoryKV()
	}
	return mirror.New(kv, name, mirror.Options{Logger: m.logger})
}
