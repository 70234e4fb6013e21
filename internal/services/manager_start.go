package services

import (
	"context"
	"time"

	"github.com/syntrixbase/bizdata/internal/events"
	"github.com/syntrixbase/bizdata/internal/store"
)

// Start runs the connectivity probe and replays writes queued by an earlier
// run. It returns immediately; background work stops when ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.baseCtx = ctx
	m.disposers = append(m.disposers, m.monitor.OnChange(m.onConnectivity))

	if probe := m.probeCollection(); probe != "" {
		m.goBackground(ctx, func() {
			m.monitor.Run(ctx, func(ctx context.Context) error {
				return store.Ping(ctx, m.store, probe)
			}, m.cfg.Resilience.ProbeInterval)
		})
	}

	m.goSync(ctx)
}

func (m *Manager) probeCollection() string {
	names := m.Entities()
	if len(names) == 0 {
		return ""
	}
	return m.cfg.Entities[names[0]].Collection
}

func (m *Manager) onConnectivity(online bool) {
	m.bgMu.Lock()
	stopping := m.stopping
	m.bgMu.Unlock()
	if stopping {
		return
	}

	ctx := m.context()
	status := events.StatusOffline
	if online {
		status = events.StatusOnline
		for _, e := range m.entities {
			if e.accessor != nil {
				e.accessor.ResetFetchState()
			}
		}
		m.goSync(ctx)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.bus.PublishStatus(pubCtx, status); err != nil {
		m.logger.Warn("Failed to publish connectivity status", "status", status, "error", err)
	}
}

// goSync replays queued writes in the background. It reports false when the
// manager is shutting down or ctx is done.
func (m *Manager) goSync(ctx context.Context) bool {
	return m.goBackground(ctx, func() {
		if _, err := m.Sync(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("Background sync incomplete", "error", err)
		}
	})
}

func (m *Manager) goBackground(ctx context.Context, fn func()) bool {
	m.bgMu.Lock()
	defer m.bgMu.Unlock()
	if m.stopping || ctx.Err() != nil {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
	return true
}

func (m *Manager) context() context.Context {
	if m.baseCtx != nil {
		return m.baseCtx
	}
	return context.Background()
}
