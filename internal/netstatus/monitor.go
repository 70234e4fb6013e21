package netstatus

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Probe checks connectivity to the store.
type Probe func(ctx context.Context) error

// Monitor tracks online/offline transitions and fans them out to listeners.
type Monitor struct {
	mu        sync.Mutex
	online    bool
	nextID    uint64
	listeners map[uint64]func(online bool)
	logger    *slog.Logger
}

// MonitorOptions configures the monitor.
type MonitorOptions struct {
	// StartOffline starts the monitor in the offline state.
	StartOffline bool
	Logger       *slog.Logger
}

// NewMonitor creates a monitor. It assumes connectivity until told otherwise.
func NewMonitor(opts MonitorOptions) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		online:    !opts.StartOffline,
		listeners: make(map[uint64]func(bool)),
		logger:    logger.With("component", "network-monitor"),
	}
}

// Online reports the last known connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline records the connectivity state. Listeners are called only on a
// transition, outside the lock, in registration order.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(bool), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.listeners[id])
	}
	m.mu.Unlock()

	if online {
		m.logger.Info("connectivity restored")
	} else {
		m.logger.Warn("connectivity lost")
	}
	for _, fn := range fns {
		fn(online)
	}
}

// Observe feeds the outcome of a store call into the monitor. A nil error
// means the store answered; network errors flip to offline; anything else
// says nothing about connectivity.
func (m *Monitor) Observe(err error) {
	switch {
	case err == nil:
		m.SetOnline(true)
	case IsNetworkError(err):
		m.SetOnline(false)
	}
}

// OnChange registers fn for transitions and returns its disposer.
func (m *Monitor) OnChange(fn func(online bool)) (dispose func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Run probes the store every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, probe Probe, interval time.Duration) {
	if probe == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, interval)
			err := probe(probeCtx)
			cancel()
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				m.logger.Debug("probe failed", "error", err)
			}
			m.Observe(err)
		}
	}
}
