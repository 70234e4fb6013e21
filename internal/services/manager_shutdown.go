package services

import (
	"context"
	"errors"
)

// Shutdown stops background work and closes every backend. Background tasks
// are expected to stop with the context passed to Start; Shutdown waits for
// them until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.bgMu.Lock()
	m.stopping = true
	m.bgMu.Unlock()

	for _, dispose := range m.disposers {
		dispose()
	}
	m.disposers = nil

	for _, e := range m.entities {
		e.liveMu.Lock()
		if e.live != nil {
			e.live.Close()
			e.live = nil
		}
		e.liveMu.Unlock()
	}

	m.logger.Debug("Waiting for background tasks to finish...")
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for background tasks")
	}

	return m.closeBackends(ctx)
}

func (m *Manager) closeBackends(ctx context.Context) error {
	var errs []error
	if m.bus != nil {
		errs = append(errs, m.bus.Close())
		m.bus, m.broker = nil, nil
	} else if m.broker != nil {
		errs = append(errs, m.broker.Close())
		m.broker = nil
	}
	if m.store != nil {
		errs = append(errs, m.store.Close(ctx))
		m.store = nil
	}
	if m.kv != nil {
		errs = append(errs, m.kv.Close())
		m.kv = nil
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Error("Error closing backends", "error", err)
		return err
	}
	return nil
}
