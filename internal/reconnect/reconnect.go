// Package reconnect re-enables the store's network channel after an outage.
package reconnect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Network is the toggle surface of the remote store.
type Network interface {
	EnableNetwork(ctx context.Context) error
	DisableNetwork(ctx context.Context) error
}

// Options configures the controller.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *slog.Logger

	// sleep replaces the wait between attempts in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Controller drives bounded reconnection cycles.
type Controller struct {
	network     Network
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	group       singleflight.Group
}

// New creates a controller for network.
func New(network Network, opts Options) *Controller {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := opts.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Controller{
		network:     network,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger.With("component", "reconnect"),
		sleep:       sleep,
	}
}

// Reconnect tries to re-enable the network up to MaxAttempts times. Attempt n
// (from zero) first waits 2^n * BaseDelay. Concurrent callers share a single
// cycle and its outcome.
func (c *Controller) Reconnect(ctx context.Context) bool {
	v, _, _ := c.group.Do("reconnect", func() (interface{}, error) {
		return c.reconnect(ctx), nil
	})
	ok, _ := v.(bool)
	return ok
}

func (c *Controller) reconnect(ctx context.Context) bool {
	backoff := retry.NewExponential(c.baseDelay)

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		delay, stop := backoff.Next()
		if stop {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			c.logger.Warn("reconnect cancelled", "attempt", attempt+1, "error", err)
			return false
		}

		if c.EnableNetwork(ctx) {
			c.logger.Info("reconnected", "attempt", attempt+1)
			return true
		}
		c.logger.Warn("reconnect attempt failed",
			"attempt", attempt+1,
			"maxAttempts", c.maxAttempts,
			"delay", delay.String(),
		)
	}

	c.logger.Error("reconnect failed", "attempts", c.maxAttempts)
	return false
}

// EnableNetwork re-enables the channel. Errors and panics are logged and
// reported as false.
func (c *Controller) EnableNetwork(ctx context.Context) bool {
	return c.toggle(ctx, "enable", c.network.EnableNetwork)
}

// DisableNetwork disables the channel. Errors and panics are logged and
// reported as false.
func (c *Controller) DisableNetwork(ctx context.Context) bool {
	return c.toggle(ctx, "disable", c.network.DisableNetwork)
}

func (c *Controller) toggle(ctx context.Context, name string, fn func(context.Context) error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("network toggle panicked", "op", name, "panic", fmt.Sprint(r))
			ok = false
		}
	}()

	if err := fn(ctx); err != nil {
		c.logger.Warn("network toggle failed", "op", name, "error", err)
		return false
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
