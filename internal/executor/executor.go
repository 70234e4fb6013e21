// Package executor runs a single store operation with a per-attempt timeout
// and network-aware retries.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/syntrixbase/bizdata/internal/netstatus"
)

const (
	DefaultTimeout    = 20 * time.Second
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// ErrTimeout is returned when an attempt does not settle in time. Its message
// matches the network heuristics, so timed-out attempts are retried.
var ErrTimeout = errors.New("operation timeout")

// Reconnector re-establishes connectivity after a network failure.
type Reconnector interface {
	Reconnect(ctx context.Context) bool
}

// Observer is told the outcome of every attempt.
type Observer interface {
	Observe(err error)
}

// Options configures the executor.
type Options struct {
	Timeout     time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	Reconnector Reconnector
	Observer    Observer
	Logger      *slog.Logger

	// onBackoff is called before each wait with the retry number and delay.
	onBackoff func(retry int, delay time.Duration)
}

// Executor holds the retry policy shared by every operation it runs.
type Executor struct {
	timeout     time.Duration
	maxRetries  int
	baseDelay   time.Duration
	reconnector Reconnector
	observer    Observer
	logger      *slog.Logger
	onBackoff   func(int, time.Duration)
}

// New creates an executor.
func New(opts Options) *Executor {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		timeout:     timeout,
		maxRetries:  maxRetries,
		baseDelay:   baseDelay,
		reconnector: opts.Reconnector,
		observer:    opts.Observer,
		logger:      logger.With("component", "executor"),
		onBackoff:   opts.onBackoff,
	}
}

// MaxRetries returns the default attempt budget.
func (e *Executor) MaxRetries() int { return e.maxRetries }

// Do runs op with the executor's default attempt budget.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	return DoWithRetries(ctx, e, e.maxRetries, op)
}

// DoWithRetries runs op at most maxRetries times. Only network failures are
// retried; before each retry the executor asks the reconnector to restore the
// connection and then waits an exponentially growing delay. Any other failure
// is returned from the attempt that produced it.
func DoWithRetries[T any](ctx context.Context, e *Executor, maxRetries int, op func(ctx context.Context) (T, error)) (T, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var (
		result  T
		attempt int
	)
	backoff := e.observeBackoff(retry.WithMaxRetries(uint64(maxRetries-1), retry.NewExponential(e.baseDelay)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		v, err := runAttempt(ctx, e.timeout, op)
		if e.observer != nil && ctx.Err() == nil {
			e.observer.Observe(err)
		}
		if err == nil {
			result = v
			return nil
		}

		if cerr := ctx.Err(); cerr != nil {
			if errors.Is(err, cerr) {
				return err
			}
			return fmt.Errorf("%w: %w", cerr, err)
		}
		if netstatus.Classify(err) != netstatus.KindNetwork {
			return err
		}

		e.logger.Warn("network error, retrying",
			"attempt", attempt,
			"maxRetries", maxRetries,
			"error", err,
		)
		if attempt < maxRetries && e.reconnector != nil {
			e.reconnector.Reconnect(ctx)
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		var zero T
		if attempt >= maxRetries && netstatus.IsNetworkError(err) {
			e.logger.Error("operation failed after retries", "attempts", attempt, "error", err)
		}
		return zero, err
	}
	return result, nil
}

func (e *Executor) observeBackoff(next retry.Backoff) retry.Backoff {
	if e.onBackoff == nil {
		return next
	}
	n := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := next.Next()
		if !stop {
			n++
			e.onBackoff(n, d)
		}
		return d, stop
	})
}

type outcome[T any] struct {
	value T
	err   error
}

// runAttempt races op against the timeout. A late result is dropped.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome[T]{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		v, err := op(attemptCtx)
		ch <- outcome[T]{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, r.err)
		}
		return r.value, r.err
	case <-timer.C:
		return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
