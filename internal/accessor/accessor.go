// Package accessor guards one collection against redundant fetches and keeps
// its fetch state.
package accessor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syntrixbase/bizdata/internal/breaker"
	"github.com/syntrixbase/bizdata/internal/executor"
	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/internal/notify"
	"github.com/syntrixbase/bizdata/pkg/model"
)

// MaxRetryAttempts is the number of consecutive network failures after which
// the fetch state is force-reset.
const MaxRetryAttempts = 3

// ErrCircuitOpen is returned while the collection is cooling down after
// repeated network failures.
var ErrCircuitOpen = breaker.ErrOpen

// FetchState is the per-collection fetch bookkeeping.
type FetchState struct {
	DataFetched   bool `json:"dataFetched"`
	NetworkError  bool `json:"networkError"`
	RetryAttempts int  `json:"retryAttempts"`
}

// Fetcher reads a collection.
type Fetcher interface {
	Fetch(ctx context.Context, q model.Query) ([]model.Document, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, q model.Query) ([]model.Document, error)

func (f FetchFunc) Fetch(ctx context.Context, q model.Query) ([]model.Document, error) {
	return f(ctx, q)
}

// Reconnector re-establishes the store connection.
type Reconnector interface {
	Reconnect(ctx context.Context) bool
}

// Options configures an accessor.
type Options struct {
	Collection string
	Fetcher    Fetcher

	// Executor, if set, bounds each fetch with its attempt timeout. Retries
	// are driven by the accessor's own state, not by the executor.
	Executor    *executor.Executor
	Reconnector Reconnector
	Notifier    notify.Notifier
	Breaker     *breaker.CircuitBreaker

	MaxRetryAttempts int
	Logger           *slog.Logger
}

// Accessor is the per-collection fetch guard.
//
// Overlapping GetAll calls are not serialised: the state guard discourages
// them but two calls racing from the unfetched state may both fetch.
type Accessor struct {
	mu         sync.Mutex
	collection string
	state      FetchState

	fetcher     Fetcher
	exec        *executor.Executor
	reconnector Reconnector
	notifier    notify.Notifier
	breaker     *breaker.CircuitBreaker
	maxAttempts int
	logger      *slog.Logger
}

// New creates an accessor in the unfetched state.
func New(opts Options) *Accessor {
	maxAttempts := opts.MaxRetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = MaxRetryAttempts
	}
	cb := opts.Breaker
	if cb == nil {
		cb = breaker.New(breaker.Options{Threshold: maxAttempts})
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Accessor{
		collection:  opts.Collection,
		fetcher:     opts.Fetcher,
		exec:        opts.Executor,
		reconnector: opts.Reconnector,
		notifier:    notifier,
		breaker:     cb,
		maxAttempts: maxAttempts,
		logger:      logger.With("component", "accessor", "collection", opts.Collection),
	}
}

// Collection returns the collection handle.
func (a *Accessor) Collection() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.collection
}

// SetCollection points the accessor at another collection. Changing the
// handle resets the fetch state.
func (a *Accessor) SetCollection(collection string) {
	a.mu.Lock()
	changed := a.collection != collection
	a.collection = collection
	if changed {
		a.state = FetchState{}
	}
	a.mu.Unlock()
	if changed {
		a.breaker.Reset()
	}
}

// State returns a copy of the fetch state.
func (a *Accessor) State() FetchState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Breaker exposes the circuit guarding this collection.
func (a *Accessor) Breaker() *breaker.CircuitBreaker {
	return a.breaker
}

// GetAll fetches the collection unless it was already fetched cleanly, in
// which case it returns an empty slice without touching the store: the caller
// is expected to hold the previous result.
func (a *Accessor) GetAll(ctx context.Context, q model.Query) ([]model.Document, error) {
	a.mu.Lock()
	if a.state.DataFetched && !a.state.NetworkError {
		a.mu.Unlock()
		return []model.Document{}, nil
	}
	collection := a.collection
	a.mu.Unlock()

	if !a.breaker.Allow() {
		return nil, fmt.Errorf("%s: %w (retry in %s)", collection, ErrCircuitOpen, a.breaker.RetryAfter())
	}

	if q.Collection == "" {
		q.Collection = collection
	}
	docs, err := a.fetch(ctx, q)

	switch netstatus.Classify(err) {
	case netstatus.KindNone:
		a.breaker.RecordSuccess()
		a.mu.Lock()
		a.state = FetchState{DataFetched: true}
		a.mu.Unlock()
		if docs == nil {
			docs = []model.Document{}
		}
		return docs, nil

	case netstatus.KindCanceled:
		return nil, err

	case netstatus.KindNetwork:
		a.onNetworkFailure(ctx, collection, err)
		return nil, err

	case netstatus.KindPermission:
		a.markAttempted()
		a.notifier.Notify(ctx, notify.Notification{
			Level:      notify.LevelError,
			Category:   notify.CategoryPermission,
			Message:    "Accès refusé à ces données.",
			Collection: collection,
		})
		return nil, err

	default:
		a.markAttempted()
		return nil, err
	}
}

func (a *Accessor) fetch(ctx context.Context, q model.Query) ([]model.Document, error) {
	if a.exec == nil {
		return a.fetcher.Fetch(ctx, q)
	}
	return executor.DoWithRetries(ctx, a.exec, 1, func(ctx context.Context) ([]model.Document, error) {
		return a.fetcher.Fetch(ctx, q)
	})
}

func (a *Accessor) markAttempted() {
	a.mu.Lock()
	a.state.DataFetched = true
	a.state.NetworkError = false
	a.mu.Unlock()
}

func (a *Accessor) onNetworkFailure(ctx context.Context, collection string, err error) {
	a.mu.Lock()
	a.state.DataFetched = false
	a.state.NetworkError = true
	a.state.RetryAttempts++
	attempts := a.state.RetryAttempts
	exhausted := attempts >= a.maxAttempts
	if exhausted {
		a.state = FetchState{}
	}
	a.mu.Unlock()

	opened := a.breaker.RecordFailure()

	a.logger.Warn("network error while fetching",
		"attempt", attempts,
		"maxAttempts", a.maxAttempts,
		"error", err,
	)
	if exhausted || opened {
		a.logger.Warn("fetch state reset after repeated failures", "cooldown", a.breaker.RetryAfter().String())
	}
	a.notifier.Notify(ctx, notify.FetchWarning(collection, err))
}

// ResetFetchState returns to the unfetched state and closes the circuit.
func (a *Accessor) ResetFetchState() {
	a.mu.Lock()
	a.state = FetchState{}
	a.mu.Unlock()
	a.breaker.Reset()
}

// ReconnectAndRefetch reconnects the store. On success the fetch state is
// reset so the next GetAll performs a real fetch.
func (a *Accessor) ReconnectAndRefetch(ctx context.Context) bool {
	if a.reconnector == nil || !a.reconnector.Reconnect(ctx) {
		return false
	}
	a.ResetFetchState()
	return true
}
