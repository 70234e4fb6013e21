package accessor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/bizdata/internal/breaker"
	"github.com/syntrixbase/bizdata/internal/executor"
	"github.com/syntrixbase/bizdata/internal/netstatus"
	"github.com/syntrixbase/bizdata/internal/notify"
	"github.com/syntrixbase/bizdata/pkg/model"
)

type scriptedFetcher struct {
	mu      sync.Mutex
	calls   int
	results []error
	docs    []model.Document
	queries []model.Query
}

func (f *scriptedFetcher) Fetch(ctx context.Context, q model.Query) ([]model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.queries = append(f.queries, q)
	if i := f.calls - 1; i < len(f.results) && f.results[i] != nil {
		return nil, f.results[i]
	}
	return model.CloneAll(f.docs), nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stubReconnector struct {
	ok    bool
	calls int
}

func (s *stubReconnector) Reconnect(ctx context.Context) bool {
	s.calls++
	return s.ok
}

var docs = []model.Document{{"id": "e1", "name": "Alice"}}

func TestGetAll_DedupGuard(t *testing.T) {
	f := &scriptedFetcher{docs: docs}
	a := New(Options{Collection: "employees", Fetcher: f})

	first, err := a.GetAll(context.Background(), model.Query{})
	require.NoError(t, err)
	assert.Len(t, first, 1)
	assert.Equal(t, FetchState{DataFetched: true}, a.State())

	second, err := a.GetAll(context.Background(), model.Query{})
	require.NoError(t, err)
	assert.NotNil(t, second)
	assert.Empty(t, second)
	assert.Equal(t, 1, f.Calls())
	assert.Equal(t, "employees", f.queries[0].Collection)
}

func TestGetAll_ResetAllowsRefetch(t *testing.T) {
	f := &scriptedFetcher{docs: docs}
	a := New(Options{Collection: "employees", Fetcher: f})

	_, _ = a.GetAll(context.Background(), model.Query{})
	a.ResetFetchState()
	again, err := a.GetAll(context.Background(), model.Query{})
	require.NoError(t, err)
	assert.Len(t, again, 1)
	assert.Equal(t, 2, f.Calls())
}

func TestGetAll_NetworkFailures(t *testing.T) {
	netErr := netstatus.Unavailable("get")
	f := &scriptedFetcher{results: []error{netErr, netErr, netErr}, docs: docs}
	rec := &notify.Recorder{}
	cb := breaker.New(breaker.Options{Threshold: MaxRetryAttempts, Cooldown: 10 * time.Millisecond})
	a := New(Options{Collection: "employees", Fetcher: f, Notifier: rec, Breaker: cb})
	ctx := context.Background()

	_, err := a.GetAll(ctx, model.Query{})
	assert.ErrorIs(t, err, model.ErrUnavailable)
	assert.Equal(t, FetchState{NetworkError: true, RetryAttempts: 1}, a.State())

	_, err = a.GetAll(ctx, model.Query{})
	assert.Error(t, err)
	assert.Equal(t, FetchState{NetworkError: true, RetryAttempts: 2}, a.State())

	_, err = a.GetAll(ctx, model.Query{})
	assert.Error(t, err)
	assert.Equal(t, FetchState{}, a.State(), "counter resets after the third failure")
	assert.Equal(t, breaker.StateOpen, cb.State())
	assert.Equal(t, 3, rec.Levels(notify.LevelWarning))

	// Cooling down: no remote call.
	_, err = a.GetAll(ctx, model.Query{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, f.Calls())

	time.Sleep(20 * time.Millisecond)
	got, err := a.GetAll(ctx, model.Query{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 4, f.Calls())
	assert.Equal(t, breaker.StateClosed, cb.State())
}

func TestGetAll_NonNetworkErrorMarksAttempted(t *testing.T) {
	logical := errors.New("missing required field")
	f := &scriptedFetcher{results: []error{logical}, docs: docs}
	a := New(Options{Collection: "contracts", Fetcher: f})

	_, err := a.GetAll(context.Background(), model.Query{})
	assert.ErrorIs(t, err, logical)
	assert.Equal(t, FetchState{DataFetched: true}, a.State())

	got, err := a.GetAll(context.Background(), model.Query{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, f.Calls())
}

func TestGetAll_PermissionNotifies(t *testing.T) {
	f := &scriptedFetcher{results: []error{model.ErrPermissionDenied}}
	rec := &notify.Recorder{}
	a := New(Options{Collection: "salaries", Fetcher: f, Notifier: rec})

	_, err := a.GetAll(context.Background(), model.Query{})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
	assert.Equal(t, 1, rec.Count(notify.CategoryPermission))
	assert.True(t, a.State().DataFetched)
}

func TestGetAll_CanceledLeavesState(t *testing.T) {
	f := &scriptedFetcher{results: []error{context.Canceled}}
	a := New(Options{Collection: "employees", Fetcher: f})

	_, err := a.GetAll(context.Background(), model.Query{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, FetchState{}, a.State())
}

func TestGetAll_SuspendedWarning(t *testing.T) {
	f := &scriptedFetcher{results: []error{errors.New("unavailable: project suspended")}}
	rec := &notify.Recorder{}
	a := New(Options{Collection: "employees", Fetcher: f, Notifier: rec})

	_, err := a.GetAll(context.Background(), model.Query{})
	assert.Error(t, err)
	assert.Equal(t, 1, rec.Count(notify.CategorySuspended))
}

func TestGetAll_WithExecutorTimeout(t *testing.T) {
	slow := FetchFunc(func(ctx context.Context, q model.Query) ([]model.Document, error) {
		select {
		case <-time.After(time.Second):
			return docs, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	exec := executor.New(executor.Options{Timeout: 10 * time.Millisecond, BaseDelay: time.Millisecond})
	a := New(Options{Collection: "employees", Fetcher: slow, Executor: exec})

	_, err := a.GetAll(context.Background(), model.Query{})
	assert.ErrorIs(t, err, executor.ErrTimeout)
	assert.Equal(t, FetchState{NetworkError: true, RetryAttempts: 1}, a.State())
}

func TestSetCollection_ResetsState(t *testing.T) {
	f := &scriptedFetcher{docs: docs}
	a := New(Options{Collection: "employees", Fetcher: f})
	_, _ = a.GetAll(context.Background(), model.Query{})

	a.SetCollection("employees")
	assert.True(t, a.State().DataFetched)

	a.SetCollection("archive/employees")
	assert.Equal(t, FetchState{}, a.State())
	assert.Equal(t, "archive/employees", a.Collection())
}

func TestReconnectAndRefetch(t *testing.T) {
	f := &scriptedFetcher{docs: docs}

	failing := &stubReconnector{ok: false}
	a := New(Options{Collection: "employees", Fetcher: f, Reconnector: failing})
	_, _ = a.GetAll(context.Background(), model.Query{})
	assert.False(t, a.ReconnectAndRefetch(context.Background()))
	assert.True(t, a.State().DataFetched, "state kept when reconnect fails")

	ok := &stubReconnector{ok: true}
	a = New(Options{Collection: "employees", Fetcher: f, Reconnector: ok})
	_, _ = a.GetAll(context.Background(), model.Query{})
	assert.True(t, a.ReconnectAndRefetch(context.Background()))
	assert.Equal(t, FetchState{}, a.State())
	assert.Equal(t, 1, ok.calls)

	assert.False(t, New(Options{Fetcher: f}).ReconnectAndRefetch(context.Background()))
}
