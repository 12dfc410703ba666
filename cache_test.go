// Copyright 2026 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpdisco_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bufbuild/httpdisco"
	"github.com/bufbuild/httpdisco/discovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestResolveCoalescesConcurrentCalls(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	backend := newGatedBackend(discovery.BackendFunc(func(_ context.Context, _ discovery.Query) ([]discovery.Instance, error) {
		return []discovery.Instance{
			{ID: "1", Address: "10.0.0.1", Port: 80},
			{ID: "1-again", Address: "10.0.0.1", Port: 80},
			{ID: "2", Address: "10.0.0.2", Port: 80},
		}, nil
	}))
	cache := newTestCache(t, backend, httpdisco.WithRefreshWindow(0))

	const callers = 20
	results := make([][]discovery.Endpoint, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = cache.Resolve(ctx, "users")
		}()
	}
	backend.waitStarted(t, ctx)
	// Give the remaining callers time to join the in-flight lookup.
	time.Sleep(100 * time.Millisecond)
	backend.release()
	wg.Wait()

	assert.Equal(t, int64(1), backend.calls.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 2)
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, "10.0.0.1:80", results[0][0].HostPort())
	assert.Equal(t, "1", results[0][0].ID)
}

func TestResolveCoalescedCallersShareError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	backendErr := errors.New("backend unavailable")
	backend := newGatedBackend(discovery.BackendFunc(func(context.Context, discovery.Query) ([]discovery.Instance, error) {
		return nil, backendErr
	}))
	cache := newTestCache(t, backend, httpdisco.WithRefreshWindow(0))

	const callers = 5
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = cache.Resolve(ctx, "users")
		}()
	}
	backend.waitStarted(t, ctx)
	time.Sleep(100 * time.Millisecond)
	backend.release()
	wg.Wait()

	assert.Equal(t, int64(1), backend.calls.Load())
	var first *httpdisco.LookupError
	require.ErrorAs(t, errs[0], &first)
	assert.Equal(t, "users", first.Service)
	require.ErrorIs(t, first, backendErr)
	for _, err := range errs[1:] {
		var lookupErr *httpdisco.LookupError
		require.ErrorAs(t, err, &lookupErr)
		assert.Same(t, first, lookupErr)
	}

	_, cached := cache.Endpoints("users")
	assert.False(t, cached, "failed lookup must not populate the cache")
}

func TestResolveStoresAndOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	static := discovery.NewStatic()
	static.Set("users", discovery.Instance{Address: "10.0.0.1", Port: 80})
	cache := newTestCache(t, static, httpdisco.WithRefreshWindow(0))

	_, ok := cache.Endpoints("users")
	assert.False(t, ok)
	assert.Empty(t, cache.Services())

	endpoints, err := cache.Resolve(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1:80"}, hostPorts(endpoints))

	cached, ok := cache.Endpoints("users")
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.0.1:80"}, hostPorts(cached))

	static.Set("users",
		discovery.Instance{Address: "10.0.0.2", Port: 80},
		discovery.Instance{Address: "10.0.0.3", Port: 80},
	)
	_, err = cache.Resolve(ctx, "users")
	require.NoError(t, err)
	cached, _ = cache.Endpoints("users")
	assert.Equal(t, []string{"10.0.0.2:80", "10.0.0.3:80"}, hostPorts(cached))

	static.Set("orders")
	_, err = cache.Resolve(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, cache.Services())
}

func TestResolveErrorKeepsPreviousEndpoints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	static := discovery.NewStatic()
	static.Set("users", discovery.Instance{Address: "10.0.0.1", Port: 80})
	cache := newTestCache(t, static, httpdisco.WithRefreshWindow(0))

	_, err := cache.Resolve(ctx, "users")
	require.NoError(t, err)

	static.Remove("users")
	_, err = cache.Resolve(ctx, "users")
	require.ErrorIs(t, err, discovery.ErrUnknownService)

	cached, ok := cache.Endpoints("users")
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.0.1:80"}, hostPorts(cached))
}

func TestResolveSequentialCallsEachLookUp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := &countingBackend{Backend: staticBackend(t, map[string][]string{"users": {"10.0.0.1:80"}})}
	cache := newTestCache(t, backend, httpdisco.WithRefreshWindow(0))

	for range 3 {
		_, err := cache.Resolve(ctx, "users")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), backend.calls.Load())
	assert.True(t, backend.lastQuery().HealthyOnly)
}

func TestResolveCallerGivesUp(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	backend := newGatedBackend(staticBackend(t, map[string][]string{"users": {"10.0.0.1:80"}}))
	cache := newTestCache(t, backend, httpdisco.WithRefreshWindow(0))

	patientDone := make(chan error, 1)
	go func() {
		_, err := cache.Resolve(ctx, "users")
		patientDone <- err
	}()
	backend.waitStarted(t, ctx)

	impatientCtx, impatientCancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer impatientCancel()
	_, err := cache.Resolve(impatientCtx, "users")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	backend.release()
	select {
	case err := <-patientDone:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("lookup never completed")
	}
	assert.Equal(t, int64(1), backend.calls.Load())
	_, ok := cache.Endpoints("users")
	assert.True(t, ok)
}

func TestResolveRateLimited(t *testing.T) {
	t.Parallel()

	backend := &countingBackend{Backend: staticBackend(t, map[string][]string{"users": {"10.0.0.1:80"}})}
	cache := newTestCache(t, backend,
		httpdisco.WithRefreshWindow(0),
		httpdisco.WithLookupRateLimit(rate.Every(time.Hour), 1),
	)

	_, err := cache.Resolve(context.Background(), "users")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = cache.Resolve(ctx, "users")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), backend.calls.Load())
}

func TestClosedCache(t *testing.T) {
	t.Parallel()

	cache := httpdisco.New(staticBackend(t, map[string][]string{"users": {"10.0.0.1:80"}}), nil)
	require.NoError(t, cache.Close())
	require.NoError(t, cache.Close())

	_, err := cache.Resolve(context.Background(), "users")
	require.ErrorIs(t, err, httpdisco.ErrClosed)
	_, err = cache.Client(context.Background(), "users")
	require.ErrorIs(t, err, httpdisco.ErrClosed)
}

func newTestCache(t *testing.T, backend discovery.Backend, opts ...httpdisco.Option) *httpdisco.Cache {
	t.Helper()
	cache := httpdisco.New(backend, nil, opts...)
	t.Cleanup(func() {
		assert.NoError(t, cache.Close())
	})
	return cache
}

func staticBackend(t *testing.T, services map[string][]string) *discovery.Static {
	t.Helper()
	static, err := discovery.NewStaticHostPorts(services)
	require.NoError(t, err)
	return static
}

func hostPorts(endpoints []discovery.Endpoint) []string {
	result := make([]string, len(endpoints))
	for i, endpoint := range endpoints {
		result[i] = endpoint.HostPort()
	}
	return result
}

type countingBackend struct {
	discovery.Backend
	calls atomic.Int64

	mu    sync.Mutex
	last  discovery.Query
	names []string
}

func (b *countingBackend) Instances(ctx context.Context, query discovery.Query) ([]discovery.Instance, error) {
	b.calls.Add(1)
	b.mu.Lock()
	b.last = query
	b.names = append(b.names, query.Service)
	b.mu.Unlock()
	return b.Backend.Instances(ctx, query)
}

func (b *countingBackend) lastQuery() discovery.Query {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

func (b *countingBackend) queried() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.names...)
}

// gatedBackend blocks every lookup until release is called.
type gatedBackend struct {
	backend   discovery.Backend
	calls     atomic.Int64
	started   chan struct{}
	gate      chan struct{}
	closeGate sync.Once
}

func newGatedBackend(backend discovery.Backend) *gatedBackend {
	return &gatedBackend{
		backend: backend,
		started: make(chan struct{}, 100),
		gate:    make(chan struct{}),
	}
}

func (b *gatedBackend) Instances(ctx context.Context, query discovery.Query) ([]discovery.Instance, error) {
	b.calls.Add(1)
	b.started <- struct{}{}
	select {
	case <-b.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.backend.Instances(ctx, query)
}

func (b *gatedBackend) release() {
	b.closeGate.Do(func() { close(b.gate) })
}

func (b *gatedBackend) waitStarted(t *testing.T, ctx context.Context) { //nolint:revive
	t.Helper()
	select {
	case <-b.started:
	case <-ctx.Done():
		t.Fatal("backend was never called")
	}
}
