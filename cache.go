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

package httpdisco

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/bufbuild/httpdisco/discovery"
	"github.com/bufbuild/httpdisco/internal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Cache resolves service names to endpoints through a discovery backend,
// remembers the results, and keeps them fresh in the background. It is
// safe for concurrent use.
//
// A Cache must be closed when no longer needed, to stop its background
// refresh loop.
type Cache struct {
	backend discovery.Backend
	factory ClientFactory
	// set when the factory was created by New; closed by Close and pruned
	// as endpoints leave the cache
	ownedFactory *TransportFactory

	refreshWindow        time.Duration
	maxConcurrentUpdates int
	maxStaleness         time.Duration
	scheme               string
	logger               *zap.Logger
	metrics              *Metrics
	limiter              *rate.Limiter
	clock                internal.Clock
	intn                 func(int) int
	cycleHook            func(services int)

	ctx        context.Context //nolint:containedctx
	cancel     context.CancelFunc
	closeOnce  sync.Once
	doneSignal chan struct{}

	// lookups holds at most one in-flight backend call per service.
	lookups singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	endpoints []discovery.Endpoint
	updated   time.Time
}

// New creates a cache that looks services up using backend and builds
// clients for them using factory. If factory is nil, a TransportFactory
// with default settings is used (and closed along with the cache).
//
// Unless disabled with WithRefreshWindow, a background loop starts
// immediately that re-resolves every cached service once per refresh
// window.
func New(backend discovery.Backend, factory ClientFactory, opts ...Option) *Cache {
	var options options
	for _, opt := range opts {
		opt.apply(&options)
	}
	options.applyDefaults()

	ctx, cancel := context.WithCancel(options.rootCtx)
	cache := &Cache{
		backend:              backend,
		factory:              factory,
		refreshWindow:        options.refreshWindow,
		maxConcurrentUpdates: options.maxConcurrentUpdates,
		maxStaleness:         options.maxStaleness,
		scheme:               options.scheme,
		logger:               options.logger,
		metrics:              options.metrics,
		limiter:              options.rateLimiter,
		clock:                options.clock,
		intn:                 options.intn,
		cycleHook:            options.cycleHook,
		ctx:                  ctx,
		cancel:               cancel,
		doneSignal:           make(chan struct{}),
		entries:              map[string]cacheEntry{},
	}
	if cache.factory == nil {
		transports := NewTransportFactory()
		cache.factory = transports
		cache.ownedFactory = transports
	}
	cache.startRefresh()
	return cache
}

// Close stops background refresh and waits for the refresh loop to exit.
// Lookups still in flight are cancelled. Calling Close more than once is
// harmless.
func (c *Cache) Close() error {
	c.closeOnce.Do(c.cancel)
	<-c.doneSignal
	if c.ownedFactory != nil {
		return c.ownedFactory.Close()
	}
	return nil
}

// Resolve looks service up in the discovery backend and stores the result
// in the cache, replacing any previous value.
//
// If a lookup for the same service is already in flight (started by
// another caller or by the background refresh), Resolve waits for that
// lookup instead of starting a second one, and returns its result. All
// callers joined to one lookup observe the same outcome.
//
// The lookup itself runs under the cache's root context. If ctx ends
// first, Resolve returns ctx.Err() but the lookup carries on for the
// other callers. A failed lookup does not change the cache and is
// reported as a *LookupError.
//
// The returned slice belongs to the caller.
func (c *Cache) Resolve(ctx context.Context, service string) ([]discovery.Endpoint, error) {
	if c.ctx.Err() != nil {
		return nil, ErrClosed
	}
	resultCh := c.lookups.DoChan(service, func() (any, error) {
		return c.lookup(service)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultCh:
		c.metrics.observeWait(res.Shared)
		if res.Err != nil {
			return nil, res.Err
		}
		endpoints, _ := res.Val.([]discovery.Endpoint)
		return slices.Clone(endpoints), nil
	}
}

// lookup performs one live backend call. It is only ever invoked through
// c.lookups, so calls for the same service never overlap.
func (c *Cache) lookup(service string) ([]discovery.Endpoint, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(c.ctx); err != nil {
			c.metrics.observeLookup(err)
			return nil, &LookupError{Service: service, Err: err}
		}
	}
	instances, err := c.backend.Instances(c.ctx, discovery.Query{
		Service:     service,
		HealthyOnly: true,
	})
	c.metrics.observeLookup(err)
	if err != nil {
		return nil, &LookupError{Service: service, Err: err}
	}
	endpoints := discovery.Normalize(instances)
	c.store(service, endpoints)
	return endpoints, nil
}

func (c *Cache) store(service string, endpoints []discovery.Endpoint) {
	c.mu.Lock()
	c.entries[service] = cacheEntry{endpoints: endpoints, updated: c.clock.Now()}
	size := len(c.entries)
	var live []string
	if c.ownedFactory != nil {
		for _, entry := range c.entries {
			for _, endpoint := range entry.endpoints {
				live = append(live, endpoint.HostPort())
			}
		}
	}
	c.mu.Unlock()
	c.metrics.setCachedServices(size)
	if c.ownedFactory != nil {
		c.ownedFactory.Retain(live)
	}
}

// Endpoints returns the endpoints last stored for service, and whether
// the service is cached at all. It never contacts the backend and ignores
// WithMaxStaleness. A cached service may have zero endpoints.
func (c *Cache) Endpoints(service string) ([]discovery.Endpoint, bool) {
	c.mu.RLock()
	entry, ok := c.entries[service]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return slices.Clone(entry.endpoints), true
}

// Services returns the names of all cached services, sorted.
func (c *Cache) Services() []string {
	c.mu.RLock()
	services := make([]string, 0, len(c.entries))
	for service := range c.entries {
		services = append(services, service)
	}
	c.mu.RUnlock()
	sort.Strings(services)
	return services
}

// fresh returns the cached endpoints for service if there are any and
// they are not older than the staleness limit.
func (c *Cache) fresh(service string) ([]discovery.Endpoint, bool) {
	c.mu.RLock()
	entry, ok := c.entries[service]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.maxStaleness > 0 && c.clock.Since(entry.updated) > c.maxStaleness {
		return nil, false
	}
	return entry.endpoints, true
}
