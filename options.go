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
	"math/rand/v2"
	"time"

	"github.com/bufbuild/httpdisco/internal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultRefreshWindow is the refresh period used when no
	// WithRefreshWindow option is given.
	DefaultRefreshWindow = 5 * time.Second

	// DefaultMaxConcurrentUpdates is the number of cached services
	// refreshed at once when no WithMaxConcurrentUpdates option is given.
	DefaultMaxConcurrentUpdates = 1

	defaultScheme = "http"
)

// Option configures a Cache.
type Option interface {
	apply(*options)
}

// WithRefreshWindow sets the period between background refreshes of every
// cached service. A zero or negative window disables background refresh:
// services are then only looked up when first requested (or when
// WithMaxStaleness says their entry is too old).
//
// If no WithRefreshWindow option is used, DefaultRefreshWindow applies.
func WithRefreshWindow(window time.Duration) Option {
	return optionFunc(func(opts *options) {
		opts.refreshWindow = window
		opts.refreshWindowSet = true
	})
}

// WithMaxConcurrentUpdates caps how many cached services a refresh cycle
// looks up at the same time. This bounds the load a cycle puts on the
// discovery backend. Values below one are treated as one.
func WithMaxConcurrentUpdates(limit int) Option {
	return optionFunc(func(opts *options) {
		opts.maxConcurrentUpdates = limit
	})
}

// WithMaxStaleness sets how long a cached endpoint list may go without a
// successful lookup before Client and Clients stop trusting it and look
// the service up again. This matters mostly when background refresh is
// disabled or the backend keeps failing. Zero, the default, means cached
// entries never go stale.
//
// A stale entry is not removed: Endpoints still reports it, and the
// background refresh keeps trying to update it.
func WithMaxStaleness(maxAge time.Duration) Option {
	return optionFunc(func(opts *options) {
		opts.maxStaleness = maxAge
	})
}

// WithScheme sets the URL scheme of the base URL handed to the
// ClientFactory. The default is "http". The default factory also
// understands "https" and "h2c".
func WithScheme(scheme string) Option {
	return optionFunc(func(opts *options) {
		opts.scheme = scheme
	})
}

// WithLogger configures the logger used for background activity. Errors
// returned to callers are never logged; failed background refreshes are
// logged at warn level. If not specified, nothing is logged.
func WithLogger(logger *zap.Logger) Option {
	return optionFunc(func(opts *options) {
		opts.logger = logger
	})
}

// WithMetrics records cache activity on the given metrics. See NewMetrics.
func WithMetrics(metrics *Metrics) Option {
	return optionFunc(func(opts *options) {
		opts.metrics = metrics
	})
}

// WithLookupRateLimit limits how often the cache calls the discovery
// backend, across all services. Each live lookup waits for a token from
// a limiter with the given rate and burst. Coalesced callers share the
// wait of the one lookup they join.
func WithLookupRateLimit(limit rate.Limit, burst int) Option {
	return optionFunc(func(opts *options) {
		opts.rateLimiter = rate.NewLimiter(limit, burst)
	})
}

// WithRootContext configures the context that background work (the
// refresh loop and all backend lookups) runs under. If not specified,
// [context.Background] is used. Cancelling it has the same effect as
// calling Close, except that Close also waits for the refresh loop.
func WithRootContext(ctx context.Context) Option {
	return optionFunc(func(opts *options) {
		opts.rootCtx = ctx
	})
}

type optionFunc func(*options)

func (f optionFunc) apply(opts *options) {
	f(opts)
}

type options struct {
	rootCtx              context.Context //nolint:containedctx
	refreshWindow        time.Duration
	refreshWindowSet     bool
	maxConcurrentUpdates int
	maxStaleness         time.Duration
	scheme               string
	logger               *zap.Logger
	metrics              *Metrics
	rateLimiter          *rate.Limiter

	// for tests
	clock     internal.Clock
	intn      func(int) int
	cycleHook func(services int)
}

func (opts *options) applyDefaults() {
	if opts.rootCtx == nil {
		opts.rootCtx = context.Background()
	}
	if !opts.refreshWindowSet {
		opts.refreshWindow = DefaultRefreshWindow
	}
	if opts.maxConcurrentUpdates < 1 {
		opts.maxConcurrentUpdates = DefaultMaxConcurrentUpdates
	}
	if opts.scheme == "" {
		opts.scheme = defaultScheme
	}
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}
	if opts.clock == nil {
		opts.clock = internal.NewRealClock()
	}
	if opts.intn == nil {
		opts.intn = rand.IntN
	}
}
