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
	"github.com/bufbuild/httpdisco/internal"
)

// WithClock replaces the clock used for refresh timing and staleness.
func WithClock(clock internal.Clock) Option {
	return optionFunc(func(opts *options) {
		opts.clock = clock
	})
}

// WithIntn replaces the random index source used for endpoint selection.
func WithIntn(intn func(int) int) Option {
	return optionFunc(func(opts *options) {
		opts.intn = intn
	})
}

// WithCycleHook registers a function called at the end of every refresh
// cycle with the number of services that were refreshed.
func WithCycleHook(hook func(services int)) Option {
	return optionFunc(func(opts *options) {
		opts.cycleHook = hook
	})
}

func CacheTransportCount(c *Cache) int {
	return TransportCount(c.ownedFactory)
}

func TransportCount(f *TransportFactory) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}
