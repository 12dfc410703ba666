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

// Package discovery defines the contract between the address cache and
// the system that knows which instances of a service are currently
// healthy, along with the endpoint type the cache stores.
//
// A [Backend] answers a single question: given a service name, which
// instances are healthy right now? Implementations live in sub-packages
// (etcd, nacos, dnssrv); [Static] is an in-memory backend for tests and
// local development.
//
// Backends are called out-of-band by the cache and may return duplicate
// entries (for example, when an instance matches more than one tag).
// [Normalize] turns a raw result into the deduplicated form the cache keeps.
package discovery

import (
	"context"
)

// Query describes one lookup.
type Query struct {
	// Service is the logical name being resolved.
	Service string
	// HealthyOnly asks the backend to only report instances that pass
	// their health checks. The cache always sets this.
	HealthyOnly bool
}

// Backend is a discovery system that can list the instances of a service.
type Backend interface {
	// Instances returns the instances matching the query, in the order
	// the backend reports them. An empty result with a nil error means
	// the service exists but has no matching instances.
	//
	// Backends are expected to apply their own timeouts. The cache does
	// not bound how long a lookup may take.
	Instances(ctx context.Context, query Query) ([]Instance, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, query Query) ([]Instance, error)

// Instances calls f.
func (f BackendFunc) Instances(ctx context.Context, query Query) ([]Instance, error) {
	return f(ctx, query)
}
