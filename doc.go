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

// Package httpdisco provides HTTP clients for services located through a
// service-discovery backend, without putting a discovery lookup on the
// path of every request.
//
// A [Cache] maps service names to the healthy endpoints last reported by a
// [discovery.Backend]. The first request for a service looks it up; after
// that the cached endpoints are used, and a background loop re-resolves
// every cached service once per refresh window. Lookups for the same
// service never overlap: callers (and the background loop) that ask for a
// service while a lookup is in flight wait for that lookup and all get
// its result.
//
//	backend, _ := discovery.NewStaticHostPorts(map[string][]string{
//	    "users": {"10.0.0.1:8080", "10.0.0.2:8080"},
//	})
//	cache := httpdisco.New(backend, nil,
//	    httpdisco.WithRefreshWindow(30*time.Second),
//	    httpdisco.WithMaxConcurrentUpdates(4),
//	)
//	defer cache.Close()
//
//	client, err := cache.Client(ctx, "users")
//	if err != nil {
//	    return err
//	}
//	var user User
//	err = client.GetJSON(ctx, "/users/42", &user)
//
// # Endpoint Selection
//
// Each call to [Cache.Client] picks one endpoint uniformly at random. The
// cache does no health checking of its own (it relies on the backend only
// reporting healthy instances), does not retry failed requests on another
// endpoint, and does not weight endpoints. A service that resolves to no
// endpoints fails with [ErrNoEndpoints].
//
// # Failures and Staleness
//
// A failed lookup is returned to every caller waiting on it as a
// [*LookupError] and does not touch the cache. Failures during background
// refresh are logged and otherwise ignored, so a service keeps its last
// known endpoints while the backend is unavailable. To bound how old those
// endpoints may get, use [WithMaxStaleness].
//
// # HTTP Clients
//
// The *http.Client inside each [Client] comes from a [ClientFactory]. The
// default, [TransportFactory], shares one transport per endpoint so that
// clients handed out for the same endpoint reuse connections. It supports
// the "http", "https", and "h2c" (HTTP/2 over plaintext) schemes.
package httpdisco
