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
	"errors"
	"fmt"
)

var (
	// ErrNoEndpoints is returned when a service resolved successfully but
	// has no healthy endpoints to pick from.
	ErrNoEndpoints = errors.New("no healthy endpoints")

	// ErrClosed is returned by a Cache that has been closed.
	ErrClosed = errors.New("cache is closed")
)

// LookupError is returned when the discovery backend fails to resolve a
// service. Every caller that was waiting on the same lookup receives the
// same *LookupError.
type LookupError struct {
	Service string
	Err     error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %q: %v", e.Service, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// FanOutError is returned by Clients when getting a client for one of
// the requested services fails. It names the first service that failed;
// no clients are returned for the others.
type FanOutError struct {
	Service string
	Err     error
}

func (e *FanOutError) Error() string {
	return fmt.Sprintf("get client for %q: %v", e.Service, e.Err)
}

func (e *FanOutError) Unwrap() error {
	return e.Err
}
