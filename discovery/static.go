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

package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
)

// ErrUnknownService is returned by Static for a service it has no entry for.
var ErrUnknownService = errors.New("unknown service")

// Static is an in-memory Backend. Its contents can be replaced at any time,
// which makes it convenient for tests and for fixed deployments where the
// set of hosts is known up front.
type Static struct {
	mu        sync.RWMutex
	instances map[string][]Instance
}

// NewStatic returns an empty Static backend.
func NewStatic() *Static {
	return &Static{instances: map[string][]Instance{}}
}

// NewStaticHostPorts returns a Static backend populated from "host:port"
// strings, keyed by service name. Instance IDs are assigned from the
// host:port value.
func NewStaticHostPorts(services map[string][]string) (*Static, error) {
	static := NewStatic()
	for service, hostPorts := range services {
		instances := make([]Instance, 0, len(hostPorts))
		for _, hostPort := range hostPorts {
			host, portStr, err := net.SplitHostPort(hostPort)
			if err != nil {
				return nil, fmt.Errorf("service %q: %w", service, err)
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, fmt.Errorf("service %q: invalid port in %q: %w", service, hostPort, err)
			}
			instances = append(instances, Instance{ID: hostPort, Address: host, Port: port})
		}
		static.Set(service, instances...)
	}
	return static, nil
}

// Set replaces the instances reported for service.
func (s *Static) Set(service string, instances ...Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[service] = slices.Clone(instances)
}

// Remove forgets service, so that later lookups fail with ErrUnknownService.
func (s *Static) Remove(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instances, service)
}

// Instances implements Backend. Static has no notion of health, so
// query.HealthyOnly has no effect.
func (s *Static) Instances(ctx context.Context, query Query) ([]Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	instances, ok := s.instances[query.Service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, query.Service)
	}
	return slices.Clone(instances), nil
}
