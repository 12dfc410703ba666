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
	"net"
	"slices"
	"strconv"

	"github.com/bufbuild/httpdisco/attribute"
)

// Instance is one raw entry reported by a Backend.
type Instance struct {
	// ID is the backend-assigned identifier of the instance.
	ID string
	// Address is the host name or IP address of the instance.
	Address string
	// Port is the port the instance listens on.
	Port int
	// Tags is backend-supplied metadata. Order is not significant.
	Tags []string
	// Attributes carries typed, backend-specific metadata.
	Attributes attribute.Set
}

// Endpoint is a healthy, addressable instance of a service as stored in
// the cache. Endpoints are created fresh for every lookup and are not
// modified afterwards.
type Endpoint struct {
	ID         string
	Address    string
	Port       int
	Tags       []string
	Attributes attribute.Set
}

// HostPort returns the "host:port" form of the endpoint's address. This
// is the key used to deduplicate the results of one lookup; it is not a
// global identity.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// HasTag reports whether the endpoint carries the given tag.
func (e Endpoint) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// String returns the same value as HostPort.
func (e Endpoint) String() string {
	return e.HostPort()
}

// Normalize converts a raw backend result into a deduplicated endpoint
// list. Entries are visited in the order given; an entry whose host:port
// has already been seen is dropped, so the first occurrence wins. Nothing
// else is filtered or reordered.
//
// The result is never nil, even when instances is empty.
func Normalize(instances []Instance) []Endpoint {
	endpoints := make([]Endpoint, 0, len(instances))
	seen := make(map[string]struct{}, len(instances))
	for _, inst := range instances {
		endpoint := Endpoint{
			ID:         inst.ID,
			Address:    inst.Address,
			Port:       inst.Port,
			Tags:       slices.Clone(inst.Tags),
			Attributes: inst.Attributes,
		}
		key := endpoint.HostPort()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}
