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

// Package dnssrv provides a discovery backend that reads DNS SRV records.
//
// With a domain configured, service "users" is looked up as
// "_users._tcp.<domain>". Without one, the service name is used as the
// full SRV record name. DNS has no notion of health: every record that
// is published is reported, and it is up to whoever publishes them (for
// example Consul's DNS interface or a Kubernetes headless service) to
// only publish healthy targets.
package dnssrv

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bufbuild/httpdisco/attribute"
	"github.com/bufbuild/httpdisco/discovery"
)

//nolint:gochecknoglobals
var (
	// Priority is the SRV priority of the record an instance came from.
	Priority = attribute.NewKey[uint16]("dns.srv.priority")
	// Weight is the SRV weight of the record an instance came from.
	Weight = attribute.NewKey[uint16]("dns.srv.weight")
)

// Resolver is the part of [net.Resolver] used by the backend.
type Resolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// Option configures a Backend.
type Option func(*Backend)

// WithDomain sets the domain that service names are looked up under.
func WithDomain(domain string) Option {
	return func(b *Backend) {
		b.domain = domain
	}
}

// WithProtocol sets the protocol label used with WithDomain. The default
// is "tcp".
func WithProtocol(proto string) Option {
	return func(b *Backend) {
		b.proto = proto
	}
}

// WithTimeout bounds each lookup. The default is 5 seconds; zero disables
// the limit.
func WithTimeout(timeout time.Duration) Option {
	return func(b *Backend) {
		b.timeout = timeout
	}
}

// Backend is a discovery.Backend over DNS SRV records.
type Backend struct {
	resolver Resolver
	domain   string
	proto    string
	timeout  time.Duration
}

var _ discovery.Backend = (*Backend)(nil)

// New creates a backend using resolver, which is usually a *net.Resolver
// such as net.DefaultResolver.
func New(resolver Resolver, opts ...Option) *Backend {
	backend := &Backend{
		resolver: resolver,
		proto:    "tcp",
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(backend)
	}
	return backend
}

// Instances implements discovery.Backend. A name with no SRV records
// yields an empty result rather than an error.
func (b *Backend) Instances(ctx context.Context, query discovery.Query) ([]discovery.Instance, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	var records []*net.SRV
	var err error
	if b.domain != "" {
		_, records, err = b.resolver.LookupSRV(ctx, query.Service, b.proto, b.domain)
	} else {
		_, records, err = b.resolver.LookupSRV(ctx, "", "", query.Service)
	}
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return []discovery.Instance{}, nil
		}
		if len(records) == 0 {
			return nil, err
		}
		// Some records were malformed; keep the valid ones.
	}
	instances := make([]discovery.Instance, 0, len(records))
	for _, record := range records {
		host := strings.TrimSuffix(record.Target, ".")
		if host == "" {
			// "." means the service is decidedly not available
			continue
		}
		instances = append(instances, discovery.Instance{
			ID:      net.JoinHostPort(host, strconv.Itoa(int(record.Port))),
			Address: host,
			Port:    int(record.Port),
			Attributes: attribute.NewSet(
				Priority.Value(record.Priority),
				Weight.Value(record.Weight),
			),
		})
	}
	return instances, nil
}
