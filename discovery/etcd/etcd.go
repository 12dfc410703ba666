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

// Package etcd provides a discovery backend that reads instance records
// from etcd.
//
// Each instance is a JSON-encoded [Record] stored under
//
//	<namespace>/<service>/<id>
//
// Registrations are usually attached to a lease so that instances which
// stop heart-beating disappear on their own; see [Backend.Put].
package etcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/bufbuild/httpdisco/attribute"
	"github.com/bufbuild/httpdisco/discovery"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// DefaultNamespace is the key prefix used when none is configured.
const DefaultNamespace = "/services"

//nolint:gochecknoglobals
var (
	// Version is the Record.Version of an instance.
	Version = attribute.NewKey[string]("etcd.version")
	// Metadata is the Record.Metadata of an instance.
	Metadata = attribute.NewKey[map[string]string]("etcd.metadata")
	// ModRevision is the etcd revision at which the record last changed.
	ModRevision = attribute.NewKey[int64]("etcd.mod_revision")
)

// Record is the value stored for each instance.
type Record struct {
	ID string `json:"id,omitempty"`
	// Address and Port locate the instance. Endpoint, a "host:port"
	// string, is used when Address is empty.
	Address  string            `json:"address,omitempty"`
	Port     int               `json:"port,omitempty"`
	Endpoint string            `json:"endpoint,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Version  string            `json:"version,omitempty"`
	Healthy  *bool             `json:"healthy,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Option configures a Backend.
type Option func(*Backend)

// WithNamespace sets the key prefix that services live under.
func WithNamespace(namespace string) Option {
	return func(b *Backend) {
		b.namespace = namespace
	}
}

// WithLogger sets the logger used to report records that can't be decoded.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// Backend is a discovery.Backend over an etcd key space.
type Backend struct {
	kv        clientv3.KV
	client    *clientv3.Client
	namespace string
	logger    *zap.Logger
}

var _ discovery.Backend = (*Backend)(nil)

// New creates a backend that reads from kv. A *clientv3.Client is a KV.
func New(kv clientv3.KV, opts ...Option) *Backend {
	backend := &Backend{
		kv:        kv,
		namespace: DefaultNamespace,
	}
	for _, opt := range opts {
		opt(backend)
	}
	if backend.logger == nil {
		backend.logger = zap.NewNop()
	}
	backend.namespace = "/" + strings.Trim(backend.namespace, "/")
	return backend
}

// Dial connects to etcd and returns a backend that owns the connection.
// Callers must Close it.
func Dial(cfg clientv3.Config, opts ...Option) (*Backend, error) {
	client, err := clientv3.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to etcd: %w", err)
	}
	backend := New(client, opts...)
	backend.client = client
	return backend, nil
}

// Close closes the connection opened by Dial. It does nothing for a
// backend created with New.
func (b *Backend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

// Instances implements discovery.Backend. Records that fail to decode are
// skipped, as are records explicitly marked unhealthy when the query asks
// for healthy instances only.
func (b *Backend) Instances(ctx context.Context, query discovery.Query) ([]discovery.Instance, error) {
	prefix := b.prefix(query.Service)
	resp, err := b.kv.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", prefix, err)
	}
	instances := make([]discovery.Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		key := string(kv.Key)
		var record Record
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			b.logger.Warn("skipping malformed record", zap.String("key", key), zap.Error(err))
			continue
		}
		if query.HealthyOnly && record.Healthy != nil && !*record.Healthy {
			continue
		}
		instance, err := record.instance(strings.TrimPrefix(key, prefix))
		if err != nil {
			b.logger.Warn("skipping malformed record", zap.String("key", key), zap.Error(err))
			continue
		}
		instance.Attributes = instance.Attributes.With(ModRevision.Value(kv.ModRevision))
		instances = append(instances, instance)
	}
	return instances, nil
}

// Put stores record for service. Pass clientv3.WithLease to tie the
// registration to a lease.
func (b *Backend) Put(ctx context.Context, service string, record Record, opts ...clientv3.OpOption) error {
	if record.ID == "" {
		return errors.New("record has no ID")
	}
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = b.kv.Put(ctx, b.prefix(service)+record.ID, string(value), opts...)
	return err
}

// Delete removes the record with the given ID.
func (b *Backend) Delete(ctx context.Context, service, id string) error {
	_, err := b.kv.Delete(ctx, b.prefix(service)+id)
	return err
}

func (b *Backend) prefix(service string) string {
	return b.namespace + "/" + service + "/"
}

func (r *Record) instance(keyID string) (discovery.Instance, error) {
	address, port := r.Address, r.Port
	if address == "" {
		if r.Endpoint == "" {
			return discovery.Instance{}, errors.New("record has no address")
		}
		host, portStr, err := net.SplitHostPort(r.Endpoint)
		if err != nil {
			return discovery.Instance{}, err
		}
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return discovery.Instance{}, fmt.Errorf("invalid port in %q: %w", r.Endpoint, err)
		}
		address = host
	}
	if port <= 0 || port > 65535 {
		return discovery.Instance{}, fmt.Errorf("invalid port %d", port)
	}
	id := r.ID
	if id == "" {
		id = keyID
	}
	var attrs []attribute.Value
	if r.Version != "" {
		attrs = append(attrs, Version.Value(r.Version))
	}
	if len(r.Metadata) > 0 {
		attrs = append(attrs, Metadata.Value(r.Metadata))
	}
	return discovery.Instance{
		ID:         id,
		Address:    address,
		Port:       port,
		Tags:       r.Tags,
		Attributes: attribute.NewSet(attrs...),
	}, nil
}
