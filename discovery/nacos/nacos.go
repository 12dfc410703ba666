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

// Package nacos provides a discovery backend backed by a Nacos naming
// service.
package nacos

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/bufbuild/httpdisco/attribute"
	"github.com/bufbuild/httpdisco/discovery"
	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/model"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
)

// TagsMetadataKey is the instance metadata entry holding a comma-separated
// list of tags.
const TagsMetadataKey = "tags"

//nolint:gochecknoglobals
var (
	// Weight is the Nacos weight of an instance.
	Weight = attribute.NewKey[float64]("nacos.weight")
	// Cluster is the Nacos cluster an instance belongs to.
	Cluster = attribute.NewKey[string]("nacos.cluster")
	// Metadata is the metadata an instance registered with.
	Metadata = attribute.NewKey[map[string]string]("nacos.metadata")
)

// NamingClient is the part of the Nacos naming client used by the backend.
type NamingClient interface {
	SelectInstances(param vo.SelectInstancesParam) ([]model.Instance, error)
}

// Option configures a Backend.
type Option func(*Backend)

// WithGroup sets the Nacos group services are looked up in. The SDK
// default group is used when unset.
func WithGroup(group string) Option {
	return func(b *Backend) {
		b.group = group
	}
}

// WithClusters restricts lookups to the given clusters.
func WithClusters(clusters ...string) Option {
	return func(b *Backend) {
		b.clusters = clusters
	}
}

// Backend is a discovery.Backend over a Nacos naming client.
type Backend struct {
	client   NamingClient
	closer   func()
	group    string
	clusters []string
}

var _ discovery.Backend = (*Backend)(nil)

// New creates a backend that queries client.
func New(client NamingClient, opts ...Option) *Backend {
	backend := &Backend{client: client}
	for _, opt := range opts {
		opt(backend)
	}
	return backend
}

// Config describes how to reach a Nacos server.
type Config struct {
	Host        string
	Port        uint64
	NamespaceID string
	TimeoutMs   uint64
	LogDir      string
	CacheDir    string
}

// Dial creates a Nacos naming client and returns a backend that owns it.
// Callers must Close it.
func Dial(cfg Config, opts ...Option) (*Backend, error) {
	timeout := cfg.TimeoutMs
	if timeout == 0 {
		timeout = 5000
	}
	clientConfig := constant.ClientConfig{
		NamespaceId:         cfg.NamespaceID,
		TimeoutMs:           timeout,
		NotLoadCacheAtStart: true,
		LogDir:              cfg.LogDir,
		CacheDir:            cfg.CacheDir,
		LogLevel:            "warn",
	}
	serverConfigs := []constant.ServerConfig{
		{
			IpAddr: cfg.Host,
			Port:   cfg.Port,
		},
	}
	namingClient, err := clients.NewNamingClient(
		vo.NacosClientParam{
			ClientConfig:  &clientConfig,
			ServerConfigs: serverConfigs,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create nacos client: %w", err)
	}
	backend := New(namingClient, opts...)
	backend.closer = namingClient.CloseClient
	return backend, nil
}

// Close releases the client created by Dial. It does nothing for a backend
// created with New.
func (b *Backend) Close() error {
	if b.closer != nil {
		b.closer()
	}
	return nil
}

// Instances implements discovery.Backend.
//
// The SDK call takes no context. If ctx is done first, Instances returns
// ctx.Err() and the call finishes in the background, bounded by the
// client's own timeout.
func (b *Backend) Instances(ctx context.Context, query discovery.Query) ([]discovery.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type result struct {
		instances []model.Instance
		err       error
	}
	results := make(chan result, 1)
	go func() {
		instances, err := b.client.SelectInstances(vo.SelectInstancesParam{
			ServiceName: query.Service,
			GroupName:   b.group,
			Clusters:    b.clusters,
			HealthyOnly: query.HealthyOnly,
		})
		results <- result{instances: instances, err: err}
	}()
	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-results:
	}
	if res.err != nil {
		if isEmptyList(res.err) {
			return []discovery.Instance{}, nil
		}
		return nil, fmt.Errorf("failed to get service instances: %w", res.err)
	}
	instances := make([]discovery.Instance, 0, len(res.instances))
	for _, inst := range res.instances {
		if query.HealthyOnly && !(inst.Enable && inst.Healthy) {
			continue
		}
		instances = append(instances, convert(inst))
	}
	return instances, nil
}

func convert(inst model.Instance) discovery.Instance {
	port := int(inst.Port) //nolint:gosec
	id := inst.InstanceId
	if id == "" {
		id = net.JoinHostPort(inst.Ip, strconv.Itoa(port))
	}
	var tags []string
	for _, tag := range strings.Split(inst.Metadata[TagsMetadataKey], ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	attrs := []attribute.Value{Weight.Value(inst.Weight)}
	if inst.ClusterName != "" {
		attrs = append(attrs, Cluster.Value(inst.ClusterName))
	}
	if len(inst.Metadata) > 0 {
		attrs = append(attrs, Metadata.Value(inst.Metadata))
	}
	return discovery.Instance{
		ID:         id,
		Address:    inst.Ip,
		Port:       port,
		Tags:       tags,
		Attributes: attribute.NewSet(attrs...),
	}
}

// The SDK reports a service with no instances as an error rather than an
// empty list.
func isEmptyList(err error) bool {
	return strings.Contains(err.Error(), "instance list is empty")
}
