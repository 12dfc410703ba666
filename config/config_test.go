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

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bufbuild/httpdisco"
	"github.com/bufbuild/httpdisco/discovery/dnssrv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const fullConfig = `
refresh_window: 10s
maximum_concurrent_updates: 4
max_staleness: 1m
scheme: h2c
lookup_rate_limit:
  rate: 50
  burst: 10
backend:
  kind: etcd
  etcd:
    endpoints: ["10.0.0.10:2379", "10.0.0.11:2379"]
    namespace: /prod/services
    dial_timeout: 2s
`

func TestLoad(t *testing.T) {
	t.Parallel()

	cfg, err := Load(strings.NewReader(fullConfig))
	require.NoError(t, err)
	require.NotNil(t, cfg.RefreshWindow)
	assert.Equal(t, 10*time.Second, *cfg.RefreshWindow)
	assert.Equal(t, 4, cfg.MaximumConcurrentUpdates)
	assert.Equal(t, time.Minute, cfg.MaxStaleness)
	assert.Equal(t, "h2c", cfg.Scheme)
	require.NotNil(t, cfg.LookupRateLimit)
	assert.InDelta(t, 50, cfg.LookupRateLimit.Rate, 0)
	assert.Equal(t, 10, cfg.LookupRateLimit.Burst)
	assert.Equal(t, KindEtcd, cfg.Backend.Kind)
	require.NotNil(t, cfg.Backend.Etcd)
	assert.Equal(t, []string{"10.0.0.10:2379", "10.0.0.11:2379"}, cfg.Backend.Etcd.Endpoints)
	assert.Equal(t, "/prod/services", cfg.Backend.Etcd.Namespace)
	assert.Equal(t, 2*time.Second, cfg.Backend.Etcd.DialTimeout)
	assert.Len(t, cfg.Options(), 5)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(strings.NewReader("backend: {kind: dns}\n"))
	require.NoError(t, err)
	assert.Nil(t, cfg.RefreshWindow)
	assert.Nil(t, cfg.LookupRateLimit)
	assert.Empty(t, cfg.Options())

	cfg, err = Load(strings.NewReader("refresh_window: 0s\nbackend: {kind: dns}\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.RefreshWindow)
	assert.Zero(t, *cfg.RefreshWindow)
	assert.Len(t, cfg.Options(), 1)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		config string
		errMsg string
	}{
		{name: "empty", config: "", errMsg: "backend.kind is required"},
		{name: "unknown_field", config: "refresh_interval: 5s\nbackend: {kind: dns}\n", errMsg: "refresh_interval"},
		{name: "unknown_kind", config: "backend: {kind: consul}\n", errMsg: `unknown backend kind "consul"`},
		{name: "bad_duration", config: "refresh_window: soon\nbackend: {kind: dns}\n", errMsg: "decoding config"},
		{name: "negative_updates", config: "maximum_concurrent_updates: -1\nbackend: {kind: dns}\n", errMsg: "maximum_concurrent_updates"},
		{name: "bad_scheme", config: "scheme: ftp\nbackend: {kind: dns}\n", errMsg: `unsupported scheme "ftp"`},
		{name: "bad_rate", config: "lookup_rate_limit: {rate: 0, burst: 1}\nbackend: {kind: dns}\n", errMsg: "lookup_rate_limit.rate"},
		{name: "bad_burst", config: "lookup_rate_limit: {rate: 1, burst: 0}\nbackend: {kind: dns}\n", errMsg: "lookup_rate_limit.burst"},
		{name: "etcd_no_endpoints", config: "backend: {kind: etcd}\n", errMsg: "backend.etcd.endpoints"},
		{name: "nacos_no_port", config: "backend: {kind: nacos, nacos: {host: nacos.internal}}\n", errMsg: "backend.nacos"},
		{name: "static_bad_host", config: "backend: {kind: static, static: {users: [\"10.0.0.1\"]}}\n", errMsg: "backend.static"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(strings.NewReader(testCase.config))
			require.ErrorContains(t, err, testCase.errMsg)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "httpdisco.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o600))
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, KindEtcd, cfg.Backend.Kind)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestStaticBackend(t *testing.T) {
	t.Parallel()

	cfg, err := Load(strings.NewReader(`
refresh_window: 0s
scheme: https
backend:
  kind: static
  static:
    users: ["10.0.0.1:8443", "10.0.0.1:8443"]
`))
	require.NoError(t, err)
	backend, closeBackend, err := cfg.OpenBackend(zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, closeBackend()) })

	cache := httpdisco.New(backend, nil, cfg.Options()...)
	t.Cleanup(func() { assert.NoError(t, cache.Close()) })
	client, err := cache.Client(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, "https://10.0.0.1:8443", client.BaseURL.String())
	endpoints, ok := cache.Endpoints("users")
	require.True(t, ok)
	assert.Len(t, endpoints, 1)
}

func TestDNSBackend(t *testing.T) {
	t.Parallel()

	cfg, err := Load(strings.NewReader(`
backend:
  kind: dns
  dns: {domain: service.consul, proto: tcp, timeout: 1s}
`))
	require.NoError(t, err)
	backend, closeBackend, err := cfg.OpenBackend(nil)
	require.NoError(t, err)
	assert.IsType(t, &dnssrv.Backend{}, backend)
	require.NoError(t, closeBackend())
}
