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

// Package config loads cache settings and the choice of discovery backend
// from a YAML file:
//
//	refresh_window: 5s
//	maximum_concurrent_updates: 4
//	max_staleness: 1m
//	scheme: h2c
//	lookup_rate_limit:
//	  rate: 50
//	  burst: 10
//	backend:
//	  kind: etcd
//	  etcd:
//	    endpoints: ["10.0.0.10:2379"]
//	    namespace: /services
//
// Durations use Go syntax ("500ms", "5s"). An explicit "0s" refresh window
// disables background refresh; leaving it out keeps the default.
package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/bufbuild/httpdisco"
	"github.com/bufbuild/httpdisco/discovery"
	"github.com/bufbuild/httpdisco/discovery/dnssrv"
	"github.com/bufbuild/httpdisco/discovery/etcd"
	"github.com/bufbuild/httpdisco/discovery/nacos"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Backend kinds.
const (
	KindEtcd   = "etcd"
	KindNacos  = "nacos"
	KindDNS    = "dns"
	KindStatic = "static"
)

// Config is the top-level configuration document.
type Config struct {
	RefreshWindow            *time.Duration `yaml:"refresh_window"`
	MaximumConcurrentUpdates int            `yaml:"maximum_concurrent_updates"`
	MaxStaleness             time.Duration  `yaml:"max_staleness"`
	Scheme                   string         `yaml:"scheme"`
	LookupRateLimit          *RateLimit     `yaml:"lookup_rate_limit"`
	Backend                  Backend        `yaml:"backend"`
}

// RateLimit bounds backend lookups per second.
type RateLimit struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// Backend selects and configures the discovery backend.
type Backend struct {
	Kind   string              `yaml:"kind"`
	Etcd   *Etcd               `yaml:"etcd"`
	Nacos  *Nacos              `yaml:"nacos"`
	DNS    *DNS                `yaml:"dns"`
	Static map[string][]string `yaml:"static"`
}

// Etcd configures the etcd backend.
type Etcd struct {
	Endpoints   []string      `yaml:"endpoints"`
	Namespace   string        `yaml:"namespace"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
}

// Nacos configures the Nacos backend.
type Nacos struct {
	Host        string   `yaml:"host"`
	Port        uint64   `yaml:"port"`
	NamespaceID string   `yaml:"namespace_id"`
	Group       string   `yaml:"group"`
	Clusters    []string `yaml:"clusters"`
	TimeoutMs   uint64   `yaml:"timeout_ms"`
	LogDir      string   `yaml:"log_dir"`
	CacheDir    string   `yaml:"cache_dir"`
}

// DNS configures the DNS SRV backend.
type DNS struct {
	Proto   string        `yaml:"proto"`
	Domain  string        `yaml:"domain"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoadFile reads and validates the configuration at path.
func LoadFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	cfg, err := Load(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Load decodes and validates a configuration document. Unknown fields are
// rejected.
func Load(r io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	var cfg Config
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for mistakes that would otherwise only
// show up at the first lookup.
func (c *Config) Validate() error {
	if c.MaximumConcurrentUpdates < 0 {
		return fmt.Errorf("maximum_concurrent_updates must not be negative, got %d", c.MaximumConcurrentUpdates)
	}
	if c.MaxStaleness < 0 {
		return fmt.Errorf("max_staleness must not be negative, got %v", c.MaxStaleness)
	}
	switch c.Scheme {
	case "", "http", "https", "h2c":
	default:
		return fmt.Errorf("unsupported scheme %q", c.Scheme)
	}
	if limit := c.LookupRateLimit; limit != nil {
		if limit.Rate <= 0 {
			return fmt.Errorf("lookup_rate_limit.rate must be positive, got %v", limit.Rate)
		}
		if limit.Burst < 1 {
			return fmt.Errorf("lookup_rate_limit.burst must be at least 1, got %d", limit.Burst)
		}
	}
	switch c.Backend.Kind {
	case KindEtcd:
		if c.Backend.Etcd == nil || len(c.Backend.Etcd.Endpoints) == 0 {
			return errors.New("backend.etcd.endpoints is required")
		}
	case KindNacos:
		if c.Backend.Nacos == nil || c.Backend.Nacos.Host == "" || c.Backend.Nacos.Port == 0 {
			return errors.New("backend.nacos.host and backend.nacos.port are required")
		}
	case KindDNS:
	case KindStatic:
		if _, err := discovery.NewStaticHostPorts(c.Backend.Static); err != nil {
			return fmt.Errorf("backend.static: %w", err)
		}
	case "":
		return errors.New("backend.kind is required")
	default:
		return fmt.Errorf("unknown backend kind %q", c.Backend.Kind)
	}
	return nil
}

// Options returns the cache options described by the configuration.
func (c *Config) Options() []httpdisco.Option {
	var opts []httpdisco.Option
	if c.RefreshWindow != nil {
		opts = append(opts, httpdisco.WithRefreshWindow(*c.RefreshWindow))
	}
	if c.MaximumConcurrentUpdates > 0 {
		opts = append(opts, httpdisco.WithMaxConcurrentUpdates(c.MaximumConcurrentUpdates))
	}
	if c.MaxStaleness > 0 {
		opts = append(opts, httpdisco.WithMaxStaleness(c.MaxStaleness))
	}
	if c.Scheme != "" {
		opts = append(opts, httpdisco.WithScheme(c.Scheme))
	}
	if limit := c.LookupRateLimit; limit != nil {
		opts = append(opts, httpdisco.WithLookupRateLimit(rate.Limit(limit.Rate), limit.Burst))
	}
	return opts
}

// OpenBackend creates the configured backend. The returned function
// releases any connection the backend holds and must be called once the
// backend is no longer used.
func (c *Config) OpenBackend(logger *zap.Logger) (discovery.Backend, func() error, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func() error { return nil }
	switch c.Backend.Kind {
	case KindEtcd:
		cfg := c.Backend.Etcd
		dialTimeout := cfg.DialTimeout
		if dialTimeout == 0 {
			dialTimeout = 5 * time.Second
		}
		opts := []etcd.Option{etcd.WithLogger(logger.Named("etcd"))}
		if cfg.Namespace != "" {
			opts = append(opts, etcd.WithNamespace(cfg.Namespace))
		}
		backend, err := etcd.Dial(clientv3.Config{
			Endpoints:   cfg.Endpoints,
			DialTimeout: dialTimeout,
			Username:    cfg.Username,
			Password:    cfg.Password,
			Logger:      logger.Named("etcd-client"),
		}, opts...)
		if err != nil {
			return nil, nil, err
		}
		return backend, backend.Close, nil
	case KindNacos:
		cfg := c.Backend.Nacos
		var opts []nacos.Option
		if cfg.Group != "" {
			opts = append(opts, nacos.WithGroup(cfg.Group))
		}
		if len(cfg.Clusters) > 0 {
			opts = append(opts, nacos.WithClusters(cfg.Clusters...))
		}
		backend, err := nacos.Dial(nacos.Config{
			Host:        cfg.Host,
			Port:        cfg.Port,
			NamespaceID: cfg.NamespaceID,
			TimeoutMs:   cfg.TimeoutMs,
			LogDir:      cfg.LogDir,
			CacheDir:    cfg.CacheDir,
		}, opts...)
		if err != nil {
			return nil, nil, err
		}
		return backend, backend.Close, nil
	case KindDNS:
		var opts []dnssrv.Option
		if cfg := c.Backend.DNS; cfg != nil {
			if cfg.Domain != "" {
				opts = append(opts, dnssrv.WithDomain(cfg.Domain))
			}
			if cfg.Proto != "" {
				opts = append(opts, dnssrv.WithProtocol(cfg.Proto))
			}
			if cfg.Timeout > 0 {
				opts = append(opts, dnssrv.WithTimeout(cfg.Timeout))
			}
		}
		return dnssrv.New(net.DefaultResolver, opts...), noop, nil
	case KindStatic:
		backend, err := discovery.NewStaticHostPorts(c.Backend.Static)
		if err != nil {
			return nil, nil, err
		}
		return backend, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend kind %q", c.Backend.Kind)
	}
}
