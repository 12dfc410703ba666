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
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

//nolint:gochecknoglobals
var (
	defaultDialer = &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
)

// TransportOption configures a TransportFactory.
type TransportOption interface {
	applyToTransport(*transportOptions)
}

// WithDialer configures the function used to establish network
// connections. If not specified, a [net.Dialer] with a 30-second dial
// timeout and 30-second TCP keep-alive is used.
func WithDialer(dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)) TransportOption {
	return transportOptionFunc(func(opts *transportOptions) {
		opts.dialFunc = dialFunc
	})
}

// WithTLSConfig configures TLS for "https" endpoints. The handshake
// timeout defaults to 10 seconds when zero.
func WithTLSConfig(config *tls.Config, handshakeTimeout time.Duration) TransportOption {
	return transportOptionFunc(func(opts *transportOptions) {
		opts.tlsClientConfig = config
		opts.tlsHandshakeTimeout = handshakeTimeout
	})
}

// WithRequestTimeout limits each request made with a created client to
// the given duration, from sending the first byte of the request to
// reading the last byte of the response body. Zero means no limit.
func WithRequestTimeout(duration time.Duration) TransportOption {
	return transportOptionFunc(func(opts *transportOptions) {
		opts.requestTimeout = duration
	})
}

// WithIdleConnectionTimeout configures how long an idle connection is
// kept open. The default is 90 seconds.
func WithIdleConnectionTimeout(duration time.Duration) TransportOption {
	return transportOptionFunc(func(opts *transportOptions) {
		opts.idleConnTimeout = duration
	})
}

// WithMaxResponseHeaderBytes limits the size of response headers. The
// default is 1 MB.
func WithMaxResponseHeaderBytes(limit int) TransportOption {
	return transportOptionFunc(func(opts *transportOptions) {
		opts.maxResponseHeaderBytes = int64(limit)
	})
}

// WithNoProxy disables HTTP proxies. By default proxies are configured
// from the environment with [http.ProxyFromEnvironment].
func WithNoProxy() TransportOption {
	return transportOptionFunc(func(opts *transportOptions) {
		opts.noProxy = true
	})
}

type transportOptionFunc func(*transportOptions)

func (f transportOptionFunc) applyToTransport(opts *transportOptions) {
	f(opts)
}

type transportOptions struct {
	dialFunc               func(ctx context.Context, network, addr string) (net.Conn, error)
	proxyFunc              func(*http.Request) (*url.URL, error)
	noProxy                bool
	tlsClientConfig        *tls.Config
	tlsHandshakeTimeout    time.Duration
	requestTimeout         time.Duration
	idleConnTimeout        time.Duration
	maxResponseHeaderBytes int64
}

func (opts *transportOptions) applyDefaults() {
	if opts.dialFunc == nil {
		opts.dialFunc = defaultDialer.DialContext
	}
	if opts.noProxy {
		opts.proxyFunc = nil
	} else {
		opts.proxyFunc = http.ProxyFromEnvironment
	}
	if opts.maxResponseHeaderBytes == 0 {
		opts.maxResponseHeaderBytes = 1 << 20
	}
	if opts.idleConnTimeout <= 0 {
		opts.idleConnTimeout = 90 * time.Second
	}
	if opts.tlsHandshakeTimeout == 0 {
		opts.tlsHandshakeTimeout = 10 * time.Second
	}
}

var errFactoryClosed = errors.New("transport factory is closed")

// TransportFactory is the default ClientFactory. It keeps one transport
// per "scheme://host:port", so that every client handed out for the same
// endpoint shares a connection pool.
//
// Supported schemes are "http", "https", and "h2c" (HTTP/2 over plaintext).
type TransportFactory struct {
	opts transportOptions

	mu         sync.Mutex
	closed     bool
	transports map[string]*leafTransport
}

type leafTransport struct {
	hostPort     string
	roundTripper http.RoundTripper
	close        func()
}

// NewTransportFactory creates a factory with the given options.
func NewTransportFactory(options ...TransportOption) *TransportFactory {
	var opts transportOptions
	for _, opt := range options {
		opt.applyToTransport(&opts)
	}
	opts.applyDefaults()
	return &TransportFactory{
		opts:       opts,
		transports: map[string]*leafTransport{},
	}
}

// New implements ClientFactory.
func (f *TransportFactory) New(baseURL *url.URL) (*http.Client, error) {
	leaf, err := f.transportFor(baseURL.Scheme, baseURL.Host)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: leaf.roundTripper,
		Timeout:   f.opts.requestTimeout,
	}, nil
}

// Close closes idle connections of every transport and makes later calls
// to New fail.
func (f *TransportFactory) Close() error {
	f.mu.Lock()
	transports := f.transports
	f.transports = nil
	f.closed = true
	f.mu.Unlock()
	for _, leaf := range transports {
		leaf.close()
	}
	return nil
}

func (f *TransportFactory) transportFor(scheme, hostPort string) (*leafTransport, error) {
	key := scheme + "://" + hostPort
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errFactoryClosed
	}
	if leaf, ok := f.transports[key]; ok {
		return leaf, nil
	}
	var leaf *leafTransport
	switch scheme {
	case "http", "https":
		leaf = newSimpleTransport(&f.opts)
	case "h2c":
		leaf = newH2CTransport(&f.opts)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", scheme)
	}
	leaf.hostPort = hostPort
	f.transports[key] = leaf
	return leaf, nil
}

// Retain closes and forgets the transports of every host:port that is not
// in hostPorts. Clients already handed out for a forgotten endpoint keep
// working; they only lose their idle connections. A Cache that created its
// own factory calls Retain with the endpoints it still holds each time it
// stores a lookup result.
func (f *TransportFactory) Retain(hostPorts []string) {
	keep := make(map[string]struct{}, len(hostPorts))
	for _, hostPort := range hostPorts {
		keep[hostPort] = struct{}{}
	}
	var dropped []*leafTransport
	f.mu.Lock()
	for key, leaf := range f.transports {
		if _, ok := keep[leaf.hostPort]; !ok {
			dropped = append(dropped, leaf)
			delete(f.transports, key)
		}
	}
	f.mu.Unlock()
	for _, leaf := range dropped {
		leaf.close()
	}
}

func newSimpleTransport(opts *transportOptions) *leafTransport {
	transport := &http.Transport{
		Proxy:                  opts.proxyFunc,
		DialContext:            opts.dialFunc,
		ForceAttemptHTTP2:      true,
		IdleConnTimeout:        opts.idleConnTimeout,
		TLSHandshakeTimeout:    opts.tlsHandshakeTimeout,
		TLSClientConfig:        opts.tlsClientConfig,
		MaxResponseHeaderBytes: opts.maxResponseHeaderBytes,
		ExpectContinueTimeout:  1 * time.Second,
	}
	return &leafTransport{roundTripper: transport, close: transport.CloseIdleConnections}
}

// schemeRewriter sends requests made with a custom URL scheme (like "h2c")
// to a transport that only understands "http".
type schemeRewriter struct {
	scheme    string
	transport http.RoundTripper
}

func (s schemeRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme == s.scheme {
		return s.transport.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.URL.Scheme = s.scheme
	return s.transport.RoundTrip(req)
}
