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

//go:build !go1.24

package httpdisco

import (
	"context"
	"crypto/tls"
	"net"

	"golang.org/x/net/http2"
)

// newH2CTransport supports the "h2c" scheme, HTTP/2 over clear-text.
// Before Go 1.24 this needs the golang.org/x/net/http2 client. Proxy and
// TLS settings do not apply.
func newH2CTransport(opts *transportOptions) *leafTransport {
	dial := opts.dialFunc
	transport := &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dial(ctx, network, addr)
		},
		MaxHeaderListSize: uint32(opts.maxResponseHeaderBytes), //nolint:gosec
		IdleConnTimeout:   opts.idleConnTimeout,
	}
	return &leafTransport{
		roundTripper: schemeRewriter{scheme: "http", transport: transport},
		close:        transport.CloseIdleConnections,
	}
}
