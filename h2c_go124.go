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

//go:build go1.24

package httpdisco

import (
	"net/http"
	"time"
)

// newH2CTransport supports the "h2c" scheme, HTTP/2 over clear-text. As of
// Go 1.24 net/http can do this itself once unencrypted HTTP/2 is the only
// enabled protocol.
func newH2CTransport(opts *transportOptions) *leafTransport {
	var protocols http.Protocols
	protocols.SetUnencryptedHTTP2(true)

	transport := &http.Transport{
		Proxy:                  opts.proxyFunc,
		DialContext:            opts.dialFunc,
		ForceAttemptHTTP2:      true,
		IdleConnTimeout:        opts.idleConnTimeout,
		MaxResponseHeaderBytes: opts.maxResponseHeaderBytes,
		ExpectContinueTimeout:  1 * time.Second,
		Protocols:              &protocols,
	}
	return &leafTransport{
		roundTripper: schemeRewriter{scheme: "http", transport: transport},
		close:        transport.CloseIdleConnections,
	}
}
