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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bufbuild/httpdisco/discovery"
	"golang.org/x/sync/errgroup"
)

// ClientFactory creates the HTTP client used to talk to one endpoint.
type ClientFactory interface {
	// New returns an HTTP client for requests to baseURL, which has the
	// form "scheme://host:port".
	New(baseURL *url.URL) (*http.Client, error)
}

// ClientFactoryFunc adapts a function to the ClientFactory interface.
type ClientFactoryFunc func(baseURL *url.URL) (*http.Client, error)

// New calls f.
func (f ClientFactoryFunc) New(baseURL *url.URL) (*http.Client, error) {
	return f(baseURL)
}

// Client is an HTTP client bound to one endpoint of a service.
type Client struct {
	// Service is the name the client was requested for.
	Service string
	// Endpoint is the endpoint that was picked.
	Endpoint discovery.Endpoint
	// BaseURL is "scheme://host:port" of the endpoint. Paths given to
	// the request helpers are resolved against it.
	BaseURL *url.URL
	// HTTPClient is the client created by the ClientFactory.
	HTTPClient *http.Client
}

// Client returns a client for one of the healthy endpoints of service,
// chosen uniformly at random.
//
// If the service is cached, no lookup happens. Otherwise (or if the cached
// entry is older than WithMaxStaleness allows) the service is resolved
// first, sharing any lookup already in flight; see Resolve.
//
// If the service has no endpoints, the returned error wraps ErrNoEndpoints.
func (c *Cache) Client(ctx context.Context, service string) (*Client, error) {
	if c.ctx.Err() != nil {
		return nil, ErrClosed
	}
	endpoints, ok := c.fresh(service)
	if !ok {
		var err error
		endpoints, err = c.Resolve(ctx, service)
		if err != nil {
			return nil, err
		}
	}
	return c.build(service, endpoints)
}

// Clients returns one client per requested service, in the same order.
// Services are resolved concurrently. If any of them fails, the others
// are abandoned and a *FanOutError naming the failed service is returned
// with no clients.
func (c *Cache) Clients(ctx context.Context, services []string) ([]*Client, error) {
	clients := make([]*Client, len(services))
	grp, grpCtx := errgroup.WithContext(ctx)
	for i, service := range services {
		grp.Go(func() error {
			client, err := c.Client(grpCtx, service)
			if err != nil {
				return &FanOutError{Service: service, Err: err}
			}
			clients[i] = client
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return clients, nil
}

func (c *Cache) build(service string, endpoints []discovery.Endpoint) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("service %q: %w", service, ErrNoEndpoints)
	}
	endpoint := endpoints[c.intn(len(endpoints))]
	baseURL := &url.URL{Scheme: c.scheme, Host: endpoint.HostPort()}
	httpClient, err := c.factory.New(baseURL)
	if err != nil {
		return nil, fmt.Errorf("service %q: create client for %s: %w", service, baseURL, err)
	}
	return &Client{
		Service:    service,
		Endpoint:   endpoint,
		BaseURL:    baseURL,
		HTTPClient: httpClient,
	}, nil
}

// URL resolves path against the client's base URL. The path may include
// a query string.
func (c *Client) URL(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	if ref.IsAbs() || ref.Host != "" {
		return nil, fmt.Errorf("%q is not a relative path", path)
	}
	if !strings.HasPrefix(ref.Path, "/") {
		ref.Path = "/" + ref.Path
	}
	return c.BaseURL.ResolveReference(ref), nil
}

// NewRequest creates a request for path on the client's endpoint.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	target, err := c.URL(path)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, method, target.String(), body)
}

// Do sends req with the client's HTTP client.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.HTTPClient.Do(req)
}

// GetJSON issues a GET for path and decodes the JSON response body into
// out. A non-2xx response is returned as a *StatusError.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.doJSON(req, out)
}

// PostJSON sends in as a JSON body to path and decodes the JSON response
// into out, which may be nil to discard it. A non-2xx response is
// returned as a *StatusError.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := c.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.doJSON(req, out)
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &StatusError{StatusCode: resp.StatusCode, Body: body}
	}
	if out == nil {
		_, err = io.Copy(io.Discard, resp.Body)
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

const maxErrorBodyBytes = 64 << 10

// StatusError reports a non-2xx response from one of the JSON helpers.
type StatusError struct {
	StatusCode int
	// Body holds up to 64 KiB of the response body.
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}
