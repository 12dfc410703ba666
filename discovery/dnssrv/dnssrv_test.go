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

package dnssrv

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/bufbuild/httpdisco/attribute"
	"github.com/bufbuild/httpdisco/discovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/dns/dnsmessage"
)

func TestBackendWithDomain(t *testing.T) {
	t.Parallel()

	resolver := newFakeDNSResolver(t, map[string][]dnsmessage.SRVResource{
		"_users._tcp.example.com.": {
			{Priority: 10, Weight: 5, Port: 8080, Target: dnsmessage.MustNewName("users-1.example.com.")},
			{Priority: 20, Weight: 1, Port: 8081, Target: dnsmessage.MustNewName("users-2.example.com.")},
		},
	})
	backend := New(resolver, WithDomain("example.com."))

	instances, err := backend.Instances(context.Background(), discovery.Query{Service: "users", HealthyOnly: true})
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "users-1.example.com", instances[0].Address)
	assert.Equal(t, 8080, instances[0].Port)
	assert.Equal(t, "users-1.example.com:8080", instances[0].ID)
	assert.Equal(t, "users-2.example.com", instances[1].Address)

	priority, ok := attribute.Get(instances[1].Attributes, Priority)
	require.True(t, ok)
	assert.Equal(t, uint16(20), priority)
	weight, ok := attribute.Get(instances[0].Attributes, Weight)
	require.True(t, ok)
	assert.Equal(t, uint16(5), weight)
}

func TestBackendFullName(t *testing.T) {
	t.Parallel()

	resolver := newFakeDNSResolver(t, map[string][]dnsmessage.SRVResource{
		"_http._tcp.orders.internal.": {
			{Priority: 1, Weight: 1, Port: 80, Target: dnsmessage.MustNewName("10-0-0-1.orders.internal.")},
		},
	})
	backend := New(resolver)

	instances, err := backend.Instances(context.Background(), discovery.Query{Service: "_http._tcp.orders.internal."})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "10-0-0-1.orders.internal:80", instances[0].ID)

	endpoints := discovery.Normalize(instances)
	assert.Equal(t, "10-0-0-1.orders.internal:80", endpoints[0].HostPort())
}

func TestBackendNotFound(t *testing.T) {
	t.Parallel()

	backend := New(newFakeDNSResolver(t, nil), WithDomain("example.com."), WithProtocol("udp"))
	instances, err := backend.Instances(context.Background(), discovery.Query{Service: "users"})
	require.NoError(t, err)
	assert.NotNil(t, instances)
	assert.Empty(t, instances)
}

func TestBackendResolverError(t *testing.T) {
	t.Parallel()

	lookupErr := errors.New("server misbehaving")
	backend := New(resolverFunc(func(context.Context, string, string, string) (string, []*net.SRV, error) {
		return "", nil, lookupErr
	}))
	_, err := backend.Instances(context.Background(), discovery.Query{Service: "users"})
	require.ErrorIs(t, err, lookupErr)
}

func TestBackendPartialResult(t *testing.T) {
	t.Parallel()

	backend := New(resolverFunc(func(_ context.Context, service, proto, name string) (string, []*net.SRV, error) {
		assert.Equal(t, "users", service)
		assert.Equal(t, "tcp", proto)
		assert.Equal(t, "example.com", name)
		return "", []*net.SRV{
			{Target: "users-1.example.com.", Port: 80},
			{Target: ".", Port: 0},
		}, &net.DNSError{Err: "cannot unmarshal DNS message", Name: name}
	}), WithDomain("example.com"), WithTimeout(0))
	instances, err := backend.Instances(context.Background(), discovery.Query{Service: "users"})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "users-1.example.com", instances[0].Address)
}

type resolverFunc func(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)

func (fn resolverFunc) LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error) {
	return fn(ctx, service, proto, name)
}

type fakeDNSResolver struct {
	t       *testing.T
	records map[string][]dnsmessage.SRVResource
}

func (r *fakeDNSResolver) Dial(context.Context, string, string) (net.Conn, error) {
	clientConn, serverConn := net.Pipe()
	go func() {
		var requestLength uint16
		if err := binary.Read(serverConn, binary.BigEndian, &requestLength); err != nil {
			r.t.Errorf("error reading dns request length: %v", err)
			return
		}
		requestData := make([]byte, requestLength)
		if _, err := io.ReadFull(serverConn, requestData); err != nil {
			r.t.Errorf("error reading dns request: %v", err)
			return
		}
		request := &dnsmessage.Message{}
		if err := request.Unpack(requestData); err != nil {
			r.t.Errorf("error unpacking dns request: %v", err)
			return
		}
		question := request.Questions[0]
		records, found := r.records[strings.ToLower(question.Name.String())]
		rcode := dnsmessage.RCodeSuccess
		if !found {
			rcode = dnsmessage.RCodeNameError
		}
		answers := []dnsmessage.Resource{}
		if question.Type == dnsmessage.TypeSRV {
			for _, record := range records {
				answers = append(answers, dnsmessage.Resource{
					Header: dnsmessage.ResourceHeader{
						Name:  question.Name,
						Type:  dnsmessage.TypeSRV,
						Class: dnsmessage.ClassINET,
						TTL:   30,
					},
					Body: &record,
				})
			}
		}
		response := &dnsmessage.Message{
			Header: dnsmessage.Header{
				ID:            request.ID,
				Response:      true,
				RCode:         rcode,
				Authoritative: true,
			},
			Questions: request.Questions,
			Answers:   answers,
		}
		responseData, err := response.Pack()
		if err != nil {
			r.t.Errorf("error packing dns response: %v", err)
			return
		}
		responseLength := uint16(len(responseData)) //nolint:gosec
		if err := binary.Write(serverConn, binary.BigEndian, &responseLength); err != nil {
			r.t.Errorf("error writing dns response length: %v", err)
			return
		}
		if _, err := serverConn.Write(responseData); err != nil {
			r.t.Errorf("error writing dns response: %v", err)
			return
		}
		if err := serverConn.Close(); err != nil {
			r.t.Errorf("error closing dns server connection: %v", err)
			return
		}
	}()
	return clientConn, nil
}

func newFakeDNSResolver(t *testing.T, records map[string][]dnsmessage.SRVResource) *net.Resolver {
	t.Helper()

	dialer := fakeDNSResolver{
		t:       t,
		records: records,
	}
	return &net.Resolver{
		PreferGo: true,
		Dial:     dialer.Dial,
	}
}
