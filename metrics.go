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
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "httpdisco"

// Metrics holds the Prometheus collectors updated by a Cache. One Metrics
// value may be shared by several caches. A nil *Metrics records nothing.
type Metrics struct {
	lookups         *prometheus.CounterVec
	coalesced       prometheus.Counter
	refreshCycles   prometheus.Counter
	refreshFailures prometheus.Counter
	cachedServices  prometheus.Gauge
}

// NewMetrics creates the cache collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "backend_lookups_total",
			Help:      "Live lookups issued to the discovery backend, by result.",
		}, []string{"result"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "coalesced_waiters_total",
			Help:      "Resolve calls that received the result of a lookup shared with other callers.",
		}),
		refreshCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_cycles_total",
			Help:      "Completed background refresh cycles.",
		}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_failures_total",
			Help:      "Services whose background refresh failed.",
		}),
		cachedServices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "cached_services",
			Help:      "Services currently held in the address cache.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		metrics.lookups,
		metrics.coalesced,
		metrics.refreshCycles,
		metrics.refreshFailures,
		metrics.cachedServices,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (m *Metrics) observeLookup(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.lookups.WithLabelValues(result).Inc()
}

func (m *Metrics) observeWait(shared bool) {
	if m == nil || !shared {
		return
	}
	m.coalesced.Inc()
}

func (m *Metrics) observeRefreshCycle(failures int) {
	if m == nil {
		return
	}
	m.refreshCycles.Inc()
	m.refreshFailures.Add(float64(failures))
}

func (m *Metrics) setCachedServices(n int) {
	if m == nil {
		return
	}
	m.cachedServices.Set(float64(n))
}
