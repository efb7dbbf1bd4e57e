// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so tests can pass nil.
type Metrics struct {
	callsTotal    *prometheus.CounterVec
	callErrors    *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	findDuration  prometheus.Histogram
	poolLive      prometheus.Gauge
	healthy       prometheus.Gauge
	indexedTools  prometheus.Gauge
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	syncAdditions prometheus.Counter
}

// New creates and registers the gateway collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_provider_calls_total",
			Help: "Tool calls dispatched to providers.",
		}, []string{"provider"}),
		callErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_provider_call_errors_total",
			Help: "Failed provider calls by error kind.",
		}, []string{"provider", "kind"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_provider_call_duration_seconds",
			Help:    "Provider call latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"provider"}),
		findDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "switchboard_find_duration_seconds",
			Help:    "Discovery ranking latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		poolLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_pool_connections",
			Help: "Live provider connections.",
		}),
		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_healthy_providers",
			Help: "Providers currently allowed by the health monitor.",
		}),
		indexedTools: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "switchboard_indexed_tools",
			Help: "Tools in the discovery corpus.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_cache_hits_total",
			Help: "Warm starts served from the metadata cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_cache_misses_total",
			Help: "Starts that required provider probing.",
		}),
		syncAdditions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_autosync_additions_total",
			Help: "Providers added by auto-sync.",
		}),
	}

	reg.MustRegister(
		m.callsTotal, m.callErrors, m.callDuration, m.findDuration,
		m.poolLive, m.healthy, m.indexedTools,
		m.cacheHits, m.cacheMisses, m.syncAdditions,
	)
	return m
}

// ObserveCall records a provider call outcome.
func (m *Metrics) ObserveCall(provider string, duration time.Duration, errKind string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(provider).Inc()
	m.callDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if errKind != "" {
		m.callErrors.WithLabelValues(provider, errKind).Inc()
	}
}

// ObserveFind records a ranking pass.
func (m *Metrics) ObserveFind(duration time.Duration) {
	if m == nil {
		return
	}
	m.findDuration.Observe(duration.Seconds())
}

// SetPoolLive updates the live-connection gauge.
func (m *Metrics) SetPoolLive(n int) {
	if m == nil {
		return
	}
	m.poolLive.Set(float64(n))
}

// SetHealthy updates the healthy-provider gauge.
func (m *Metrics) SetHealthy(n int) {
	if m == nil {
		return
	}
	m.healthy.Set(float64(n))
}

// SetIndexedTools updates the corpus-size gauge.
func (m *Metrics) SetIndexedTools(n int) {
	if m == nil {
		return
	}
	m.indexedTools.Set(float64(n))
}

// CacheHit records a warm start.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// CacheMiss records a cold start.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// SyncAdditions records auto-sync imports.
func (m *Metrics) SyncAdditions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.syncAdditions.Add(float64(n))
}
