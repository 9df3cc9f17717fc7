// Copyright 2024 The gVisor Authors.
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

package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metrics holds the process-level counters this driver exports.
// Nothing in pkg/pmu imports prometheus: the PMI handler stays
// allocation-free (SPEC_FULL.md §4.6), so these are updated only from
// the rate-limited reporter goroutine in main.go, well outside
// interrupt context.
type metrics struct {
	registry       *prometheus.Registry
	resetAnomalies prometheus.Gauge
	pollErrors     prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		resetAnomalies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pmutrace",
			Name:      "reset_anomalies_total",
			Help:      "Cumulative count of PMI entries where GLOBAL_STATUS stayed nonzero after reset.",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pmutrace",
			Name:      "stats_poll_errors_total",
			Help:      "Number of times the background stats reporter failed to read controller stats.",
		}),
	}
	m.registry.MustRegister(m.resetAnomalies, m.pollErrors)
	return m
}

// serve starts the Prometheus HTTP endpoint in the background. It
// returns immediately; ListenAndServe errors are fatal to the process
// since a metrics endpoint that silently stops serving is worse than a
// visible crash for an operator-facing demo driver.
func (m *metrics) serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			fatalf("metrics: listen on %s: %v", addr, err)
		}
	}()
}
