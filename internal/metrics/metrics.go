/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metrics exposes Prometheus collectors for the sort pipeline. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sorting"

// Assignment reasons.
const (
	ReasonRule    = "rule"
	ReasonDefault = "default"
	ReasonTimeout = "timeout"
	ReasonLost    = "lost"
)

type Metrics struct {
	detections      *prometheus.CounterVec
	bindOutcomes    *prometheus.CounterVec
	assignments     *prometheus.CounterVec
	sendFailures    prometheus.Counter
	activeSessions  prometheus.Gauge
	evaluation      prometheus.Histogram
	thirdPartyCalls *prometheus.CounterVec
	links           *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New registers the collectors with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors with reg and serves them from gatherer.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parcel_detections_total",
			Help:      "Parcel detections received, by outcome.",
		}, []string{"outcome"}),
		bindOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dws_bind_total",
			Help:      "DWS bind attempts, by outcome.",
		}, []string{"outcome"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chute_assignments_total",
			Help:      "Chute assignments sent to the sorter, by reason.",
		}, []string{"reason"}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chute_assignment_send_failures_total",
			Help:      "Chute assignments that could not be written to any sorter link.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Parcel sessions currently tracked.",
		}),
		evaluation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rule_evaluation_seconds",
			Help:      "Time spent evaluating rules for one parcel.",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025},
		}),
		thirdPartyCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "third_party_calls_total",
			Help:      "Third-party calls, by vendor and outcome.",
		}, []string{"vendor", "outcome"}),
		links: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_links",
			Help:      "Live TCP links, by endpoint.",
		}, []string{"endpoint"}),
		gatherer: gatherer,
	}

	reg.MustRegister(
		m.detections,
		m.bindOutcomes,
		m.assignments,
		m.sendFailures,
		m.activeSessions,
		m.evaluation,
		m.thirdPartyCalls,
		m.links,
	)
	return m
}

func (m *Metrics) Detection(outcome string) {
	if m != nil {
		m.detections.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Bind(outcome string) {
	if m != nil {
		m.bindOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Assignment(reason string) {
	if m != nil {
		m.assignments.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SendFailure() {
	if m != nil {
		m.sendFailures.Inc()
	}
}

func (m *Metrics) ActiveSessions(n int) {
	if m != nil {
		m.activeSessions.Set(float64(n))
	}
}

func (m *Metrics) Evaluation(d time.Duration) {
	if m != nil {
		m.evaluation.Observe(d.Seconds())
	}
}

func (m *Metrics) ThirdParty(vendor, outcome string) {
	if m != nil {
		m.thirdPartyCalls.WithLabelValues(vendor, outcome).Inc()
	}
}

func (m *Metrics) Links(endpoint string, n int) {
	if m != nil {
		m.links.WithLabelValues(endpoint).Set(float64(n))
	}
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
