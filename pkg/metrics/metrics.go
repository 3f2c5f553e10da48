// Copyright 2026 The Nimbus Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics wraps prometheus registration behind a small Factory,
// the way engine/pkg/promutil does: every subsystem gets metrics
// through a Factory rather than touching prometheus.DefaultRegisterer
// directly, so a test run and a production run can each hand the
// controller its own registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Factory creates prometheus metrics pre-bound to one registerer,
// mirroring engine/pkg/promutil.Factory's auto-registering constructors.
type Factory struct {
	reg prometheus.Registerer
}

// NewFactory wraps reg. Passing a fresh *prometheus.Registry (rather
// than prometheus.DefaultRegisterer) keeps a test controller's metrics
// from colliding with another test's in the same process.
func NewFactory(reg prometheus.Registerer) *Factory {
	return &Factory{reg: reg}
}

// NewCounter registers and returns a Counter.
func (f *Factory) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	return promauto.With(f.reg).NewCounter(opts)
}

// NewGauge registers and returns a Gauge.
func (f *Factory) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	return promauto.With(f.reg).NewGauge(opts)
}

// NewHistogram registers and returns a Histogram.
func (f *Factory) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	return promauto.With(f.reg).NewHistogram(opts)
}

// NewCounterVec registers and returns a CounterVec.
func (f *Factory) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	return promauto.With(f.reg).NewCounterVec(opts, labelNames)
}

const namespace = "nimbusctl"

// ControllerMetrics is the concrete set of series the event loop
// reports: ready-frontier depth, assignment latency, rewind frequency
// and checkpoint completion latency, the four the ambient stack's
// metrics section names.
type ControllerMetrics struct {
	QueueDepth        prometheus.Gauge
	AssignLatency     prometheus.Histogram
	RewindTotal       prometheus.Counter
	CheckpointLatency prometheus.Histogram
	CommandsSent      *prometheus.CounterVec
}

// NewControllerMetrics builds the controller's metric set against f.
func NewControllerMetrics(f *Factory) *ControllerMetrics {
	return &ControllerMetrics{
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "ready_frontier_depth",
			Help:      "Number of jobs currently sitting on the ready frontier.",
		}),
		AssignLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "assign_latency_seconds",
			Help:      "Time from a job entering the ready frontier to Plan() returning a dispatchable command.",
			Buckets:   prometheus.DefBuckets,
		}),
		RewindTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "rewind_total",
			Help:      "Number of times a worker loss triggered rewind recovery.",
		}),
		CheckpointLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "commit_latency_seconds",
			Help:      "Time to persist a checkpoint's committed prefix to the store.",
			Buckets:   prometheus.DefBuckets,
		}),
		CommandsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "commands_sent_total",
			Help:      "Commands dispatched to workers, by kind.",
		}, []string{"kind"}),
	}
}

// Handler exposes the registry behind reg for scraping, the same
// http.Handler role engine/pkg/promutil.HTTPHandlerForMetric plays for
// the dataflow framework's process-level registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
