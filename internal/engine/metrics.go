// Copyright 2026 Tom Barlow
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

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the engine's Prometheus instruments.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	IterationsTotal *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	OverallScore    prometheus.Histogram
	SnapshotBytes   prometheus.Histogram
}

// NewMetrics creates and registers the engine metrics. A nil registerer
// leaves them unregistered, which tests use to avoid global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_runs_total",
			Help: "Completed refinement runs by terminal status.",
		}, []string{"status"}),
		IterationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_iterations_total",
			Help: "Iterations by acceptance decision.",
		}, []string{"decision"}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atelier_step_duration_seconds",
			Help:    "Pipeline step wall time.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"step"}),
		OverallScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "atelier_overall_score",
			Help:    "Overall score per scored iteration.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		SnapshotBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "atelier_snapshot_bytes",
			Help:    "Snapshot archive sizes.",
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.RunsTotal, m.IterationsTotal, m.StepDuration, m.OverallScore, m.SnapshotBytes)
	}
	return m
}

func (m *Metrics) observeStep(step string, seconds float64) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(seconds)
}

func (m *Metrics) countRun(status string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) countIteration(decision string) {
	if m == nil {
		return
	}
	m.IterationsTotal.WithLabelValues(decision).Inc()
}

func (m *Metrics) observeScore(overall float64) {
	if m == nil {
		return
	}
	m.OverallScore.Observe(overall)
}

func (m *Metrics) observeSnapshot(sizeBytes int64) {
	if m == nil {
		return
	}
	m.SnapshotBytes.Observe(float64(sizeBytes))
}
