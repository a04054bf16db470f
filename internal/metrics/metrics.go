// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics provides Prometheus instrumentation for authentication
// sessions. Every method is safe on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trisecure"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	StageOutcomes  *prometheus.CounterVec
	Sessions       *prometheus.CounterVec
	ChallengeLocks *prometheus.CounterVec
	Registrations  *prometheus.CounterVec
	LoginWPM       prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		StageOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_outcomes_total",
				Help:      "Authentication stage results by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		),
		Sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Completed authentication sessions by decision.",
			},
			[]string{"decision"},
		),
		ChallengeLocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "challenge_locks_total",
				Help:      "Card challenge lock events by verdict.",
			},
			[]string{"verdict"},
		),
		Registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registrations_total",
				Help:      "Registration attempts by outcome.",
			},
			[]string{"outcome"},
		),
		LoginWPM: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "login_typing_wpm",
			Help:      "Measured typing speed of login attempts.",
			Buckets:   prometheus.LinearBuckets(10, 10, 12),
		}),
	}
	m.Registry.MustRegister(m.StageOutcomes, m.Sessions, m.ChallengeLocks, m.Registrations, m.LoginWPM)
	return m
}

// Stage counts one stage result.
func (m *Metrics) Stage(stage, outcome string) {
	if m == nil {
		return
	}
	m.StageOutcomes.WithLabelValues(stage, outcome).Inc()
}

// Session counts one finished session.
func (m *Metrics) Session(decision string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(decision).Inc()
}

// Lock counts a lock or lockout.
func (m *Metrics) Lock(verdict string) {
	if m == nil {
		return
	}
	m.ChallengeLocks.WithLabelValues(verdict).Inc()
}

// Registration counts one registration attempt.
func (m *Metrics) Registration(outcome string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(outcome).Inc()
}

// ObserveWPM records a measured login typing speed.
func (m *Metrics) ObserveWPM(wpm int) {
	if m == nil {
		return
	}
	m.LoginWPM.Observe(float64(wpm))
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
