// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the RCM agent.
//
// # Description
//
// This package implements Prometheus metrics for monitoring agent workflow
// operations. Metrics include:
//   - Query counters (by intent and terminal decision)
//   - Turn latency histograms (by outcome)
//   - Audit loop iteration histograms
//   - Staging ledger and sync counters
//   - Active session gauges
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for agent workflow metrics
const agentSubsystem = "rcm_agent"

// AgentMetrics holds all Prometheus metrics for agent workflow operations.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring workflow turns,
// audit behavior, and the marker staging pipeline. Initialize once at
// startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type AgentMetrics struct {
	// QueriesTotal counts completed query turns.
	// Labels: intent (MEDICATIONS, ALLERGIES, ...), decision (PASS, PARTIAL, ...)
	QueriesTotal *prometheus.CounterVec

	// TurnDurationSeconds measures full turn latency.
	// Labels: status (DONE, AWAITING_CLARIFICATION, AWAITING_CONFIRMATION, error)
	TurnDurationSeconds *prometheus.HistogramVec

	// AuditIterations measures execute/audit loop passes per turn.
	AuditIterations prometheus.Histogram

	// MarkersStagedTotal counts markers staged for confirmation.
	MarkersStagedTotal prometheus.Counter

	// SyncsTotal counts resolved sync confirmations.
	// Labels: outcome (confirmed, declined)
	SyncsTotal *prometheus.CounterVec

	// ActiveSessions tracks sessions with in-flight turns.
	ActiveSessions prometheus.Gauge

	// ErrorsTotal counts handler errors by endpoint and code.
	// Labels: endpoint, error_code (session_busy, not_found, internal, ...)
	ErrorsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of AgentMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *AgentMetrics

var initOnce sync.Once

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics on the default registry.
// Safe to call more than once; only the first call registers.
//
// # Outputs
//
//   - *AgentMetrics: The initialized metrics instance.
func InitMetrics() *AgentMetrics {
	initOnce.Do(func() {
		DefaultMetrics = &AgentMetrics{
			QueriesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: agentSubsystem,
					Name:      "queries_total",
					Help:      "Total query turns by intent and terminal decision",
				},
				[]string{"intent", "decision"},
			),

			TurnDurationSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: agentSubsystem,
					Name:      "turn_duration_seconds",
					Help:      "Full turn latency in seconds by outcome",
					Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 15.0, 60.0},
				},
				[]string{"status"},
			),

			AuditIterations: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Subsystem: agentSubsystem,
					Name:      "audit_iterations",
					Help:      "Execute/audit loop passes consumed per turn",
					Buckets:   []float64{0, 1, 2, 3},
				},
			),

			MarkersStagedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: agentSubsystem,
					Name:      "markers_staged_total",
					Help:      "Clinical markers staged for sync confirmation",
				},
			),

			SyncsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: agentSubsystem,
					Name:      "syncs_total",
					Help:      "Resolved sync confirmations by outcome",
				},
				[]string{"outcome"},
			),

			ActiveSessions: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: agentSubsystem,
					Name:      "active_sessions",
					Help:      "Sessions with an in-flight turn",
				},
			),

			ErrorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: agentSubsystem,
					Name:      "errors_total",
					Help:      "Handler errors by endpoint and error code",
				},
				[]string{"endpoint", "error_code"},
			),
		}
	})
	return DefaultMetrics
}

// ObserveQuery records a completed turn. Nil-safe so handlers can run
// without metrics in tests.
func (m *AgentMetrics) ObserveQuery(intent, decision, status string, seconds float64, iterations int) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(intent, decision).Inc()
	m.TurnDurationSeconds.WithLabelValues(status).Observe(seconds)
	m.AuditIterations.Observe(float64(iterations))
}

// ObserveError records a handler error. Nil-safe.
func (m *AgentMetrics) ObserveError(endpoint, code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(endpoint, code).Inc()
}

// ObserveSync records a resolved confirmation gate. Nil-safe.
func (m *AgentMetrics) ObserveSync(outcome string) {
	if m == nil {
		return
	}
	m.SyncsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStaged records newly staged markers. Nil-safe.
func (m *AgentMetrics) ObserveStaged(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.MarkersStagedTotal.Add(float64(count))
}
