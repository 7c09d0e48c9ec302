package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ModeGauge reports the current routing mode (0=uninitialized, 1=remote, 2=fallback).
	ModeGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "policyqa",
			Subsystem: "vectorstore",
			Name:      "mode",
			Help:      "Current backend mode (0=uninitialized, 1=remote, 2=fallback)",
		},
	)

	// ModeTransitionsTotal counts mode transitions.
	// Labels: from, to, reason
	ModeTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policyqa",
			Subsystem: "vectorstore",
			Name:      "mode_transitions_total",
			Help:      "Total number of backend mode transitions",
		},
		[]string{"from", "to", "reason"},
	)

	// OperationsTotal counts store operations by backend and outcome.
	// Labels: operation (add, query, delete), backend (remote, local), result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policyqa",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"operation", "backend", "result"},
	)

	// OperationDuration tracks how long operations take per backend.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "policyqa",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "backend"},
	)

	// FragmentsAddedTotal counts stored fragments per backend.
	FragmentsAddedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "policyqa",
			Subsystem: "vectorstore",
			Name:      "fragments_added_total",
			Help:      "Total number of fragments persisted",
		},
		[]string{"backend"},
	)
)

// RecordOperation records the outcome and latency of one backend call.
func RecordOperation(operation string, backend Backend, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(operation, string(backend), result).Inc()
	OperationDuration.WithLabelValues(operation, string(backend)).Observe(time.Since(start).Seconds())
}

// RecordTransition updates the mode gauge and transition counter.
func RecordTransition(t ModeTransition) {
	ModeGauge.Set(float64(t.To))
	ModeTransitionsTotal.WithLabelValues(t.From.String(), t.To.String(), t.Reason).Inc()
}
