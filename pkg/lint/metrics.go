package lint

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts processed turns by outcome.
	// Labels: outcome (clean, plan_built, no_etude, store_degraded, off)
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "soaplintd",
			Subsystem: "lint",
			Name:      "turns_total",
			Help:      "Total number of processed turns by outcome",
		},
		[]string{"outcome"},
	)

	// SoapinessScore observes the aggregated score distribution.
	SoapinessScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "soaplintd",
			Subsystem: "lint",
			Name:      "soapiness_score",
			Help:      "Distribution of aggregated soapiness scores",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// PlanDuration tracks end-to-end turn processing time.
	PlanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "soaplintd",
			Subsystem: "lint",
			Name:      "turn_duration_seconds",
			Help:      "Time spent processing a single turn",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// LockConflicts counts removals dropped for overlapping a fact lock.
	LockConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "soaplintd",
			Subsystem: "lint",
			Name:      "lock_conflicts_total",
			Help:      "Total number of removal spans dropped because they overlapped a fact lock",
		},
	)

	// EtudesInjected counts etude references emitted in plans.
	EtudesInjected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "soaplintd",
			Subsystem: "lint",
			Name:      "etudes_injected_total",
			Help:      "Total number of etude references emitted in rewrite plans",
		},
	)

	// ActiveSessions gauges the number of live session windows.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "soaplintd",
			Subsystem: "lint",
			Name:      "active_sessions",
			Help:      "Current number of live session windows",
		},
	)
)
