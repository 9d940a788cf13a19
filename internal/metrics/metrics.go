// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AssessmentsStarted counts assessment runs by trigger source.
	AssessmentsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maes",
		Subsystem: "compliance",
		Name:      "assessments_started_total",
		Help:      "Assessment runs started, by trigger source.",
	}, []string{"triggered_by"})

	// AssessmentsFinished counts terminal assessment outcomes.
	AssessmentsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maes",
		Subsystem: "compliance",
		Name:      "assessments_finished_total",
		Help:      "Assessments reaching a terminal status.",
	}, []string{"status"})

	// JobsProcessed counts settled queue jobs by outcome.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maes",
		Subsystem: "queue",
		Name:      "jobs_processed_total",
		Help:      "Queue jobs settled by a worker, by outcome.",
	}, []string{"outcome"})

	// JobsActive gauges jobs currently executing.
	JobsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "maes",
		Subsystem: "queue",
		Name:      "jobs_active",
		Help:      "Jobs currently executing on this worker.",
	})

	// JobDuration observes end-to-end job execution time.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "maes",
		Subsystem: "queue",
		Name:      "job_duration_seconds",
		Help:      "End-to-end job execution time in seconds.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// SchedulesFired counts schedule firings.
	SchedulesFired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "maes",
		Subsystem: "scheduler",
		Name:      "schedules_fired_total",
		Help:      "Scheduled assessments enqueued.",
	})

	// GraphRequests counts Microsoft Graph calls by status class.
	GraphRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maes",
		Subsystem: "graph",
		Name:      "requests_total",
		Help:      "Microsoft Graph requests, by HTTP status class.",
	}, []string{"class"})

	// ReportsGenerated counts generated report artifacts by format.
	ReportsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "maes",
		Subsystem: "reports",
		Name:      "generated_total",
		Help:      "Report artifacts generated, by format.",
	}, []string{"format"})
)
