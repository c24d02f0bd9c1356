package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Seat manager
	SeatChanges *prometheus.CounterVec

	// Provider client
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	// Batch jobs
	JobRuns         *prometheus.CounterVec
	JobItems        *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	DriftDetected   prometheus.Counter
	LastDriftAmount prometheus.Gauge

	// Alert sink
	AlertsEmitted *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// New builds the metric set without registering it.
func New(namespace string) *Metrics {
	return &Metrics{
		SeatChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seat_changes_total",
			Help:      "Seat change requests by billing type and outcome",
		}, []string{"billing_type", "outcome"}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Billing provider API calls by operation and status",
		}, []string{"operation", "status"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of billing provider API calls",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Batch job runs",
		}, []string{"job"}),
		JobItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_items_total",
			Help:      "Subscriptions handled by batch jobs, by result",
		}, []string{"job", "result"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time spent in a batch job run",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		DriftDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seat_drift_detected_total",
			Help:      "Subscriptions whose local seat count disagreed with the provider",
		}),
		LastDriftAmount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seat_drift_last_difference",
			Help:      "Absolute seat difference of the most recent mismatch",
		}),
		AlertsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_emitted_total",
			Help:      "Alerts emitted by severity",
		}, []string{"severity"}),
		DatabaseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.SeatChanges,
		m.ProviderRequests,
		m.ProviderLatency,
		m.JobRuns,
		m.JobItems,
		m.JobDuration,
		m.DriftDetected,
		m.LastDriftAmount,
		m.AlertsEmitted,
		m.DatabaseOperations,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// NewNop returns unregistered metrics, safe to use in tests.
func NewNop() *Metrics {
	return New("test")
}
