package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the governance engine.
type Metrics struct {
	// Trust metrics
	TrustScore       *prometheus.GaugeVec
	TrustEvaluations *prometheus.CounterVec
	AgentDemotions   *prometheus.CounterVec
	AgentPromotions  *prometheus.CounterVec
	DecayRuns        prometheus.Counter

	// Gate metrics
	ReflectionDecisions *prometheus.CounterVec
	FreezeDecisions     *prometheus.CounterVec
	ActiveReflections   prometheus.Gauge
	ActiveFreezes       prometheus.Gauge

	// Drift metrics
	DriftChecks     prometheus.Counter
	DriftViolations *prometheus.CounterVec

	// Reroute metrics
	Reroutes      *prometheus.CounterVec
	ScorecardScan *prometheus.CounterVec

	// Replan metrics
	ReplanSagas    *prometheus.CounterVec
	ReplanDuration prometheus.Histogram

	// System metrics
	EventsPublished     *prometheus.CounterVec
	NotificationsSent   *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// New creates and registers all Prometheus metrics. Registration is
// process-wide, so repeated calls return the same instance.
func New() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			TrustScore: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "sentinel_trust_score",
					Help: "Current trust score per agent",
				},
				[]string{"agent_id"},
			),
			TrustEvaluations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sentinel_trust_evaluations_total",
					Help: "Total number of trust evaluations",
				},
				[]string{"agent_id"},
			),
			AgentDemotions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sentinel_agent_demotions_total",
					Help: "Total number of agent demotions",
				},
				[]string{"agent_id"},
			),
			AgentPromotions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sentinel_agent_promotions_total",
					Help: "Total number of agent promotions",
				},
				[]string{"agent_id"},
			),
			DecayRuns: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "sentinel_trust_decay_runs_total",
					Help: "Total number of trust decay passes",
				},
			),
			ReflectionDecisions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sentinel_reflection_decisions_total",
					Help: "Reflection decisions by action and reason",
				},
				[]string{"action", "reason"},
			),
			FreezeDecisions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sentinel_freeze_decisions_total",
					Help: "Freeze gate decisions by outcome",
				},
				[]string{"outcome"},
			),
			ActiveReflections: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "sentinel_active_reflections",
					Help: "Number of loops with an active reflection",
				},
			),
			ActiveFreezes: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "sentinel_active_freezes",
					Help: "Number of currently frozen loops",
				},
			),
			DriftChecks: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "sentinel_drift_checks_total",
					Help: "Total number of anchor drift comparisons",
				},
			),
			DriftViolations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sentinel_drift_violations_total",
					Help: "Total number of belief drift violations",
				},
				[]string{"belief_id", "critical"},
			),
			Reroutes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sentinel_reroutes_total",
					Help: "Total number of agent reroutes",
				},
				[]string{"manual"},
			),
			ScorecardScan: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sentinel_scorecard_scans_total",
					Help: "Scorecard scan passes by result",
				},
				[]string{"result"},
			),
			ReplanSagas: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sentinel_replan_sagas_total",
					Help: "Replan saga executions by terminal status",
				},
				[]string{"status"},
			),
			ReplanDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "sentinel_replan_duration_seconds",
					Help:    "Replan saga duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to 51s
				},
			),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sentinel_events_published_total",
					Help: "Total number of events published on the bus",
				},
				[]string{"event_type"},
			),
			NotificationsSent: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sentinel_notifications_total",
					Help: "Operator notifications by severity and result",
				},
				[]string{"severity", "result"},
			),
			HTTPRequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "sentinel_http_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			HTTPRequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "sentinel_http_request_duration_seconds",
					Help:    "HTTP request duration in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
		}
	})

	return sharedMetrics
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}
