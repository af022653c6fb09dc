package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqdiag_publish_total",
			Help: "Publish attempts by mode and outcome (count)",
		},
		[]string{"mode", "status"},
	)

	PublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mqdiag_publish_duration_ms",
			Help:    "End-to-end publish pipeline duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"mode", "status"},
	)

	PipelineFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqdiag_pipeline_failures_total",
			Help: "Publish pipeline failures by stage and error code (count)",
		},
		[]string{"stage", "code"},
	)

	MessageSizeBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mqdiag_message_size_bytes",
			Help:    "Size of published message bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
	)

	SenderPoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mqdiag_sender_pool_size",
			Help: "Number of cached senders on the current connection (count)",
		},
	)

	ConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mqdiag_connection_state",
			Help: "Broker connection state (0=disconnected, 1=connecting, 2=open, 3=closed, 4=errored)",
		},
	)

	ConnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqdiag_connect_attempts_total",
			Help: "Broker connect attempts by kind (initial, reconnect) and outcome (count)",
		},
		[]string{"kind", "status"},
	)

	ProbeResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqdiag_probe_results_total",
			Help: "Destination probe outcomes (count)",
		},
		[]string{"result"},
	)

	VerifyResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqdiag_verify_results_total",
			Help: "Delivery verification outcomes (count)",
		},
		[]string{"result"},
	)

	VerifyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mqdiag_verify_duration_ms",
			Help:    "Time until verification resolved in milliseconds",
			Buckets: []float64{5, 25, 100, 250, 500, 1000, 2000, 5000, 10000},
		},
	)

	FilterActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mqdiag_filter_active_rules",
			Help: "Number of active filter rules (count)",
		},
	)

	FilterRuleApplicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqdiag_filter_rule_applications_total",
			Help: "Filter rule evaluations by rule and result (count)",
		},
		[]string{"rule_id", "result"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mqdiag_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqdiag_circuit_breaker_requests_total",
			Help: "Requests passed through a circuit breaker by state (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqdiag_circuit_breaker_failures_total",
			Help: "Requests failed through a circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mqdiag_rate_limit_requests_total",
			Help: "HTTP requests seen by the rate limiter (count)",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PublishTotal,
			PublishDuration,
			PipelineFailuresTotal,
			MessageSizeBytes,
			SenderPoolSize,
			ConnectionState,
			ConnectAttemptsTotal,
			ProbeResultsTotal,
			VerifyResultsTotal,
			VerifyDuration,
			FilterActiveRules,
			FilterRuleApplicationsTotal,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			RateLimitRequestsTotal,
		)
	})
}

func ObservePublish(mode, status string, duration time.Duration, sizeBytes int) {
	PublishTotal.WithLabelValues(mode, status).Inc()
	PublishDuration.WithLabelValues(mode, status).Observe(float64(duration.Milliseconds()))
	if sizeBytes > 0 {
		MessageSizeBytes.Observe(float64(sizeBytes))
	}
}

func IncPipelineFailure(stage, code string) {
	PipelineFailuresTotal.WithLabelValues(stage, code).Inc()
}

func SetSenderPoolSize(size int) {
	SenderPoolSize.Set(float64(size))
}

func SetConnectionState(state int) {
	ConnectionState.Set(float64(state))
}

func IncConnectAttempt(kind, status string) {
	ConnectAttemptsTotal.WithLabelValues(kind, status).Inc()
}

func IncProbeResult(accessible bool) {
	ProbeResultsTotal.WithLabelValues(resultLabel(accessible, "accessible", "inaccessible")).Inc()
}

func ObserveVerify(delivered bool, duration time.Duration) {
	VerifyResultsTotal.WithLabelValues(resultLabel(delivered, "delivered", "not_observed")).Inc()
	VerifyDuration.Observe(float64(duration.Milliseconds()))
}

func SetFilterActiveRules(count int) {
	FilterActiveRules.Set(float64(count))
}

func IncFilterRuleApplication(ruleID, result string) {
	FilterRuleApplicationsTotal.WithLabelValues(ruleID, result).Inc()
}

func IncRateLimitRequest(allowed bool) {
	RateLimitRequestsTotal.WithLabelValues(resultLabel(allowed, "allowed", "limited")).Inc()
}

func resultLabel(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
