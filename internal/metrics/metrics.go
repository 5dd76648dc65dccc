package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "colloquy_runs_started_total",
			Help: "Total number of pipeline runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_runs_completed_total",
			Help: "Total number of pipeline runs completed",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "colloquy_run_duration_seconds",
			Help:    "End-to-end pipeline run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Round metrics
	RoundsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_rounds_processed_total",
			Help: "Total number of pipeline rounds processed",
		},
		[]string{"role", "outcome"},
	)

	RoundDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "colloquy_round_duration_seconds",
			Help:    "Single round duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	// Context retrieval metrics
	ContextRetrievals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_context_retrievals_total",
			Help: "Total number of context retrievals from the knowledge store",
		},
		[]string{"status"},
	)

	// Parser metrics
	ParseFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_parse_fallbacks_total",
			Help: "Agent responses parsed through a fallback strategy",
		},
		[]string{"fallback"},
	)

	// Topic narrowing metrics
	TopicNarrowings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_topic_narrowings_total",
			Help: "Total number of topic narrowing attempts",
		},
		[]string{"outcome"},
	)

	// Agent invocation metrics
	AgentCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_agent_calls_total",
			Help: "Total number of agent runtime invocations",
		},
		[]string{"role", "status"},
	)

	AgentCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "colloquy_agent_call_duration_seconds",
			Help:    "Agent runtime invocation duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"role"},
	)

	// Inference metrics
	InferenceCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_inference_calls_total",
			Help: "Total number of inference service calls",
		},
		[]string{"status"},
	)

	InferenceCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "colloquy_inference_call_duration_seconds",
			Help:    "Inference service call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Knowledge store metrics
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_store_operations_total",
			Help: "Total number of knowledge store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "colloquy_store_operation_duration_seconds",
			Help:    "Knowledge store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// Audit metrics
	AuditWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_audit_writes_total",
			Help: "Total number of audit rows written",
		},
		[]string{"write_type", "status"},
	)

	AuditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "colloquy_audit_queue_depth",
			Help: "Current depth of the async audit write queue",
		},
	)

	AuditSyncFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "colloquy_audit_sync_fallbacks_total",
			Help: "Writes performed synchronously because the audit queue was full",
		},
	)

	// Policy metrics
	PolicyDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_policy_decisions_total",
			Help: "Total number of policy decisions",
		},
		[]string{"decision"},
	)

	// HTTP API metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "colloquy_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"path", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "colloquy_http_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)
)

// RecordRunCompleted records one finished run with its duration.
func RecordRunCompleted(status string, durationSeconds float64) {
	RunsCompleted.WithLabelValues(status).Inc()
	RunDuration.Observe(durationSeconds)
}

// RecordRound records one processed round.
func RecordRound(role, outcome string, durationSeconds float64) {
	RoundsProcessed.WithLabelValues(role, outcome).Inc()
	RoundDuration.WithLabelValues(role).Observe(durationSeconds)
}

// RecordContextRetrieval records one context retrieval attempt.
func RecordContextRetrieval(status string) {
	ContextRetrievals.WithLabelValues(status).Inc()
}

// RecordTopicNarrowing records a narrowing attempt outcome
// ("narrowed" or "fallback").
func RecordTopicNarrowing(outcome string) {
	TopicNarrowings.WithLabelValues(outcome).Inc()
}

// RecordParseFallback records a response parsed by a fallback strategy
// ("questions", "key_findings" or "raw_text").
func RecordParseFallback(fallback string) {
	ParseFallbacks.WithLabelValues(fallback).Inc()
}

// RecordAgentCall records one agent runtime invocation.
func RecordAgentCall(role, status string, durationSeconds float64) {
	AgentCalls.WithLabelValues(role, status).Inc()
	AgentCallDuration.WithLabelValues(role).Observe(durationSeconds)
}

// RecordInferenceCall records one inference service call.
func RecordInferenceCall(status string, durationSeconds float64) {
	InferenceCalls.WithLabelValues(status).Inc()
	InferenceCallDuration.Observe(durationSeconds)
}

// RecordStoreOperation records one knowledge store operation.
func RecordStoreOperation(backend, operation, status string, durationSeconds float64) {
	StoreOperations.WithLabelValues(backend, operation, status).Inc()
	StoreOperationDuration.WithLabelValues(backend, operation).Observe(durationSeconds)
}

// RecordAuditWrite records one audit persistence attempt.
func RecordAuditWrite(writeType, status string) {
	AuditWrites.WithLabelValues(writeType, status).Inc()
}

// RecordPolicyDecision records one policy evaluation outcome.
func RecordPolicyDecision(decision string) {
	PolicyDecisions.WithLabelValues(decision).Inc()
}

// RecordHTTPRequest records one API request.
func RecordHTTPRequest(path, method, status string, durationSeconds float64) {
	HTTPRequests.WithLabelValues(path, method, status).Inc()
	HTTPRequestDuration.WithLabelValues(path).Observe(durationSeconds)
}
