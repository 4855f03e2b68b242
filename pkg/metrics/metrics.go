package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EngineEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_events_total",
			Help: "Total number of events processed by the rule engine, by outcome (count)",
		},
		[]string{"outcome"},
	)

	EngineProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "automation_event_processing_duration_ms",
			Help:    "Processing duration of one event in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"outcome"},
	)

	RulesMatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_rules_matched_total",
			Help: "Total number of active rules that fired for an event (count)",
		},
		[]string{"trigger_event"},
	)

	ConditionEvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_condition_evaluations_total",
			Help: "Total number of trigger condition evaluations (count)",
		},
		[]string{"result"},
	)

	ActionsDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_actions_dispatched_total",
			Help: "Total number of action messages published (count)",
		},
		[]string{"action_type", "mode"},
	)

	DispatchLogWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_dispatch_log_writes_total",
			Help: "Total number of dispatch log rows written (count)",
		},
		[]string{"status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "source"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "source", "reason"},
	)

	BrokerMessagesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_consumed_total",
			Help: "Total number of messages consumed from the broker (count)",
		},
		[]string{"broker", "result"},
	)

	BrokerMessagesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_messages_published_total",
			Help: "Total number of messages published to the broker (count)",
		},
		[]string{"broker", "destination"},
	)

	BrokerPublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_publish_duration_ms",
			Help:    "Duration of broker publishes including confirmation in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"broker", "destination"},
	)

	BrokerReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "broker_reconnects_total",
			Help: "Total number of full engine re-initializations (count)",
		},
	)

	SchedulerPendingActions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_pending_actions",
			Help: "Number of delayed actions waiting in the scheduler (count)",
		},
	)

	SchedulerReleasedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_released_total",
			Help: "Total number of delayed actions released by the scheduler (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	RuleChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "automation_rule_changes_total",
			Help: "Total number of automation rule changes made through the API (count)",
		},
		[]string{"action"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

// The engine re-initializes in-process after a connection loss, so every
// Register* function must be safe to call more than once.
var (
	engineOnce         sync.Once
	brokerOnce         sync.Once
	schedulerOnce      sync.Once
	circuitBreakerOnce sync.Once
	managementOnce     sync.Once
	databaseOnce       sync.Once
)

func RegisterEngineMetrics() {
	engineOnce.Do(func() {
		prometheus.MustRegister(EngineEventsTotal)
		prometheus.MustRegister(EngineProcessingDuration)
		prometheus.MustRegister(RulesMatchedTotal)
		prometheus.MustRegister(ConditionEvaluationsTotal)
		prometheus.MustRegister(ActionsDispatchedTotal)
		prometheus.MustRegister(DispatchLogWritesTotal)
	})
	RegisterDatabaseMetrics()
}

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(RetryAttemptsTotal)
		prometheus.MustRegister(DLQMessagesTotal)
		prometheus.MustRegister(BrokerMessagesConsumedTotal)
		prometheus.MustRegister(BrokerMessagesPublishedTotal)
		prometheus.MustRegister(BrokerPublishDuration)
		prometheus.MustRegister(BrokerReconnectsTotal)
	})
}

func RegisterSchedulerMetrics() {
	schedulerOnce.Do(func() {
		prometheus.MustRegister(SchedulerPendingActions)
		prometheus.MustRegister(SchedulerReleasedTotal)
	})
}

func RegisterCircuitBreakerMetrics() {
	circuitBreakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func RegisterManagementMetrics() {
	managementOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal)
		prometheus.MustRegister(RuleChangesTotal)
	})
	RegisterDatabaseMetrics()
}

func RegisterDatabaseMetrics() {
	databaseOnce.Do(func() {
		prometheus.MustRegister(DatabaseQueriesTotal)
		prometheus.MustRegister(DatabaseQueryDuration)
	})
}

func IncEngineEvent(outcome string) {
	EngineEventsTotal.WithLabelValues(outcome).Inc()
}

func ObserveEngineDuration(duration time.Duration, outcome string) {
	EngineProcessingDuration.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

func AddRulesMatched(triggerEvent string, count int) {
	RulesMatchedTotal.WithLabelValues(triggerEvent).Add(float64(count))
}

func IncConditionEvaluation(result string) {
	ConditionEvaluationsTotal.WithLabelValues(result).Inc()
}

func IncActionDispatched(actionType, mode string) {
	ActionsDispatchedTotal.WithLabelValues(actionType, mode).Inc()
}

func IncDispatchLogWrite(status string) {
	DispatchLogWritesTotal.WithLabelValues(status).Inc()
}

func IncBrokerConsumed(broker, result string) {
	BrokerMessagesConsumedTotal.WithLabelValues(broker, result).Inc()
}

func IncBrokerPublished(broker, destination string) {
	BrokerMessagesPublishedTotal.WithLabelValues(broker, destination).Inc()
}

func ObserveBrokerPublishDuration(broker, destination string, duration time.Duration) {
	BrokerPublishDuration.WithLabelValues(broker, destination).Observe(float64(duration.Milliseconds()))
}

func SetSchedulerPending(count int64) {
	SchedulerPendingActions.Set(float64(count))
}

func IncSchedulerReleased(status string) {
	SchedulerReleasedTotal.WithLabelValues(status).Inc()
}

func IncRuleChange(action string) {
	RuleChangesTotal.WithLabelValues(action).Inc()
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}
