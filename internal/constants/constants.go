package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	BrokerTypeRabbitMQ = "rabbitmq"
	BrokerTypeKafka    = "kafka"
)

const (
	DefaultEventsExchange     = "automation.events"
	DefaultActionsExchange    = "automation.actions"
	DefaultDelayedExchange    = "automation.delayed"
	DefaultScheduledQueue     = "automation.scheduled_actions"
	DefaultDeadLetterExchange = "automation.dead_letter"
	DefaultDeadLetterQueue    = "automation.events.dlq"
	DefaultEventsBindingKey   = "#"
	DefaultPrefetch           = 1
	DefaultMaxRedeliveries    = 5
)

const (
	DefaultEventsTopic    = "automation.events"
	DefaultActionsTopic   = "automation.actions"
	DefaultScheduledTopic = "automation.scheduled-actions"
	DefaultDLQTopic       = "automation.events.dlq"
	DefaultKafkaGroupID   = "rule-engine"
)

// AMQP and Kafka header names.
const (
	HeaderDelay              = "x-delay"
	HeaderRetryCount         = "x-retry-count"
	HeaderOriginalRoutingKey = "x-original-routing-key"
	HeaderDelayedType        = "x-delayed-type"
	HeaderDeadLetterExchange = "x-dead-letter-exchange"
	HeaderDeadLetterRouteKey = "x-dead-letter-routing-key"
	HeaderRoutingKey         = "routing_key"

	ExchangeTypeDelayedMessage = "x-delayed-message"
)

const (
	DefaultMongoDBName = "coachflow"
)

const (
	CollectionAutomationRules = "automationrules"
	CollectionLeads           = "leads"
	CollectionAppointments    = "appointments"
	CollectionPayments        = "payments"
	CollectionCoaches         = "coaches"
)

const (
	SchedulerKey                 = "automation:scheduled_actions"
	DefaultSchedulerPollInterval = time.Second
	DefaultSchedulerBatchSize    = 100
)

const (
	ShutdownTimeout       = 5 * time.Second
	DefaultReconnectDelay = 5 * time.Second
	InitTimeout           = 30 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	ServiceRuleEngine = "rule-engine"
	ServiceManagement = "management-service"
)

const (
	ConditionLogicAND = "AND"
	ConditionLogicOR  = "OR"
)

const (
	DispatchModeImmediate = "immediate"
	DispatchModeDelayed   = "delayed"
)

const (
	OutcomeDispatched  = "dispatched"
	OutcomeNoRules     = "no_rules"
	OutcomeUnhandled   = "unhandled"
	OutcomeMissingDoc  = "missing_entity"
	OutcomeMalformed   = "malformed"
	OutcomeFailed      = "failed"
	OutcomeNoReference = "missing_reference"
)
