package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"coachflow/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalize(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("broker.type", constants.BrokerTypeRabbitMQ)
	viper.SetDefault("broker.rabbitmq.host", "localhost")
	viper.SetDefault("broker.rabbitmq.port", 5672)
	viper.SetDefault("broker.rabbitmq.events_exchange", constants.DefaultEventsExchange)
	viper.SetDefault("broker.rabbitmq.actions_exchange", constants.DefaultActionsExchange)
	viper.SetDefault("broker.rabbitmq.delayed_exchange", constants.DefaultDelayedExchange)
	viper.SetDefault("broker.rabbitmq.scheduled_queue", constants.DefaultScheduledQueue)
	viper.SetDefault("broker.rabbitmq.dead_letter_exchange", constants.DefaultDeadLetterExchange)
	viper.SetDefault("broker.rabbitmq.dead_letter_queue", constants.DefaultDeadLetterQueue)
	viper.SetDefault("broker.rabbitmq.binding_key", constants.DefaultEventsBindingKey)
	viper.SetDefault("broker.rabbitmq.prefetch", constants.DefaultPrefetch)
	viper.SetDefault("broker.rabbitmq.max_redeliveries", constants.DefaultMaxRedeliveries)
	viper.SetDefault("broker.rabbitmq.publish_timeout", "10s")

	viper.SetDefault("broker.kafka.group_id", constants.DefaultKafkaGroupID)
	viper.SetDefault("broker.kafka.events_topic", constants.DefaultEventsTopic)
	viper.SetDefault("broker.kafka.actions_topic", constants.DefaultActionsTopic)
	viper.SetDefault("broker.kafka.scheduled_topic", constants.DefaultScheduledTopic)
	viper.SetDefault("broker.kafka.dlq_topic", constants.DefaultDLQTopic)
	viper.SetDefault("broker.kafka.partitions", 1)
	viper.SetDefault("broker.kafka.replication_factor", 1)
	viper.SetDefault("broker.kafka.retry.max_attempts", 3)
	viper.SetDefault("broker.kafka.retry.initial_interval", "1s")
	viper.SetDefault("broker.kafka.retry.max_interval", "30s")
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)

	viper.SetDefault("database.mongodb.database", constants.DefaultMongoDBName)
	viper.SetDefault("database.mongodb.collections.rules", constants.CollectionAutomationRules)
	viper.SetDefault("database.mongodb.collections.leads", constants.CollectionLeads)
	viper.SetDefault("database.mongodb.collections.appointments", constants.CollectionAppointments)
	viper.SetDefault("database.mongodb.collections.payments", constants.CollectionPayments)
	viper.SetDefault("database.mongodb.collections.coaches", constants.CollectionCoaches)

	viper.SetDefault("engine.reconnect_delay", constants.DefaultReconnectDelay.String())

	viper.SetDefault("scheduler.key", constants.SchedulerKey)
	viper.SetDefault("scheduler.poll_interval", constants.DefaultSchedulerPollInterval.String())
	viper.SetDefault("scheduler.batch_size", constants.DefaultSchedulerBatchSize)

	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", "60s")
	viper.SetDefault("circuit_breaker.timeout", "30s")
	viper.SetDefault("circuit_breaker.failure_ratio", 0.5)
	viper.SetDefault("circuit_breaker.min_requests", 3)
}

// envKeys can be set from the environment as the upper-cased key with dots
// replaced by underscores, e.g. BROKER_KAFKA_BROKERS.
var envKeys = []string{
	"server.port",
	"logging.level", "logging.format",

	"broker.type",
	"broker.rabbitmq.url", "broker.rabbitmq.host", "broker.rabbitmq.port",
	"broker.rabbitmq.user", "broker.rabbitmq.password",
	"broker.rabbitmq.queue", "broker.rabbitmq.prefetch",
	"broker.kafka.brokers", "broker.kafka.group_id",
	"broker.kafka.events_topic", "broker.kafka.actions_topic",
	"broker.kafka.scheduled_topic", "broker.kafka.dlq_topic",

	"database.postgres.host", "database.postgres.port", "database.postgres.user",
	"database.postgres.password", "database.postgres.dbname", "database.postgres.sslmode",
	"database.redis.host", "database.redis.port", "database.redis.password", "database.redis.db",
	"database.mongodb.uri", "database.mongodb.database",

	"engine.evaluate_conditions", "engine.honor_action_delay_seconds",
	"engine.parallel_dispatch", "engine.dispatch_log", "engine.reconnect_delay",

	"tracing.enabled", "tracing.service_name",
	"tracing.otlp.endpoint", "tracing.otlp.insecure",
}

func bindEnvVariables() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// normalize cleans values that arrive as comma-separated env strings.
func normalize(cfg *Config) {
	brokers := cfg.Broker.Kafka.Brokers[:0]
	for _, b := range cfg.Broker.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.Broker.Kafka.Brokers = brokers
}
