package config

import (
	"fmt"
	"net/url"
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Engine         EngineConfig
	Scheduler      SchedulerConfig `validate:"-"`
	Management     ManagementConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig `validate:"-"`
	Redis         RedisConfig    `validate:"-"`
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname" validate:"required"`
	SSLMode  string `mapstructure:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host" validate:"required"`
	Port     int    `mapstructure:"port" validate:"min=1,max=65535"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

type MongoDBConfig struct {
	URI         string            `mapstructure:"uri" validate:"required,scheme=mongodb mongodb+srv"`
	Database    string            `mapstructure:"database" validate:"required"`
	Collections CollectionsConfig `mapstructure:"collections"`
}

// CollectionsConfig names the collections the engine reads. Rules are owned
// by the management service, entities by the coaching platform.
type CollectionsConfig struct {
	Rules        string `mapstructure:"rules"`
	Leads        string `mapstructure:"leads"`
	Appointments string `mapstructure:"appointments"`
	Payments     string `mapstructure:"payments"`
	Coaches      string `mapstructure:"coaches"`
}

type BrokerConfig struct {
	Type     string         `mapstructure:"type" validate:"required,oneof=rabbitmq kafka"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq" validate:"-"`
	Kafka    KafkaConfig    `mapstructure:"kafka" validate:"-"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url" validate:"omitempty,scheme=amqp amqps"`
	Host     string `mapstructure:"host" validate:"required_without=URL"`
	Port     int    `mapstructure:"port" validate:"required_without=URL,gte=0,max=65535"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`

	EventsExchange     string `mapstructure:"events_exchange" validate:"required"`
	ActionsExchange    string `mapstructure:"actions_exchange" validate:"required"`
	DelayedExchange    string `mapstructure:"delayed_exchange" validate:"required"`
	ScheduledQueue     string `mapstructure:"scheduled_queue" validate:"required"`
	DeadLetterExchange string `mapstructure:"dead_letter_exchange"`
	DeadLetterQueue    string `mapstructure:"dead_letter_queue"`

	// Queue is the engine's subscription queue. Empty means an exclusive,
	// server-named queue that disappears with the connection.
	Queue           string        `mapstructure:"queue"`
	BindingKey      string        `mapstructure:"binding_key"`
	Prefetch        int           `mapstructure:"prefetch" validate:"gte=0"`
	MaxRedeliveries int           `mapstructure:"max_redeliveries" validate:"gte=0"`
	PublishTimeout  time.Duration `mapstructure:"publish_timeout"`
}

// ConnectionURL returns URL when set, otherwise builds one from the parts.
func (c RabbitMQConfig) ConnectionURL() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme: "amqp",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.VHost,
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	return u.String()
}

type KafkaConfig struct {
	Brokers           []string    `mapstructure:"brokers" validate:"required,min=1,dive,required"`
	GroupID           string      `mapstructure:"group_id" validate:"required"`
	EventsTopic       string      `mapstructure:"events_topic" validate:"required"`
	ActionsTopic      string      `mapstructure:"actions_topic" validate:"required"`
	ScheduledTopic    string      `mapstructure:"scheduled_topic" validate:"required"`
	DLQTopic          string      `mapstructure:"dlq_topic"`
	Partitions        int         `mapstructure:"partitions"`
	ReplicationFactor int         `mapstructure:"replication_factor"`
	Retry             RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=0"`
	InitialInterval time.Duration `mapstructure:"initial_interval" validate:"gte=0"`
	MaxInterval     time.Duration `mapstructure:"max_interval" validate:"gte=0"`
	Multiplier      float64       `mapstructure:"multiplier" validate:"gt=0"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json console"`
}

type EngineConfig struct {
	// EvaluateConditions turns on triggerConditions evaluation. When off,
	// every active rule for the trigger fires.
	EvaluateConditions bool `mapstructure:"evaluate_conditions"`
	// HonorActionDelaySeconds reads the action-level delay (seconds) when
	// config.delayMinutes is absent.
	HonorActionDelaySeconds bool          `mapstructure:"honor_action_delay_seconds"`
	ParallelDispatch        bool          `mapstructure:"parallel_dispatch"`
	DispatchLog             bool          `mapstructure:"dispatch_log"`
	ReconnectDelay          time.Duration `mapstructure:"reconnect_delay" validate:"gt=0"`
}

type SchedulerConfig struct {
	Key          string        `mapstructure:"key"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	BatchSize    int           `mapstructure:"batch_size" validate:"gt=0"`
}

type ManagementConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
