package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"coachflow/internal/config"
	"coachflow/internal/constants"
	"coachflow/internal/logger"
	"coachflow/internal/scheduler"
	apperrors "coachflow/pkg/errors"
	"coachflow/pkg/logging"
	"coachflow/pkg/metrics"
	"coachflow/pkg/retry"
	"coachflow/pkg/tracing"
)

const brokerKafka = "kafka"

type KafkaProducer struct {
	writer  *kafka.Writer
	cfg     config.KafkaConfig
	delayed scheduler.Store
	logger  logger.Logger
	now     func() time.Time
}

// NewKafkaProducer returns a producer. Kafka has no delayed delivery, so
// delayed actions go to the scheduler store and are released later by a
// scheduler.Poller through PublishScheduled.
func NewKafkaProducer(cfg config.KafkaConfig, delayed scheduler.Store, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &KafkaProducer{
		writer:  w,
		cfg:     cfg,
		delayed: delayed,
		logger:  log,
		now:     time.Now,
	}
}

func (p *KafkaProducer) PublishEvent(ctx context.Context, eventName string, body []byte) error {
	return p.write(ctx, p.cfg.EventsTopic, eventName, body, nil)
}

func (p *KafkaProducer) PublishAction(ctx context.Context, actionType string, body []byte) error {
	return p.write(ctx, p.cfg.ActionsTopic, actionType, body, nil)
}

func (p *KafkaProducer) PublishDelayed(ctx context.Context, actionType string, body []byte, delay time.Duration) error {
	if p.delayed == nil {
		return fmt.Errorf("delayed publish of %s requires a scheduler store", actionType)
	}

	entry := scheduler.NewEntry(actionType, body, delay, p.now())
	if err := p.delayed.Schedule(ctx, entry); err != nil {
		return fmt.Errorf("failed to schedule delayed action: %w", err)
	}

	metrics.IncBrokerPublished(brokerKafka, "scheduler")
	return nil
}

// PublishScheduled releases a due delayed action to the scheduled topic.
func (p *KafkaProducer) PublishScheduled(ctx context.Context, entry scheduler.Entry) error {
	headers := []kafka.Header{
		{Key: constants.HeaderDelay, Value: []byte(strconv.FormatInt(entry.DelayMs, 10))},
	}
	return p.write(ctx, p.cfg.ScheduledTopic, entry.ActionType, entry.Body, headers)
}

func (p *KafkaProducer) write(ctx context.Context, topic, routingKey string, body []byte, headers []kafka.Header) error {
	start := time.Now()

	headers = append(headers, kafka.Header{Key: constants.HeaderRoutingKey, Value: []byte(routingKey)})
	headers = tracing.InjectTraceContext(ctx, headers)

	err := p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic:   topic,
			Key:     []byte(routingKey),
			Value:   body,
			Headers: headers,
			Time:    start,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to write kafka message to %s: %w", topic, err)
	}

	metrics.IncBrokerPublished(brokerKafka, topic)
	metrics.ObserveBrokerPublishDuration(brokerKafka, topic, time.Since(start))
	return nil
}

// DeclareTopology creates the events, actions, scheduled and DLQ topics.
// Topics that already exist are left alone.
func (p *KafkaProducer) DeclareTopology(ctx context.Context) error {
	if len(p.cfg.Brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", p.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get kafka controller: %w", err)
	}

	controllerConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	partitions := p.cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	replication := p.cfg.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}

	var topics []kafka.TopicConfig
	for _, topic := range []string{p.cfg.EventsTopic, p.cfg.ActionsTopic, p.cfg.ScheduledTopic, p.cfg.DLQTopic} {
		if topic == "" {
			continue
		}
		topics = append(topics, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: replication,
		})
	}

	for _, topic := range topics {
		if err := controllerConn.CreateTopics(topic); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
			return fmt.Errorf("failed to create topic %s: %w", topic.Topic, err)
		}
	}

	p.logger.Infow("Kafka topics declared",
		"events_topic", p.cfg.EventsTopic,
		"actions_topic", p.cfg.ActionsTopic,
		"scheduled_topic", p.cfg.ScheduledTopic,
		"dlq_topic", p.cfg.DLQTopic,
	)
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// KafkaConsumer reads the events topic in a consumer group. Each message
// is retried in-process under the configured policy, then dead-lettered to
// the DLQ topic, and its offset committed either way.
type KafkaConsumer struct {
	cfg         config.KafkaConfig
	logger      logger.Logger
	dlqProducer *KafkaProducer
	serviceName string

	mu     sync.Mutex
	reader *kafka.Reader
	wg     sync.WaitGroup
}

func NewKafkaConsumer(cfg config.KafkaConfig, dlqProducer *KafkaProducer, log logger.Logger) *KafkaConsumer {
	c := &KafkaConsumer{
		cfg:         cfg,
		logger:      log,
		serviceName: "unknown",
	}
	if cfg.DLQTopic != "" {
		c.dlqProducer = dlqProducer
	}
	return c
}

func (c *KafkaConsumer) SetServiceName(name string) {
	c.serviceName = name
}

// Consume returns ctx.Err() when ctx is done, nil after Close, and the
// fetch or commit error otherwise so the caller can rebuild the session.
func (c *KafkaConsumer) Consume(ctx context.Context, handler HandlerFunc) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.cfg.Brokers,
		GroupID:  c.cfg.GroupID,
		Topic:    c.cfg.EventsTopic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	c.mu.Lock()
	c.reader = reader
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	consumeCtx := logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming",
		"topic", c.cfg.EventsTopic,
		"brokers", c.cfg.Brokers,
		"group_id", c.cfg.GroupID,
	)

	for {
		m, err := reader.FetchMessage(ctx)
		switch {
		case ctx.Err() != nil:
			c.logger.InfowCtx(consumeCtx, "Stopped consuming", "topic", c.cfg.EventsTopic)
			return ctx.Err()
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("failed to fetch kafka message: %w", err)
		}

		c.handleMessage(ctx, m, handler)

		if err := reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to commit kafka offset: %w", err)
		}
	}
}

func (c *KafkaConsumer) handleMessage(ctx context.Context, m kafka.Message, handler HandlerFunc) {
	msgCtx, span := tracing.StartSpanFromKafkaMessage(ctx, "kafka.consume", m.Headers)
	defer span.End()

	delivery := deliveryFromKafka(m)
	msgCtx = logging.WithServiceName(msgCtx, c.serviceName)
	msgCtx = logging.WithMessageID(msgCtx, delivery.ID)

	err := c.processMessageWithRetry(msgCtx, delivery, handler)
	if err == nil {
		metrics.IncBrokerConsumed(brokerKafka, "committed")
		return
	}

	c.logger.ErrorwCtx(msgCtx, "Failed to process message after retries",
		"error", err,
		"topic", m.Topic,
		"routing_key", delivery.RoutingKey,
	)

	if c.dlqProducer == nil {
		c.logger.WarnwCtx(msgCtx, "No DLQ configured, committing message to avoid blocking",
			"topic", m.Topic,
		)
		metrics.IncBrokerConsumed(brokerKafka, "dropped")
		return
	}

	if dlqErr := c.sendToDLQ(msgCtx, m, delivery.RoutingKey, err); dlqErr != nil {
		c.logger.ErrorwCtx(msgCtx, "Failed to send message to DLQ",
			"error", dlqErr,
			"topic", m.Topic,
		)
	}
	metrics.IncBrokerConsumed(brokerKafka, "dead_lettered")
}

func deliveryFromKafka(m kafka.Message) Delivery {
	headers := make(map[string]interface{}, len(m.Headers))
	routingKey := string(m.Key)
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
		if h.Key == constants.HeaderRoutingKey && len(h.Value) > 0 {
			routingKey = string(h.Value)
		}
	}

	return Delivery{
		ID:         fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset),
		RoutingKey: routingKey,
		Body:       m.Value,
		Headers:    headers,
	}
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	reader := c.reader
	c.reader = nil
	c.mu.Unlock()

	var err error
	if reader != nil {
		err = reader.Close()
	}
	c.wg.Wait()
	return err
}

// processMessageWithRetry runs handler under the configured retry policy.
// d.Attempt counts from zero; panics count as failed attempts.
func (c *KafkaConsumer) processMessageWithRetry(ctx context.Context, d Delivery, handler HandlerFunc) error {
	policy := retry.Policy(c.cfg.Retry)
	attempt := 0

	return retry.Do(ctx, policy, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = apperrors.RecoverPanic(r)
				c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
					"error", err,
					"routing_key", d.RoutingKey,
				)
			}
		}()
		d.Attempt = attempt
		attempt++
		return handler(ctx, d)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, d.RoutingKey).Inc()
		c.logger.WarnwCtx(ctx, "Retrying message processing",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"next_delay", nextDelay,
			"error", err,
			"routing_key", d.RoutingKey,
		)
	})
}

func (c *KafkaConsumer) sendToDLQ(ctx context.Context, m kafka.Message, routingKey string, originalErr error) error {
	reason := "max_retries_exceeded"
	if retry.IsFatal(originalErr) {
		reason = "permanent_error"
	}

	headers := []kafka.Header{
		{Key: "dlq_reason", Value: []byte(originalErr.Error())},
		{Key: "dlq_source_topic", Value: []byte(m.Topic)},
		{Key: "dlq_timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339Nano))},
	}

	if err := c.dlqProducer.write(ctx, c.cfg.DLQTopic, routingKey, m.Value, headers); err != nil {
		return fmt.Errorf("failed to publish to DLQ: %w", err)
	}

	metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, routingKey, reason).Inc()
	c.logger.InfowCtx(ctx, "Message sent to DLQ",
		"source_topic", m.Topic,
		"dlq_topic", c.cfg.DLQTopic,
		"reason", originalErr.Error(),
	)

	return nil
}
