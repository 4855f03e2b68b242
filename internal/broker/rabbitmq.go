package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"coachflow/internal/config"
	"coachflow/internal/constants"
	"coachflow/internal/logger"
	apperrors "coachflow/pkg/errors"
	"coachflow/pkg/logging"
	"coachflow/pkg/metrics"
	"coachflow/pkg/retry"
	"coachflow/pkg/tracing"
)

const brokerRabbitMQ = "rabbitmq"

// amqpChannel is the subset of *amqp.Channel the adapter uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
	Close() error
}

// RabbitMQConnection owns the AMQP connection shared by the producer and
// consumer channels of one process.
type RabbitMQConnection struct {
	cfg    config.RabbitMQConfig
	conn   *amqp.Connection
	closed <-chan *amqp.Error
	logger logger.Logger
}

func DialRabbitMQ(cfg config.RabbitMQConfig, name string, log logger.Logger) (*RabbitMQConnection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(name)

	conn, err := amqp.DialConfig(cfg.ConnectionURL(), amqp.Config{
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
		Properties: props,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	log.Infow("RabbitMQ connected", "connection_name", name)

	return &RabbitMQConnection{
		cfg:    cfg,
		conn:   conn,
		closed: conn.NotifyClose(make(chan *amqp.Error, 1)),
		logger: log,
	}, nil
}

// DeclareTopology asserts every exchange and queue except the engine's own
// subscription queue. Safe to call repeatedly.
func (c *RabbitMQConnection) DeclareTopology(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := declareTopology(ch, c.cfg); err != nil {
		return err
	}

	c.logger.Infow("RabbitMQ topology declared",
		"events_exchange", c.cfg.EventsExchange,
		"actions_exchange", c.cfg.ActionsExchange,
		"delayed_exchange", c.cfg.DelayedExchange,
		"scheduled_queue", c.cfg.ScheduledQueue,
		"dead_letter_exchange", c.cfg.DeadLetterExchange,
	)
	return nil
}

func (c *RabbitMQConnection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

func (c *RabbitMQConnection) NewProducer() (*RabbitMQProducer, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open producer channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	return newRabbitMQProducer(ch, c.cfg, c.logger), nil
}

func (c *RabbitMQConnection) NewConsumer(republisher *RabbitMQProducer) (*RabbitMQConsumer, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}
	consumer := newRabbitMQConsumer(ch, c.cfg, republisher, c.logger)
	consumer.closed = c.closed
	return consumer, nil
}

func declareTopology(ch amqpChannel, cfg config.RabbitMQConfig) error {
	for _, name := range []string{cfg.EventsExchange, cfg.ActionsExchange} {
		if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}

	err := ch.ExchangeDeclare(cfg.DelayedExchange, constants.ExchangeTypeDelayedMessage, true, false, false, false,
		amqp.Table{constants.HeaderDelayedType: amqp.ExchangeDirect})
	if err != nil {
		return fmt.Errorf("failed to declare delayed exchange %s: %w", cfg.DelayedExchange, err)
	}

	if _, err := ch.QueueDeclare(cfg.ScheduledQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.ScheduledQueue, err)
	}
	if err := ch.QueueBind(cfg.ScheduledQueue, cfg.ScheduledQueue, cfg.DelayedExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", cfg.ScheduledQueue, err)
	}

	if cfg.DeadLetterExchange == "" {
		return nil
	}

	if err := ch.ExchangeDeclare(cfg.DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", cfg.DeadLetterExchange, err)
	}
	if _, err := ch.QueueDeclare(cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", cfg.DeadLetterQueue, err)
	}
	if err := ch.QueueBind(cfg.DeadLetterQueue, cfg.DeadLetterQueue, cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", cfg.DeadLetterQueue, err)
	}

	return nil
}

// declareEngineQueue declares the engine's subscription queue and binds it
// to the events exchange. It returns the queue name, which the server
// assigns when cfg.Queue is empty.
func declareEngineQueue(ch amqpChannel, cfg config.RabbitMQConfig) (string, error) {
	args := amqp.Table{}
	if cfg.DeadLetterExchange != "" {
		args[constants.HeaderDeadLetterExchange] = cfg.DeadLetterExchange
		args[constants.HeaderDeadLetterRouteKey] = cfg.DeadLetterQueue
	}

	var (
		q   amqp.Queue
		err error
	)
	if cfg.Queue == "" {
		q, err = ch.QueueDeclare("", false, true, true, false, args)
	} else {
		q, err = ch.QueueDeclare(cfg.Queue, true, false, false, false, args)
	}
	if err != nil {
		return "", fmt.Errorf("failed to declare engine queue: %w", err)
	}

	bindingKey := cfg.BindingKey
	if bindingKey == "" {
		bindingKey = constants.DefaultEventsBindingKey
	}
	if err := ch.QueueBind(q.Name, bindingKey, cfg.EventsExchange, false, nil); err != nil {
		return "", fmt.Errorf("failed to bind engine queue: %w", err)
	}

	return q.Name, nil
}

type RabbitMQProducer struct {
	ch     amqpChannel
	cfg    config.RabbitMQConfig
	logger logger.Logger
}

func newRabbitMQProducer(ch amqpChannel, cfg config.RabbitMQConfig, log logger.Logger) *RabbitMQProducer {
	return &RabbitMQProducer{ch: ch, cfg: cfg, logger: log}
}

func (p *RabbitMQProducer) PublishEvent(ctx context.Context, eventName string, body []byte) error {
	return p.publish(ctx, p.cfg.EventsExchange, eventName, amqp.Publishing{Body: body})
}

func (p *RabbitMQProducer) PublishAction(ctx context.Context, actionType string, body []byte) error {
	return p.publish(ctx, p.cfg.ActionsExchange, actionType, amqp.Publishing{Body: body})
}

func (p *RabbitMQProducer) PublishDelayed(ctx context.Context, _ string, body []byte, delay time.Duration) error {
	return p.publish(ctx, p.cfg.DelayedExchange, p.cfg.ScheduledQueue, amqp.Publishing{
		Body:    body,
		Headers: amqp.Table{constants.HeaderDelay: delay.Milliseconds()},
	})
}

// republish puts a failed delivery back on queue through the default
// exchange with its attempt counter raised.
func (p *RabbitMQProducer) republish(ctx context.Context, queue string, d amqp.Delivery, routingKey string, attempt int) error {
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[constants.HeaderRetryCount] = int64(attempt)
	headers[constants.HeaderOriginalRoutingKey] = routingKey

	return p.publish(ctx, "", queue, amqp.Publishing{
		MessageId: d.MessageId,
		Headers:   headers,
		Body:      d.Body,
	})
}

func (p *RabbitMQProducer) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) error {
	if p.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PublishTimeout)
		defer cancel()
	}

	start := time.Now()
	destination := exchange
	if destination == "" {
		destination = key
	}

	msg.ContentType = "application/json"
	msg.DeliveryMode = amqp.Persistent
	msg.Timestamp = start
	if msg.MessageId == "" {
		msg.MessageId = uuid.New().String()
	}
	msg.Headers = tracing.InjectAMQPHeaders(ctx, msg.Headers)

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", destination, err)
	}

	// nil when the channel is not in confirm mode.
	if confirm != nil {
		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to confirm publish to %s: %w", destination, err)
		}
		if !acked {
			return fmt.Errorf("broker nacked publish to %s", destination)
		}
	}

	metrics.IncBrokerPublished(brokerRabbitMQ, destination)
	metrics.ObserveBrokerPublishDuration(brokerRabbitMQ, destination, time.Since(start))
	return nil
}

func (p *RabbitMQProducer) Close() error {
	if err := p.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

type RabbitMQConsumer struct {
	ch          amqpChannel
	cfg         config.RabbitMQConfig
	republisher *RabbitMQProducer
	closed      <-chan *amqp.Error
	logger      logger.Logger
	serviceName string
	queue       string
	wg          sync.WaitGroup
}

func newRabbitMQConsumer(ch amqpChannel, cfg config.RabbitMQConfig, republisher *RabbitMQProducer, log logger.Logger) *RabbitMQConsumer {
	return &RabbitMQConsumer{
		ch:          ch,
		cfg:         cfg,
		republisher: republisher,
		logger:      log,
		serviceName: "unknown",
	}
}

func (c *RabbitMQConsumer) SetServiceName(name string) {
	c.serviceName = name
}

func (c *RabbitMQConsumer) Consume(ctx context.Context, handler HandlerFunc) error {
	queue, err := declareEngineQueue(c.ch, c.cfg)
	if err != nil {
		return err
	}
	c.queue = queue

	prefetch := c.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = constants.DefaultPrefetch
	}
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := c.ch.Consume(queue, c.serviceName, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", queue, err)
	}

	consumeCtx := logging.WithServiceName(ctx, c.serviceName)
	c.logger.InfowCtx(consumeCtx, "Started consuming",
		"queue", queue,
		"exchange", c.cfg.EventsExchange,
		"binding_key", c.cfg.BindingKey,
		"prefetch", prefetch,
	)

	return c.loop(ctx, deliveries, prefetch, handler)
}

func (c *RabbitMQConsumer) loop(ctx context.Context, deliveries <-chan amqp.Delivery, prefetch int, handler HandlerFunc) error {
	inFlight := make(chan struct{}, prefetch)
	defer c.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			c.logger.Infow("Stopped consuming", "queue", c.queue, "reason", "context canceled")
			return ctx.Err()
		case amqpErr, ok := <-c.closed:
			if !ok || amqpErr == nil {
				return errors.New("rabbitmq connection closed")
			}
			return fmt.Errorf("rabbitmq connection lost: %w", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}

			inFlight <- struct{}{}
			c.wg.Add(1)
			go func(d amqp.Delivery) {
				defer c.wg.Done()
				defer func() { <-inFlight }()
				c.handleDelivery(ctx, d, handler)
			}(d)
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler HandlerFunc) {
	routingKey := d.RoutingKey
	if original, ok := d.Headers[constants.HeaderOriginalRoutingKey].(string); ok && original != "" {
		routingKey = original
	}
	attempt := retryCount(d.Headers)

	msgCtx, span := tracing.StartSpanFromAMQPDelivery(ctx, "amqp.consume", d.Headers)
	defer span.End()

	msgCtx = logging.WithServiceName(msgCtx, c.serviceName)
	if d.MessageId != "" {
		msgCtx = logging.WithMessageID(msgCtx, d.MessageId)
	}

	delivery := Delivery{
		ID:         d.MessageId,
		RoutingKey: routingKey,
		Body:       d.Body,
		Headers:    map[string]interface{}(d.Headers),
		Attempt:    attempt,
	}

	err := c.invoke(msgCtx, handler, delivery)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.ErrorwCtx(msgCtx, "Failed to ack message", "error", ackErr, "routing_key", routingKey)
		}
		metrics.IncBrokerConsumed(brokerRabbitMQ, "acked")
		return
	}

	c.reject(msgCtx, d, routingKey, attempt, err)
}

func (c *RabbitMQConsumer) invoke(ctx context.Context, handler HandlerFunc, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.RecoverPanic(r)
			c.logger.ErrorwCtx(ctx, "Panic recovered during message processing",
				"error", err,
				"routing_key", d.RoutingKey,
			)
		}
	}()
	return handler(ctx, d)
}

// reject either schedules another attempt or dead-letters the message.
func (c *RabbitMQConsumer) reject(ctx context.Context, d amqp.Delivery, routingKey string, attempt int, cause error) {
	reason := ""
	switch {
	case retry.IsFatal(cause):
		reason = "permanent_error"
	case attempt >= c.cfg.MaxRedeliveries:
		reason = "max_redeliveries_exceeded"
	case c.republisher == nil:
		reason = "no_republisher"
	}

	if reason != "" {
		if err := d.Nack(false, false); err != nil {
			c.logger.ErrorwCtx(ctx, "Failed to nack message", "error", err, "routing_key", routingKey)
		}
		metrics.DLQMessagesTotal.WithLabelValues(c.serviceName, routingKey, reason).Inc()
		metrics.IncBrokerConsumed(brokerRabbitMQ, "dead_lettered")
		c.logger.ErrorwCtx(ctx, "Message rejected without requeue",
			"error", cause,
			"routing_key", routingKey,
			"attempt", attempt,
			"reason", reason,
			"dead_letter_exchange", c.cfg.DeadLetterExchange,
		)
		return
	}

	if err := c.republisher.republish(ctx, c.queue, d, routingKey, attempt+1); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to republish message, requeueing",
			"error", err,
			"routing_key", routingKey,
		)
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.ErrorwCtx(ctx, "Failed to nack message", "error", nackErr, "routing_key", routingKey)
		}
		metrics.IncBrokerConsumed(brokerRabbitMQ, "requeued")
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.ErrorwCtx(ctx, "Failed to ack republished message", "error", err, "routing_key", routingKey)
	}
	metrics.RetryAttemptsTotal.WithLabelValues(c.serviceName, routingKey).Inc()
	metrics.IncBrokerConsumed(brokerRabbitMQ, "redelivered")
	c.logger.WarnwCtx(ctx, "Message processing failed, scheduled redelivery",
		"error", cause,
		"routing_key", routingKey,
		"attempt", attempt+1,
		"max_redeliveries", c.cfg.MaxRedeliveries,
	)
}

func (c *RabbitMQConsumer) Close() error {
	err := c.ch.Close()
	c.wg.Wait()
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

func retryCount(headers amqp.Table) int {
	switch v := headers[constants.HeaderRetryCount].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
