package broker

import (
	"fmt"

	"coachflow/internal/config"
	"coachflow/internal/constants"
	"coachflow/internal/logger"
	"coachflow/internal/scheduler"
)

// Client groups the producer, consumer and topology of one broker
// connection.
type Client struct {
	Producer Producer
	Consumer Consumer
	Topology TopologyDeclarer

	// Scheduled is set for brokers that release delayed actions through a
	// scheduler.Poller.
	Scheduled scheduler.Publisher

	closeConn func() error
}

// New connects to the broker selected by cfg.Type. delayed is only used by
// the kafka broker and may be nil otherwise.
func New(cfg config.BrokerConfig, name string, delayed scheduler.Store, log logger.Logger) (*Client, error) {
	switch cfg.Type {
	case constants.BrokerTypeRabbitMQ, "":
		return newRabbitMQClient(cfg.RabbitMQ, name, log)
	case constants.BrokerTypeKafka:
		producer := NewKafkaProducer(cfg.Kafka, delayed, log)
		return &Client{
			Producer:  producer,
			Consumer:  NewKafkaConsumer(cfg.Kafka, producer, log),
			Topology:  producer,
			Scheduled: producer,
		}, nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

func newRabbitMQClient(cfg config.RabbitMQConfig, name string, log logger.Logger) (*Client, error) {
	conn, err := DialRabbitMQ(cfg, name, log)
	if err != nil {
		return nil, err
	}

	producer, err := conn.NewProducer()
	if err != nil {
		conn.Close()
		return nil, err
	}

	consumer, err := conn.NewConsumer(producer)
	if err != nil {
		producer.Close()
		conn.Close()
		return nil, err
	}

	return &Client{
		Producer:  producer,
		Consumer:  consumer,
		Topology:  conn,
		closeConn: conn.Close,
	}, nil
}

func (c *Client) Close() []error {
	var errs []error

	if c.Consumer != nil {
		if err := c.Consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	if c.Producer != nil {
		if err := c.Producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if c.closeConn != nil {
		if err := c.closeConn(); err != nil {
			errs = append(errs, fmt.Errorf("connection close error: %w", err))
		}
	}

	return errs
}
