package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachflow/internal/config"
	"coachflow/internal/constants"
	"coachflow/internal/logger"
	"coachflow/internal/scheduler"
	"coachflow/pkg/retry"
)

type captureStore struct {
	entries []scheduler.Entry
}

func (s *captureStore) Schedule(_ context.Context, e scheduler.Entry) error {
	s.entries = append(s.entries, e)
	return nil
}

func (s *captureStore) Claim(context.Context, time.Time, int) ([]scheduler.Entry, error) {
	return nil, nil
}

func (s *captureStore) Requeue(ctx context.Context, e scheduler.Entry) error {
	return s.Schedule(ctx, e)
}

func (s *captureStore) Size(context.Context) (int64, error) {
	return int64(len(s.entries)), nil
}

func testKafkaConfig() config.KafkaConfig {
	return config.KafkaConfig{
		Brokers:        []string{"localhost:9092"},
		GroupID:        constants.DefaultKafkaGroupID,
		EventsTopic:    constants.DefaultEventsTopic,
		ActionsTopic:   constants.DefaultActionsTopic,
		ScheduledTopic: constants.DefaultScheduledTopic,
		DLQTopic:       constants.DefaultDLQTopic,
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
	}
}

func TestKafkaProducer_PublishDelayedSchedules(t *testing.T) {
	store := &captureStore{}
	p := NewKafkaProducer(testKafkaConfig(), store, logger.NopLogger())
	defer p.Close()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	err := p.PublishDelayed(context.Background(), "send_whatsapp_message", []byte(`{}`), time.Hour)
	require.NoError(t, err)

	require.Len(t, store.entries, 1)
	assert.Equal(t, "send_whatsapp_message", store.entries[0].ActionType)
	assert.Equal(t, int64(3600000), store.entries[0].DelayMs)
	assert.Equal(t, now.Add(time.Hour), store.entries[0].DueAt)
}

func TestKafkaProducer_PublishDelayedWithoutStore(t *testing.T) {
	p := NewKafkaProducer(testKafkaConfig(), nil, logger.NopLogger())
	defer p.Close()

	err := p.PublishDelayed(context.Background(), "create_task", []byte(`{}`), time.Minute)
	assert.Error(t, err)
}

func TestDeliveryFromKafka(t *testing.T) {
	m := kafka.Message{
		Topic:     "automation.events",
		Partition: 2,
		Offset:    41,
		Key:       []byte("lead_created"),
		Value:     []byte(`{"eventName":"lead_created"}`),
		Headers: []kafka.Header{
			{Key: constants.HeaderRoutingKey, Value: []byte("lead_status_changed")},
			{Key: "traceparent", Value: []byte("00-abc")},
		},
	}

	d := deliveryFromKafka(m)
	assert.Equal(t, "automation.events/2/41", d.ID)
	assert.Equal(t, "lead_status_changed", d.RoutingKey)
	assert.Equal(t, "00-abc", d.Headers["traceparent"])

	m.Headers = nil
	assert.Equal(t, "lead_created", deliveryFromKafka(m).RoutingKey)
}

func TestKafkaConsumer_RetriesTransientErrors(t *testing.T) {
	c := NewKafkaConsumer(testKafkaConfig(), nil, logger.NopLogger())

	var attempts []int
	err := c.processMessageWithRetry(context.Background(), Delivery{RoutingKey: "lead_created"},
		func(_ context.Context, d Delivery) error {
			attempts = append(attempts, d.Attempt)
			if len(attempts) < 3 {
				return errors.New("transient")
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, attempts)
}

func TestKafkaConsumer_FatalErrorSkipsRetries(t *testing.T) {
	c := NewKafkaConsumer(testKafkaConfig(), nil, logger.NopLogger())

	calls := 0
	err := c.processMessageWithRetry(context.Background(), Delivery{},
		func(context.Context, Delivery) error {
			calls++
			return retry.NewFatalError(errors.New("malformed"))
		})

	require.Error(t, err)
	assert.True(t, retry.IsFatal(err))
	assert.Equal(t, 1, calls)
}

func TestKafkaConsumer_RecoversPanics(t *testing.T) {
	cfg := testKafkaConfig()
	cfg.Retry.MaxAttempts = 1
	c := NewKafkaConsumer(cfg, nil, logger.NopLogger())

	err := c.processMessageWithRetry(context.Background(), Delivery{},
		func(context.Context, Delivery) error { panic("boom") })
	assert.Error(t, err)
}

func TestNew_UnknownBroker(t *testing.T) {
	_, err := New(config.BrokerConfig{Type: "sqs"}, "test", nil, logger.NopLogger())
	assert.Error(t, err)
}

func TestNew_Kafka(t *testing.T) {
	client, err := New(config.BrokerConfig{Type: constants.BrokerTypeKafka, Kafka: testKafkaConfig()},
		"test", &captureStore{}, logger.NopLogger())
	require.NoError(t, err)

	assert.NotNil(t, client.Producer)
	assert.NotNil(t, client.Consumer)
	assert.NotNil(t, client.Topology)
	assert.NotNil(t, client.Scheduled)
	assert.Empty(t, client.Close())
}
