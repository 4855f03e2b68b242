package broker

import (
	"context"
	"time"
)

// Delivery is one inbound event as seen by a handler.
type Delivery struct {
	ID         string
	RoutingKey string
	Body       []byte
	Headers    map[string]interface{}
	// Attempt counts prior failed handlings of the same message, starting at 0.
	Attempt int
}

// HandlerFunc processes one delivery. A nil return acks the message, any
// error nacks it. Errors marked with retry.NewFatalError skip redelivery.
type HandlerFunc func(ctx context.Context, d Delivery) error

type Producer interface {
	// PublishEvent publishes an event envelope with the event name as routing key.
	PublishEvent(ctx context.Context, eventName string, body []byte) error
	// PublishAction publishes an action message for immediate execution.
	PublishAction(ctx context.Context, actionType string, body []byte) error
	// PublishDelayed publishes an action message that becomes visible to
	// action workers once delay has elapsed.
	PublishDelayed(ctx context.Context, actionType string, body []byte, delay time.Duration) error
	Close() error
}

type Consumer interface {
	// Consume blocks, feeding events to handler until ctx is done or the
	// connection is lost. A lost connection is returned as an error.
	Consume(ctx context.Context, handler HandlerFunc) error
	Close() error
	SetServiceName(name string)
}

type TopologyDeclarer interface {
	DeclareTopology(ctx context.Context) error
}
