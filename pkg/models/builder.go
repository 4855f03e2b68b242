package models

type EventEnvelopeBuilder struct {
	envelope *EventEnvelope
}

func NewEventEnvelopeBuilder(eventName string) *EventEnvelopeBuilder {
	return &EventEnvelopeBuilder{
		envelope: &EventEnvelope{
			EventName: eventName,
			Payload:   make(map[string]interface{}),
		},
	}
}

func (b *EventEnvelopeBuilder) WithPayload(payload map[string]interface{}) *EventEnvelopeBuilder {
	b.envelope.Payload = payload
	return b
}

func (b *EventEnvelopeBuilder) WithField(name string, value interface{}) *EventEnvelopeBuilder {
	if b.envelope.Payload == nil {
		b.envelope.Payload = make(map[string]interface{})
	}
	b.envelope.Payload[name] = value
	return b
}

func (b *EventEnvelopeBuilder) Build() *EventEnvelope {
	return b.envelope
}
