package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// EventEnvelope is the body published on the events exchange.
type EventEnvelope struct {
	EventName string                 `json:"eventName"`
	Payload   map[string]interface{} `json:"payload"`
}

// RawEvent is a decoded event body. It keeps every field the publisher sent,
// since the whole body is forwarded to action workers.
type RawEvent map[string]interface{}

func ParseEvent(body []byte) (RawEvent, error) {
	var event RawEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event body: %w", err)
	}
	if event == nil {
		return nil, fmt.Errorf("event body is null")
	}
	return event, nil
}

func (e RawEvent) Name() string {
	name, _ := e["eventName"].(string)
	return name
}

// Payload returns the nested payload object, or nil.
func (e RawEvent) Payload() map[string]interface{} {
	payload, _ := e["payload"].(map[string]interface{})
	return payload
}

// Reference reads an entity id from the top level first, then from the
// nested payload. Older publishers only set one of the two.
func (e RawEvent) Reference(field string) (string, bool) {
	if id, ok := stringValue(e[field]); ok {
		return id, true
	}
	if payload := e.Payload(); payload != nil {
		return stringValue(payload[field])
	}
	return "", false
}

func stringValue(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, val != ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case json.Number:
		return val.String(), true
	default:
		return "", false
	}
}
