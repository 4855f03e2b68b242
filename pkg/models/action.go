package models

import "time"

// TimestampLayout matches JavaScript's Date.toISOString, which downstream
// action workers parse.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ActionMessage is the body published for one rule action.
type ActionMessage struct {
	ActionType string                 `json:"actionType"`
	Config     map[string]interface{} `json:"config"`
	Payload    map[string]interface{} `json:"payload"`
}

// NewDispatchPayload copies the event body and adds the resolved entity and
// a server timestamp. The event is not modified.
func NewDispatchPayload(event RawEvent, relatedDoc map[string]interface{}, now time.Time) map[string]interface{} {
	payload := make(map[string]interface{}, len(event)+2)
	for k, v := range event {
		payload[k] = v
	}
	payload["relatedDoc"] = relatedDoc
	payload["timestamp"] = FormatTimestamp(now)
	return payload
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
