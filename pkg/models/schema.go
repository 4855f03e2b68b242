package models

import "fmt"

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateEventEnvelope(event *EventEnvelope) error {
	if event == nil {
		return &ValidationError{
			Field:   "envelope",
			Message: "event envelope cannot be nil",
		}
	}

	if event.EventName == "" {
		return &ValidationError{
			Field:   "eventName",
			Message: "event name is required",
		}
	}

	if event.Payload == nil {
		return &ValidationError{
			Field:   "payload",
			Message: "event payload cannot be nil",
		}
	}

	return nil
}

func ValidateActionMessage(msg *ActionMessage) error {
	if msg == nil {
		return &ValidationError{
			Field:   "message",
			Message: "action message cannot be nil",
		}
	}

	if msg.ActionType == "" {
		return &ValidationError{
			Field:   "actionType",
			Message: "action type is required",
		}
	}

	if msg.Payload == nil {
		return &ValidationError{
			Field:   "payload",
			Message: "action payload cannot be nil",
		}
	}

	return nil
}
