package management

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"coachflow/internal/automation"
	"coachflow/pkg/cel"
)

// Validator checks rule requests. Struct tags cover shape and catalog
// membership, the CEL evaluator checks that the conditions compile.
type Validator struct {
	validate  *validator.Validate
	evaluator *cel.Evaluator
}

func NewValidator() (*Validator, error) {
	v := validator.New(validator.WithRequiredStructEnabled())

	custom := map[string]func(string) bool{
		"trigger_event":      automation.IsTriggerEvent,
		"action_type":        automation.IsActionType,
		"condition_operator": cel.IsSupportedOperator,
	}
	for tag, check := range custom {
		check := check
		if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return check(fl.Field().String())
		}); err != nil {
			return nil, fmt.Errorf("failed to register %s validation: %w", tag, err)
		}
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	return &Validator{validate: v, evaluator: evaluator}, nil
}

func (v *Validator) ValidateCreate(req CreateRuleRequest) error {
	if err := v.validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	if err := validateDelays(req.Actions); err != nil {
		return err
	}
	return v.validateConditions(req.TriggerConditions, req.TriggerConditionLogic)
}

func (v *Validator) ValidateUpdate(req UpdateRuleRequest) error {
	if err := v.validate.Struct(req); err != nil {
		return formatValidationError(err)
	}
	if req.Actions != nil {
		if len(*req.Actions) == 0 {
			return fmt.Errorf("actions cannot be empty")
		}
		if err := validateDelays(*req.Actions); err != nil {
			return err
		}
	}
	if req.TriggerConditions != nil {
		logic := ""
		if req.TriggerConditionLogic != nil {
			logic = *req.TriggerConditionLogic
		}
		return v.validateConditions(*req.TriggerConditions, logic)
	}
	return nil
}

func (v *Validator) validateConditions(reqs []ConditionRequest, logic string) error {
	if len(reqs) == 0 {
		return nil
	}
	conditions := make([]cel.Condition, len(reqs))
	for i, r := range reqs {
		conditions[i] = cel.Condition{Field: r.Field, Operator: r.Operator, Value: r.Value}
	}
	if err := v.evaluator.ValidateConditions(conditions, logic); err != nil {
		return fmt.Errorf("invalid trigger conditions: %w", err)
	}
	return nil
}

// validateDelays rejects a config.delayMinutes that is present but not a
// non-negative number.
func validateDelays(actions []ActionRequest) error {
	for i, a := range actions {
		raw, ok := a.Config["delayMinutes"]
		if !ok || raw == nil {
			continue
		}
		var minutes float64
		switch n := raw.(type) {
		case float64:
			minutes = n
		case int:
			minutes = float64(n)
		case int64:
			minutes = float64(n)
		default:
			return fmt.Errorf("actions[%d].config.delayMinutes must be a number", i)
		}
		if minutes < 0 {
			return fmt.Errorf("actions[%d].config.delayMinutes must be non-negative", i)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Namespace()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Namespace(), fe.Param()))
		case "trigger_event":
			msgs = append(msgs, fmt.Sprintf("%s: unknown trigger event %q", fe.Namespace(), fe.Value()))
		case "action_type":
			msgs = append(msgs, fmt.Sprintf("%s: unknown action type %q", fe.Namespace(), fe.Value()))
		case "condition_operator":
			msgs = append(msgs, fmt.Sprintf("%s: unsupported operator %q", fe.Namespace(), fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
