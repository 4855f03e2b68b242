package automation

import (
	"context"
	"fmt"

	"coachflow/internal/logger"
	"coachflow/pkg/cel"
	"coachflow/pkg/metrics"
	"coachflow/pkg/models"
)

type ConditionEvaluator interface {
	Evaluate(ctx context.Context, conditions []cel.Condition, logic string, act cel.Activation) (bool, error)
}

// Matcher selects the rules that fire for an event. With a nil evaluator
// trigger conditions are ignored and every active rule for the event fires.
type Matcher struct {
	rules     RuleRepository
	evaluator ConditionEvaluator
	logger    logger.Logger
}

func NewMatcher(rules RuleRepository, evaluator ConditionEvaluator, log logger.Logger) *Matcher {
	return &Matcher{rules: rules, evaluator: evaluator, logger: log}
}

func (m *Matcher) Match(ctx context.Context, eventName string, event models.RawEvent, entity map[string]interface{}) ([]Rule, error) {
	rules, err := m.rules.FindActiveByTrigger(ctx, eventName)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for %s: %w", eventName, err)
	}

	if m.evaluator == nil {
		return rules, nil
	}

	act := cel.Activation{
		Entity:  entity,
		Payload: event.Payload(),
		Event:   event,
	}

	matched := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		if len(rule.TriggerConditions) == 0 {
			matched = append(matched, rule)
			continue
		}

		ok, err := m.evaluator.Evaluate(ctx, toCELConditions(rule.TriggerConditions), rule.TriggerConditionLogic, act)
		if err != nil {
			metrics.IncConditionEvaluation("error")
			m.logger.WarnwCtx(ctx, "Trigger conditions could not be evaluated, rule skipped",
				"rule_id", rule.ID.Hex(),
				"rule_name", rule.Name,
				"error", err,
			)
			continue
		}
		if !ok {
			metrics.IncConditionEvaluation("false")
			m.logger.DebugwCtx(ctx, "Trigger conditions not met",
				"rule_id", rule.ID.Hex(),
				"rule_name", rule.Name,
			)
			continue
		}
		metrics.IncConditionEvaluation("true")
		matched = append(matched, rule)
	}

	return matched, nil
}

func toCELConditions(conditions []Condition) []cel.Condition {
	out := make([]cel.Condition, len(conditions))
	for i, c := range conditions {
		out[i] = cel.Condition{Field: c.Field, Operator: c.Operator, Value: c.Value}
	}
	return out
}
