package automation

import (
	"context"
	"errors"
	"time"

	"coachflow/internal/broker"
	"coachflow/internal/constants"
	"coachflow/internal/logger"
	"coachflow/pkg/logging"
	"coachflow/pkg/metrics"
	"coachflow/pkg/models"
	"coachflow/pkg/retry"
)

// Engine turns one event into action messages: resolve the entity, match
// rules, dispatch every action. Handle returns nil when the event should be
// acked, including events that are dropped on purpose.
type Engine struct {
	resolver   *Resolver
	matcher    *Matcher
	dispatcher *Dispatcher
	logger     logger.Logger
}

func NewEngine(resolver *Resolver, matcher *Matcher, dispatcher *Dispatcher, log logger.Logger) *Engine {
	return &Engine{
		resolver:   resolver,
		matcher:    matcher,
		dispatcher: dispatcher,
		logger:     log,
	}
}

func (e *Engine) Handle(ctx context.Context, d broker.Delivery) error {
	start := time.Now()
	outcome, err := e.process(ctx, d)
	metrics.IncEngineEvent(outcome)
	metrics.ObserveEngineDuration(time.Since(start), outcome)
	return err
}

func (e *Engine) process(ctx context.Context, d broker.Delivery) (string, error) {
	event, err := models.ParseEvent(d.Body)
	if err != nil {
		e.logger.ErrorwCtx(ctx, "Malformed event body",
			"error", err,
			"routing_key", d.RoutingKey,
			"body", string(d.Body),
		)
		return constants.OutcomeMalformed, retry.NewFatalError(err)
	}

	eventName := d.RoutingKey
	if eventName == "" {
		eventName = event.Name()
	}
	ctx = logging.WithEventName(ctx, eventName)

	res, err := e.resolver.Resolve(ctx, eventName, event)
	switch {
	case errors.Is(err, ErrUnhandledEvent):
		e.logger.DebugwCtx(ctx, "No entity route for event, dropping")
		return constants.OutcomeUnhandled, nil
	case errors.Is(err, ErrMissingReference):
		e.logger.WarnwCtx(ctx, "Event carries no entity reference, dropping",
			"field", res.Route.Field,
		)
		return constants.OutcomeNoReference, nil
	case errors.Is(err, ErrEntityNotFound):
		e.logger.WarnwCtx(ctx, "Referenced entity not found, dropping",
			"entity", res.Route.Kind,
			"entity_id", res.ID,
		)
		return constants.OutcomeMissingDoc, nil
	case err != nil:
		e.logger.ErrorwCtx(ctx, "Failed to resolve entity", "error", err)
		return constants.OutcomeFailed, err
	}

	rules, err := e.matcher.Match(ctx, eventName, event, res.Document)
	if err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to match rules", "error", err)
		return constants.OutcomeFailed, err
	}
	if len(rules) == 0 {
		e.logger.DebugwCtx(ctx, "No active rules for event")
		return constants.OutcomeNoRules, nil
	}
	metrics.AddRulesMatched(eventName, len(rules))

	dispatched := 0
	for _, rule := range rules {
		n, err := e.dispatcher.DispatchRule(ctx, rule, eventName, event, res)
		dispatched += n
		if err != nil {
			e.logger.ErrorwCtx(ctx, "Failed to dispatch rule actions",
				"error", err,
				"rule_id", rule.ID.Hex(),
				"rule_name", rule.Name,
				"dispatched", dispatched,
			)
			return constants.OutcomeFailed, err
		}
	}

	e.logger.InfowCtx(ctx, "Event processed",
		"entity", res.Route.Kind,
		"entity_id", res.ID,
		"rules", len(rules),
		"actions", dispatched,
	)
	return constants.OutcomeDispatched, nil
}
