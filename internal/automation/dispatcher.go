package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"coachflow/internal/constants"
	"coachflow/internal/logger"
	"coachflow/pkg/metrics"
	"coachflow/pkg/models"
	"coachflow/pkg/retry"
)

// Publisher is the outbound half of the broker the dispatcher needs.
type Publisher interface {
	PublishAction(ctx context.Context, actionType string, body []byte) error
	PublishDelayed(ctx context.Context, actionType string, body []byte, delay time.Duration) error
}

// DispatchRecord describes one published action.
type DispatchRecord struct {
	RuleID     string
	RuleName   string
	CoachID    string
	EventName  string
	EntityID   string
	ActionType string
	Mode       string
	Delay      time.Duration
	Timestamp  time.Time
}

type DispatchRecorder interface {
	Record(ctx context.Context, rec DispatchRecord) error
}

type DispatcherOption func(*Dispatcher)

// WithActionDelaySeconds makes the action-level delay field (seconds) count
// when config.delayMinutes is absent or zero.
func WithActionDelaySeconds(enabled bool) DispatcherOption {
	return func(d *Dispatcher) { d.honorDelaySeconds = enabled }
}

// WithParallelDispatch publishes the actions of one rule concurrently.
func WithParallelDispatch(enabled bool) DispatcherOption {
	return func(d *Dispatcher) { d.parallel = enabled }
}

func WithRecorder(recorder DispatchRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.recorder = recorder }
}

type Dispatcher struct {
	publisher         Publisher
	recorder          DispatchRecorder
	logger            logger.Logger
	honorDelaySeconds bool
	parallel          bool
	now               func() time.Time
}

func NewDispatcher(publisher Publisher, log logger.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		publisher: publisher,
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DispatchRule publishes one message per action of rule and returns how
// many were published. It stops at the first publish error.
func (d *Dispatcher) DispatchRule(ctx context.Context, rule Rule, eventName string, event models.RawEvent, res *Resolution) (int, error) {
	if !d.parallel || len(rule.Actions) < 2 {
		for i, action := range rule.Actions {
			if err := d.dispatchAction(ctx, rule, action, eventName, event, res); err != nil {
				return i, err
			}
		}
		return len(rule.Actions), nil
	}

	var published atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for _, action := range rule.Actions {
		g.Go(func() error {
			if err := d.dispatchAction(gctx, rule, action, eventName, event, res); err != nil {
				return err
			}
			published.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return int(published.Load()), err
}

func (d *Dispatcher) dispatchAction(ctx context.Context, rule Rule, action Action, eventName string, event models.RawEvent, res *Resolution) error {
	now := d.now()
	msg := models.ActionMessage{
		ActionType: action.Type,
		Config:     action.Config,
		Payload:    models.NewDispatchPayload(event, res.Document, now),
	}
	if err := models.ValidateActionMessage(&msg); err != nil {
		return retry.NewFatalError(fmt.Errorf("rule %s: %w", rule.Name, err))
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal action %s: %w", action.Type, err)
	}

	delay := ActionDelay(action, d.honorDelaySeconds)
	mode := constants.DispatchModeImmediate
	if delay > 0 {
		mode = constants.DispatchModeDelayed
		err = d.publisher.PublishDelayed(ctx, action.Type, body, delay)
	} else {
		err = d.publisher.PublishAction(ctx, action.Type, body)
	}
	if err != nil {
		return fmt.Errorf("failed to publish action %s of rule %s: %w", action.Type, rule.Name, err)
	}

	metrics.IncActionDispatched(action.Type, mode)
	d.logger.InfowCtx(ctx, "Action dispatched",
		"rule_id", rule.ID.Hex(),
		"rule_name", rule.Name,
		"action_type", action.Type,
		"mode", mode,
		"delay_ms", delay.Milliseconds(),
	)

	d.record(ctx, DispatchRecord{
		RuleID:     rule.ID.Hex(),
		RuleName:   rule.Name,
		CoachID:    rule.CoachID,
		EventName:  eventName,
		EntityID:   res.ID,
		ActionType: action.Type,
		Mode:       mode,
		Delay:      delay,
		Timestamp:  now,
	})
	return nil
}

// record is best-effort: a failed write is logged and never fails the event.
func (d *Dispatcher) record(ctx context.Context, rec DispatchRecord) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.Record(ctx, rec); err != nil {
		metrics.IncDispatchLogWrite("error")
		d.logger.WarnwCtx(ctx, "Failed to write dispatch log",
			"error", err,
			"rule_id", rec.RuleID,
			"action_type", rec.ActionType,
		)
		return
	}
	metrics.IncDispatchLogWrite("success")
}

// ActionDelay returns how long an action waits before it is visible to
// workers. config.delayMinutes wins; the seconds field is a fallback only
// when honorSeconds is set.
func ActionDelay(action Action, honorSeconds bool) time.Duration {
	if minutes := delayMinutes(action.Config); minutes > 0 {
		return time.Duration(math.Round(minutes*60000)) * time.Millisecond
	}
	if honorSeconds && action.Delay > 0 {
		return time.Duration(math.Round(action.Delay*1000)) * time.Millisecond
	}
	return 0
}

func delayMinutes(config map[string]interface{}) float64 {
	switch v := config["delayMinutes"].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
