package management

import (
	"context"
	"encoding/json"
	"errors"

	"coachflow/internal/automation"
	"coachflow/internal/constants"
	"coachflow/internal/logger"
	"coachflow/pkg/cel"
	pkgerrors "coachflow/pkg/errors"
	"coachflow/pkg/metrics"
)

type contextKey string

const (
	changedByKey contextKey = "changed_by"
	clientIPKey  contextKey = "client_ip"
)

// WithChangedBy attaches the acting user and client address to ctx for
// the audit trail.
func WithChangedBy(ctx context.Context, userID, clientIP string) context.Context {
	if userID != "" {
		ctx = context.WithValue(ctx, changedByKey, userID)
	}
	if clientIP != "" {
		ctx = context.WithValue(ctx, clientIPKey, clientIP)
	}
	return ctx
}

type service struct {
	repo      Repository
	audit     AuditRepository
	validator *Validator
	logger    logger.Logger
}

type ServiceOption func(*service)

func WithAudit(audit AuditRepository) ServiceOption {
	return func(s *service) {
		s.audit = audit
	}
}

func WithLogger(log logger.Logger) ServiceOption {
	return func(s *service) {
		s.logger = log
	}
}

func NewService(repo Repository, validator *Validator, opts ...ServiceOption) Service {
	s := &service{
		repo:      repo,
		validator: validator,
		logger:    logger.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateRule(ctx context.Context, req CreateRuleRequest) (*automation.Rule, error) {
	if err := s.validator.ValidateCreate(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	rule := &automation.Rule{
		Name:                  req.Name,
		CoachID:               req.CoachID,
		TriggerEvent:          req.TriggerEvent,
		TriggerConditions:     toConditions(req.TriggerConditions),
		TriggerConditionLogic: logicOrDefault(req.TriggerConditionLogic),
		Actions:               toActions(req.Actions),
		IsActive:              req.IsActive == nil || *req.IsActive,
		CreatedBy:             req.CreatedBy,
	}
	if rule.CreatedBy == "" {
		rule.CreatedBy = getChangedBy(ctx)
	}

	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, asAppError(err)
	}

	s.recordChange(ctx, rule.ID.Hex(), AuditActionCreate, nil, rule)
	return rule, nil
}

func (s *service) ListRules(ctx context.Context, filter ListFilter) ([]automation.Rule, error) {
	if filter.Limit <= 0 {
		filter.Limit = constants.DefaultLimit
	}
	if filter.Limit > constants.MaxLimit {
		filter.Limit = constants.MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	rules, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, asAppError(err)
	}
	return rules, nil
}

func (s *service) GetRule(ctx context.Context, id string) (*automation.Rule, error) {
	rule, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, asAppError(err)
	}
	if rule == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	return rule, nil
}

func (s *service) UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*automation.Rule, error) {
	if err := s.validator.ValidateUpdate(req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	old := *rule

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.TriggerEvent != nil {
		rule.TriggerEvent = *req.TriggerEvent
	}
	if req.TriggerConditions != nil {
		rule.TriggerConditions = toConditions(*req.TriggerConditions)
	}
	if req.TriggerConditionLogic != nil {
		rule.TriggerConditionLogic = logicOrDefault(*req.TriggerConditionLogic)
	}
	if req.Actions != nil {
		rule.Actions = toActions(*req.Actions)
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	if err := s.repo.Update(ctx, rule); err != nil {
		return nil, asAppError(err)
	}

	s.recordChange(ctx, id, AuditActionUpdate, &old, rule)
	return rule, nil
}

func (s *service) DeleteRule(ctx context.Context, id string) error {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return asAppError(err)
	}

	s.recordChange(ctx, id, AuditActionDelete, rule, nil)
	return nil
}

func (s *service) ToggleRule(ctx context.Context, id string) (*automation.Rule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	old := *rule

	rule.IsActive = !rule.IsActive
	if err := s.repo.Update(ctx, rule); err != nil {
		return nil, asAppError(err)
	}

	s.recordChange(ctx, id, AuditActionToggle, &old, rule)
	return rule, nil
}

func (s *service) GetAuditLogs(ctx context.Context, ruleID string, limit int) ([]AuditLog, error) {
	if s.audit == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithDetail("message", "audit log is not enabled")
	}
	if limit <= 0 || limit > constants.MaxLimit {
		limit = constants.DefaultLimit
	}

	logs, err := s.audit.ListAuditLogs(ctx, ruleID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return logs, nil
}

func (s *service) Catalog() Catalog {
	examples := make(map[string][]automation.Condition, len(cel.ConditionExamples))
	for name, conds := range cel.ConditionExamples {
		out := make([]automation.Condition, len(conds))
		for i, c := range conds {
			out[i] = automation.Condition{Field: c.Field, Operator: c.Operator, Value: c.Value}
		}
		examples[name] = out
	}

	return Catalog{
		TriggerEvents: automation.TriggerEvents,
		ActionTypes:   automation.ActionTypes,
		Operators: []string{
			cel.OpEquals, cel.OpNotEquals,
			cel.OpContains, cel.OpNotContains,
			cel.OpGreaterThan, cel.OpLessThan,
			cel.OpGreaterThanOrEqual, cel.OpLessThanOrEqual,
			cel.OpIn, cel.OpNotIn,
			cel.OpExists, cel.OpNotExists,
			cel.OpStartsWith, cel.OpEndsWith,
		},
		ConditionExamples: examples,
	}
}

// recordChange writes an audit entry when auditing is enabled. Audit
// failures are logged and never fail the request.
func (s *service) recordChange(ctx context.Context, ruleID, action string, oldRule, newRule *automation.Rule) {
	metrics.IncRuleChange(action)

	if s.audit == nil {
		return
	}

	entry := AuditLogEntry{
		RuleID:    ruleID,
		Action:    action,
		ChangedBy: getChangedBy(ctx),
		IPAddress: getClientIP(ctx),
	}
	if oldRule != nil {
		entry.OldValue = ruleToMap(oldRule)
	}
	if newRule != nil {
		entry.NewValue = ruleToMap(newRule)
	}

	if err := s.audit.LogRuleChange(ctx, entry); err != nil {
		s.logger.WarnwCtx(ctx, "Failed to write audit log", "rule_id", ruleID, "action", action, "error", err)
	}
}

func ruleToMap(rule *automation.Rule) map[string]interface{} {
	data, err := json.Marshal(rule)
	if err != nil {
		return nil
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

func logicOrDefault(logic string) string {
	if logic == "" {
		return constants.ConditionLogicAND
	}
	return logic
}

// asAppError keeps typed errors from the repository and wraps anything
// else as internal.
func asAppError(err error) error {
	var appErr *pkgerrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
}

func getChangedBy(ctx context.Context) string {
	if id, ok := ctx.Value(changedByKey).(string); ok && id != "" {
		return id
	}
	return "system"
}

func getClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}
