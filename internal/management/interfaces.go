package management

import (
	"context"

	"coachflow/internal/automation"
)

type Service interface {
	CreateRule(ctx context.Context, req CreateRuleRequest) (*automation.Rule, error)
	ListRules(ctx context.Context, filter ListFilter) ([]automation.Rule, error)
	GetRule(ctx context.Context, id string) (*automation.Rule, error)
	UpdateRule(ctx context.Context, id string, req UpdateRuleRequest) (*automation.Rule, error)
	DeleteRule(ctx context.Context, id string) error
	ToggleRule(ctx context.Context, id string) (*automation.Rule, error)
	GetAuditLogs(ctx context.Context, ruleID string, limit int) ([]AuditLog, error)
	Catalog() Catalog
}

// Repository stores automation rules. Get returns (nil, nil) for an
// unknown id.
type Repository interface {
	Create(ctx context.Context, rule *automation.Rule) error
	List(ctx context.Context, filter ListFilter) ([]automation.Rule, error)
	Get(ctx context.Context, id string) (*automation.Rule, error)
	Update(ctx context.Context, rule *automation.Rule) error
	Delete(ctx context.Context, id string) error
}

type AuditRepository interface {
	LogRuleChange(ctx context.Context, entry AuditLogEntry) error
	ListAuditLogs(ctx context.Context, ruleID string, limit int) ([]AuditLog, error)
}
