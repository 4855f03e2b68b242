package management

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"coachflow/internal/automation"
	pkgerrors "coachflow/pkg/errors"
)

type memoryRepository struct {
	mu    sync.Mutex
	rules map[string]automation.Rule
	err   error
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{rules: make(map[string]automation.Rule)}
}

func (r *memoryRepository) Create(_ context.Context, rule *automation.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, existing := range r.rules {
		if existing.Name == rule.Name {
			return pkgerrors.ErrConflict.WithDetail("message", "duplicate name")
		}
	}
	rule.ID = primitive.NewObjectID()
	rule.CreatedAt = time.Now().UTC()
	rule.UpdatedAt = rule.CreatedAt
	r.rules[rule.ID.Hex()] = *rule
	return nil
}

func (r *memoryRepository) List(_ context.Context, filter ListFilter) ([]automation.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := []automation.Rule{}
	for _, rule := range r.rules {
		if filter.CoachID != "" && rule.CoachID != filter.CoachID {
			continue
		}
		if filter.TriggerEvent != "" && rule.TriggerEvent != filter.TriggerEvent {
			continue
		}
		if filter.IsActive != nil && rule.IsActive != *filter.IsActive {
			continue
		}
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if filter.Offset >= len(out) {
		return []automation.Rule{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (*automation.Rule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	rule, ok := r.rules[id]
	if !ok {
		return nil, nil
	}
	return &rule, nil
}

func (r *memoryRepository) Update(_ context.Context, rule *automation.Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.rules[rule.ID.Hex()]; !ok {
		return pkgerrors.ErrNotFound
	}
	rule.UpdatedAt = time.Now().UTC()
	r.rules[rule.ID.Hex()] = *rule
	return nil
}

func (r *memoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.rules[id]; !ok {
		return pkgerrors.ErrNotFound
	}
	delete(r.rules, id)
	return nil
}

type memoryAudit struct {
	mu      sync.Mutex
	entries []AuditLogEntry
	err     error
}

func (a *memoryAudit) LogRuleChange(_ context.Context, entry AuditLogEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memoryAudit) ListAuditLogs(_ context.Context, ruleID string, limit int) ([]AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	logs := []AuditLog{}
	for i := len(a.entries) - 1; i >= 0 && len(logs) < limit; i-- {
		e := a.entries[i]
		if e.RuleID != ruleID {
			continue
		}
		logs = append(logs, AuditLog{RuleID: e.RuleID, Action: e.Action, ChangedBy: e.ChangedBy})
	}
	return logs, nil
}

var errBoom = errors.New("boom")

func boolPtr(b bool) *bool       { return &b }
func stringPtr(s string) *string { return &s }

func validCreateRequest(name string) CreateRuleRequest {
	return CreateRuleRequest{
		Name:         name,
		CoachID:      "coach-1",
		TriggerEvent: "lead_created",
		Actions: []ActionRequest{
			{Type: "add_lead_tag", Config: map[string]interface{}{"tag": "new"}},
			{Type: "send_email", Config: map[string]interface{}{"delayMinutes": 60.0}},
		},
	}
}
