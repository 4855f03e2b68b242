package management

import (
	"time"

	"coachflow/internal/automation"
)

type CreateRuleRequest struct {
	Name                  string             `json:"name" validate:"required,max=200"`
	CoachID               string             `json:"coachId" validate:"required"`
	TriggerEvent          string             `json:"triggerEvent" validate:"required,trigger_event"`
	TriggerConditions     []ConditionRequest `json:"triggerConditions" validate:"omitempty,dive"`
	TriggerConditionLogic string             `json:"triggerConditionLogic" validate:"omitempty,oneof=AND OR"`
	Actions               []ActionRequest    `json:"actions" validate:"required,min=1,dive"`
	IsActive              *bool              `json:"isActive"`
	CreatedBy             string             `json:"createdBy"`
}

// UpdateRuleRequest replaces only the fields that are set.
type UpdateRuleRequest struct {
	Name                  *string             `json:"name" validate:"omitempty,min=1,max=200"`
	TriggerEvent          *string             `json:"triggerEvent" validate:"omitempty,trigger_event"`
	TriggerConditions     *[]ConditionRequest `json:"triggerConditions" validate:"omitempty,dive"`
	TriggerConditionLogic *string             `json:"triggerConditionLogic" validate:"omitempty,oneof=AND OR"`
	Actions               *[]ActionRequest    `json:"actions" validate:"omitempty,dive"`
	IsActive              *bool               `json:"isActive"`
}

type ConditionRequest struct {
	Field    string      `json:"field" validate:"required"`
	Operator string      `json:"operator" validate:"required,condition_operator"`
	Value    interface{} `json:"value"`
}

type ActionRequest struct {
	Type   string                 `json:"type" validate:"required,action_type"`
	Config map[string]interface{} `json:"config"`
	Delay  float64                `json:"delay" validate:"gte=0"`
	Order  float64                `json:"order" validate:"gte=0"`
}

type ListFilter struct {
	CoachID      string
	TriggerEvent string
	IsActive     *bool
	Limit        int
	Offset       int
}

type AuditLog struct {
	ID        string                 `json:"id"`
	RuleID    string                 `json:"rule_id"`
	Action    string                 `json:"action"`
	OldValue  map[string]interface{} `json:"old_value,omitempty"`
	NewValue  map[string]interface{} `json:"new_value,omitempty"`
	ChangedBy string                 `json:"changed_by"`
	IPAddress string                 `json:"ip_address,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Catalog lists what a rule may reference.
type Catalog struct {
	TriggerEvents     []string                         `json:"triggerEvents"`
	ActionTypes       []string                         `json:"actionTypes"`
	Operators         []string                         `json:"operators"`
	ConditionExamples map[string][]automation.Condition `json:"conditionExamples"`
}

func toConditions(reqs []ConditionRequest) []automation.Condition {
	out := make([]automation.Condition, len(reqs))
	for i, r := range reqs {
		out[i] = automation.Condition{Field: r.Field, Operator: r.Operator, Value: r.Value}
	}
	return out
}

func toActions(reqs []ActionRequest) []automation.Action {
	out := make([]automation.Action, len(reqs))
	for i, r := range reqs {
		out[i] = automation.Action{Type: r.Type, Config: r.Config, Delay: r.Delay, Order: r.Order}
	}
	return out
}
