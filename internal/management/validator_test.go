package management

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

func TestValidateCreate(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name    string
		mutate  func(*CreateRuleRequest)
		wantErr string
	}{
		{"valid", func(*CreateRuleRequest) {}, ""},
		{"missing name", func(r *CreateRuleRequest) { r.Name = "" }, "Name is required"},
		{"missing coach", func(r *CreateRuleRequest) { r.CoachID = "" }, "CoachID is required"},
		{"unknown trigger", func(r *CreateRuleRequest) { r.TriggerEvent = "lead_exploded" }, "unknown trigger event"},
		{"no actions", func(r *CreateRuleRequest) { r.Actions = nil }, "Actions is required"},
		{"unknown action", func(r *CreateRuleRequest) { r.Actions[0].Type = "launch_rocket" }, "unknown action type"},
		{"negative seconds", func(r *CreateRuleRequest) { r.Actions[0].Delay = -1 }, "Delay failed gte"},
		{"bad logic", func(r *CreateRuleRequest) { r.TriggerConditionLogic = "XOR" }, "must be one of"},
		{"negative delay minutes", func(r *CreateRuleRequest) {
			r.Actions[1].Config["delayMinutes"] = -5.0
		}, "delayMinutes must be non-negative"},
		{"string delay minutes", func(r *CreateRuleRequest) {
			r.Actions[1].Config["delayMinutes"] = "soon"
		}, "delayMinutes must be a number"},
		{"unsupported operator", func(r *CreateRuleRequest) {
			r.TriggerConditions = []ConditionRequest{{Field: "status", Operator: "resembles", Value: "new"}}
		}, "unsupported operator"},
		{"invalid field path", func(r *CreateRuleRequest) {
			r.TriggerConditions = []ConditionRequest{{Field: "address..city", Operator: "equals", Value: "Lisbon"}}
		}, "invalid trigger conditions"},
		{"valid conditions", func(r *CreateRuleRequest) {
			r.TriggerConditions = []ConditionRequest{
				{Field: "status", Operator: "equals", Value: "new"},
				{Field: "payload.source", Operator: "in", Value: []interface{}{"web", "ads"}},
			}
			r.TriggerConditionLogic = "OR"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest("rule")
			tt.mutate(&req)

			err := v.ValidateCreate(req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateUpdate(t *testing.T) {
	v := newTestValidator(t)

	assert.NoError(t, v.ValidateUpdate(UpdateRuleRequest{}))
	assert.NoError(t, v.ValidateUpdate(UpdateRuleRequest{IsActive: boolPtr(false)}))

	err := v.ValidateUpdate(UpdateRuleRequest{Actions: &[]ActionRequest{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "actions cannot be empty")

	err = v.ValidateUpdate(UpdateRuleRequest{TriggerEvent: stringPtr("nope")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trigger event")

	err = v.ValidateUpdate(UpdateRuleRequest{Name: stringPtr("")})
	assert.Error(t, err)

	err = v.ValidateUpdate(UpdateRuleRequest{
		TriggerConditions: &[]ConditionRequest{{Field: "score", Operator: "greater_than", Value: 10.0}},
	})
	assert.NoError(t, err)
}
