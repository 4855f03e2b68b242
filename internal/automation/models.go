package automation

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Rule is an automation rule as stored in the automationrules collection.
type Rule struct {
	ID                    primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name                  string             `bson:"name" json:"name"`
	CoachID               string             `bson:"coachId" json:"coachId"`
	TriggerEvent          string             `bson:"triggerEvent" json:"triggerEvent"`
	TriggerConditions     []Condition        `bson:"triggerConditions" json:"triggerConditions"`
	TriggerConditionLogic string             `bson:"triggerConditionLogic,omitempty" json:"triggerConditionLogic,omitempty"`
	Actions               []Action           `bson:"actions" json:"actions"`
	IsActive              bool               `bson:"isActive" json:"isActive"`
	CreatedBy             string             `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	CreatedAt             time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt             time.Time          `bson:"updatedAt" json:"updatedAt"`
}

type Condition struct {
	Field    string      `bson:"field" json:"field"`
	Operator string      `bson:"operator" json:"operator"`
	Value    interface{} `bson:"value,omitempty" json:"value,omitempty"`
}

// Action is one step of a rule. Config is opaque to the engine except for
// config.delayMinutes. Delay is in seconds and is only read when the
// engine is configured to honor it.
type Action struct {
	Type   string                 `bson:"type" json:"type"`
	Config map[string]interface{} `bson:"config,omitempty" json:"config,omitempty"`
	Delay  float64                `bson:"delay,omitempty" json:"delay,omitempty"`
	Order  float64                `bson:"order,omitempty" json:"order,omitempty"`
}

func (r *Rule) normalize() {
	for i := range r.TriggerConditions {
		r.TriggerConditions[i].Value = NormalizeValue(r.TriggerConditions[i].Value)
	}
	for i := range r.Actions {
		if r.Actions[i].Config != nil {
			r.Actions[i].Config = normalizeMap(r.Actions[i].Config)
		}
	}
}
