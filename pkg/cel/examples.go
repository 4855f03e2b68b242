package cel

// ConditionExamples are sample trigger condition sets, one per supported
// operator family. The management API links to them from its docs.
var ConditionExamples = map[string][]Condition{
	"simple_equals":     {{Field: "status", Operator: OpEquals, Value: "new"}},
	"simple_not_equals": {{Field: "status", Operator: OpNotEquals, Value: "lost"}},
	"numeric_range": {
		{Field: "amount", Operator: OpGreaterThanOrEqual, Value: 10.0},
		{Field: "amount", Operator: OpLessThanOrEqual, Value: 10000.0},
	},
	"string_contains": {{Field: "email", Operator: OpContains, Value: "@example.com"}},
	"tag_contains":    {{Field: "tags", Operator: OpContains, Value: "vip"}},
	"in_list":         {{Field: "source", Operator: OpIn, Value: []interface{}{"website", "referral"}}},
	"not_in_list":     {{Field: "status", Operator: OpNotIn, Value: []interface{}{"lost", "archived"}}},
	"has_field":       {{Field: "phone", Operator: OpExists}},
	"missing_field":   {{Field: "cancelledAt", Operator: OpNotExists}},
	"nested_field":    {{Field: "address.country", Operator: OpEquals, Value: "US"}},
	"payload_field":   {{Field: "payload.channel", Operator: OpStartsWith, Value: "web"}},
	"email_domain":    {{Field: "email", Operator: OpEndsWith, Value: ".edu"}},
}
