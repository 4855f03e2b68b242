package cel

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"coachflow/pkg/models"
)

const (
	OpEquals             = "equals"
	OpNotEquals          = "not_equals"
	OpContains           = "contains"
	OpNotContains        = "not_contains"
	OpGreaterThan        = "greater_than"
	OpLessThan           = "less_than"
	OpGreaterThanOrEqual = "greater_than_or_equal"
	OpLessThanOrEqual    = "less_than_or_equal"
	OpIn                 = "in"
	OpNotIn              = "not_in"
	OpExists             = "exists"
	OpNotExists          = "not_exists"
	OpStartsWith         = "starts_with"
	OpEndsWith           = "ends_with"
)

const (
	LogicAND = "AND"
	LogicOR  = "OR"
)

// Root variables visible to condition expressions.
const (
	VarEntity  = "entity"
	VarPayload = "payload"
	VarEvent   = "event"
	varValues  = "values"
)

var operators = map[string]bool{
	OpEquals: true, OpNotEquals: true,
	OpContains: true, OpNotContains: true,
	OpGreaterThan: true, OpLessThan: true,
	OpGreaterThanOrEqual: true, OpLessThanOrEqual: true,
	OpIn: true, OpNotIn: true,
	OpExists: true, OpNotExists: true,
	OpStartsWith: true, OpEndsWith: true,
}

func IsSupportedOperator(op string) bool {
	return operators[op]
}

// Condition is one {field, operator, value} triple of a rule trigger.
// Field is a dotted path. A leading "payload." or "event." selects the
// event instead of the resolved entity.
type Condition struct {
	Field    string
	Operator string
	Value    interface{}
}

// Activation carries the data a condition set is evaluated against.
type Activation struct {
	Entity  map[string]interface{}
	Payload map[string]interface{}
	Event   map[string]interface{}
}

type Evaluator struct {
	env      *cel.Env
	programs sync.Map
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarEntity, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarPayload, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarEvent, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(varValues, cel.ListType(cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// BuildExpression translates conditions into one boolean CEL expression.
// Condition values are not inlined; they are returned in order and bound
// to the values list at evaluation time.
func BuildExpression(conditions []Condition, logic string) (string, []interface{}, error) {
	if len(conditions) == 0 {
		return "true", nil, nil
	}

	joiner := " && "
	switch strings.ToUpper(logic) {
	case "", LogicAND:
	case LogicOR:
		joiner = " || "
	default:
		return "", nil, fmt.Errorf("unsupported condition logic: %s", logic)
	}

	parts := make([]string, 0, len(conditions))
	values := make([]interface{}, 0, len(conditions))
	for i, cond := range conditions {
		expr, err := conditionExpression(cond, fmt.Sprintf("%s[%d]", varValues, len(values)))
		if err != nil {
			return "", nil, fmt.Errorf("condition[%d]: %w", i, err)
		}
		parts = append(parts, "("+expr+")")
		values = append(values, cond.Value)
	}

	return strings.Join(parts, joiner), values, nil
}

func conditionExpression(cond Condition, value string) (string, error) {
	if !IsSupportedOperator(cond.Operator) {
		return "", fmt.Errorf("unsupported operator: %s", cond.Operator)
	}

	root, path, err := splitField(cond.Field)
	if err != nil {
		return "", err
	}

	field := accessor(root, path)
	exists := existence(root, path)

	switch cond.Operator {
	case OpEquals:
		return fmt.Sprintf("%s && %s == %s", exists, field, value), nil
	case OpNotEquals:
		return fmt.Sprintf("!(%s) || %s != %s", exists, field, value), nil
	case OpContains:
		return fmt.Sprintf("%s && %s", exists, containsExpression(field, value)), nil
	case OpNotContains:
		return fmt.Sprintf("!(%s) || !(%s)", exists, containsExpression(field, value)), nil
	case OpGreaterThan:
		return fmt.Sprintf("%s && %s > %s", exists, field, value), nil
	case OpLessThan:
		return fmt.Sprintf("%s && %s < %s", exists, field, value), nil
	case OpGreaterThanOrEqual:
		return fmt.Sprintf("%s && %s >= %s", exists, field, value), nil
	case OpLessThanOrEqual:
		return fmt.Sprintf("%s && %s <= %s", exists, field, value), nil
	case OpIn:
		return fmt.Sprintf("%s && %s in %s", exists, field, value), nil
	case OpNotIn:
		return fmt.Sprintf("!(%s) || !(%s in %s)", exists, field, value), nil
	case OpExists:
		return exists, nil
	case OpNotExists:
		return fmt.Sprintf("!(%s)", exists), nil
	case OpStartsWith:
		return fmt.Sprintf("%s && type(%s) == string && %s.startsWith(string(%s))", exists, field, field, value), nil
	case OpEndsWith:
		return fmt.Sprintf("%s && type(%s) == string && %s.endsWith(string(%s))", exists, field, field, value), nil
	}
	return "", fmt.Errorf("unsupported operator: %s", cond.Operator)
}

func containsExpression(field, value string) string {
	return fmt.Sprintf("((type(%s) == string && %s.contains(string(%s))) || (type(%s) == list && %s in %s))",
		field, field, value, field, value, field)
}

func splitField(field string) (string, []string, error) {
	if strings.TrimSpace(field) == "" {
		return "", nil, fmt.Errorf("field is required")
	}

	segments := strings.Split(field, ".")
	for _, s := range segments {
		if s == "" {
			return "", nil, fmt.Errorf("invalid field path: %q", field)
		}
	}

	switch segments[0] {
	case VarPayload, VarEvent, VarEntity:
		return segments[0], segments[1:], nil
	default:
		return VarEntity, segments, nil
	}
}

func accessor(root string, path []string) string {
	var b strings.Builder
	b.WriteString(root)
	for _, segment := range path {
		b.WriteString("[")
		b.WriteString(strconv.Quote(segment))
		b.WriteString("]")
	}
	return b.String()
}

// existence checks each key on the way down, and that each intermediate
// value is a map, so a missing field is false instead of an error.
func existence(root string, path []string) string {
	if len(path) == 0 {
		return "true"
	}
	checks := make([]string, 0, len(path)*2)
	for i, segment := range path {
		parent := accessor(root, path[:i])
		if i > 0 {
			checks = append(checks, fmt.Sprintf("type(%s) == map", parent))
		}
		checks = append(checks, fmt.Sprintf("%s in %s", strconv.Quote(segment), parent))
	}
	return "(" + strings.Join(checks, " && ") + ")"
}

func (e *Evaluator) program(expression string) (cel.Program, error) {
	if cached, ok := e.programs.Load(expression); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	e.programs.Store(expression, program)
	return program, nil
}

// ValidateConditions reports whether the conditions compile.
func (e *Evaluator) ValidateConditions(conditions []Condition, logic string) error {
	expression, _, err := BuildExpression(conditions, logic)
	if err != nil {
		return err
	}
	_, err = e.program(expression)
	return err
}

func (e *Evaluator) Evaluate(ctx context.Context, conditions []Condition, logic string, act Activation) (bool, error) {
	expression, values, err := BuildExpression(conditions, logic)
	if err != nil {
		return false, err
	}

	program, err := e.program(expression)
	if err != nil {
		return false, err
	}

	vars := map[string]interface{}{
		VarEntity:  plainMap(act.Entity),
		VarPayload: plainMap(act.Payload),
		VarEvent:   plainMap(act.Event),
		varValues:  plainSlice(values),
	}

	result, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// plainMap copies m with every time.Time rendered as an ISO-8601 UTC
// string with milliseconds, the form JSON publishers send dates in, so a
// date field compares against a string condition value instead of raising
// a no-overload error.
func plainMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = plainValue(v)
	}
	return out
}

func plainSlice(s []interface{}) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = plainValue(v)
	}
	return out
}

func plainValue(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Time:
		return models.FormatTimestamp(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return models.FormatTimestamp(*val)
	case map[string]interface{}:
		return plainMap(val)
	case []interface{}:
		return plainSlice(val)
	default:
		return v
	}
}
