package schema

import (
	"encoding/json"
	"fmt"
)

// ConditionType tags the variant held by a StepCondition.
type ConditionType string

const (
	ConditionStatus     ConditionType = "status"
	ConditionSource     ConditionType = "source"
	ConditionTag        ConditionType = "tag"
	ConditionExpression ConditionType = "expression"
	ConditionAll        ConditionType = "all"
	ConditionAny        ConditionType = "any"
	ConditionNot        ConditionType = "not"
)

// StepCondition is a predicate over a lead's attributes that gates a step's send.
// Exactly the fields belonging to Type are populated:
//
//	status, source  -> Values
//	tag             -> Value
//	expression      -> Expression (CEL, variables: lead, trigger)
//	all, any, not   -> Conditions (not takes exactly one)
type StepCondition struct {
	Type       ConditionType   `json:"type"`
	Values     []string        `json:"values,omitempty"`
	Value      string          `json:"value,omitempty"`
	Expression string          `json:"expression,omitempty"`
	Conditions []StepCondition `json:"conditions,omitempty"`
}

// StatusIn matches leads whose status is one of values.
func StatusIn(values ...string) *StepCondition {
	return &StepCondition{Type: ConditionStatus, Values: values}
}

// SourceIn matches leads whose source is one of values.
func SourceIn(values ...string) *StepCondition {
	return &StepCondition{Type: ConditionSource, Values: values}
}

// HasTag matches leads carrying tag.
func HasTag(tag string) *StepCondition {
	return &StepCondition{Type: ConditionTag, Value: tag}
}

// Expression matches when the CEL expression evaluates to true.
func Expression(expr string) *StepCondition {
	return &StepCondition{Type: ConditionExpression, Expression: expr}
}

// AllOf matches when every nested condition matches.
func AllOf(conds ...StepCondition) *StepCondition {
	return &StepCondition{Type: ConditionAll, Conditions: conds}
}

// AnyOf matches when at least one nested condition matches.
func AnyOf(conds ...StepCondition) *StepCondition {
	return &StepCondition{Type: ConditionAny, Conditions: conds}
}

// Not negates cond.
func Not(cond StepCondition) *StepCondition {
	return &StepCondition{Type: ConditionNot, Conditions: []StepCondition{cond}}
}

// Check verifies that the populated fields agree with Type, recursively.
func (c *StepCondition) Check() error {
	switch c.Type {
	case ConditionStatus, ConditionSource:
		if len(c.Values) == 0 {
			return fmt.Errorf("%s condition requires values", c.Type)
		}
	case ConditionTag:
		if c.Value == "" {
			return fmt.Errorf("tag condition requires value")
		}
	case ConditionExpression:
		if c.Expression == "" {
			return fmt.Errorf("expression condition requires expression")
		}
	case ConditionAll, ConditionAny:
		if len(c.Conditions) == 0 {
			return fmt.Errorf("%s condition requires nested conditions", c.Type)
		}
	case ConditionNot:
		if len(c.Conditions) != 1 {
			return fmt.Errorf("not condition requires exactly one nested condition")
		}
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	for i := range c.Conditions {
		if err := c.Conditions[i].Check(); err != nil {
			return fmt.Errorf("conditions[%d]: %w", i, err)
		}
	}
	return nil
}

// UnmarshalJSON decodes and checks a condition so malformed variants never
// reach the step processor.
func (c *StepCondition) UnmarshalJSON(data []byte) error {
	type plain StepCondition
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	decoded := StepCondition(p)
	if err := decoded.Check(); err != nil {
		return NewError(ErrCodeValidation, err.Error()).WithCause(err)
	}
	*c = decoded
	return nil
}
