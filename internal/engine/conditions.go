package engine

import (
	"context"
	"slices"

	"github.com/rendis/leadflow/internal/expressions"
	"github.com/rendis/leadflow/pkg/schema"
)

// matchCondition evaluates a step condition against the lead as it is now.
// A nil condition always matches.
func (e *Engine) matchCondition(ctx context.Context, c *schema.StepCondition, lead *schema.Lead, trigger map[string]any) (bool, error) {
	if c == nil {
		return true, nil
	}

	switch c.Type {
	case schema.ConditionStatus:
		return slices.Contains(c.Values, lead.Status), nil
	case schema.ConditionSource:
		return slices.Contains(c.Values, lead.Source), nil
	case schema.ConditionTag:
		return lead.HasTag(c.Value), nil
	case schema.ConditionExpression:
		return expressions.EvaluateBool(ctx, e.conditions, c.Expression, expressions.ConditionScope(lead, trigger))
	case schema.ConditionAll:
		for i := range c.Conditions {
			ok, err := e.matchCondition(ctx, &c.Conditions[i], lead, trigger)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case schema.ConditionAny:
		for i := range c.Conditions {
			ok, err := e.matchCondition(ctx, &c.Conditions[i], lead, trigger)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	case schema.ConditionNot:
		if len(c.Conditions) != 1 {
			return false, schema.NewErrorf(schema.ErrCodeValidation,
				"not condition takes exactly one operand, got %d", len(c.Conditions))
		}
		ok, err := e.matchCondition(ctx, &c.Conditions[0], lead, trigger)
		if err != nil {
			return false, err
		}
		return !ok, nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown condition type %q", c.Type)
	}
}
