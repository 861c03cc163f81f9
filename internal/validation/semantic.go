package validation

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/leadflow/pkg/schema"
)

// maxDelayHours is the longest wait accepted without a warning (90 days).
const maxDelayHours = 90 * 24

// validateSemantic checks rules JSON Schema cannot express: contiguous step
// orders, per-kind trigger config, and that embedded expressions compile.
func validateSemantic(def *schema.WorkflowDefinition, checkers Checkers, events *JSONSchemaValidator) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	validateTrigger(def.Trigger, checkers, events, result)

	for i, step := range def.Steps {
		if step.Order != i+1 {
			result.AddStepError(i, "order",
				fmt.Sprintf("step orders must be contiguous from 1 in ascending order: expected %d, got %d", i+1, step.Order))
		}
		if step.DelayHours > maxDelayHours {
			result.AddStepWarning(i, "delay_hours",
				fmt.Sprintf("delay of %d hours exceeds 90 days", step.DelayHours))
		}
		if step.Conditions != nil {
			validateCondition(step.Conditions, i, "conditions", checkers.Condition, result)
		}
	}

	return result
}

func validateTrigger(t schema.Trigger, checkers Checkers, events *JSONSchemaValidator, result *schema.ValidationResult) {
	switch t.Kind {
	case schema.TriggerStatusChanged:
		if t.ConfigString("status") == "" {
			result.AddError("trigger.config.status", schema.ErrCodeValidation,
				"STATUS_CHANGED trigger requires config.status")
		}
	case schema.TriggerTagAdded:
		if t.ConfigString("tag") == "" {
			result.AddError("trigger.config.tag", schema.ErrCodeValidation,
				"TAG_ADDED trigger requires config.tag")
		}
	}

	if filter := t.ConfigString("filter"); filter != "" && checkers.Filter != nil {
		if err := checkers.Filter.Check(filter); err != nil {
			result.AddError("trigger.config.filter", schema.ErrCodeValidation, err.Error())
		}
	}
	if capture := t.ConfigString("capture"); capture != "" && checkers.Capture != nil {
		if err := checkers.Capture.Check(capture); err != nil {
			result.AddError("trigger.config.capture", schema.ErrCodeValidation, err.Error())
		}
	}
	if raw, ok := t.Config["eventSchema"]; ok && events != nil {
		data, err := json.Marshal(raw)
		if err == nil {
			err = events.CompileEventSchema(data)
		}
		if err != nil {
			result.AddError("trigger.config.eventSchema", schema.ErrCodeValidation,
				fmt.Sprintf("invalid event schema: %s", err.Error()))
		}
	}
}

// validateCondition checks the condition tree of the step at index; field is
// the condition's path within the step.
func validateCondition(c *schema.StepCondition, index int, field string, cel ExpressionChecker, result *schema.ValidationResult) {
	if err := c.Check(); err != nil {
		result.AddStepError(index, field, err.Error())
		return
	}
	if c.Type == schema.ConditionExpression && cel != nil {
		if err := cel.Check(c.Expression); err != nil {
			result.AddStepError(index, field+".expression", err.Error())
		}
	}
	for i := range c.Conditions {
		validateCondition(&c.Conditions[i], index, fmt.Sprintf("%s.conditions[%d]", field, i), cel, result)
	}
}
