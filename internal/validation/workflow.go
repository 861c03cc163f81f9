package validation

import (
	"errors"
	"strconv"
	"strings"

	"github.com/rendis/leadflow/pkg/schema"
)

// WorkflowValidator orchestrates the two-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (step order, trigger config, expression compilation)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	checkers   Checkers
}

// NewWorkflowValidator creates a WorkflowValidator. Zero-value checkers skip
// the matching compile checks.
func NewWorkflowValidator(checkers Checkers) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		checkers:   checkers,
	}, nil
}

// Validate runs the pipeline and returns an aggregated result.
// Structural errors short-circuit the semantic stage.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := validateStructural(wv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, wv.checkers, wv.jsonSchema))
	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

// ValidateEvent delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateEvent(event map[string]any, eventSchema []byte) error {
	return wv.jsonSchema.ValidateEvent(event, eventSchema)
}

func validateStructural(v *JSONSchemaValidator, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	var lfErr *schema.LeadflowError
	if !errors.As(err, &lfErr) {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := lfErr.Details["violations"].([]string); ok {
		for _, v := range violations {
			addViolation(result, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, lfErr.Message)
	return result
}

// addViolation records a "location: message" violation, attributing it to
// a step when the location is inside /steps/<index>.
func addViolation(result *schema.ValidationResult, violation string) {
	loc, msg, ok := strings.Cut(violation, ": ")
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, violation)
		return
	}
	segments := strings.Split(strings.TrimPrefix(loc, "/"), "/")
	if len(segments) >= 2 && segments[0] == "steps" {
		if index, err := strconv.Atoi(segments[1]); err == nil {
			result.AddStepError(index, strings.Join(segments[2:], "."), msg)
			return
		}
	}
	result.AddError(loc, schema.ErrCodeValidation, msg)
}

var _ Validator = (*WorkflowValidator)(nil)
