package validation

import "github.com/rendis/leadflow/pkg/schema"

// Validator checks workflow definitions before they are stored and trigger
// payloads before they start executions.
// Uses JSON Schema Draft 2020-12 for structural checks.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateEvent(event map[string]any, eventSchema []byte) error
}

// ExpressionChecker compiles an expression without evaluating it.
type ExpressionChecker interface {
	Check(expression string) error
}

// Checkers groups the expression compilers used by the semantic stage.
// A nil checker skips the corresponding compile check.
type Checkers struct {
	Condition ExpressionChecker // CEL step conditions
	Filter    ExpressionChecker // expr-lang trigger filters
	Capture   ExpressionChecker // jq trigger capture
}
