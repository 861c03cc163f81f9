package schema

import (
	"fmt"
	"time"
)

// TriggerKind enumerates the lead events a workflow can react to.
type TriggerKind string

const (
	TriggerLeadCreated   TriggerKind = "LEAD_CREATED"
	TriggerStatusChanged TriggerKind = "STATUS_CHANGED"
	TriggerTagAdded      TriggerKind = "TAG_ADDED"
	TriggerDateBased     TriggerKind = "DATE_BASED"
	TriggerManual        TriggerKind = "MANUAL"
)

// TriggerKinds lists every known trigger kind in declaration order.
var TriggerKinds = []TriggerKind{
	TriggerLeadCreated, TriggerStatusChanged, TriggerTagAdded, TriggerDateBased, TriggerManual,
}

// Valid reports whether k is a known trigger kind.
func (k TriggerKind) Valid() bool {
	for _, known := range TriggerKinds {
		if k == known {
			return true
		}
	}
	return false
}

// Trigger selects the events that start a workflow.
// Recognised config keys: status, tag, dateField, filter (expr-lang), capture (jq).
type Trigger struct {
	Kind   TriggerKind    `json:"kind"`
	Config map[string]any `json:"config,omitempty"`
}

// ConfigString returns config[key] as a string, or "" when absent.
func (t Trigger) ConfigString(key string) string {
	v, ok := t.Config[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// WorkflowDefinition is a versioned, ordered list of email steps bound to a trigger.
type WorkflowDefinition struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"active"`
	Version     int       `json:"version"`
	Trigger     Trigger   `json:"trigger"`
	Steps       []Step    `json:"steps"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Step is one delayed, optionally conditional email send.
type Step struct {
	Order       int            `json:"order"`
	TemplateRef string         `json:"template_ref"`
	DelayHours  int            `json:"delay_hours"`
	Conditions  *StepCondition `json:"conditions,omitempty"`
}

// Delay returns the step's wait as a duration.
func (s Step) Delay() time.Duration {
	return time.Duration(s.DelayHours) * time.Hour
}

// StepAt returns the step with the given 1-based order.
func (d *WorkflowDefinition) StepAt(order int) (Step, bool) {
	for _, s := range d.Steps {
		if s.Order == order {
			return s, true
		}
	}
	return Step{}, false
}

// RetryPolicy configures bounded retries of failed sends. A zero Max disables retries.
type RetryPolicy struct {
	Max      int    `json:"max"`
	Backoff  string `json:"backoff,omitempty"`   // constant | linear | exponential
	Delay    string `json:"delay,omitempty"`     // initial delay (e.g. "5m")
	MaxDelay string `json:"max_delay,omitempty"` // cap for the computed delay
}
