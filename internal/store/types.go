package store

import (
	"time"

	"github.com/rendis/leadflow/pkg/schema"
)

// WorkflowFilter specifies criteria for listing workflow definitions.
type WorkflowFilter struct {
	Active      *bool              `json:"active,omitempty"`
	TriggerKind schema.TriggerKind `json:"trigger_kind,omitempty"`
	Limit       int                `json:"limit,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string                  `json:"workflow_id,omitempty"`
	EntityID   string                  `json:"entity_id,omitempty"`
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
	Offset     int                     `json:"offset,omitempty"`
}

// StepCommit is the outcome of processing one claimed execution.
// ClaimVersion is the version the row carried right after the claim; a
// mismatch at commit time means a pause or resume landed during processing,
// or the lease expired and another claim took the row. LeaseUntil is the
// lease the claim set and tells the two apart.
type StepCommit struct {
	ExecutionID  string
	ClaimVersion int64
	LeaseUntil   time.Time
	Status       schema.ExecutionStatus
	CurrentStep  int
	NextStepAt   *time.Time
	CompletedAt  *time.Time
	Error        string
	Attempts     int
	Entries      []schema.LogEntry
	Now          time.Time
}

// ExecutionTransition is an operator-driven status change guarded by From.
type ExecutionTransition struct {
	ExecutionID string
	From        schema.ExecutionStatus
	To          schema.ExecutionStatus
	NextStepAt  *time.Time
	Now         time.Time
}
