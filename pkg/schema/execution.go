package schema

import "time"

// ExecutionStatus is the lifecycle state of one workflow execution.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionPaused    ExecutionStatus = "PAUSED"
	ExecutionCompleted ExecutionStatus = "COMPLETED"
	ExecutionFailed    ExecutionStatus = "FAILED"
)

// Terminal reports whether no further transition is possible from s.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// LogAction names what happened in one execution log entry.
type LogAction string

const (
	LogEmailSent           LogAction = "EMAIL_SENT"
	LogEmailSendFailed     LogAction = "EMAIL_SEND_FAILED"
	LogEmailSendRetry      LogAction = "EMAIL_SEND_RETRY"
	LogStepSkipped         LogAction = "STEP_SKIPPED"
	LogStepProcessingError LogAction = "STEP_PROCESSING_ERROR"
	LogCriticalError       LogAction = "CRITICAL_ERROR"
)

// LogEntry is one append-only record of a step outcome.
type LogEntry struct {
	Sequence     int64     `json:"sequence"`
	Timestamp    time.Time `json:"timestamp"`
	Action       LogAction `json:"action"`
	StepOrder    int       `json:"step_order"`
	TemplateName string    `json:"template_name,omitempty"`
	Recipient    string    `json:"recipient,omitempty"`
	Status       string    `json:"status,omitempty"`
	Error        string    `json:"error,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

// Execution is one run of a workflow against one lead.
type Execution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	WorkflowVersion int             `json:"workflow_version"`
	EntityID        string          `json:"entity_id"`
	Status          ExecutionStatus `json:"status"`
	CurrentStep     int             `json:"current_step"`
	NextStepAt      *time.Time      `json:"next_step_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Error           string          `json:"error,omitempty"`
	Attempts        int             `json:"attempts,omitempty"`
	TriggerData     map[string]any  `json:"trigger_data,omitempty"`
	Log             []LogEntry      `json:"log,omitempty"`
	Version         int64           `json:"version"`
	LockedUntil     *time.Time      `json:"locked_until,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// WorkflowStats counts a workflow's executions by status.
type WorkflowStats struct {
	WorkflowID string `json:"workflow_id"`
	Total      int    `json:"total"`
	Running    int    `json:"running"`
	Paused     int    `json:"paused"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
}

// EvaluationFailure records one workflow the trigger evaluator could not start.
type EvaluationFailure struct {
	WorkflowID string `json:"workflow_id"`
	Code       string `json:"code,omitempty"`
	Error      string `json:"error"`
}

// EvaluationResult is the outcome of evaluating one lead event.
type EvaluationResult struct {
	Started  []string            `json:"started"`
	Failures []EvaluationFailure `json:"failures,omitempty"`
}
