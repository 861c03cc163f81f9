package schema

// Event type constants published on the execution event hub.
const (
	EventExecutionStarted   = "execution_started"
	EventExecutionPaused    = "execution_paused"
	EventExecutionResumed   = "execution_resumed"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"

	EventStepSent     = "step_sent"
	EventStepSkipped  = "step_skipped"
	EventStepRetrying = "step_retrying"

	EventWorkflowDefined     = "workflow_defined"
	EventWorkflowActivated   = "workflow_activated"
	EventWorkflowDeactivated = "workflow_deactivated"
)
