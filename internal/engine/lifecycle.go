package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/leadflow/internal/logging"
	"github.com/rendis/leadflow/internal/store"
	"github.com/rendis/leadflow/internal/streaming"
	"github.com/rendis/leadflow/pkg/schema"
)

// StartWorkflowExecution creates a RUNNING execution of workflowID for
// entityID whose first step is due immediately. The step itself runs on the
// next scheduler pass.
func (e *Engine) StartWorkflowExecution(ctx context.Context, workflowID, entityID string, triggerData map[string]any) (*schema.Execution, error) {
	if workflowID == "" || entityID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow id and entity id are required")
	}

	def, err := e.store.GetWorkflowDefinition(ctx, workflowID)
	if schema.IsCode(err, schema.ErrCodeNotFound) {
		return nil, schema.NewErrorf(schema.ErrCodeWorkflowInactive, "workflow %s not found", workflowID).WithCause(err)
	}
	if err != nil {
		return nil, err
	}
	if !def.Active {
		return nil, schema.NewErrorf(schema.ErrCodeWorkflowInactive, "workflow %s is inactive", workflowID)
	}

	running, err := e.store.HasRunningExecution(ctx, workflowID, entityID)
	if err != nil {
		return nil, err
	}
	if running {
		return nil, schema.NewErrorf(schema.ErrCodeDuplicateExecution,
			"workflow %s already has a running execution for entity %s", workflowID, entityID)
	}
	now := e.now()
	exec := &schema.Execution{
		ID:              uuid.NewString(),
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		EntityID:        entityID,
		Status:          schema.ExecutionRunning,
		CurrentStep:     0,
		NextStepAt:      &now,
		TriggerData:     triggerData,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	// The partial unique index catches a start racing past the check above.
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	ctx = logging.WithIDs(ctx, exec.ID, exec.WorkflowID, exec.EntityID)
	e.logger.InfoContext(ctx, "execution started", slog.Int("workflow_version", exec.WorkflowVersion))
	e.fsm.Emit(ctx, exec, statusNew, "")
	return exec, nil
}

// PauseWorkflowExecution stops a RUNNING execution from being scheduled.
// A step already in flight finishes, but no further step is scheduled.
func (e *Engine) PauseWorkflowExecution(ctx context.Context, executionID string) (*schema.Execution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != schema.ExecutionRunning {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"execution %s is %s, only RUNNING executions can be paused", exec.ID, exec.Status).
			WithDetails(map[string]any{"execution_id": exec.ID, "status": string(exec.Status)})
	}

	paused, err := e.store.TransitionExecution(ctx, store.ExecutionTransition{
		ExecutionID: exec.ID,
		From:        schema.ExecutionRunning,
		To:          schema.ExecutionPaused,
		Now:         e.now(),
	})
	if err != nil {
		return nil, err
	}

	ctx = logging.WithIDs(ctx, paused.ID, paused.WorkflowID, paused.EntityID)
	e.logger.InfoContext(ctx, "execution paused", slog.Int("current_step", paused.CurrentStep))
	e.fsm.Emit(ctx, paused, schema.ExecutionRunning, "")
	return paused, nil
}

// ResumeWorkflowExecution puts a PAUSED execution back on the schedule. The
// wait before the next step restarts from now; elapsed time is not credited.
func (e *Engine) ResumeWorkflowExecution(ctx context.Context, executionID string) (*schema.Execution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != schema.ExecutionPaused {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"execution %s is %s, only PAUSED executions can be resumed", exec.ID, exec.Status).
			WithDetails(map[string]any{"execution_id": exec.ID, "status": string(exec.Status)})
	}

	def, err := e.store.GetWorkflowDefinitionVersion(ctx, exec.WorkflowID, exec.WorkflowVersion)
	if err != nil {
		return nil, err
	}
	now := e.now()
	next := now
	if step, ok := def.StepAt(exec.CurrentStep + 1); ok {
		next = now.Add(step.Delay())
	}

	resumed, err := e.store.TransitionExecution(ctx, store.ExecutionTransition{
		ExecutionID: exec.ID,
		From:        schema.ExecutionPaused,
		To:          schema.ExecutionRunning,
		NextStepAt:  &next,
		Now:         now,
	})
	if err != nil {
		return nil, err
	}

	ctx = logging.WithIDs(ctx, resumed.ID, resumed.WorkflowID, resumed.EntityID)
	e.logger.InfoContext(ctx, "execution resumed", slog.Time("next_step_at", next))
	e.fsm.Emit(ctx, resumed, schema.ExecutionPaused, "")
	return resumed, nil
}

// GetWorkflowStats counts a workflow's executions by status.
func (e *Engine) GetWorkflowStats(ctx context.Context, workflowID string) (*schema.WorkflowStats, error) {
	if _, err := e.store.GetWorkflowDefinition(ctx, workflowID); err != nil {
		return nil, err
	}
	return e.store.CountExecutions(ctx, workflowID)
}

// GetExecution returns an execution with its log.
func (e *Engine) GetExecution(ctx context.Context, executionID string) (*schema.Execution, error) {
	return e.store.GetExecution(ctx, executionID)
}

// ListExecutions returns executions matching filter, without logs.
func (e *Engine) ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*schema.Execution, error) {
	return e.store.ListExecutions(ctx, filter)
}

// GetWorkflow returns a definition at version, or the latest when version is 0.
func (e *Engine) GetWorkflow(ctx context.Context, workflowID string, version int) (*schema.WorkflowDefinition, error) {
	return e.store.GetWorkflowDefinitionVersion(ctx, workflowID, version)
}

// ListWorkflows returns the latest version of each matching definition.
func (e *Engine) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*schema.WorkflowDefinition, error) {
	return e.store.ListWorkflowDefinitions(ctx, filter)
}

// DefineWorkflow validates def and stores it as a new version. Running
// executions keep the version they started with.
func (e *Engine) DefineWorkflow(ctx context.Context, def *schema.WorkflowDefinition) error {
	if err := e.validator.ValidateDefinition(def); err != nil {
		return err
	}
	if err := e.store.SaveWorkflowDefinition(ctx, def); err != nil {
		return err
	}
	ctx = logging.WithWorkflowID(ctx, def.ID)
	e.logger.InfoContext(ctx, "workflow defined",
		slog.Int("version", def.Version), slog.Int("steps", len(def.Steps)), slog.Bool("active", def.Active))
	e.publishWorkflowEvent(ctx, schema.EventWorkflowDefined, def.ID, "")
	return nil
}

// SetWorkflowActive toggles whether new executions may start. Existing
// executions are unaffected.
func (e *Engine) SetWorkflowActive(ctx context.Context, workflowID string, active bool) error {
	if err := e.store.SetWorkflowActive(ctx, workflowID, active); err != nil {
		return err
	}
	eventType := schema.EventWorkflowDeactivated
	if active {
		eventType = schema.EventWorkflowActivated
	}
	e.publishWorkflowEvent(logging.WithWorkflowID(ctx, workflowID), eventType, workflowID, "")
	return nil
}

func (e *Engine) publishWorkflowEvent(ctx context.Context, eventType, workflowID, detail string) {
	e.publish(ctx, streaming.Event{
		Type:       eventType,
		WorkflowID: workflowID,
		Timestamp:  e.now(),
		Detail:     detail,
	})
}

func (e *Engine) publish(ctx context.Context, event streaming.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	if err := e.hub.Publish(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "publish event failed",
			slog.String("event", event.Type), slog.String("error", err.Error()))
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
