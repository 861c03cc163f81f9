package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/rendis/leadflow/internal/streaming"
	"github.com/rendis/leadflow/pkg/schema"
)

// statusNew is the implicit state of an execution before it is persisted.
const statusNew schema.ExecutionStatus = ""

// ValidExecutionTransitions defines the allowed execution state transitions.
// RUNNING -> RUNNING is a step advance. PAUSED -> terminal happens when a
// step that was in flight during a pause completes or fails.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	statusNew:                 {schema.ExecutionRunning},
	schema.ExecutionRunning:   {schema.ExecutionRunning, schema.ExecutionPaused, schema.ExecutionCompleted, schema.ExecutionFailed},
	schema.ExecutionPaused:    {schema.ExecutionRunning, schema.ExecutionPaused, schema.ExecutionCompleted, schema.ExecutionFailed},
	schema.ExecutionCompleted: {},
	schema.ExecutionFailed:    {},
}

// TransitionHook is called after an execution transition has been persisted.
type TransitionHook func(ctx context.Context, exec *schema.Execution, from schema.ExecutionStatus)

type hookKey struct {
	from, to schema.ExecutionStatus
}

// ExecutionFSM validates execution transitions and announces them once they
// are stored. Persistence is the caller's job.
type ExecutionFSM struct {
	mu     sync.Mutex
	hub    streaming.EventHub
	logger *slog.Logger
	after  map[hookKey][]TransitionHook
}

// NewExecutionFSM creates an FSM publishing to hub.
func NewExecutionFSM(hub streaming.EventHub, logger *slog.Logger) *ExecutionFSM {
	return &ExecutionFSM{
		hub:    hub,
		logger: logger,
		after:  make(map[hookKey][]TransitionHook),
	}
}

// OnAfter registers a hook called after a persisted from -> to transition.
func (f *ExecutionFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Check returns INVALID_TRANSITION if from -> to is not allowed.
func (f *ExecutionFSM) Check(executionID string, from, to schema.ExecutionStatus) error {
	if isValidExecutionTransition(from, to) {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"execution %s is %s, cannot move to %s", executionID, displayStatus(from), to).
		WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
}

// Emit publishes the event for a persisted transition and runs after hooks.
// Publishing failures are logged, never returned: the store is the record.
func (f *ExecutionFSM) Emit(ctx context.Context, exec *schema.Execution, from schema.ExecutionStatus, detail string) {
	if eventType := executionEventType(from, exec.Status); eventType != "" {
		event := streaming.Event{
			Type:        eventType,
			WorkflowID:  exec.WorkflowID,
			ExecutionID: exec.ID,
			EntityID:    exec.EntityID,
			StepOrder:   exec.CurrentStep,
			Timestamp:   exec.UpdatedAt,
			Detail:      detail,
		}
		if err := f.hub.Publish(ctx, event); err != nil {
			f.logger.WarnContext(ctx, "publish execution event failed",
				slog.String("event", eventType), slog.String("error", err.Error()))
		}
	}

	f.mu.Lock()
	hooks := slices.Clone(f.after[hookKey{from, exec.Status}])
	f.mu.Unlock()
	for _, hook := range hooks {
		hook(ctx, exec, from)
	}
}

func isValidExecutionTransition(from, to schema.ExecutionStatus) bool {
	allowed, ok := ValidExecutionTransitions[from]
	return ok && slices.Contains(allowed, to)
}

func executionEventType(from, to schema.ExecutionStatus) string {
	switch to {
	case schema.ExecutionRunning:
		switch from {
		case statusNew:
			return schema.EventExecutionStarted
		case schema.ExecutionPaused:
			return schema.EventExecutionResumed
		}
	case schema.ExecutionPaused:
		if from != schema.ExecutionPaused {
			return schema.EventExecutionPaused
		}
	case schema.ExecutionCompleted:
		return schema.EventExecutionCompleted
	case schema.ExecutionFailed:
		return schema.EventExecutionFailed
	}
	return ""
}

func displayStatus(s schema.ExecutionStatus) string {
	if s == statusNew {
		return "new"
	}
	return string(s)
}
