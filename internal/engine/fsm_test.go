package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/leadflow/internal/streaming"
	"github.com/rendis/leadflow/pkg/schema"
)

// recordingHub keeps every published event.
type recordingHub struct {
	streaming.Nop
	mu     sync.Mutex
	events []streaming.Event
	err    error
}

func (h *recordingHub) Publish(_ context.Context, e streaming.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
	return h.err
}

func (h *recordingHub) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	for i, e := range h.events {
		out[i] = e.Type
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecutionFSM_Check(t *testing.T) {
	fsm := NewExecutionFSM(&recordingHub{}, discardLogger())

	valid := []struct{ from, to schema.ExecutionStatus }{
		{statusNew, schema.ExecutionRunning},
		{schema.ExecutionRunning, schema.ExecutionRunning},
		{schema.ExecutionRunning, schema.ExecutionPaused},
		{schema.ExecutionRunning, schema.ExecutionCompleted},
		{schema.ExecutionRunning, schema.ExecutionFailed},
		{schema.ExecutionPaused, schema.ExecutionRunning},
		{schema.ExecutionPaused, schema.ExecutionCompleted},
	}
	for _, tc := range valid {
		assert.NoError(t, fsm.Check("exec-1", tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	invalid := []struct{ from, to schema.ExecutionStatus }{
		{statusNew, schema.ExecutionPaused},
		{schema.ExecutionCompleted, schema.ExecutionRunning},
		{schema.ExecutionFailed, schema.ExecutionRunning},
		{schema.ExecutionFailed, schema.ExecutionPaused},
		{schema.ExecutionCompleted, schema.ExecutionFailed},
	}
	for _, tc := range invalid {
		err := fsm.Check("exec-1", tc.from, tc.to)
		require.Error(t, err, "%s -> %s", tc.from, tc.to)
		assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
	}
}

func TestExecutionFSM_CheckMessageNamesNewState(t *testing.T) {
	fsm := NewExecutionFSM(&recordingHub{}, discardLogger())
	err := fsm.Check("exec-1", statusNew, schema.ExecutionFailed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is new")
}

func TestExecutionFSM_EmitEventTypes(t *testing.T) {
	hub := &recordingHub{}
	fsm := NewExecutionFSM(hub, discardLogger())
	ctx := context.Background()
	exec := &schema.Execution{ID: "exec-1", WorkflowID: "wf", EntityID: "lead-1", UpdatedAt: time.Now()}

	steps := []struct{ from, to schema.ExecutionStatus }{
		{statusNew, schema.ExecutionRunning},
		{schema.ExecutionRunning, schema.ExecutionRunning},
		{schema.ExecutionRunning, schema.ExecutionPaused},
		{schema.ExecutionPaused, schema.ExecutionPaused},
		{schema.ExecutionPaused, schema.ExecutionRunning},
		{schema.ExecutionRunning, schema.ExecutionCompleted},
		{schema.ExecutionRunning, schema.ExecutionFailed},
	}
	for _, s := range steps {
		exec.Status = s.to
		fsm.Emit(ctx, exec, s.from, "")
	}

	assert.Equal(t, []string{
		schema.EventExecutionStarted,
		schema.EventExecutionPaused,
		schema.EventExecutionResumed,
		schema.EventExecutionCompleted,
		schema.EventExecutionFailed,
	}, hub.types())
}

func TestExecutionFSM_HooksRunAfterPublishFailure(t *testing.T) {
	hub := &recordingHub{err: errors.New("hub closed")}
	fsm := NewExecutionFSM(hub, discardLogger())

	var got []schema.ExecutionStatus
	fsm.OnAfter(schema.ExecutionRunning, schema.ExecutionCompleted, func(_ context.Context, exec *schema.Execution, from schema.ExecutionStatus) {
		got = append(got, from, exec.Status)
	})
	fsm.OnAfter(schema.ExecutionRunning, schema.ExecutionFailed, func(context.Context, *schema.Execution, schema.ExecutionStatus) {
		t.Fatal("hook for another transition ran")
	})

	exec := &schema.Execution{ID: "exec-1", Status: schema.ExecutionCompleted}
	fsm.Emit(context.Background(), exec, schema.ExecutionRunning, "")
	assert.Equal(t, []schema.ExecutionStatus{schema.ExecutionRunning, schema.ExecutionCompleted}, got)
}
