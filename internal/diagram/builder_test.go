package diagram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/leadflow/pkg/schema"
)

func welcomeWorkflow() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:      "welcome-3",
		Name:    "Welcome-3",
		Version: 2,
		Trigger: schema.Trigger{Kind: schema.TriggerLeadCreated},
		Steps: []schema.Step{
			{Order: 1, TemplateRef: "templateA"},
			{Order: 2, TemplateRef: "templateB", DelayHours: 24, Conditions: schema.StatusIn("qualified", "hot")},
			{Order: 3, TemplateRef: "templateC", DelayHours: 36},
		},
	}
}

func entry(seq int64, order int, action schema.LogAction, errMsg string) schema.LogEntry {
	return schema.LogEntry{
		Sequence:  seq,
		Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Action:    action,
		StepOrder: order,
		Error:     errMsg,
	}
}

func nodeByID(m *DiagramModel, id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func TestBuild_Definition(t *testing.T) {
	model, err := Build(welcomeWorkflow(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Welcome-3 (v2)", model.Title)
	require.Len(t, model.Nodes, 5)
	assert.Equal(t, NodeKindStart, model.Nodes[0].Kind)
	assert.Equal(t, NodeKindEnd, model.Nodes[4].Kind)

	step2 := nodeByID(model, "step_2")
	require.NotNil(t, step2)
	assert.Equal(t, NodeKindConditional, step2.Kind)
	assert.Equal(t, "2. templateB", step2.Label)
	assert.Equal(t, "status in qualified,hot", step2.Condition)
	assert.Nil(t, step2.Status)

	assert.Equal(t, []Edge{
		{From: "__start__", To: "step_1"},
		{From: "step_1", To: "step_2", Label: "+1d"},
		{From: "step_2", To: "step_3", Label: "+36h"},
		{From: "step_3", To: "__end__"},
	}, model.Edges)
}

func TestBuild_Nil(t *testing.T) {
	_, err := Build(nil, nil)
	assert.Error(t, err)
}

func TestBuild_ExecutionOverlay(t *testing.T) {
	exec := &schema.Execution{
		ID:          "exec-1",
		Status:      schema.ExecutionRunning,
		CurrentStep: 2,
		Log: []schema.LogEntry{
			entry(1, 1, schema.LogEmailSent, ""),
			entry(2, 2, schema.LogStepSkipped, ""),
		},
	}
	model, err := Build(welcomeWorkflow(), exec)
	require.NoError(t, err)

	assert.Equal(t, StatusSent, nodeByID(model, "step_1").Status.Status)
	assert.Equal(t, StatusSkipped, nodeByID(model, "step_2").Status.Status)
	assert.Equal(t, StatusScheduled, nodeByID(model, "step_3").Status.Status)
	assert.Nil(t, nodeByID(model, "__end__").Status)
}

func TestBuild_ExecutionOverlayRetriesAndFailure(t *testing.T) {
	exec := &schema.Execution{
		ID:          "exec-1",
		Status:      schema.ExecutionFailed,
		CurrentStep: 0,
		Log: []schema.LogEntry{
			entry(1, 1, schema.LogEmailSendRetry, "503"),
			entry(2, 1, schema.LogEmailSendRetry, "503"),
			entry(3, 1, schema.LogEmailSendFailed, "provider down"),
		},
	}
	model, err := Build(welcomeWorkflow(), exec)
	require.NoError(t, err)

	step1 := nodeByID(model, "step_1").Status
	assert.Equal(t, StatusFailed, step1.Status)
	assert.Equal(t, 2, step1.Retries)
	assert.Equal(t, "provider down", step1.Error)
	assert.Equal(t, StatusPending, nodeByID(model, "step_2").Status.Status)
}

func TestBuild_PausedExecution(t *testing.T) {
	exec := &schema.Execution{
		ID:          "exec-1",
		Status:      schema.ExecutionPaused,
		CurrentStep: 1,
		Log:         []schema.LogEntry{entry(1, 1, schema.LogEmailSent, "")},
	}
	model, err := Build(welcomeWorkflow(), exec)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, nodeByID(model, "step_2").Status.Status)
}

func TestBuild_LogGap(t *testing.T) {
	exec := &schema.Execution{
		ID:  "exec-1",
		Log: []schema.LogEntry{entry(2, 1, schema.LogEmailSent, "")},
	}
	_, err := Build(welcomeWorkflow(), exec)
	assert.Error(t, err)
}

func TestConditionLabel(t *testing.T) {
	tests := []struct {
		cond *schema.StepCondition
		want string
	}{
		{schema.HasTag("vip"), "tag vip"},
		{schema.SourceIn("ads"), "source in ads"},
		{schema.Expression(`lead.score > 50`), "lead.score > 50"},
		{schema.AnyOf(*schema.HasTag("a"), *schema.HasTag("b")), "(tag a or tag b)"},
		{schema.Not(*schema.StatusIn("lost")), "not status in lost"},
		{schema.AllOf(*schema.HasTag("a"), *schema.Not(*schema.HasTag("b"))), "(tag a and not tag b)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, conditionLabel(tt.cond))
	}
}

func TestDelayLabel(t *testing.T) {
	assert.Equal(t, "", delayLabel(0))
	assert.Equal(t, "+5h", delayLabel(5))
	assert.Equal(t, "+3d", delayLabel(72))
}
