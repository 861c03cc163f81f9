package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeadflowServer(t *testing.T) {
	s := NewLeadflowServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.notifier)
}

func TestToolRegistration(t *testing.T) {
	s := NewLeadflowServer(ServerDeps{})

	expected := []string{
		"leadflow.start",
		"leadflow.pause",
		"leadflow.resume",
		"leadflow.process",
		"leadflow.stats",
		"leadflow.status",
		"leadflow.trigger",
		"leadflow.define",
		"leadflow.lead",
		"leadflow.template",
		"leadflow.diagram",
		"leadflow.watch",
	}
	require.Len(t, s.mcpServer.ListTools(), len(expected))
	for _, name := range expected {
		assert.NotNil(t, s.mcpServer.GetTool(name), "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		toolName    string
		description string
	}{
		{"leadflow.start", "Start a workflow execution for a lead"},
		{"leadflow.pause", "Pause a running execution"},
		{"leadflow.resume", "Resume a paused execution"},
		{"leadflow.trigger", "Evaluate a lead event and start every matching workflow"},
	}

	s := NewLeadflowServer(ServerDeps{})
	for _, tc := range tests {
		t.Run(tc.toolName, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
