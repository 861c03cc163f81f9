package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/leadflow/pkg/schema"
)

func assertPNG(t *testing.T, png []byte) {
	t.Helper()
	require.True(t, len(png) > 8, "PNG should be larger than header")
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderImage(t *testing.T) {
	model, err := Build(welcomeWorkflow(), nil)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	assertPNG(t, png)
}

func TestRenderImageWithStatus(t *testing.T) {
	exec := &schema.Execution{
		ID:          "exec-1",
		Status:      schema.ExecutionFailed,
		CurrentStep: 1,
		Log: []schema.LogEntry{
			entry(1, 1, schema.LogEmailSent, ""),
			entry(2, 2, schema.LogEmailSendFailed, "bounced"),
		},
	}
	model, err := Build(welcomeWorkflow(), exec)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	assertPNG(t, png)
}

func TestRenderImageEmptyWorkflow(t *testing.T) {
	model, err := Build(&schema.WorkflowDefinition{ID: "empty"}, nil)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	assertPNG(t, png)
}
