package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/leadflow/pkg/schema"
)

func TestGoJQ_Capture(t *testing.T) {
	e := NewGoJQEngine()
	assert.Equal(t, "jq", e.Name())

	event := map[string]any{
		"tagName": "webinar",
		"utm":     map[string]any{"campaign": "spring", "medium": "email"},
		"seats":   3,
	}
	out, err := e.Evaluate(context.Background(), `{campaign: .utm.campaign, seats: .seats, plan: (.plan // "free")}`, event)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"campaign": "spring", "seats": 3.0, "plan": "free"}, out)
}

func TestGoJQ_MultipleAndEmptyOutputs(t *testing.T) {
	e := NewGoJQEngine()
	ctx := context.Background()

	out, err := e.Evaluate(ctx, `.tags[]`, map[string]any{"tags": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)

	out, err = e.Evaluate(ctx, `empty`, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_Errors(t *testing.T) {
	e := NewGoJQEngine()
	ctx := context.Background()

	_, err := e.Evaluate(ctx, "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(ctx, ".a |", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = e.Evaluate(ctx, `error("boom")`, map[string]any{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))

	_, err = e.Evaluate(ctx, `$ENV.HOME`, map[string]any{})
	require.NoError(t, err)

	assert.NoError(t, e.Check(`.utm`))
	assert.Error(t, e.Check(`.utm |`))
}
