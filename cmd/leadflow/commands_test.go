package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/leadflow/pkg/schema"
)

type cliHarness struct {
	dir string
	db  string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	for _, k := range []string{"LEADFLOW_DB_PATH", "LEADFLOW_SENDER_KIND", "LEADFLOW_VAULT_KEY"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	return &cliHarness{dir: dir, db: filepath.Join(dir, "leadflow.db")}
}

func (h *cliHarness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCommand()
	var out bytes.Buffer
	cmd.Writer = &out
	cmd.ErrWriter = &out
	full := append([]string{"leadflow",
		"--config", filepath.Join(h.dir, "settings.json"),
		"--db-path", h.db,
		"--log-level", "error",
	}, args...)
	err := cmd.Run(context.Background(), full)
	return out.String(), err
}

func (h *cliHarness) file(t *testing.T, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestCLI_Version(t *testing.T) {
	h := newCLIHarness(t)
	out, err := h.run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, resolvedVersion()+"\n", out)
}

func TestCLI_Migrate(t *testing.T) {
	h := newCLIHarness(t)
	out, err := h.run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrated")
	assert.FileExists(t, h.db)

	out, err = h.run(t, "migrate", "--vacuum")
	require.NoError(t, err)
	assert.Contains(t, out, "migrated")
}

func TestCLI_EndToEnd(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run(t, "template", h.file(t, "tpl.json", schema.EmailTemplate{
		Ref: "welcome", Subject: "Welcome {{firstName}}", HTMLBody: "<p>Hi {{firstName}}</p>",
	}))
	require.NoError(t, err)

	_, err = h.run(t, "lead", h.file(t, "lead.json", schema.Lead{
		ID: "lead-1", Email: "grace@example.com", FirstName: "Grace", Status: "new",
	}))
	require.NoError(t, err)

	out, err := h.run(t, "define", h.file(t, "wf.json", schema.WorkflowDefinition{
		ID:      "welcome",
		Name:    "Welcome",
		Active:  true,
		Trigger: schema.Trigger{Kind: schema.TriggerLeadCreated},
		Steps:   []schema.Step{{Order: 1, TemplateRef: "welcome"}},
	}))
	require.NoError(t, err)
	assert.Contains(t, out, "defined welcome v1")

	out, err = h.run(t, "trigger", "--entity", "lead-1", "--kind", "LEAD_CREATED")
	require.NoError(t, err)
	var eval schema.EvaluationResult
	require.NoError(t, json.Unmarshal([]byte(out), &eval))
	assert.Len(t, eval.Started, 1)

	out, err = h.run(t, "process")
	require.NoError(t, err)
	assert.Contains(t, out, "processed 1 executions")

	out, err = h.run(t, "stats", "welcome")
	require.NoError(t, err)
	var stats schema.WorkflowStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.Completed)

	out, err = h.run(t, "diagram", "welcome")
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "1. welcome")

	out, err = h.run(t, "workflow", "list", "--active")
	require.NoError(t, err)
	assert.Equal(t, "welcome\tv1\tLEAD_CREATED\tactive\n", out)

	_, err = h.run(t, "workflow", "deactivate", "welcome")
	require.NoError(t, err)
	out, err = h.run(t, "workflow", "list", "--active")
	require.NoError(t, err)
	assert.Empty(t, out)
	out, err = h.run(t, "trigger", "--entity", "lead-1", "--kind", "LEAD_CREATED")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &eval))
	assert.Empty(t, eval.Started)
}

func TestCLI_Errors(t *testing.T) {
	h := newCLIHarness(t)

	_, err := h.run(t, "stats")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = h.run(t, "stats", "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	_, err = h.run(t, "secret", "set", "api", "key")
	assert.True(t, schema.IsCode(err, schema.ErrCodeVault))

	_, err = h.run(t, "trigger", "--entity", "lead-1", "--kind", "LEAD_CREATED", "--data", "[1,")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestCLI_Secrets(t *testing.T) {
	h := newCLIHarness(t)
	t.Setenv("LEADFLOW_VAULT_KEY", "correct horse battery staple")

	_, err := h.run(t, "secret", "set", "mail_api_key", "sk-123")
	require.NoError(t, err)

	out, err := h.run(t, "secret", "list")
	require.NoError(t, err)
	assert.Equal(t, "mail_api_key\n", out)
}

func TestCLI_WelcomeSequenceExample(t *testing.T) {
	h := newCLIHarness(t)
	dir := filepath.Join("..", "..", "examples", "welcome-sequence")

	for _, name := range []string{"welcome", "checkin", "offer"} {
		_, err := h.run(t, "template", filepath.Join(dir, "templates", name+".json"))
		require.NoError(t, err, name)
	}
	_, err := h.run(t, "lead", filepath.Join(dir, "lead.json"))
	require.NoError(t, err)
	_, err = h.run(t, "define", filepath.Join(dir, "workflow.json"))
	require.NoError(t, err)

	out, err := h.run(t, "trigger", "--entity", "lead-1001", "--kind", "LEAD_CREATED", "--data", `{"source":"import"}`)
	require.NoError(t, err)
	var eval schema.EvaluationResult
	require.NoError(t, json.Unmarshal([]byte(out), &eval))
	assert.Empty(t, eval.Started, "imported leads are filtered out")

	out, err = h.run(t, "trigger", "--entity", "lead-1001", "--kind", "LEAD_CREATED", "--data", `{"source":"webinar"}`)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &eval))
	assert.Len(t, eval.Started, 1)

	out, err = h.run(t, "process")
	require.NoError(t, err)
	assert.Contains(t, out, "processed 1 executions")

	out, err = h.run(t, "stats", "welcome-sequence")
	require.NoError(t, err)
	var stats schema.WorkflowStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 1, stats.Running, "steps 2 and 3 are still waiting")
}
