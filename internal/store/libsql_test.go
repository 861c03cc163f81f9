package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/leadflow/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func seedWorkflow(t *testing.T, s *LibSQLStore, id string, steps ...schema.Step) *schema.WorkflowDefinition {
	t.Helper()
	if len(steps) == 0 {
		steps = []schema.Step{
			{Order: 1, TemplateRef: "welcome-a"},
			{Order: 2, TemplateRef: "welcome-b", DelayHours: 24},
		}
	}
	def := &schema.WorkflowDefinition{
		ID:      id,
		Name:    "Welcome " + id,
		Active:  true,
		Trigger: schema.Trigger{Kind: schema.TriggerLeadCreated},
		Steps:   steps,
	}
	require.NoError(t, s.SaveWorkflowDefinition(context.Background(), def))
	return def
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))

	var version int
	require.NoError(t, s.DB().QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version))
	assert.Equal(t, len(migrations), version)
}

func TestSplitStatements_DropsCommentOnlyChunks(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x INT);\n-- trailing only\n;\nCREATE INDEX i ON a (x);")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Equal(t, "CREATE INDEX i ON a (x)", stmts[1])
}

// --- Workflow definition tests ---

func TestSaveAndGetWorkflowDefinition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := &schema.WorkflowDefinition{
		ID:     "qualified-nurture",
		Name:   "Qualified nurture",
		Active: true,
		Trigger: schema.Trigger{
			Kind:   schema.TriggerStatusChanged,
			Config: map[string]any{"status": "QUALIFIED"},
		},
		Steps: []schema.Step{
			{Order: 1, TemplateRef: "intro"},
			{Order: 2, TemplateRef: "case-study", DelayHours: 48, Conditions: schema.Not(*schema.HasTag("unsubscribed"))},
		},
	}
	require.NoError(t, s.SaveWorkflowDefinition(ctx, def))
	assert.Equal(t, 1, def.Version)

	got, err := s.GetWorkflowDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "Qualified nurture", got.Name)
	assert.True(t, got.Active)
	assert.Equal(t, "QUALIFIED", got.Trigger.ConfigString("status"))
	require.Len(t, got.Steps, 2)
	assert.Nil(t, got.Steps[0].Conditions)
	require.NotNil(t, got.Steps[1].Conditions)
	assert.Equal(t, schema.ConditionNot, got.Steps[1].Conditions.Type)
	assert.Equal(t, 48, got.Steps[1].DelayHours)
}

func TestSaveWorkflowDefinition_NewVersionKeepsOldSteps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def := seedWorkflow(t, s, "wf-1")
	def.Steps = []schema.Step{{Order: 1, TemplateRef: "only-step"}}
	require.NoError(t, s.SaveWorkflowDefinition(ctx, def))
	assert.Equal(t, 2, def.Version)

	latest, err := s.GetWorkflowDefinition(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	require.Len(t, latest.Steps, 1)

	v1, err := s.GetWorkflowDefinitionVersion(ctx, "wf-1", 1)
	require.NoError(t, err)
	require.Len(t, v1.Steps, 2)
	assert.Equal(t, "welcome-b", v1.Steps[1].TemplateRef)

	_, err = s.GetWorkflowDefinitionVersion(ctx, "wf-1", 3)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestGetWorkflowDefinition_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetWorkflowDefinition(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestListWorkflowDefinitions_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedWorkflow(t, s, "created-1")
	tagged := &schema.WorkflowDefinition{
		ID: "tagged", Name: "Tagged", Active: true,
		Trigger: schema.Trigger{Kind: schema.TriggerTagAdded, Config: map[string]any{"tag": "webinar"}},
		Steps:   []schema.Step{{Order: 1, TemplateRef: "webinar-followup"}},
	}
	require.NoError(t, s.SaveWorkflowDefinition(ctx, tagged))
	seedWorkflow(t, s, "created-2")
	require.NoError(t, s.SetWorkflowActive(ctx, "created-2", false))

	active := true
	defs, err := s.ListWorkflowDefinitions(ctx, WorkflowFilter{Active: &active, TriggerKind: schema.TriggerLeadCreated})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "created-1", defs[0].ID)
	assert.Len(t, defs[0].Steps, 2)

	all, err := s.ListWorkflowDefinitions(ctx, WorkflowFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSetWorkflowActive_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.SetWorkflowActive(context.Background(), "nope", true)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

// --- CRM tests ---

func TestUpsertAndGetLead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lead := &schema.Lead{
		ID: "lead-42", Email: "ana@example.com", FirstName: "Ana", Status: "NEW", Source: "web",
		Tags:       []string{"webinar"},
		Attributes: map[string]any{"company": "Acme"},
	}
	require.NoError(t, s.UpsertLead(ctx, lead))

	lead.Status = "QUALIFIED"
	lead.Tags = append(lead.Tags, "vip")
	require.NoError(t, s.UpsertLead(ctx, lead))

	got, err := s.GetLead(ctx, "lead-42")
	require.NoError(t, err)
	assert.Equal(t, "QUALIFIED", got.Status)
	assert.Equal(t, []string{"webinar", "vip"}, got.Tags)
	assert.Equal(t, "Acme", got.Attributes["company"])

	_, err = s.GetLead(ctx, "lead-0")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestEmailTemplates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreEmailTemplate(ctx, &schema.EmailTemplate{
		Ref: "welcome-a", Subject: "Hi {{firstName}}", HTMLBody: "<p>Welcome</p>",
	}))
	got, err := s.GetEmailTemplate(ctx, "welcome-a")
	require.NoError(t, err)
	assert.Equal(t, "welcome-a", got.Name)
	assert.Equal(t, "Hi {{firstName}}", got.Subject)
	assert.Empty(t, got.TextBody)

	_, err = s.GetEmailTemplate(ctx, "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeTemplateNotFound))

	list, err := s.ListEmailTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSecrets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreSecret(ctx, "sender.api_key", []byte("v1")))
	require.NoError(t, s.StoreSecret(ctx, "sender.api_key", []byte("v2")))

	val, err := s.GetSecret(ctx, "sender.api_key")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), val)

	keys, err := s.ListSecrets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sender.api_key"}, keys)

	require.NoError(t, s.DeleteSecret(ctx, "sender.api_key"))
	_, err = s.GetSecret(ctx, "sender.api_key")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	assert.True(t, schema.IsCode(s.DeleteSecret(ctx, "sender.api_key"), schema.ErrCodeNotFound))
}
