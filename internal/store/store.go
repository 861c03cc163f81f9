package store

import (
	"context"
	"time"

	"github.com/rendis/leadflow/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflow definitions (versioned)
	SaveWorkflowDefinition(ctx context.Context, def *schema.WorkflowDefinition) error
	GetWorkflowDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error)
	GetWorkflowDefinitionVersion(ctx context.Context, id string, version int) (*schema.WorkflowDefinition, error)
	ListWorkflowDefinitions(ctx context.Context, filter WorkflowFilter) ([]*schema.WorkflowDefinition, error)
	SetWorkflowActive(ctx context.Context, id string, active bool) error

	// Executions
	CreateExecution(ctx context.Context, exec *schema.Execution) error
	GetExecution(ctx context.Context, id string) (*schema.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error)
	HasRunningExecution(ctx context.Context, workflowID, entityID string) (bool, error)
	ListDueExecutions(ctx context.Context, now time.Time, limit int) ([]*schema.Execution, error)
	ClaimExecution(ctx context.Context, id string, version int64, now, leaseUntil time.Time) (bool, error)
	CommitStep(ctx context.Context, commit *StepCommit) (*schema.Execution, error)
	TransitionExecution(ctx context.Context, t ExecutionTransition) (*schema.Execution, error)
	CountExecutions(ctx context.Context, workflowID string) (*schema.WorkflowStats, error)

	// Execution log (append-only)
	GetExecutionLog(ctx context.Context, executionID string, since int64) ([]schema.LogEntry, error)

	// CRM read model
	UpsertLead(ctx context.Context, lead *schema.Lead) error
	GetLead(ctx context.Context, id string) (*schema.Lead, error)

	// Email templates
	StoreEmailTemplate(ctx context.Context, tpl *schema.EmailTemplate) error
	GetEmailTemplate(ctx context.Context, ref string) (*schema.EmailTemplate, error)
	ListEmailTemplates(ctx context.Context) ([]*schema.EmailTemplate, error)

	// Secrets
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
