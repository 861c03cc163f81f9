package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/leadflow/pkg/schema"
)

const executionColumns = `id, workflow_id, workflow_version, entity_id, status, current_step, next_step_at,
	completed_at, error, attempts, trigger_data, version, locked_until, created_at, updated_at`

// CreateExecution inserts a new execution. A second RUNNING execution for the
// same (workflow, entity) pair is rejected with DUPLICATE_EXECUTION.
func (s *LibSQLStore) CreateExecution(ctx context.Context, exec *schema.Execution) error {
	triggerData, err := marshalOrNil(exec.TriggerData)
	if err != nil {
		return fmt.Errorf("marshal trigger data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_executions (`+executionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowID, exec.WorkflowVersion, exec.EntityID, string(exec.Status),
		exec.CurrentStep, nullMillis(exec.NextStepAt), nullMillis(exec.CompletedAt), nullStr(exec.Error),
		exec.Attempts, triggerData, exec.Version, nullMillis(exec.LockedUntil),
		millis(exec.CreatedAt), millis(exec.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeDuplicateExecution,
			"workflow %s already has a running execution for entity %s", exec.WorkflowID, exec.EntityID).
			WithCause(err)
	}
	return err
}

// GetExecution returns an execution together with its full log.
func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*schema.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM workflow_executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, err
	}
	if exec.Log, err = s.GetExecutionLog(ctx, id, 0); err != nil {
		return nil, err
	}
	return exec, nil
}

// ListExecutions returns executions without their logs, newest first.
func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + executionColumns + ` FROM workflow_executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}
	return s.queryExecutions(ctx, query, args...)
}

// HasRunningExecution reports whether a RUNNING execution exists for the pair.
func (s *LibSQLStore) HasRunningExecution(ctx context.Context, workflowID, entityID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_executions WHERE workflow_id = ? AND entity_id = ? AND status = 'RUNNING'`,
		workflowID, entityID,
	).Scan(&n)
	return n > 0, err
}

// ListDueExecutions returns RUNNING executions whose next step is due at now
// and that no processor currently holds, oldest due first.
func (s *LibSQLStore) ListDueExecutions(ctx context.Context, now time.Time, limit int) ([]*schema.Execution, error) {
	ms := now.UTC().UnixMilli()
	query := `SELECT ` + executionColumns + ` FROM workflow_executions
		WHERE status = 'RUNNING' AND next_step_at <= ? AND (locked_until IS NULL OR locked_until <= ?)
		ORDER BY next_step_at ASC, id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryExecutions(ctx, query, ms, ms)
}

// ClaimExecution takes a processing lease on an execution. It succeeds only if
// the row still carries version, is RUNNING, and holds no live lease. The
// version is bumped so a competing claim on the same snapshot fails.
func (s *LibSQLStore) ClaimExecution(ctx context.Context, id string, version int64, now, leaseUntil time.Time) (bool, error) {
	nowMs := now.UTC().UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions
		 SET version = version + 1, locked_until = ?, updated_at = ?
		 WHERE id = ? AND version = ? AND status = 'RUNNING' AND (locked_until IS NULL OR locked_until <= ?)`,
		leaseUntil.UTC().UnixMilli(), nowMs, id, version, nowMs,
	)
	if err != nil {
		return false, storeFailure("claim execution", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CommitStep records the outcome of a claimed step in one transaction: log
// entries are appended and the new state is written, releasing the lease.
//
// If the row moved since the claim, an operator pause wins over a
// non-terminal outcome: progress is recorded but the execution stays PAUSED.
// A terminal outcome (COMPLETED or FAILED) is always applied. If the lease
// on the row is no longer the one this claim set, the claim was lost and
// nothing is written.
func (s *LibSQLStore) CommitStep(ctx context.Context, c *StepCommit) (*schema.Execution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeFailure("begin commit", err)
	}
	defer tx.Rollback()

	var status string
	var version int64
	var lockedUntil sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT status, version, locked_until FROM workflow_executions WHERE id = ?`, c.ExecutionID,
	).Scan(&status, &version, &lockedUntil)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("execution", c.ExecutionID)
	}
	if err != nil {
		return nil, storeFailure("read execution", err)
	}

	finalStatus, nextStepAt := c.Status, c.NextStepAt
	if version != c.ClaimVersion {
		current := schema.ExecutionStatus(status)
		switch {
		case !lockedUntil.Valid || lockedUntil.Int64 != millis(c.LeaseUntil):
			return nil, schema.NewErrorf(schema.ErrCodeConflict,
				"execution %s was claimed again after its lease expired", c.ExecutionID).
				WithDetails(map[string]any{"execution_id": c.ExecutionID, "version": version})
		case current.Terminal():
			return nil, schema.NewErrorf(schema.ErrCodeConflict,
				"execution %s became %s while step was processed", c.ExecutionID, current)
		case current == schema.ExecutionPaused && !c.Status.Terminal():
			finalStatus, nextStepAt = schema.ExecutionPaused, nil
		}
	}
	if finalStatus != schema.ExecutionRunning {
		nextStepAt = nil
	}

	if err := appendLogEntries(ctx, tx, c.ExecutionID, c.Entries); err != nil {
		return nil, err
	}

	now := millis(c.Now)
	if _, err := tx.ExecContext(ctx,
		`UPDATE workflow_executions
		 SET status = ?, current_step = MAX(current_step, ?), next_step_at = ?, completed_at = ?, error = ?,
		     attempts = ?, version = version + 1, locked_until = NULL, updated_at = ?
		 WHERE id = ?`,
		string(finalStatus), c.CurrentStep, nullMillis(nextStepAt), nullMillis(c.CompletedAt), nullStr(c.Error),
		c.Attempts, now, c.ExecutionID,
	); err != nil {
		return nil, storeFailure("write execution", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeFailure("commit step", err)
	}
	return s.GetExecution(ctx, c.ExecutionID)
}

// TransitionExecution moves an execution from t.From to t.To. It fails with
// INVALID_TRANSITION when the execution is not in t.From, and with
// DUPLICATE_EXECUTION when entering RUNNING would give the pair a second
// running execution.
func (s *LibSQLStore) TransitionExecution(ctx context.Context, t ExecutionTransition) (*schema.Execution, error) {
	nextStepAt := t.NextStepAt
	if t.To != schema.ExecutionRunning {
		nextStepAt = nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_executions
		 SET status = ?, next_step_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(t.To), nullMillis(nextStepAt), millis(t.Now), t.ExecutionID, string(t.From),
	)
	if isUniqueViolation(err) {
		return nil, schema.NewErrorf(schema.ErrCodeDuplicateExecution,
			"execution %s cannot resume: another execution of the same workflow and entity is running", t.ExecutionID).
			WithCause(err)
	}
	if err != nil {
		return nil, storeFailure("transition execution", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	exec, err := s.GetExecution(ctx, t.ExecutionID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"execution %s is %s, cannot transition %s -> %s", t.ExecutionID, exec.Status, t.From, t.To).
			WithDetails(map[string]any{
				"execution_id": t.ExecutionID,
				"current":      string(exec.Status),
				"from":         string(t.From),
				"to":           string(t.To),
			})
	}
	return exec, nil
}

// CountExecutions returns per-status execution counts for a workflow.
func (s *LibSQLStore) CountExecutions(ctx context.Context, workflowID string) (*schema.WorkflowStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM workflow_executions WHERE workflow_id = ? GROUP BY status`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &schema.WorkflowStats{WorkflowID: workflowID}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.Total += n
		switch schema.ExecutionStatus(status) {
		case schema.ExecutionRunning:
			stats.Running = n
		case schema.ExecutionPaused:
			stats.Paused = n
		case schema.ExecutionCompleted:
			stats.Completed = n
		case schema.ExecutionFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

func (s *LibSQLStore) queryExecutions(ctx context.Context, query string, args ...any) ([]*schema.Execution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []*schema.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}
	return execs, rows.Err()
}

func scanExecution(row rowScanner) (*schema.Execution, error) {
	exec := &schema.Execution{}
	var (
		status                               string
		nextStepAt, completedAt, lockedUntil sql.NullInt64
		errMsg, triggerData                  sql.NullString
		createdAt, updatedAt                 int64
	)
	if err := row.Scan(&exec.ID, &exec.WorkflowID, &exec.WorkflowVersion, &exec.EntityID, &status,
		&exec.CurrentStep, &nextStepAt, &completedAt, &errMsg, &exec.Attempts, &triggerData,
		&exec.Version, &lockedUntil, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	exec.Status = schema.ExecutionStatus(status)
	exec.NextStepAt = fromNullMillis(nextStepAt)
	exec.CompletedAt = fromNullMillis(completedAt)
	exec.LockedUntil = fromNullMillis(lockedUntil)
	exec.Error = errMsg.String
	if err := unmarshalNull(triggerData, &exec.TriggerData); err != nil {
		return nil, fmt.Errorf("decode trigger data of execution %s: %w", exec.ID, err)
	}
	exec.CreatedAt = fromMillis(createdAt)
	exec.UpdatedAt = fromMillis(updatedAt)
	return exec, nil
}
