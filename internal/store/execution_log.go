package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rendis/leadflow/pkg/schema"
)

// StepOutcome is the last recorded result of one step, rebuilt from the log.
type StepOutcome struct {
	StepOrder int              `json:"step_order"`
	Action    schema.LogAction `json:"action"`
	Template  string           `json:"template,omitempty"`
	Error     string           `json:"error,omitempty"`
	Retries   int              `json:"retries,omitempty"`
}

// appendLogEntries writes entries with a per-execution sequence continuing
// after the current maximum. It must run inside the caller's transaction.
func appendLogEntries(ctx context.Context, tx *sql.Tx, executionID string, entries []schema.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM execution_log WHERE execution_id = ?`, executionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next log sequence: %w", err)
	}

	for i := range entries {
		seq++
		e := &entries[i]
		e.Sequence = seq
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO execution_log (execution_id, sequence, timestamp, action, step_order, template_name, recipient, status, error, detail)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			executionID, seq, millis(e.Timestamp), string(e.Action), e.StepOrder,
			nullStr(e.TemplateName), nullStr(e.Recipient), nullStr(e.Status), nullStr(e.Error), nullStr(e.Detail),
		); err != nil {
			return fmt.Errorf("insert log entry: %w", err)
		}
	}
	return nil
}

// GetExecutionLog returns log entries with sequence > since, in order.
func (s *LibSQLStore) GetExecutionLog(ctx context.Context, executionID string, since int64) ([]schema.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, timestamp, action, step_order, template_name, recipient, status, error, detail
		 FROM execution_log WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []schema.LogEntry
	for rows.Next() {
		var e schema.LogEntry
		var ts int64
		var action string
		var tmpl, recipient, status, errMsg, detail sql.NullString
		if err := rows.Scan(&e.Sequence, &ts, &action, &e.StepOrder, &tmpl, &recipient, &status, &errMsg, &detail); err != nil {
			return nil, err
		}
		e.Timestamp = fromMillis(ts)
		e.Action = schema.LogAction(action)
		e.TemplateName = tmpl.String
		e.Recipient = recipient.String
		e.Status = status.String
		e.Error = errMsg.String
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ReplayStepOutcomes folds an execution's log into the latest outcome per step.
// Returns an error if sequence gaps are detected.
func ReplayStepOutcomes(executionID string, entries []schema.LogEntry) (map[int]*StepOutcome, error) {
	outcomes := make(map[int]*StepOutcome)
	for i, e := range entries {
		if expected := int64(i + 1); e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"log sequence gap in execution %s: expected %d, got %d", executionID, expected, e.Sequence)
		}
		if e.StepOrder <= 0 {
			continue
		}
		o, ok := outcomes[e.StepOrder]
		if !ok {
			o = &StepOutcome{StepOrder: e.StepOrder}
			outcomes[e.StepOrder] = o
		}
		o.Action = e.Action
		if e.TemplateName != "" {
			o.Template = e.TemplateName
		}
		o.Error = e.Error
		if e.Action == schema.LogEmailSendRetry {
			o.Retries++
		}
	}
	return outcomes, nil
}
