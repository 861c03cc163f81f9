package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/leadflow/pkg/schema"
)

// SaveWorkflowDefinition stores def as a new version. The first save creates
// version 1; later saves bump the version and write a fresh step list, leaving
// the steps of earlier versions untouched for executions pinned to them.
// def.Version, CreatedAt and UpdatedAt are set on return.
func (s *LibSQLStore) SaveWorkflowDefinition(ctx context.Context, def *schema.WorkflowDefinition) error {
	triggerCfg, err := marshalOrNil(def.Trigger.Config)
	if err != nil {
		return fmt.Errorf("marshal trigger config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := nowMillis()
	var current int
	var createdAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT version, created_at FROM workflow_definitions WHERE id = ?`, def.ID,
	).Scan(&current, &createdAt)
	switch {
	case err == sql.ErrNoRows:
		createdAt = now
		_, err = tx.ExecContext(ctx,
			`INSERT INTO workflow_definitions (id, name, description, active, version, trigger_kind, trigger_config, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?)`,
			def.ID, def.Name, nullStr(def.Description), boolInt(def.Active),
			string(def.Trigger.Kind), triggerCfg, createdAt, now,
		)
	case err != nil:
		return fmt.Errorf("read definition version: %w", err)
	default:
		_, err = tx.ExecContext(ctx,
			`UPDATE workflow_definitions
			 SET name = ?, description = ?, active = ?, version = ?, trigger_kind = ?, trigger_config = ?, updated_at = ?
			 WHERE id = ?`,
			def.Name, nullStr(def.Description), boolInt(def.Active), current+1,
			string(def.Trigger.Kind), triggerCfg, now, def.ID,
		)
	}
	if err != nil {
		return fmt.Errorf("write definition: %w", err)
	}
	version := current + 1

	for _, step := range def.Steps {
		var cond any
		if step.Conditions != nil {
			if cond, err = marshalOrNil(step.Conditions); err != nil {
				return fmt.Errorf("marshal step %d conditions: %w", step.Order, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO workflow_steps (workflow_id, version, step_order, template_ref, delay_hours, conditions)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			def.ID, version, step.Order, step.TemplateRef, step.DelayHours, cond,
		); err != nil {
			return fmt.Errorf("insert step %d: %w", step.Order, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit definition: %w", err)
	}
	def.Version = version
	def.CreatedAt = fromMillis(createdAt)
	def.UpdatedAt = fromMillis(now)
	return nil
}

// GetWorkflowDefinition returns the latest version of a definition with its steps.
func (s *LibSQLStore) GetWorkflowDefinition(ctx context.Context, id string) (*schema.WorkflowDefinition, error) {
	return s.GetWorkflowDefinitionVersion(ctx, id, 0)
}

// GetWorkflowDefinitionVersion returns a definition with the steps of the given
// version. Version 0 selects the latest.
func (s *LibSQLStore) GetWorkflowDefinitionVersion(ctx context.Context, id string, version int) (*schema.WorkflowDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, active, version, trigger_kind, trigger_config, created_at, updated_at
		 FROM workflow_definitions WHERE id = ?`, id)
	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	if version > 0 {
		if version > def.Version {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q has no version %d", id, version)
		}
		def.Version = version
	}
	if def.Steps, err = s.loadSteps(ctx, id, def.Version); err != nil {
		return nil, err
	}
	return def, nil
}

// ListWorkflowDefinitions returns the latest version of every matching definition.
func (s *LibSQLStore) ListWorkflowDefinitions(ctx context.Context, filter WorkflowFilter) ([]*schema.WorkflowDefinition, error) {
	var where []string
	var args []any

	if filter.Active != nil {
		where = append(where, "active = ?")
		args = append(args, boolInt(*filter.Active))
	}
	if filter.TriggerKind != "" {
		where = append(where, "trigger_kind = ?")
		args = append(args, string(filter.TriggerKind))
	}

	query := `SELECT id, name, description, active, version, trigger_kind, trigger_config, created_at, updated_at FROM workflow_definitions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var defs []*schema.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Steps are loaded after the cursor is closed: the pool holds one connection.
	rows.Close()

	for _, def := range defs {
		if def.Steps, err = s.loadSteps(ctx, def.ID, def.Version); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

// SetWorkflowActive toggles the active flag without creating a new version.
func (s *LibSQLStore) SetWorkflowActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_definitions SET active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), nowMillis(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) loadSteps(ctx context.Context, workflowID string, version int) ([]schema.Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_order, template_ref, delay_hours, conditions
		 FROM workflow_steps WHERE workflow_id = ? AND version = ? ORDER BY step_order ASC`,
		workflowID, version,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []schema.Step
	for rows.Next() {
		var step schema.Step
		var cond sql.NullString
		if err := rows.Scan(&step.Order, &step.TemplateRef, &step.DelayHours, &cond); err != nil {
			return nil, err
		}
		if cond.Valid && cond.String != "" {
			step.Conditions = &schema.StepCondition{}
			if err := json.Unmarshal([]byte(cond.String), step.Conditions); err != nil {
				return nil, fmt.Errorf("decode step %d conditions of workflow %s: %w", step.Order, workflowID, err)
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*schema.WorkflowDefinition, error) {
	def := &schema.WorkflowDefinition{}
	var (
		desc, triggerCfg     sql.NullString
		active               int
		kind                 string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&def.ID, &def.Name, &desc, &active, &def.Version, &kind, &triggerCfg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	def.Description = desc.String
	def.Active = active != 0
	def.Trigger.Kind = schema.TriggerKind(kind)
	if err := unmarshalNull(triggerCfg, &def.Trigger.Config); err != nil {
		return nil, fmt.Errorf("decode trigger config of workflow %s: %w", def.ID, err)
	}
	def.CreatedAt = fromMillis(createdAt)
	def.UpdatedAt = fromMillis(updatedAt)
	return def, nil
}
