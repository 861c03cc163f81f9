package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rendis/leadflow/pkg/schema"
)

// --- Leads ---

// UpsertLead writes the engine's read model of a CRM lead.
func (s *LibSQLStore) UpsertLead(ctx context.Context, lead *schema.Lead) error {
	tags, err := marshalOrNil(lead.Tags)
	if err != nil {
		return fmt.Errorf("marshal lead tags: %w", err)
	}
	attrs, err := marshalOrNil(lead.Attributes)
	if err != nil {
		return fmt.Errorf("marshal lead attributes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, email, first_name, last_name, status, source, tags, attributes, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   email=excluded.email, first_name=excluded.first_name, last_name=excluded.last_name,
		   status=excluded.status, source=excluded.source, tags=excluded.tags,
		   attributes=excluded.attributes, updated_at=excluded.updated_at`,
		lead.ID, lead.Email, nullStr(lead.FirstName), nullStr(lead.LastName),
		nullStr(lead.Status), nullStr(lead.Source), tags, attrs, nowMillis(),
	)
	return err
}

func (s *LibSQLStore) GetLead(ctx context.Context, id string) (*schema.Lead, error) {
	l := &schema.Lead{}
	var first, last, status, source, tags, attrs sql.NullString
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, first_name, last_name, status, source, tags, attributes, updated_at FROM leads WHERE id = ?`, id,
	).Scan(&l.ID, &l.Email, &first, &last, &status, &source, &tags, &attrs, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("lead", id)
	}
	if err != nil {
		return nil, err
	}
	l.FirstName = first.String
	l.LastName = last.String
	l.Status = status.String
	l.Source = source.String
	if err := unmarshalNull(tags, &l.Tags); err != nil {
		return nil, fmt.Errorf("decode lead tags: %w", err)
	}
	if err := unmarshalNull(attrs, &l.Attributes); err != nil {
		return nil, fmt.Errorf("decode lead attributes: %w", err)
	}
	return l, nil
}

// --- Email templates ---

func (s *LibSQLStore) StoreEmailTemplate(ctx context.Context, tpl *schema.EmailTemplate) error {
	name := tpl.Name
	if name == "" {
		name = tpl.Ref
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_templates (ref, name, subject, html_body, text_body, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(ref) DO UPDATE SET
		   name=excluded.name, subject=excluded.subject, html_body=excluded.html_body,
		   text_body=excluded.text_body, updated_at=excluded.updated_at`,
		tpl.Ref, name, tpl.Subject, tpl.HTMLBody, nullStr(tpl.TextBody), nowMillis(),
	)
	return err
}

// GetEmailTemplate resolves a template by ref. A missing template is reported
// as TEMPLATE_NOT_FOUND rather than NOT_FOUND.
func (s *LibSQLStore) GetEmailTemplate(ctx context.Context, ref string) (*schema.EmailTemplate, error) {
	t := &schema.EmailTemplate{}
	var text sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT ref, name, subject, html_body, text_body FROM email_templates WHERE ref = ?`, ref,
	).Scan(&t.Ref, &t.Name, &t.Subject, &t.HTMLBody, &text)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeTemplateNotFound, "email template %q not found", ref)
	}
	if err != nil {
		return nil, err
	}
	t.TextBody = text.String
	return t, nil
}

func (s *LibSQLStore) ListEmailTemplates(ctx context.Context) ([]*schema.EmailTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ref, name, subject, html_body, text_body FROM email_templates ORDER BY ref`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*schema.EmailTemplate
	for rows.Next() {
		t := &schema.EmailTemplate{}
		var text sql.NullString
		if err := rows.Scan(&t.Ref, &t.Name, &t.Subject, &t.HTMLBody, &text); err != nil {
			return nil, err
		}
		t.TextBody = text.String
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// --- Secrets ---

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	now := nowMillis()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO secrets (key, value, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, rotated_at=?`,
		key, value, now, now,
	)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("secret", key)
	}
	return value, err
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "secret", key)
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
