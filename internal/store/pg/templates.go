package pg

import (
	"context"
	"encoding/json"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"courier/internal/domain"
	"courier/internal/store"
)

const templateCols = "id, schema_id, dispatch_type, name, content, vars, active, created_at, updated_at"

func scanTemplate(row pgx.Row) (domain.Template, error) {
	var t domain.Template
	var content, vars []byte
	if err := row.Scan(&t.ID, &t.SchemaID, &t.DispatchType, &t.Name, &content, &vars, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return t, err
	}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &t.Content); err != nil {
			return t, err
		}
	}
	t.Vars = unmarshalMap[domain.Vars](vars)
	return t, nil
}

func (q *Queries) InsertTemplate(ctx context.Context, t domain.Template) error {
	return exec(ctx, q.db, "template", t.ID, false, `
		INSERT INTO templates (id, schema_id, dispatch_type, name, content, vars, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, t.ID, t.SchemaID, t.DispatchType, t.Name, jsonb(t.Content), jsonb(t.Vars), t.Active, t.CreatedAt, t.UpdatedAt)
}

func (q *Queries) UpdateTemplate(ctx context.Context, t domain.Template) error {
	return exec(ctx, q.db, "template", t.ID, true, `
		UPDATE templates SET name=$2, content=$3, vars=$4, active=$5, updated_at=$6 WHERE id=$1
	`, t.ID, t.Name, jsonb(t.Content), jsonb(t.Vars), t.Active, t.UpdatedAt)
}

func (q *Queries) GetTemplate(ctx context.Context, id uuid.UUID) (domain.Template, error) {
	b := psql.Select(templateCols).From("templates").Where("id = ?", id)
	return queryOne(ctx, q.db, b, scanTemplate, "template", id)
}

func (q *Queries) FindTemplates(ctx context.Context, f store.TemplateQuery) ([]domain.Template, error) {
	b := psql.Select(templateCols).From("templates").OrderBy("created_at", "id")
	b = eqIf(b, "schema_id", f.SchemaID)
	b = eqIf(b, "dispatch_type", f.DispatchType)
	b = eqIf(b, "active", f.Active)
	return queryAll(ctx, q.db, page(b, f.Page), scanTemplate)
}

func (q *Queries) DeactivateTemplates(ctx context.Context, schemaID uuid.UUID, dt domain.DispatchType, keep uuid.UUID) error {
	return exec(ctx, q.db, "template", keep, false, `
		UPDATE templates SET active=false
		WHERE schema_id=$1 AND dispatch_type=$2 AND id<>$3 AND active
	`, schemaID, dt, keep)
}

const assignmentCols = "id, business_unit_id, message_type_id, email_template_id, sms_template_id, push_template_id, vars, priority, start_at, end_at, enabled, created_at, updated_at"

func scanAssignment(row pgx.Row) (domain.TemplateAssignment, error) {
	var a domain.TemplateAssignment
	var vars []byte
	err := row.Scan(&a.ID, &a.BusinessUnitID, &a.MessageTypeID, &a.EmailTemplateID, &a.SMSTemplateID, &a.PushTemplateID,
		&vars, &a.Priority, &a.StartAt, &a.EndAt, &a.Enabled, &a.CreatedAt, &a.UpdatedAt)
	a.Vars = unmarshalMap[domain.Vars](vars)
	return a, err
}

func (q *Queries) InsertTemplateAssignment(ctx context.Context, a domain.TemplateAssignment) error {
	return exec(ctx, q.db, "template_assignment", a.ID, false, `
		INSERT INTO template_assignments (id, business_unit_id, message_type_id, email_template_id, sms_template_id, push_template_id,
			vars, priority, start_at, end_at, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, a.ID, a.BusinessUnitID, a.MessageTypeID, a.EmailTemplateID, a.SMSTemplateID, a.PushTemplateID,
		jsonb(a.Vars), a.Priority, a.StartAt, a.EndAt, a.Enabled, a.CreatedAt, a.UpdatedAt)
}

func (q *Queries) UpdateTemplateAssignment(ctx context.Context, a domain.TemplateAssignment) error {
	return exec(ctx, q.db, "template_assignment", a.ID, true, `
		UPDATE template_assignments
		SET email_template_id=$2, sms_template_id=$3, push_template_id=$4, vars=$5, priority=$6,
			start_at=$7, end_at=$8, enabled=$9, updated_at=$10
		WHERE id=$1
	`, a.ID, a.EmailTemplateID, a.SMSTemplateID, a.PushTemplateID, jsonb(a.Vars), a.Priority,
		a.StartAt, a.EndAt, a.Enabled, a.UpdatedAt)
}

func (q *Queries) DeleteTemplateAssignment(ctx context.Context, id uuid.UUID) error {
	return exec(ctx, q.db, "template_assignment", id, true, `DELETE FROM template_assignments WHERE id=$1`, id)
}

func (q *Queries) GetTemplateAssignment(ctx context.Context, id uuid.UUID) (domain.TemplateAssignment, error) {
	b := psql.Select(assignmentCols).From("template_assignments").Where("id = ?", id)
	return queryOne(ctx, q.db, b, scanAssignment, "template_assignment", id)
}

var assignmentTemplateCol = map[domain.DispatchType]string{
	domain.DispatchEmail: "email_template_id",
	domain.DispatchSMS:   "sms_template_id",
	domain.DispatchPush:  "push_template_id",
}

func (q *Queries) FindTemplateAssignments(ctx context.Context, f store.TemplateAssignmentQuery) ([]domain.TemplateAssignment, error) {
	b := psql.Select(assignmentCols).From("template_assignments").OrderBy("priority DESC", "start_at DESC", "id")
	b = eqIf(b, "business_unit_id", f.BusinessUnitID)
	b = eqIf(b, "message_type_id", f.MessageTypeID)
	b = eqIf(b, "enabled", f.Enabled)
	if f.At != nil {
		b = b.Where(sq.LtOrEq{"start_at": *f.At}).
			Where(sq.Or{sq.Eq{"end_at": nil}, sq.Gt{"end_at": *f.At}})
	}
	if f.DispatchType != nil {
		col, ok := assignmentTemplateCol[*f.DispatchType]
		if !ok {
			return nil, domain.Invalid("dispatch_type", "unknown dispatch type %q", *f.DispatchType)
		}
		b = b.Where(sq.NotEq{col: nil})
	}
	return queryAll(ctx, q.db, page(b, f.Page), scanAssignment)
}
