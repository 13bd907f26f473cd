package pg

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"courier/internal/domain"
	"courier/internal/store"
)

const businessUnitCols = "id, code, name, vars, created_at, updated_at"

func scanBusinessUnit(row pgx.Row) (domain.BusinessUnit, error) {
	var bu domain.BusinessUnit
	var vars []byte
	err := row.Scan(&bu.ID, &bu.Code, &bu.Name, &vars, &bu.CreatedAt, &bu.UpdatedAt)
	bu.Vars = unmarshalMap[domain.Vars](vars)
	return bu, err
}

func (q *Queries) InsertBusinessUnit(ctx context.Context, bu domain.BusinessUnit) error {
	return exec(ctx, q.db, "business_unit", bu.ID, false, `
		INSERT INTO business_units (id, code, name, vars, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, bu.ID, bu.Code, bu.Name, jsonb(bu.Vars), bu.CreatedAt, bu.UpdatedAt)
}

// UpdateBusinessUnit never touches code; it is immutable.
func (q *Queries) UpdateBusinessUnit(ctx context.Context, bu domain.BusinessUnit) error {
	return exec(ctx, q.db, "business_unit", bu.ID, true, `
		UPDATE business_units SET name=$2, vars=$3, updated_at=$4 WHERE id=$1
	`, bu.ID, bu.Name, jsonb(bu.Vars), bu.UpdatedAt)
}

func (q *Queries) GetBusinessUnit(ctx context.Context, id uuid.UUID) (domain.BusinessUnit, error) {
	b := psql.Select(businessUnitCols).From("business_units").Where("id = ?", id)
	return queryOne(ctx, q.db, b, scanBusinessUnit, "business_unit", id)
}

func (q *Queries) FindBusinessUnits(ctx context.Context, f store.BusinessUnitQuery) ([]domain.BusinessUnit, error) {
	b := psql.Select(businessUnitCols).From("business_units").OrderBy("created_at", "id")
	b = eqIf(b, "code", f.Code)
	return queryAll(ctx, q.db, page(b, f.Page), scanBusinessUnit)
}

const messageTypeCols = "id, business_unit_id, code, name, enabled, vars, created_at, updated_at"

func scanMessageType(row pgx.Row) (domain.MessageType, error) {
	var mt domain.MessageType
	var vars []byte
	err := row.Scan(&mt.ID, &mt.BusinessUnitID, &mt.Code, &mt.Name, &mt.Enabled, &vars, &mt.CreatedAt, &mt.UpdatedAt)
	mt.Vars = unmarshalMap[domain.Vars](vars)
	return mt, err
}

func (q *Queries) InsertMessageType(ctx context.Context, mt domain.MessageType) error {
	return exec(ctx, q.db, "message_type", mt.ID, false, `
		INSERT INTO message_types (id, business_unit_id, code, name, enabled, vars, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, mt.ID, mt.BusinessUnitID, mt.Code, mt.Name, mt.Enabled, jsonb(mt.Vars), mt.CreatedAt, mt.UpdatedAt)
}

func (q *Queries) UpdateMessageType(ctx context.Context, mt domain.MessageType) error {
	return exec(ctx, q.db, "message_type", mt.ID, true, `
		UPDATE message_types SET name=$2, enabled=$3, vars=$4, updated_at=$5 WHERE id=$1
	`, mt.ID, mt.Name, mt.Enabled, jsonb(mt.Vars), mt.UpdatedAt)
}

func (q *Queries) GetMessageType(ctx context.Context, id uuid.UUID) (domain.MessageType, error) {
	b := psql.Select(messageTypeCols).From("message_types").Where("id = ?", id)
	return queryOne(ctx, q.db, b, scanMessageType, "message_type", id)
}

func (q *Queries) FindMessageTypes(ctx context.Context, f store.MessageTypeQuery) ([]domain.MessageType, error) {
	b := psql.Select(messageTypeCols).From("message_types").OrderBy("created_at", "id")
	b = eqIf(b, "business_unit_id", f.BusinessUnitID)
	b = eqIf(b, "code", f.Code)
	b = eqIf(b, "enabled", f.Enabled)
	return queryAll(ctx, q.db, page(b, f.Page), scanMessageType)
}

// NextSchemaVersion locks the message type row so concurrent schema creations
// for the same type queue behind each other until commit.
func (q *Queries) NextSchemaVersion(ctx context.Context, messageTypeID uuid.UUID) (int, error) {
	var locked uuid.UUID
	err := q.db.QueryRow(ctx, `SELECT id FROM message_types WHERE id=$1 FOR UPDATE`, messageTypeID).Scan(&locked)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, domain.NotFound("message_type", messageTypeID)
		}
		return 0, fmt.Errorf("lock message type: %w", err)
	}
	var next int
	err = q.db.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) + 1 FROM schemas WHERE message_type_id=$1
	`, messageTypeID).Scan(&next)
	return next, err
}

const schemaCols = "id, message_type_id, version, json_schema, enabled, published, vars, created_at, updated_at"

func scanSchema(row pgx.Row) (domain.Schema, error) {
	var s domain.Schema
	var raw, vars []byte
	if err := row.Scan(&s.ID, &s.MessageTypeID, &s.Version, &raw, &s.Enabled, &s.Published, &vars, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return s, err
	}
	js, err := domain.NewJSONSchema(raw)
	if err != nil {
		return s, fmt.Errorf("stored schema %s: %w", s.ID, err)
	}
	s.JSONSchema = js
	s.Vars = unmarshalMap[domain.Vars](vars)
	return s, nil
}

func (q *Queries) InsertSchema(ctx context.Context, s domain.Schema) error {
	return exec(ctx, q.db, "schema", s.ID, false, `
		INSERT INTO schemas (id, message_type_id, version, json_schema, enabled, published, vars, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.ID, s.MessageTypeID, s.Version, []byte(s.JSONSchema.Raw()), s.Enabled, s.Published, jsonb(s.Vars), s.CreatedAt, s.UpdatedAt)
}

func (q *Queries) UpdateSchema(ctx context.Context, s domain.Schema) error {
	return exec(ctx, q.db, "schema", s.ID, true, `
		UPDATE schemas SET json_schema=$2, enabled=$3, published=$4, vars=$5, updated_at=$6 WHERE id=$1
	`, s.ID, []byte(s.JSONSchema.Raw()), s.Enabled, s.Published, jsonb(s.Vars), s.UpdatedAt)
}

func (q *Queries) GetSchema(ctx context.Context, id uuid.UUID) (domain.Schema, error) {
	b := psql.Select(schemaCols).From("schemas").Where("id = ?", id)
	return queryOne(ctx, q.db, b, scanSchema, "schema", id)
}

func (q *Queries) FindSchemas(ctx context.Context, f store.SchemaQuery) ([]domain.Schema, error) {
	b := psql.Select(schemaCols).From("schemas").OrderBy("version", "id")
	b = eqIf(b, "message_type_id", f.MessageTypeID)
	b = eqIf(b, "version", f.Version)
	b = eqIf(b, "enabled", f.Enabled)
	b = eqIf(b, "published", f.Published)
	return queryAll(ctx, q.db, page(b, f.Page), scanSchema)
}
