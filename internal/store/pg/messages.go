package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"courier/internal/domain"
	"courier/internal/store"
)

const messageCols = "id, business_unit_id, message_type_id, schema_id, payload, recipient, dispatch_types, vars, status, status_reason, scheduled_at, created_at, updated_at"

func scanMessage(row pgx.Row) (domain.Message, error) {
	var m domain.Message
	var payload, recipient, vars []byte
	var dts []string
	var reason *string
	if err := row.Scan(&m.ID, &m.BusinessUnitID, &m.MessageTypeID, &m.SchemaID, &payload, &recipient, &dts, &vars,
		&m.Status, &reason, &m.ScheduledAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return m, err
	}
	m.Payload = json.RawMessage(payload)
	if len(recipient) > 0 {
		if err := json.Unmarshal(recipient, &m.Recipient); err != nil {
			return m, err
		}
	}
	for _, d := range dts {
		m.DispatchTypes = append(m.DispatchTypes, domain.DispatchType(d))
	}
	m.Vars = unmarshalMap[domain.Vars](vars)
	if reason != nil {
		m.StatusReason = *reason
	}
	return m, nil
}

func (q *Queries) InsertMessage(ctx context.Context, m domain.Message) error {
	dts := make([]string, 0, len(m.DispatchTypes))
	for _, d := range m.DispatchTypes {
		dts = append(dts, string(d))
	}
	payload := []byte(m.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	return exec(ctx, q.db, "message", m.ID, false, `
		INSERT INTO messages (id, business_unit_id, message_type_id, schema_id, payload, recipient, dispatch_types, vars,
			status, status_reason, scheduled_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, m.ID, m.BusinessUnitID, m.MessageTypeID, m.SchemaID, payload, jsonb(m.Recipient), dts, jsonb(m.Vars),
		m.Status, nullIfEmpty(m.StatusReason), m.ScheduledAt, m.CreatedAt, m.UpdatedAt)
}

func (q *Queries) UpdateMessageStatus(ctx context.Context, id uuid.UUID, from, to domain.MessageStatus, reason string, at time.Time) error {
	// The status predicate is re-evaluated after a concurrent writer commits,
	// so only one transition out of from can win.
	ct, err := q.db.Exec(ctx, `
		UPDATE messages SET status=$3, status_reason=$4, updated_at=$5 WHERE id=$1 AND status=$2
	`, id, from, to, nullIfEmpty(reason), at)
	if err != nil {
		return mapErr("message", err)
	}
	if ct.RowsAffected() == 0 {
		if _, err := q.GetMessage(ctx, id); err != nil {
			return err
		}
		return domain.Conflict("message", "message is no longer "+string(from))
	}
	return nil
}

func (q *Queries) GetMessage(ctx context.Context, id uuid.UUID) (domain.Message, error) {
	b := psql.Select(messageCols).From("messages").Where("id = ?", id)
	return queryOne(ctx, q.db, b, scanMessage, "message", id)
}

func (q *Queries) FindMessages(ctx context.Context, f store.MessageQuery) ([]domain.Message, error) {
	b := psql.Select(messageCols).From("messages").OrderBy("created_at", "id")
	b = eqIf(b, "business_unit_id", f.BusinessUnitID)
	b = eqIf(b, "message_type_id", f.MessageTypeID)
	b = eqIf(b, "status", f.Status)
	return queryAll(ctx, q.db, page(b, f.Page), scanMessage)
}

const dispatchCols = "id, message_id, route_id, channel_id, template_id, dispatch_type, status, reference, response, error, created_at"

func scanDispatch(row pgx.Row) (domain.MessageDispatch, error) {
	var d domain.MessageDispatch
	var reference, errText *string
	var response []byte
	if err := row.Scan(&d.ID, &d.MessageID, &d.RouteID, &d.ChannelID, &d.TemplateID, &d.DispatchType, &d.Status,
		&reference, &response, &errText, &d.CreatedAt); err != nil {
		return d, err
	}
	if reference != nil {
		d.Reference = *reference
	}
	if errText != nil {
		d.Error = *errText
	}
	if len(response) > 0 {
		d.Response = json.RawMessage(response)
	}
	return d, nil
}

// InsertMessageDispatch relies on the (message_id, route_id) unique key; a
// second attempt over the same route inserts nothing.
func (q *Queries) InsertMessageDispatch(ctx context.Context, d domain.MessageDispatch) (bool, error) {
	var response any
	if len(d.Response) > 0 {
		response = []byte(d.Response)
	}
	ct, err := q.db.Exec(ctx, `
		INSERT INTO message_dispatches (id, message_id, route_id, channel_id, template_id, dispatch_type, status,
			reference, response, error, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (message_id, route_id) DO NOTHING
	`, d.ID, d.MessageID, d.RouteID, d.ChannelID, d.TemplateID, d.DispatchType, d.Status,
		nullIfEmpty(d.Reference), response, nullIfEmpty(d.Error), d.CreatedAt)
	if err != nil {
		return false, mapErr("message_dispatch", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (q *Queries) FindMessageDispatches(ctx context.Context, messageID uuid.UUID) ([]domain.MessageDispatch, error) {
	b := psql.Select(dispatchCols).From("message_dispatches").Where("message_id = ?", messageID).OrderBy("created_at", "id")
	return queryAll(ctx, q.db, b, scanDispatch)
}
