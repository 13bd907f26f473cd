package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"courier/internal/domain"
)

func (q *Queries) InsertAuditLog(ctx context.Context, a domain.AuditLog) error {
	return exec(ctx, q.db, "audit_log", a.ID, false, `
		INSERT INTO audit_logs (id, command, payload, actor, error, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, a.ID, a.Command, rawOrEmpty(a.Payload), a.Actor, nullIfEmpty(a.Error), a.CreatedAt)
}

func (q *Queries) InsertEvent(ctx context.Context, e domain.Event) error {
	return exec(ctx, q.db, "event", e.ID, false, `
		INSERT INTO events (id, entity_id, event_type, payload, actor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, e.ID, e.EntityID, e.EventType, rawOrEmpty(e.Payload), e.Actor, e.CreatedAt)
}

const eventCols = "id, entity_id, event_type, payload, actor, created_at, consumed_at, skipped"

func scanEvent(row pgx.Row) (domain.Event, error) {
	var e domain.Event
	var payload []byte
	err := row.Scan(&e.ID, &e.EntityID, &e.EventType, &payload, &e.Actor, &e.CreatedAt, &e.ConsumedAt, &e.Skipped)
	e.Payload = json.RawMessage(payload)
	return e, err
}

// FindUnconsumedEvents uses SKIP LOCKED so that pollers sharing the table
// inside a transaction claim disjoint batches.
func (q *Queries) FindUnconsumedEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	b := psql.Select(eventCols).From("events").
		Where("consumed_at IS NULL").
		OrderBy("created_at", "id").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED")
	return queryAll(ctx, q.db, b, scanEvent)
}

func (q *Queries) MarkEventsConsumed(ctx context.Context, published, skipped []string, at time.Time) error {
	if len(published) > 0 {
		if err := exec(ctx, q.db, "event", nil, false, `
			UPDATE events SET consumed_at=$2, skipped=false WHERE id = ANY($1) AND consumed_at IS NULL
		`, published, at); err != nil {
			return err
		}
	}
	if len(skipped) > 0 {
		return exec(ctx, q.db, "event", nil, false, `
			UPDATE events SET consumed_at=$2, skipped=true WHERE id = ANY($1) AND consumed_at IS NULL
		`, skipped, at)
	}
	return nil
}

func rawOrEmpty(b json.RawMessage) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
