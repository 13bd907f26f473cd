package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"courier/internal/connector"
	"courier/internal/domain"
	"courier/internal/logging"
	"courier/internal/observability"
	"courier/internal/store"
	"courier/internal/util"
)

type commandEntry struct {
	run func(ctx context.Context, hc HandlerContext, cmd any) (any, *domain.EventDraft, error)
}

type CommandBus struct {
	db       store.DB
	plugins  *connector.Registry
	handlers map[string]commandEntry
	now      func() time.Time
}

func NewCommandBus(db store.DB, plugins *connector.Registry) *CommandBus {
	return &CommandBus{
		db:       db,
		plugins:  plugins,
		handlers: map[string]commandEntry{},
		now:      util.NowUTC,
	}
}

// SetClock replaces the time source handed to handlers.
func (b *CommandBus) SetClock(now func() time.Time) { b.now = now }

// RegisterCommand binds h to C. Registering C twice panics.
func RegisterCommand[C Command, O any](b *CommandBus, h CommandHandler[C, O]) {
	name := commandName[C]()
	if _, dup := b.handlers[name]; dup {
		panic(fmt.Sprintf("bus: command %q registered twice", name))
	}
	source, _ := any(h).(EventSource[C, O])
	b.handlers[name] = commandEntry{
		run: func(ctx context.Context, hc HandlerContext, cmd any) (any, *domain.EventDraft, error) {
			c := cmd.(C)
			out, err := h.Handle(ctx, hc, c)
			if err != nil || source == nil {
				return out, nil, err
			}
			if ev, ok := source.Event(c, out); ok {
				return out, &ev, nil
			}
			return out, nil, nil
		},
	}
}

// Execute runs cmd in its own transaction. On success the audit row and the
// derived event are written in that transaction before commit. On handler
// failure the transaction is rolled back and the audit row, carrying the error
// text, is committed on its own.
func Execute[C Command, O any](ctx context.Context, b *CommandBus, actor domain.Actor, cmd C) (O, error) {
	var zero O
	name := cmd.CommandName()
	entry, ok := b.handlers[name]
	if !ok {
		err := &HandlerNotFoundError{Kind: "command", Name: name}
		logging.From(ctx).Error("command bus misconfigured", "command", name, "err", err)
		return zero, err
	}

	ctx, span := observability.Tracer().Start(ctx, "command "+name)
	defer span.End()
	span.SetAttributes(attribute.String("courier.command", name), attribute.String("courier.actor", string(actor)))

	start := time.Now()
	out, err := b.execute(ctx, entry, name, actor, cmd)
	observability.CommandDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.Commands.WithLabelValues(name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return zero, err
	}
	observability.Commands.WithLabelValues(name, "ok").Inc()

	typed, ok := out.(O)
	if !ok && out != nil {
		return zero, fmt.Errorf("command %s returned %T", name, out)
	}
	return typed, nil
}

func (b *CommandBus) execute(ctx context.Context, entry commandEntry, name string, actor domain.Actor, cmd any) (any, error) {
	tx, err := b.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin %s: %w", name, err)
	}
	defer tx.Rollback(ctx)

	now := b.now()
	hc := HandlerContext{Tx: tx, Plugins: b.plugins, Actor: actor, Now: now}
	out, draft, herr := entry.run(ctx, hc, cmd)

	payload := cmd
	if r, ok := cmd.(Redactor); ok {
		payload = r.Redacted()
	}
	audit := domain.AuditLog{
		ID:        util.NewAuditID(),
		Command:   name,
		Payload:   marshalOrEmpty(payload),
		Actor:     actor,
		CreatedAt: now,
	}

	if herr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			logging.From(ctx).Warn("rollback failed", "command", name, "err", rbErr)
		}
		audit.Error = herr.Error()
		b.auditFailure(ctx, audit)
		return nil, herr
	}

	if err := tx.InsertAuditLog(ctx, audit); err != nil {
		return nil, fmt.Errorf("write audit log for %s: %w", name, err)
	}
	if draft != nil {
		ev := domain.Event{
			ID:        util.NewEventID(),
			EntityID:  draft.EntityID,
			EventType: draft.Type,
			Payload:   marshalOrEmpty(draft.Payload),
			Actor:     actor,
			CreatedAt: now,
		}
		if err := tx.InsertEvent(ctx, ev); err != nil {
			return nil, fmt.Errorf("write event for %s: %w", name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit %s: %w", name, err)
	}
	return out, nil
}

// auditFailure keeps the trail of a failed command. Its own errors are logged,
// never returned, so the caller sees the handler's error.
func (b *CommandBus) auditFailure(ctx context.Context, audit domain.AuditLog) {
	log := logging.From(ctx)
	tx, err := b.db.Begin(ctx)
	if err != nil {
		log.Error("audit failed command", "command", audit.Command, "err", err)
		return
	}
	defer tx.Rollback(ctx)
	if err := tx.InsertAuditLog(ctx, audit); err != nil {
		log.Error("audit failed command", "command", audit.Command, "err", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		log.Error("audit failed command", "command", audit.Command, "err", err)
	}
}

func marshalOrEmpty(v any) json.RawMessage {
	if v == nil {
		return json.RawMessage("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
