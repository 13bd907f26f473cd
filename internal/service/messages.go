package service

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"

	"courier/internal/bus"
	"courier/internal/domain"
	"courier/internal/observability"
	"courier/internal/store"
	"courier/internal/util"
)

// CreateMessage stores a pending message; its message_created event drives
// the dispatch pipeline.
type CreateMessage struct {
	SchemaID      uuid.UUID             `json:"schema_id"`
	Payload       json.RawMessage       `json:"payload"`
	Recipient     domain.Recipient      `json:"recipient"`
	DispatchTypes []domain.DispatchType `json:"dispatch_types"`
	Vars          domain.Vars           `json:"vars"`
	ScheduledAt   *time.Time            `json:"scheduled_at,omitempty"`
}

func (CreateMessage) CommandName() string { return "message.create" }

// RecordDispatchAttempt stores one delivery attempt. A second attempt over the
// same route is not stored and reported with Inserted=false.
type RecordDispatchAttempt struct {
	MessageID    uuid.UUID             `json:"message_id"`
	RouteID      uuid.UUID             `json:"route_id"`
	ChannelID    uuid.UUID             `json:"channel_id"`
	TemplateID   *uuid.UUID            `json:"template_id,omitempty"`
	DispatchType domain.DispatchType   `json:"dispatch_type"`
	Status       domain.DispatchStatus `json:"status"`
	Reference    string                `json:"reference,omitempty"`
	Response     json.RawMessage       `json:"response,omitempty"`
	Error        string                `json:"error,omitempty"`
}

func (RecordDispatchAttempt) CommandName() string { return "message.record_dispatch" }

type RecordedDispatch struct {
	Dispatch domain.MessageDispatch
	Inserted bool
}

// FinalizeMessage moves a pending message to distributed or failed.
type FinalizeMessage struct {
	MessageID uuid.UUID            `json:"message_id"`
	Status    domain.MessageStatus `json:"status"`
	Reason    string               `json:"reason,omitempty"`
}

func (FinalizeMessage) CommandName() string { return "message.finalize" }

type GetMessage struct{ ID uuid.UUID }

func (GetMessage) QueryName() string { return "message.get" }

type ListMessages struct{ store.MessageQuery }

func (ListMessages) QueryName() string { return "message.list" }

type ListMessageDispatches struct{ MessageID uuid.UUID }

func (ListMessageDispatches) QueryName() string { return "message.dispatches" }

func registerMessages(cb *bus.CommandBus, qb *bus.QueryBus) {
	bus.RegisterCommand(cb, bus.Emits(createMessage, func(_ CreateMessage, m domain.Message) (domain.EventDraft, bool) {
		return event(domain.EventMessageCreated, m.ID, domain.MessageCreatedPayload{
			MessageID:      m.ID.String(),
			BusinessUnitID: m.BusinessUnitID.String(),
			MessageTypeID:  m.MessageTypeID.String(),
			SchemaID:       m.SchemaID.String(),
		})
	}))
	bus.RegisterCommand[RecordDispatchAttempt, RecordedDispatch](cb, bus.CommandFunc[RecordDispatchAttempt, RecordedDispatch](recordDispatchAttempt))
	bus.RegisterCommand(cb, bus.Emits(finalizeMessage, func(_ FinalizeMessage, m domain.Message) (domain.EventDraft, bool) {
		switch m.Status {
		case domain.MessageDistributed:
			return event(domain.EventMessageDistributed, m.ID, m)
		case domain.MessageFailed:
			return event(domain.EventMessageFailed, m.ID, m)
		}
		return domain.EventDraft{}, false
	}))

	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q GetMessage) (domain.Message, error) {
		return hc.Tx.GetMessage(ctx, q.ID)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q ListMessages) ([]domain.Message, error) {
		return hc.Tx.FindMessages(ctx, q.MessageQuery)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q ListMessageDispatches) ([]domain.MessageDispatch, error) {
		if _, err := hc.Tx.GetMessage(ctx, q.MessageID); err != nil {
			return nil, err
		}
		return hc.Tx.FindMessageDispatches(ctx, q.MessageID)
	})
}

func createMessage(ctx context.Context, hc bus.HandlerContext, cmd CreateMessage) (domain.Message, error) {
	// 1) schema must be usable and its message type enabled
	schema, err := hc.Tx.GetSchema(ctx, cmd.SchemaID)
	if err != nil {
		return domain.Message{}, err
	}
	if !schema.Usable() {
		return domain.Message{}, domain.Invalid("schema_id", "schema %s is not enabled and published", schema.ID)
	}
	mt, err := hc.Tx.GetMessageType(ctx, schema.MessageTypeID)
	if err != nil {
		return domain.Message{}, err
	}
	if !mt.Enabled {
		return domain.Message{}, domain.Invalid("schema_id", "message type %s is disabled", mt.Code)
	}

	// 2) payload against the schema
	payload := cmd.Payload
	if len(payload) == 0 {
		return domain.Message{}, domain.Invalid("payload", "is required")
	}
	if err := schema.JSONSchema.Validate(payload); err != nil {
		return domain.Message{}, err
	}

	// 3) media and their addresses
	media, err := checkMedia(cmd.DispatchTypes, cmd.Recipient)
	if err != nil {
		return domain.Message{}, err
	}
	recipient := cmd.Recipient
	recipient.Phone = util.NormalizePhone(recipient.Phone)

	m := domain.Message{
		ID:             uuid.New(),
		BusinessUnitID: mt.BusinessUnitID,
		MessageTypeID:  mt.ID,
		SchemaID:       schema.ID,
		Payload:        payload,
		Recipient:      recipient,
		DispatchTypes:  media,
		Vars:           orEmpty(cmd.Vars),
		Status:         domain.MessagePending,
		CreatedAt:      hc.Now,
		UpdatedAt:      hc.Now,
	}
	if cmd.ScheduledAt != nil {
		at := cmd.ScheduledAt.UTC()
		m.ScheduledAt = &at
	}
	if err := hc.Tx.InsertMessage(ctx, m); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

func checkMedia(requested []domain.DispatchType, r domain.Recipient) ([]domain.DispatchType, error) {
	if len(requested) == 0 {
		return nil, domain.Invalid("dispatch_types", "at least one dispatch type is required")
	}
	var errs []error
	media := make([]domain.DispatchType, 0, len(requested))
	for _, raw := range requested {
		dt, err := domain.ParseDispatchType(string(raw))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if slices.Contains(media, dt) {
			continue
		}
		if r.Address(dt) == "" {
			errs = append(errs, domain.Invalid("recipient", "no %s address for requested dispatch type", dt))
			continue
		}
		media = append(media, dt)
	}
	if err := joinErrs(errs...); err != nil {
		return nil, err
	}
	return media, nil
}

func recordDispatchAttempt(ctx context.Context, hc bus.HandlerContext, cmd RecordDispatchAttempt) (RecordedDispatch, error) {
	if _, err := hc.Tx.GetMessage(ctx, cmd.MessageID); err != nil {
		return RecordedDispatch{}, err
	}
	switch cmd.Status {
	case domain.DispatchPending, domain.DispatchSuccess, domain.DispatchFailed:
	default:
		return RecordedDispatch{}, domain.Invalid("status", "unknown dispatch status %q", cmd.Status)
	}
	d := domain.MessageDispatch{
		ID:           util.NewDispatchID(),
		MessageID:    cmd.MessageID,
		RouteID:      cmd.RouteID,
		ChannelID:    cmd.ChannelID,
		TemplateID:   cmd.TemplateID,
		DispatchType: cmd.DispatchType,
		Status:       cmd.Status,
		Reference:    cmd.Reference,
		Response:     cmd.Response,
		Error:        cmd.Error,
		CreatedAt:    hc.Now,
	}
	inserted, err := hc.Tx.InsertMessageDispatch(ctx, d)
	if err != nil {
		return RecordedDispatch{}, err
	}
	return RecordedDispatch{Dispatch: d, Inserted: inserted}, nil
}

func finalizeMessage(ctx context.Context, hc bus.HandlerContext, cmd FinalizeMessage) (domain.Message, error) {
	if cmd.Status != domain.MessageDistributed && cmd.Status != domain.MessageFailed {
		return domain.Message{}, domain.Invalid("status", "must be distributed or failed")
	}
	m, err := hc.Tx.GetMessage(ctx, cmd.MessageID)
	if err != nil {
		return m, err
	}
	if m.Status != domain.MessagePending {
		return m, domain.Conflict("message", "message is already "+string(m.Status))
	}
	if err := hc.Tx.UpdateMessageStatus(ctx, m.ID, domain.MessagePending, cmd.Status, cmd.Reason, hc.Now); err != nil {
		return m, err
	}
	m.Status = cmd.Status
	m.StatusReason = cmd.Reason
	m.UpdatedAt = hc.Now
	observability.MessagesFinalized.WithLabelValues(string(m.Status)).Inc()
	return m, nil
}
