package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventBusinessUnitCreated       EventType = "business_unit_created"
	EventBusinessUnitUpdated       EventType = "business_unit_updated"
	EventMessageTypeCreated        EventType = "message_type_created"
	EventMessageTypeUpdated        EventType = "message_type_updated"
	EventSchemaCreated             EventType = "schema_created"
	EventSchemaUpdated             EventType = "schema_updated"
	EventConnectionCreated         EventType = "connection_created"
	EventConnectionUpdated         EventType = "connection_updated"
	EventChannelCreated            EventType = "channel_created"
	EventChannelUpdated            EventType = "channel_updated"
	EventRouteCreated              EventType = "route_created"
	EventRouteUpdated              EventType = "route_updated"
	EventRouteDeleted              EventType = "route_deleted"
	EventTemplateCreated           EventType = "template_created"
	EventTemplateUpdated           EventType = "template_updated"
	EventTemplateActivated         EventType = "template_activated"
	EventTemplateAssignmentCreated EventType = "template_assignment_created"
	EventTemplateAssignmentUpdated EventType = "template_assignment_updated"
	EventTemplateAssignmentDeleted EventType = "template_assignment_deleted"
	EventMessageCreated            EventType = "message_created"
	EventMessageDistributed        EventType = "message_distributed"
	EventMessageFailed             EventType = "message_failed"
)

// Event is an outbox row. ConsumedAt stays nil until the row was published or drained.
type Event struct {
	ID         string          `json:"id"`
	EntityID   string          `json:"entity_id"`
	EventType  EventType       `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	Actor      Actor           `json:"actor"`
	CreatedAt  time.Time       `json:"created_at"`
	ConsumedAt *time.Time      `json:"consumed_at,omitempty"`
	Skipped    *bool           `json:"skipped,omitempty"`
}

// EventDraft is what a command handler declares; the bus assigns id, actor and time.
type EventDraft struct {
	EntityID string
	Type     EventType
	Payload  any
}

// MessageCreatedPayload is the body of message_created events.
type MessageCreatedPayload struct {
	MessageID      string `json:"message_id"`
	BusinessUnitID string `json:"business_unit_id"`
	MessageTypeID  string `json:"message_type_id"`
	SchemaID       string `json:"schema_id"`
}

type AuditLog struct {
	ID        string          `json:"id"`
	Command   string          `json:"command"`
	Payload   json.RawMessage `json:"payload"`
	Actor     Actor           `json:"actor"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
