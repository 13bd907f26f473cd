package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type BusinessUnit struct {
	ID        uuid.UUID `json:"id"`
	Code      Code      `json:"code"`
	Name      Name      `json:"name"`
	Vars      Vars      `json:"vars"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MessageType struct {
	ID             uuid.UUID `json:"id"`
	BusinessUnitID uuid.UUID `json:"business_unit_id"`
	Code           Code      `json:"code"`
	Name           Name      `json:"name"`
	Enabled        bool      `json:"enabled"`
	Vars           Vars      `json:"vars"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Schema struct {
	ID            uuid.UUID  `json:"id"`
	MessageTypeID uuid.UUID  `json:"message_type_id"`
	Version       int        `json:"version"`
	JSONSchema    JSONSchema `json:"json_schema"`
	Enabled       bool       `json:"enabled"`
	Published     bool       `json:"published"`
	Vars          Vars       `json:"vars"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Usable reports whether messages may be created against the schema.
func (s Schema) Usable() bool { return s.Enabled && s.Published }

type Connection struct {
	ID         uuid.UUID  `json:"id"`
	Name       Name       `json:"name"`
	PluginID   string     `json:"plugin_id"`
	Enabled    bool       `json:"enabled"`
	Properties Properties `json:"properties"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type Channel struct {
	ID             uuid.UUID    `json:"id"`
	BusinessUnitID uuid.UUID    `json:"business_unit_id"`
	ConnectionID   uuid.UUID    `json:"connection_id"`
	Name           Name         `json:"name"`
	DispatchType   DispatchType `json:"dispatch_type"`
	Priority       int          `json:"priority"`
	Properties     Properties   `json:"properties"`
	Enabled        bool         `json:"enabled"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type Route struct {
	ID             uuid.UUID  `json:"id"`
	SchemaID       uuid.UUID  `json:"schema_id"`
	ChannelID      uuid.UUID  `json:"channel_id"`
	BusinessUnitID uuid.UUID  `json:"business_unit_id"`
	MessageTypeID  uuid.UUID  `json:"message_type_id"`
	ConnectionID   uuid.UUID  `json:"connection_id"`
	Properties     Properties `json:"properties"`
	Enabled        bool       `json:"enabled"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type MessageStatus string

const (
	MessagePending     MessageStatus = "pending"
	MessageDistributed MessageStatus = "distributed"
	MessageFailed      MessageStatus = "failed"
)

// Recipient holds one address per medium.
type Recipient struct {
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	PushToken string `json:"push_token,omitempty"`
}

func (r Recipient) Address(dt DispatchType) string {
	switch dt {
	case DispatchEmail:
		return strings.TrimSpace(r.Email)
	case DispatchSMS:
		return strings.TrimSpace(r.Phone)
	case DispatchPush:
		return strings.TrimSpace(r.PushToken)
	}
	return ""
}

type Message struct {
	ID             uuid.UUID       `json:"id"`
	BusinessUnitID uuid.UUID       `json:"business_unit_id"`
	MessageTypeID  uuid.UUID       `json:"message_type_id"`
	SchemaID       uuid.UUID       `json:"schema_id"`
	Payload        json.RawMessage `json:"payload"`
	Recipient      Recipient       `json:"recipient"`
	DispatchTypes  []DispatchType  `json:"dispatch_types"`
	Vars           Vars            `json:"vars"`
	Status         MessageStatus   `json:"status"`
	StatusReason   string          `json:"status_reason,omitempty"`
	ScheduledAt    *time.Time      `json:"scheduled_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ReferenceTime is the instant used to pick template assignments.
func (m Message) ReferenceTime() time.Time {
	if m.ScheduledAt != nil {
		return *m.ScheduledAt
	}
	return m.CreatedAt
}

type TemplateContent struct {
	Subject string `json:"subject,omitempty"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
	Title   string `json:"title,omitempty"`
	Body    string `json:"body,omitempty"`
}

// ValidateFor checks that the fields a medium needs are present.
func (c TemplateContent) ValidateFor(dt DispatchType) error {
	switch dt {
	case DispatchEmail:
		if strings.TrimSpace(c.Subject) == "" {
			return Invalid("content.subject", "is required for email templates")
		}
		if strings.TrimSpace(c.HTML) == "" && strings.TrimSpace(c.Text) == "" {
			return Invalid("content", "email templates need html or text")
		}
	case DispatchSMS:
		if strings.TrimSpace(c.Text) == "" {
			return Invalid("content.text", "is required for sms templates")
		}
	case DispatchPush:
		if strings.TrimSpace(c.Title) == "" && strings.TrimSpace(c.Body) == "" {
			return Invalid("content", "push templates need title or body")
		}
	default:
		return Invalid("dispatch_type", "unknown dispatch type %q", dt)
	}
	return nil
}

type Template struct {
	ID           uuid.UUID       `json:"id"`
	SchemaID     uuid.UUID       `json:"schema_id"`
	DispatchType DispatchType    `json:"dispatch_type"`
	Name         Name            `json:"name"`
	Content      TemplateContent `json:"content"`
	Vars         Vars            `json:"vars"`
	Active       bool            `json:"active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type TemplateAssignment struct {
	ID              uuid.UUID  `json:"id"`
	BusinessUnitID  uuid.UUID  `json:"business_unit_id"`
	MessageTypeID   uuid.UUID  `json:"message_type_id"`
	EmailTemplateID *uuid.UUID `json:"email_template_id,omitempty"`
	SMSTemplateID   *uuid.UUID `json:"sms_template_id,omitempty"`
	PushTemplateID  *uuid.UUID `json:"push_template_id,omitempty"`
	Vars            Vars       `json:"vars"`
	Priority        int        `json:"priority"`
	StartAt         time.Time  `json:"start_at"`
	EndAt           *time.Time `json:"end_at,omitempty"`
	Enabled         bool       `json:"enabled"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (a TemplateAssignment) TemplateFor(dt DispatchType) *uuid.UUID {
	switch dt {
	case DispatchEmail:
		return a.EmailTemplateID
	case DispatchSMS:
		return a.SMSTemplateID
	case DispatchPush:
		return a.PushTemplateID
	}
	return nil
}

// Covers reports whether t falls in the half-open window [StartAt, EndAt).
func (a TemplateAssignment) Covers(t time.Time) bool {
	if t.Before(a.StartAt) {
		return false
	}
	return a.EndAt == nil || t.Before(*a.EndAt)
}

type DispatchStatus string

const (
	DispatchPending DispatchStatus = "pending"
	DispatchSuccess DispatchStatus = "success"
	DispatchFailed  DispatchStatus = "failed"
)

// MessageDispatch is one delivery attempt of a message over one route.
type MessageDispatch struct {
	ID           string          `json:"id"`
	MessageID    uuid.UUID       `json:"message_id"`
	RouteID      uuid.UUID       `json:"route_id"`
	ChannelID    uuid.UUID       `json:"channel_id"`
	TemplateID   *uuid.UUID      `json:"template_id,omitempty"`
	DispatchType DispatchType    `json:"dispatch_type"`
	Status       DispatchStatus  `json:"status"`
	Reference    string          `json:"reference,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
