// Package store declares the repository used by command and query handlers.
// Every read and write of a command goes through the Querier bound to that
// command's transaction.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"courier/internal/domain"
)

type Querier interface {
	InsertBusinessUnit(ctx context.Context, bu domain.BusinessUnit) error
	UpdateBusinessUnit(ctx context.Context, bu domain.BusinessUnit) error
	GetBusinessUnit(ctx context.Context, id uuid.UUID) (domain.BusinessUnit, error)
	FindBusinessUnits(ctx context.Context, q BusinessUnitQuery) ([]domain.BusinessUnit, error)

	InsertMessageType(ctx context.Context, mt domain.MessageType) error
	UpdateMessageType(ctx context.Context, mt domain.MessageType) error
	GetMessageType(ctx context.Context, id uuid.UUID) (domain.MessageType, error)
	FindMessageTypes(ctx context.Context, q MessageTypeQuery) ([]domain.MessageType, error)

	// NextSchemaVersion returns max(version)+1 for the message type and holds a
	// lock on the message type until the surrounding transaction ends.
	NextSchemaVersion(ctx context.Context, messageTypeID uuid.UUID) (int, error)
	InsertSchema(ctx context.Context, s domain.Schema) error
	UpdateSchema(ctx context.Context, s domain.Schema) error
	GetSchema(ctx context.Context, id uuid.UUID) (domain.Schema, error)
	FindSchemas(ctx context.Context, q SchemaQuery) ([]domain.Schema, error)

	InsertConnection(ctx context.Context, c domain.Connection) error
	UpdateConnection(ctx context.Context, c domain.Connection) error
	GetConnection(ctx context.Context, id uuid.UUID) (domain.Connection, error)
	FindConnections(ctx context.Context, q ConnectionQuery) ([]domain.Connection, error)

	InsertChannel(ctx context.Context, c domain.Channel) error
	UpdateChannel(ctx context.Context, c domain.Channel) error
	GetChannel(ctx context.Context, id uuid.UUID) (domain.Channel, error)
	FindChannels(ctx context.Context, q ChannelQuery) ([]domain.Channel, error)

	InsertRoute(ctx context.Context, r domain.Route) error
	UpdateRoute(ctx context.Context, r domain.Route) error
	DeleteRoute(ctx context.Context, id uuid.UUID) error
	GetRoute(ctx context.Context, id uuid.UUID) (domain.Route, error)
	FindRoutes(ctx context.Context, q RouteQuery) ([]domain.Route, error)
	// FindChannelStack returns the dispatchable routes of a schema for one
	// medium, ordered by channel priority ascending.
	FindChannelStack(ctx context.Context, q ChannelStackQuery) ([]RoutedChannel, error)

	InsertTemplate(ctx context.Context, t domain.Template) error
	UpdateTemplate(ctx context.Context, t domain.Template) error
	GetTemplate(ctx context.Context, id uuid.UUID) (domain.Template, error)
	FindTemplates(ctx context.Context, q TemplateQuery) ([]domain.Template, error)
	// DeactivateTemplates clears the active flag of every template of the
	// schema and medium except keep.
	DeactivateTemplates(ctx context.Context, schemaID uuid.UUID, dt domain.DispatchType, keep uuid.UUID) error

	InsertTemplateAssignment(ctx context.Context, a domain.TemplateAssignment) error
	UpdateTemplateAssignment(ctx context.Context, a domain.TemplateAssignment) error
	DeleteTemplateAssignment(ctx context.Context, id uuid.UUID) error
	GetTemplateAssignment(ctx context.Context, id uuid.UUID) (domain.TemplateAssignment, error)
	FindTemplateAssignments(ctx context.Context, q TemplateAssignmentQuery) ([]domain.TemplateAssignment, error)

	InsertMessage(ctx context.Context, m domain.Message) error
	// UpdateMessageStatus moves a message from one status to another. A message
	// no longer in from yields a ConflictError.
	UpdateMessageStatus(ctx context.Context, id uuid.UUID, from, to domain.MessageStatus, reason string, at time.Time) error
	GetMessage(ctx context.Context, id uuid.UUID) (domain.Message, error)
	FindMessages(ctx context.Context, q MessageQuery) ([]domain.Message, error)

	// InsertMessageDispatch reports false when the route was already attempted
	// for the message.
	InsertMessageDispatch(ctx context.Context, d domain.MessageDispatch) (bool, error)
	FindMessageDispatches(ctx context.Context, messageID uuid.UUID) ([]domain.MessageDispatch, error)

	InsertAuditLog(ctx context.Context, a domain.AuditLog) error

	InsertEvent(ctx context.Context, e domain.Event) error
	FindUnconsumedEvents(ctx context.Context, limit int) ([]domain.Event, error)
	MarkEventsConsumed(ctx context.Context, published, skipped []string, at time.Time) error
}

type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is a pooled connection used outside transactions.
type Conn interface {
	Querier
	Release()
}

type DB interface {
	Begin(ctx context.Context) (Tx, error)
	Acquire(ctx context.Context) (Conn, error)
}

// RoutedChannel is one entry of a channel stack.
type RoutedChannel struct {
	Route      domain.Route
	Channel    domain.Channel
	Connection domain.Connection
}
