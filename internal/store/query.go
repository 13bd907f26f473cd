package store

import (
	"time"

	"github.com/google/uuid"

	"courier/internal/domain"
)

// Page bounds list queries. Zero Limit means DefaultLimit.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

func (p Page) Bounds() (limit, offset int) {
	limit = p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	offset = max(p.Offset, 0)
	return limit, offset
}

type BusinessUnitQuery struct {
	Code *domain.Code
	Page
}

type MessageTypeQuery struct {
	BusinessUnitID *uuid.UUID
	Code           *domain.Code
	Enabled        *bool
	Page
}

type SchemaQuery struct {
	MessageTypeID *uuid.UUID
	Version       *int
	Enabled       *bool
	Published     *bool
	Page
}

type ConnectionQuery struct {
	PluginID *string
	Enabled  *bool
	Page
}

type ChannelQuery struct {
	BusinessUnitID *uuid.UUID
	ConnectionID   *uuid.UUID
	DispatchType   *domain.DispatchType
	Enabled        *bool
	Page
}

type RouteQuery struct {
	SchemaID       *uuid.UUID
	ChannelID      *uuid.UUID
	BusinessUnitID *uuid.UUID
	MessageTypeID  *uuid.UUID
	Page
}

type ChannelStackQuery struct {
	BusinessUnitID uuid.UUID
	MessageTypeID  uuid.UUID
	SchemaID       uuid.UUID
	DispatchType   domain.DispatchType
}

type TemplateQuery struct {
	SchemaID     *uuid.UUID
	DispatchType *domain.DispatchType
	Active       *bool
	Page
}

type TemplateAssignmentQuery struct {
	BusinessUnitID *uuid.UUID
	MessageTypeID  *uuid.UUID
	Enabled        *bool
	// At keeps only assignments whose window contains the instant.
	At *time.Time
	// DispatchType keeps only assignments naming a template for the medium.
	DispatchType *domain.DispatchType
	// Results are ordered by priority descending, then start_at descending.
	Page
}

type MessageQuery struct {
	BusinessUnitID *uuid.UUID
	MessageTypeID  *uuid.UUID
	Status         *domain.MessageStatus
	Page
}

// Ptr is a small helper for building queries.
func Ptr[T any](v T) *T { return &v }
