package service

import (
	"context"

	"github.com/google/uuid"

	"courier/internal/bus"
	"courier/internal/domain"
	"courier/internal/store"
)

type CreateBusinessUnit struct {
	Code domain.Code `json:"code"`
	Name domain.Name `json:"name"`
	Vars domain.Vars `json:"vars"`
}

func (CreateBusinessUnit) CommandName() string { return "business_unit.create" }

// UpdateBusinessUnit has no code field; codes never change.
type UpdateBusinessUnit struct {
	ID   uuid.UUID    `json:"id"`
	Name *domain.Name `json:"name,omitempty"`
	Vars *domain.Vars `json:"vars,omitempty"`
}

func (UpdateBusinessUnit) CommandName() string { return "business_unit.update" }

type CreateMessageType struct {
	BusinessUnitID uuid.UUID   `json:"business_unit_id"`
	Code           domain.Code `json:"code"`
	Name           domain.Name `json:"name"`
	Enabled        *bool       `json:"enabled,omitempty"`
	Vars           domain.Vars `json:"vars"`
}

func (CreateMessageType) CommandName() string { return "message_type.create" }

type UpdateMessageType struct {
	ID      uuid.UUID    `json:"id"`
	Name    *domain.Name `json:"name,omitempty"`
	Enabled *bool        `json:"enabled,omitempty"`
	Vars    *domain.Vars `json:"vars,omitempty"`
}

func (UpdateMessageType) CommandName() string { return "message_type.update" }

// CreateSchema gets the next version of its message type assigned.
type CreateSchema struct {
	MessageTypeID uuid.UUID         `json:"message_type_id"`
	JSONSchema    domain.JSONSchema `json:"json_schema"`
	Enabled       *bool             `json:"enabled,omitempty"`
	Published     bool              `json:"published"`
	Vars          domain.Vars       `json:"vars"`
}

func (CreateSchema) CommandName() string { return "schema.create" }

type UpdateSchema struct {
	ID         uuid.UUID          `json:"id"`
	JSONSchema *domain.JSONSchema `json:"json_schema,omitempty"`
	Enabled    *bool              `json:"enabled,omitempty"`
	Published  *bool              `json:"published,omitempty"`
	Vars       *domain.Vars       `json:"vars,omitempty"`
}

func (UpdateSchema) CommandName() string { return "schema.update" }

type GetBusinessUnit struct{ ID uuid.UUID }

func (GetBusinessUnit) QueryName() string { return "business_unit.get" }

type ListBusinessUnits struct{ store.BusinessUnitQuery }

func (ListBusinessUnits) QueryName() string { return "business_unit.list" }

type GetMessageType struct{ ID uuid.UUID }

func (GetMessageType) QueryName() string { return "message_type.get" }

type ListMessageTypes struct{ store.MessageTypeQuery }

func (ListMessageTypes) QueryName() string { return "message_type.list" }

type GetSchema struct{ ID uuid.UUID }

func (GetSchema) QueryName() string { return "schema.get" }

type ListSchemas struct{ store.SchemaQuery }

func (ListSchemas) QueryName() string { return "schema.list" }

func registerCatalog(cb *bus.CommandBus, qb *bus.QueryBus) {
	bus.RegisterCommand(cb, bus.Emits(createBusinessUnit, func(_ CreateBusinessUnit, bu domain.BusinessUnit) (domain.EventDraft, bool) {
		return event(domain.EventBusinessUnitCreated, bu.ID, bu)
	}))
	bus.RegisterCommand(cb, bus.Emits(updateBusinessUnit, func(_ UpdateBusinessUnit, bu domain.BusinessUnit) (domain.EventDraft, bool) {
		return event(domain.EventBusinessUnitUpdated, bu.ID, bu)
	}))
	bus.RegisterCommand(cb, bus.Emits(createMessageType, func(_ CreateMessageType, mt domain.MessageType) (domain.EventDraft, bool) {
		return event(domain.EventMessageTypeCreated, mt.ID, mt)
	}))
	bus.RegisterCommand(cb, bus.Emits(updateMessageType, func(_ UpdateMessageType, mt domain.MessageType) (domain.EventDraft, bool) {
		return event(domain.EventMessageTypeUpdated, mt.ID, mt)
	}))
	bus.RegisterCommand(cb, bus.Emits(createSchema, func(_ CreateSchema, s domain.Schema) (domain.EventDraft, bool) {
		return event(domain.EventSchemaCreated, s.ID, s)
	}))
	bus.RegisterCommand(cb, bus.Emits(updateSchema, func(_ UpdateSchema, s domain.Schema) (domain.EventDraft, bool) {
		return event(domain.EventSchemaUpdated, s.ID, s)
	}))

	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q GetBusinessUnit) (domain.BusinessUnit, error) {
		return hc.Tx.GetBusinessUnit(ctx, q.ID)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q ListBusinessUnits) ([]domain.BusinessUnit, error) {
		return hc.Tx.FindBusinessUnits(ctx, q.BusinessUnitQuery)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q GetMessageType) (domain.MessageType, error) {
		return hc.Tx.GetMessageType(ctx, q.ID)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q ListMessageTypes) ([]domain.MessageType, error) {
		return hc.Tx.FindMessageTypes(ctx, q.MessageTypeQuery)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q GetSchema) (domain.Schema, error) {
		return hc.Tx.GetSchema(ctx, q.ID)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q ListSchemas) ([]domain.Schema, error) {
		return hc.Tx.FindSchemas(ctx, q.SchemaQuery)
	})
}

func createBusinessUnit(ctx context.Context, hc bus.HandlerContext, cmd CreateBusinessUnit) (domain.BusinessUnit, error) {
	if err := joinErrs(checkCode(cmd.Code), checkName(cmd.Name)); err != nil {
		return domain.BusinessUnit{}, err
	}
	bu := domain.BusinessUnit{
		ID:        uuid.New(),
		Code:      cmd.Code,
		Name:      cmd.Name,
		Vars:      orEmpty(cmd.Vars),
		CreatedAt: hc.Now,
		UpdatedAt: hc.Now,
	}
	if err := hc.Tx.InsertBusinessUnit(ctx, bu); err != nil {
		return domain.BusinessUnit{}, err
	}
	return bu, nil
}

func updateBusinessUnit(ctx context.Context, hc bus.HandlerContext, cmd UpdateBusinessUnit) (domain.BusinessUnit, error) {
	bu, err := hc.Tx.GetBusinessUnit(ctx, cmd.ID)
	if err != nil {
		return bu, err
	}
	if cmd.Name != nil {
		if err := checkName(*cmd.Name); err != nil {
			return bu, err
		}
		bu.Name = *cmd.Name
	}
	if cmd.Vars != nil {
		bu.Vars = orEmpty(*cmd.Vars)
	}
	bu.UpdatedAt = hc.Now
	return bu, hc.Tx.UpdateBusinessUnit(ctx, bu)
}

func createMessageType(ctx context.Context, hc bus.HandlerContext, cmd CreateMessageType) (domain.MessageType, error) {
	if err := joinErrs(checkCode(cmd.Code), checkName(cmd.Name)); err != nil {
		return domain.MessageType{}, err
	}
	if _, err := hc.Tx.GetBusinessUnit(ctx, cmd.BusinessUnitID); err != nil {
		return domain.MessageType{}, err
	}
	mt := domain.MessageType{
		ID:             uuid.New(),
		BusinessUnitID: cmd.BusinessUnitID,
		Code:           cmd.Code,
		Name:           cmd.Name,
		Enabled:        boolOr(cmd.Enabled, true),
		Vars:           orEmpty(cmd.Vars),
		CreatedAt:      hc.Now,
		UpdatedAt:      hc.Now,
	}
	if err := hc.Tx.InsertMessageType(ctx, mt); err != nil {
		return domain.MessageType{}, err
	}
	return mt, nil
}

func updateMessageType(ctx context.Context, hc bus.HandlerContext, cmd UpdateMessageType) (domain.MessageType, error) {
	mt, err := hc.Tx.GetMessageType(ctx, cmd.ID)
	if err != nil {
		return mt, err
	}
	if cmd.Name != nil {
		if err := checkName(*cmd.Name); err != nil {
			return mt, err
		}
		mt.Name = *cmd.Name
	}
	mt.Enabled = boolOr(cmd.Enabled, mt.Enabled)
	if cmd.Vars != nil {
		mt.Vars = orEmpty(*cmd.Vars)
	}
	mt.UpdatedAt = hc.Now
	return mt, hc.Tx.UpdateMessageType(ctx, mt)
}

func createSchema(ctx context.Context, hc bus.HandlerContext, cmd CreateSchema) (domain.Schema, error) {
	if cmd.JSONSchema.IsZero() {
		return domain.Schema{}, domain.Invalid("json_schema", "is required")
	}
	if _, err := hc.Tx.GetMessageType(ctx, cmd.MessageTypeID); err != nil {
		return domain.Schema{}, err
	}
	// The message type stays locked until commit, so concurrent creations
	// observe each other's versions.
	version, err := hc.Tx.NextSchemaVersion(ctx, cmd.MessageTypeID)
	if err != nil {
		return domain.Schema{}, err
	}
	s := domain.Schema{
		ID:            uuid.New(),
		MessageTypeID: cmd.MessageTypeID,
		Version:       version,
		JSONSchema:    cmd.JSONSchema,
		Enabled:       boolOr(cmd.Enabled, true),
		Published:     cmd.Published,
		Vars:          orEmpty(cmd.Vars),
		CreatedAt:     hc.Now,
		UpdatedAt:     hc.Now,
	}
	if err := hc.Tx.InsertSchema(ctx, s); err != nil {
		return domain.Schema{}, err
	}
	return s, nil
}

func updateSchema(ctx context.Context, hc bus.HandlerContext, cmd UpdateSchema) (domain.Schema, error) {
	s, err := hc.Tx.GetSchema(ctx, cmd.ID)
	if err != nil {
		return s, err
	}
	if cmd.JSONSchema != nil {
		if s.Published {
			return s, domain.Conflict("schema", "a published schema cannot change its json_schema; create a new version")
		}
		if cmd.JSONSchema.IsZero() {
			return s, domain.Invalid("json_schema", "is required")
		}
		s.JSONSchema = *cmd.JSONSchema
	}
	s.Enabled = boolOr(cmd.Enabled, s.Enabled)
	s.Published = boolOr(cmd.Published, s.Published)
	if cmd.Vars != nil {
		s.Vars = orEmpty(*cmd.Vars)
	}
	s.UpdatedAt = hc.Now
	return s, hc.Tx.UpdateSchema(ctx, s)
}

func orEmpty[M ~map[string]any](m M) M {
	if m == nil {
		return M{}
	}
	return m
}
