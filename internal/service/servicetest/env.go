// Package servicetest wires the command and query buses over the in-memory
// store for tests of packages built on top of the handlers.
package servicetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"courier/internal/bus"
	"courier/internal/connector"
	"courier/internal/domain"
	"courier/internal/service"
	"courier/internal/store/memory"
)

// Now is the fixed clock of every Env.
var Now = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type Env struct {
	DB       *memory.Store
	Plugins  *connector.Registry
	Commands *bus.CommandBus
	Queries  *bus.QueryBus
}

func New(t testing.TB, plugins ...connector.Plugin) *Env {
	t.Helper()
	db := memory.New()
	reg := connector.NewRegistry(plugins...)
	cb := bus.NewCommandBus(db, reg)
	qb := bus.NewQueryBus(db, reg)
	cb.SetClock(func() time.Time { return Now })
	qb.SetClock(func() time.Time { return Now })
	service.Register(cb, qb)
	return &Env{DB: db, Plugins: reg, Commands: cb, Queries: qb}
}

// Exec runs cmd as the test actor and fails the test on error.
func Exec[C bus.Command, O any](t testing.TB, e *Env, cmd C) O {
	t.Helper()
	out, err := bus.Execute[C, O](context.Background(), e.Commands, "tester", cmd)
	require.NoError(t, err, "command %s", cmd.CommandName())
	return out
}

// OrderSchema requires a string order_id.
const OrderSchema = `{
  "type": "object",
  "required": ["order_id"],
  "properties": {"order_id": {"type": "string"}, "total": {"type": "number"}}
}`

// Catalog is one business unit with one message type and a published schema.
type Catalog struct {
	BusinessUnit domain.BusinessUnit
	MessageType  domain.MessageType
	Schema       domain.Schema
}

func (e *Env) Catalog(t testing.TB, buCode, mtCode string) Catalog {
	t.Helper()
	bu := Exec[service.CreateBusinessUnit, domain.BusinessUnit](t, e, service.CreateBusinessUnit{
		Code: domain.Code(buCode),
		Name: domain.Name(buCode + " unit"),
		Vars: domain.Vars{"brand": buCode},
	})
	mt := Exec[service.CreateMessageType, domain.MessageType](t, e, service.CreateMessageType{
		BusinessUnitID: bu.ID,
		Code:           domain.Code(mtCode),
		Name:           domain.Name(mtCode + " message"),
	})
	js, err := domain.NewJSONSchema(json.RawMessage(OrderSchema))
	require.NoError(t, err)
	s := Exec[service.CreateSchema, domain.Schema](t, e, service.CreateSchema{
		MessageTypeID: mt.ID,
		JSONSchema:    js,
		Published:     true,
	})
	return Catalog{BusinessUnit: bu, MessageType: mt, Schema: s}
}

// Channel creates a connection on pluginID and an email channel with a route
// on the catalog's schema. The label dispatch property lets fakes script
// outcomes per channel.
func (e *Env) Channel(t testing.TB, c Catalog, pluginID, label string, priority int) (domain.Channel, domain.Route) {
	t.Helper()
	conn := Exec[service.CreateConnection, domain.Connection](t, e, service.CreateConnection{
		Name:     domain.Name("conn " + label),
		PluginID: pluginID,
	})
	ch := Exec[service.CreateChannel, domain.Channel](t, e, service.CreateChannel{
		BusinessUnitID: c.BusinessUnit.ID,
		ConnectionID:   conn.ID,
		Name:           domain.Name("channel " + label),
		DispatchType:   domain.DispatchEmail,
		Priority:       priority,
		Properties:     domain.Properties{"label": label},
	})
	r := Exec[service.CreateRoute, domain.Route](t, e, service.CreateRoute{
		SchemaID:  c.Schema.ID,
		ChannelID: ch.ID,
	})
	return ch, r
}

// EmailTemplate creates an active email template on the catalog's schema.
func (e *Env) EmailTemplate(t testing.TB, c Catalog, subject, text string) domain.Template {
	t.Helper()
	return Exec[service.CreateTemplate, domain.Template](t, e, service.CreateTemplate{
		SchemaID:     c.Schema.ID,
		DispatchType: domain.DispatchEmail,
		Name:         "order email",
		Content:      domain.TemplateContent{Subject: subject, Text: text},
		Active:       true,
	})
}

// Message creates a pending email message for the catalog's schema.
func (e *Env) Message(t testing.TB, c Catalog, payload string) domain.Message {
	t.Helper()
	return Exec[service.CreateMessage, domain.Message](t, e, service.CreateMessage{
		SchemaID:      c.Schema.ID,
		Payload:       json.RawMessage(payload),
		Recipient:     domain.Recipient{Email: "jane@example.com"},
		DispatchTypes: []domain.DispatchType{domain.DispatchEmail},
	})
}

// Ref is a helper for optional template ids.
func Ref(id uuid.UUID) *uuid.UUID { return &id }
