package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"courier/internal/bus"
	"courier/internal/connector"
	"courier/internal/domain"
	"courier/internal/store"
)

type CreateConnection struct {
	Name       domain.Name       `json:"name"`
	PluginID   string            `json:"plugin_id"`
	Enabled    *bool             `json:"enabled,omitempty"`
	Properties domain.Properties `json:"properties"`
}

func (CreateConnection) CommandName() string { return "connection.create" }

func (c CreateConnection) Redacted() any {
	c.Properties = maskProperties(c.Properties)
	return c
}

type UpdateConnection struct {
	ID         uuid.UUID          `json:"id"`
	Name       *domain.Name       `json:"name,omitempty"`
	Enabled    *bool              `json:"enabled,omitempty"`
	Properties *domain.Properties `json:"properties,omitempty"`
}

func (UpdateConnection) CommandName() string { return "connection.update" }

func (c UpdateConnection) Redacted() any {
	if c.Properties != nil {
		masked := maskProperties(*c.Properties)
		c.Properties = &masked
	}
	return c
}

type CreateChannel struct {
	BusinessUnitID uuid.UUID           `json:"business_unit_id"`
	ConnectionID   uuid.UUID           `json:"connection_id"`
	Name           domain.Name         `json:"name"`
	DispatchType   domain.DispatchType `json:"dispatch_type"`
	Priority       int                 `json:"priority"`
	Properties     domain.Properties   `json:"properties"`
	Enabled        *bool               `json:"enabled,omitempty"`
}

func (CreateChannel) CommandName() string { return "channel.create" }

type UpdateChannel struct {
	ID         uuid.UUID          `json:"id"`
	Name       *domain.Name       `json:"name,omitempty"`
	Priority   *int               `json:"priority,omitempty"`
	Properties *domain.Properties `json:"properties,omitempty"`
	Enabled    *bool              `json:"enabled,omitempty"`
}

func (UpdateChannel) CommandName() string { return "channel.update" }

type CreateRoute struct {
	SchemaID   uuid.UUID         `json:"schema_id"`
	ChannelID  uuid.UUID         `json:"channel_id"`
	Properties domain.Properties `json:"properties"`
	Enabled    *bool             `json:"enabled,omitempty"`
}

func (CreateRoute) CommandName() string { return "route.create" }

type UpdateRoute struct {
	ID         uuid.UUID          `json:"id"`
	Properties *domain.Properties `json:"properties,omitempty"`
	Enabled    *bool              `json:"enabled,omitempty"`
}

func (UpdateRoute) CommandName() string { return "route.update" }

type DeleteRoute struct {
	ID uuid.UUID `json:"id"`
}

func (DeleteRoute) CommandName() string { return "route.delete" }

type GetConnection struct{ ID uuid.UUID }

func (GetConnection) QueryName() string { return "connection.get" }

type ListConnections struct{ store.ConnectionQuery }

func (ListConnections) QueryName() string { return "connection.list" }

type GetChannel struct{ ID uuid.UUID }

func (GetChannel) QueryName() string { return "channel.get" }

type ListChannels struct{ store.ChannelQuery }

func (ListChannels) QueryName() string { return "channel.list" }

type GetRoute struct{ ID uuid.UUID }

func (GetRoute) QueryName() string { return "route.get" }

type ListRoutes struct{ store.RouteQuery }

func (ListRoutes) QueryName() string { return "route.list" }

// GetChannelStack returns the ordered fallback list for one medium of a schema.
type GetChannelStack struct{ store.ChannelStackQuery }

func (GetChannelStack) QueryName() string { return "route.channel_stack" }

type ListPlugins struct{}

func (ListPlugins) QueryName() string { return "plugin.list" }

func registerDelivery(cb *bus.CommandBus, qb *bus.QueryBus) {
	bus.RegisterCommand(cb, bus.Emits(createConnection, func(_ CreateConnection, c domain.Connection) (domain.EventDraft, bool) {
		return event(domain.EventConnectionCreated, c.ID, redactConnection(c))
	}))
	bus.RegisterCommand(cb, bus.Emits(updateConnection, func(_ UpdateConnection, c domain.Connection) (domain.EventDraft, bool) {
		return event(domain.EventConnectionUpdated, c.ID, redactConnection(c))
	}))
	bus.RegisterCommand(cb, bus.Emits(createChannel, func(_ CreateChannel, c domain.Channel) (domain.EventDraft, bool) {
		return event(domain.EventChannelCreated, c.ID, c)
	}))
	bus.RegisterCommand(cb, bus.Emits(updateChannel, func(_ UpdateChannel, c domain.Channel) (domain.EventDraft, bool) {
		return event(domain.EventChannelUpdated, c.ID, c)
	}))
	bus.RegisterCommand(cb, bus.Emits(createRoute, func(_ CreateRoute, r domain.Route) (domain.EventDraft, bool) {
		return event(domain.EventRouteCreated, r.ID, r)
	}))
	bus.RegisterCommand(cb, bus.Emits(updateRoute, func(_ UpdateRoute, r domain.Route) (domain.EventDraft, bool) {
		return event(domain.EventRouteUpdated, r.ID, r)
	}))
	bus.RegisterCommand(cb, bus.Emits(deleteRoute, func(_ DeleteRoute, r domain.Route) (domain.EventDraft, bool) {
		return event(domain.EventRouteDeleted, r.ID, r)
	}))

	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q GetConnection) (domain.Connection, error) {
		return hc.Tx.GetConnection(ctx, q.ID)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q ListConnections) ([]domain.Connection, error) {
		return hc.Tx.FindConnections(ctx, q.ConnectionQuery)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q GetChannel) (domain.Channel, error) {
		return hc.Tx.GetChannel(ctx, q.ID)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q ListChannels) ([]domain.Channel, error) {
		return hc.Tx.FindChannels(ctx, q.ChannelQuery)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q GetRoute) (domain.Route, error) {
		return hc.Tx.GetRoute(ctx, q.ID)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q ListRoutes) ([]domain.Route, error) {
		return hc.Tx.FindRoutes(ctx, q.RouteQuery)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q GetChannelStack) ([]store.RoutedChannel, error) {
		return hc.Tx.FindChannelStack(ctx, q.ChannelStackQuery)
	})
	bus.RegisterQuery(qb, func(_ context.Context, hc bus.HandlerContext, _ ListPlugins) ([]connector.PluginDescription, error) {
		return hc.Plugins.Describe(), nil
	})
}

func createConnection(ctx context.Context, hc bus.HandlerContext, cmd CreateConnection) (domain.Connection, error) {
	props := orEmpty(cmd.Properties)
	pluginID := strings.TrimSpace(cmd.PluginID)
	if err := joinErrs(checkName(cmd.Name), hc.Plugins.ValidateConnection(pluginID, props)); err != nil {
		return domain.Connection{}, err
	}
	c := domain.Connection{
		ID:         uuid.New(),
		Name:       cmd.Name,
		PluginID:   pluginID,
		Enabled:    boolOr(cmd.Enabled, true),
		Properties: props,
		CreatedAt:  hc.Now,
		UpdatedAt:  hc.Now,
	}
	if err := hc.Tx.InsertConnection(ctx, c); err != nil {
		return domain.Connection{}, err
	}
	return c, nil
}

func updateConnection(ctx context.Context, hc bus.HandlerContext, cmd UpdateConnection) (domain.Connection, error) {
	c, err := hc.Tx.GetConnection(ctx, cmd.ID)
	if err != nil {
		return c, err
	}
	if cmd.Name != nil {
		if err := checkName(*cmd.Name); err != nil {
			return c, err
		}
		c.Name = *cmd.Name
	}
	if cmd.Properties != nil {
		props := orEmpty(*cmd.Properties)
		if err := hc.Plugins.ValidateConnection(c.PluginID, props); err != nil {
			return c, err
		}
		c.Properties = props
	}
	c.Enabled = boolOr(cmd.Enabled, c.Enabled)
	c.UpdatedAt = hc.Now
	return c, hc.Tx.UpdateConnection(ctx, c)
}

func createChannel(ctx context.Context, hc bus.HandlerContext, cmd CreateChannel) (domain.Channel, error) {
	dt, dtErr := domain.ParseDispatchType(string(cmd.DispatchType))
	if err := joinErrs(checkName(cmd.Name), dtErr); err != nil {
		return domain.Channel{}, err
	}
	if _, err := hc.Tx.GetBusinessUnit(ctx, cmd.BusinessUnitID); err != nil {
		return domain.Channel{}, err
	}
	conn, err := hc.Tx.GetConnection(ctx, cmd.ConnectionID)
	if err != nil {
		return domain.Channel{}, err
	}
	props := orEmpty(cmd.Properties)
	if err := hc.Plugins.ValidateDispatch(conn.PluginID, dt, props); err != nil {
		return domain.Channel{}, err
	}
	ch := domain.Channel{
		ID:             uuid.New(),
		BusinessUnitID: cmd.BusinessUnitID,
		ConnectionID:   conn.ID,
		Name:           cmd.Name,
		DispatchType:   dt,
		Priority:       cmd.Priority,
		Properties:     props,
		Enabled:        boolOr(cmd.Enabled, true),
		CreatedAt:      hc.Now,
		UpdatedAt:      hc.Now,
	}
	if err := hc.Tx.InsertChannel(ctx, ch); err != nil {
		return domain.Channel{}, err
	}
	return ch, nil
}

func updateChannel(ctx context.Context, hc bus.HandlerContext, cmd UpdateChannel) (domain.Channel, error) {
	ch, err := hc.Tx.GetChannel(ctx, cmd.ID)
	if err != nil {
		return ch, err
	}
	if cmd.Name != nil {
		if err := checkName(*cmd.Name); err != nil {
			return ch, err
		}
		ch.Name = *cmd.Name
	}
	if cmd.Priority != nil {
		ch.Priority = *cmd.Priority
	}
	ch.Enabled = boolOr(cmd.Enabled, ch.Enabled)
	if cmd.Properties != nil {
		conn, err := hc.Tx.GetConnection(ctx, ch.ConnectionID)
		if err != nil {
			return ch, err
		}
		props := orEmpty(*cmd.Properties)
		if err := hc.Plugins.ValidateDispatch(conn.PluginID, ch.DispatchType, props); err != nil {
			return ch, err
		}
		// Routes layered on this channel must still validate.
		routes, err := hc.Tx.FindRoutes(ctx, store.RouteQuery{ChannelID: &ch.ID, Page: store.Page{Limit: store.MaxLimit}})
		if err != nil {
			return ch, err
		}
		for _, r := range routes {
			if err := hc.Plugins.ValidateDispatch(conn.PluginID, ch.DispatchType, props.Merge(r.Properties)); err != nil {
				return ch, domain.Invalid("properties", "breaks route %s: %v", r.ID, err)
			}
		}
		ch.Properties = props
	}
	ch.UpdatedAt = hc.Now
	return ch, hc.Tx.UpdateChannel(ctx, ch)
}

func createRoute(ctx context.Context, hc bus.HandlerContext, cmd CreateRoute) (domain.Route, error) {
	schema, err := hc.Tx.GetSchema(ctx, cmd.SchemaID)
	if err != nil {
		return domain.Route{}, err
	}
	mt, err := hc.Tx.GetMessageType(ctx, schema.MessageTypeID)
	if err != nil {
		return domain.Route{}, err
	}
	ch, err := hc.Tx.GetChannel(ctx, cmd.ChannelID)
	if err != nil {
		return domain.Route{}, err
	}
	if ch.BusinessUnitID != mt.BusinessUnitID {
		return domain.Route{}, domain.Invalid("channel_id", "channel belongs to another business unit")
	}
	conn, err := hc.Tx.GetConnection(ctx, ch.ConnectionID)
	if err != nil {
		return domain.Route{}, err
	}
	props := orEmpty(cmd.Properties)
	if err := hc.Plugins.ValidateDispatch(conn.PluginID, ch.DispatchType, ch.Properties.Merge(props)); err != nil {
		return domain.Route{}, err
	}
	r := domain.Route{
		ID:             uuid.New(),
		SchemaID:       schema.ID,
		ChannelID:      ch.ID,
		BusinessUnitID: mt.BusinessUnitID,
		MessageTypeID:  mt.ID,
		ConnectionID:   conn.ID,
		Properties:     props,
		Enabled:        boolOr(cmd.Enabled, true),
		CreatedAt:      hc.Now,
		UpdatedAt:      hc.Now,
	}
	if err := hc.Tx.InsertRoute(ctx, r); err != nil {
		return domain.Route{}, err
	}
	return r, nil
}

func updateRoute(ctx context.Context, hc bus.HandlerContext, cmd UpdateRoute) (domain.Route, error) {
	r, err := hc.Tx.GetRoute(ctx, cmd.ID)
	if err != nil {
		return r, err
	}
	if cmd.Properties != nil {
		ch, err := hc.Tx.GetChannel(ctx, r.ChannelID)
		if err != nil {
			return r, err
		}
		conn, err := hc.Tx.GetConnection(ctx, ch.ConnectionID)
		if err != nil {
			return r, err
		}
		props := orEmpty(*cmd.Properties)
		if err := hc.Plugins.ValidateDispatch(conn.PluginID, ch.DispatchType, ch.Properties.Merge(props)); err != nil {
			return r, err
		}
		r.Properties = props
	}
	r.Enabled = boolOr(cmd.Enabled, r.Enabled)
	r.UpdatedAt = hc.Now
	return r, hc.Tx.UpdateRoute(ctx, r)
}

func deleteRoute(ctx context.Context, hc bus.HandlerContext, cmd DeleteRoute) (domain.Route, error) {
	r, err := hc.Tx.GetRoute(ctx, cmd.ID)
	if err != nil {
		return r, err
	}
	return r, hc.Tx.DeleteRoute(ctx, r.ID)
}

// redactConnection drops connection properties from event payloads; they
// usually carry credentials.
func redactConnection(c domain.Connection) domain.Connection {
	c.Properties = domain.Properties{}
	return c
}

const redacted = "[redacted]"

// maskProperties keeps the property names for the audit trail and hides the
// values.
func maskProperties(p domain.Properties) domain.Properties {
	out := make(domain.Properties, len(p))
	for k := range p {
		out[k] = redacted
	}
	return out
}
