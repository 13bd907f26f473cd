package pg

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"courier/internal/domain"
	"courier/internal/store"
)

const connectionCols = "id, name, plugin_id, enabled, properties, created_at, updated_at"

func scanConnection(row pgx.Row) (domain.Connection, error) {
	var c domain.Connection
	var props []byte
	err := row.Scan(&c.ID, &c.Name, &c.PluginID, &c.Enabled, &props, &c.CreatedAt, &c.UpdatedAt)
	c.Properties = unmarshalMap[domain.Properties](props)
	return c, err
}

func (q *Queries) InsertConnection(ctx context.Context, c domain.Connection) error {
	return exec(ctx, q.db, "connection", c.ID, false, `
		INSERT INTO connections (id, name, plugin_id, enabled, properties, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, c.ID, c.Name, c.PluginID, c.Enabled, jsonb(c.Properties), c.CreatedAt, c.UpdatedAt)
}

func (q *Queries) UpdateConnection(ctx context.Context, c domain.Connection) error {
	return exec(ctx, q.db, "connection", c.ID, true, `
		UPDATE connections SET name=$2, enabled=$3, properties=$4, updated_at=$5 WHERE id=$1
	`, c.ID, c.Name, c.Enabled, jsonb(c.Properties), c.UpdatedAt)
}

func (q *Queries) GetConnection(ctx context.Context, id uuid.UUID) (domain.Connection, error) {
	b := psql.Select(connectionCols).From("connections").Where("id = ?", id)
	return queryOne(ctx, q.db, b, scanConnection, "connection", id)
}

func (q *Queries) FindConnections(ctx context.Context, f store.ConnectionQuery) ([]domain.Connection, error) {
	b := psql.Select(connectionCols).From("connections").OrderBy("created_at", "id")
	b = eqIf(b, "plugin_id", f.PluginID)
	b = eqIf(b, "enabled", f.Enabled)
	return queryAll(ctx, q.db, page(b, f.Page), scanConnection)
}

const channelCols = "id, business_unit_id, connection_id, name, dispatch_type, priority, properties, enabled, created_at, updated_at"

func scanChannel(row pgx.Row) (domain.Channel, error) {
	var c domain.Channel
	var props []byte
	err := row.Scan(&c.ID, &c.BusinessUnitID, &c.ConnectionID, &c.Name, &c.DispatchType, &c.Priority, &props, &c.Enabled, &c.CreatedAt, &c.UpdatedAt)
	c.Properties = unmarshalMap[domain.Properties](props)
	return c, err
}

func (q *Queries) InsertChannel(ctx context.Context, c domain.Channel) error {
	return exec(ctx, q.db, "channel", c.ID, false, `
		INSERT INTO channels (id, business_unit_id, connection_id, name, dispatch_type, priority, properties, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, c.ID, c.BusinessUnitID, c.ConnectionID, c.Name, c.DispatchType, c.Priority, jsonb(c.Properties), c.Enabled, c.CreatedAt, c.UpdatedAt)
}

func (q *Queries) UpdateChannel(ctx context.Context, c domain.Channel) error {
	return exec(ctx, q.db, "channel", c.ID, true, `
		UPDATE channels SET name=$2, priority=$3, properties=$4, enabled=$5, updated_at=$6 WHERE id=$1
	`, c.ID, c.Name, c.Priority, jsonb(c.Properties), c.Enabled, c.UpdatedAt)
}

func (q *Queries) GetChannel(ctx context.Context, id uuid.UUID) (domain.Channel, error) {
	b := psql.Select(channelCols).From("channels").Where("id = ?", id)
	return queryOne(ctx, q.db, b, scanChannel, "channel", id)
}

func (q *Queries) FindChannels(ctx context.Context, f store.ChannelQuery) ([]domain.Channel, error) {
	b := psql.Select(channelCols).From("channels").OrderBy("created_at", "id")
	b = eqIf(b, "business_unit_id", f.BusinessUnitID)
	b = eqIf(b, "connection_id", f.ConnectionID)
	b = eqIf(b, "dispatch_type", f.DispatchType)
	b = eqIf(b, "enabled", f.Enabled)
	return queryAll(ctx, q.db, page(b, f.Page), scanChannel)
}

const routeCols = "id, schema_id, channel_id, business_unit_id, message_type_id, connection_id, properties, enabled, created_at, updated_at"

func scanRoute(row pgx.Row) (domain.Route, error) {
	var r domain.Route
	var props []byte
	err := row.Scan(&r.ID, &r.SchemaID, &r.ChannelID, &r.BusinessUnitID, &r.MessageTypeID, &r.ConnectionID, &props, &r.Enabled, &r.CreatedAt, &r.UpdatedAt)
	r.Properties = unmarshalMap[domain.Properties](props)
	return r, err
}

func (q *Queries) InsertRoute(ctx context.Context, r domain.Route) error {
	return exec(ctx, q.db, "route", r.ID, false, `
		INSERT INTO routes (id, schema_id, channel_id, business_unit_id, message_type_id, connection_id, properties, enabled, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, r.ID, r.SchemaID, r.ChannelID, r.BusinessUnitID, r.MessageTypeID, r.ConnectionID, jsonb(r.Properties), r.Enabled, r.CreatedAt, r.UpdatedAt)
}

func (q *Queries) UpdateRoute(ctx context.Context, r domain.Route) error {
	return exec(ctx, q.db, "route", r.ID, true, `
		UPDATE routes SET properties=$2, enabled=$3, updated_at=$4 WHERE id=$1
	`, r.ID, jsonb(r.Properties), r.Enabled, r.UpdatedAt)
}

func (q *Queries) DeleteRoute(ctx context.Context, id uuid.UUID) error {
	return exec(ctx, q.db, "route", id, true, `DELETE FROM routes WHERE id=$1`, id)
}

func (q *Queries) GetRoute(ctx context.Context, id uuid.UUID) (domain.Route, error) {
	b := psql.Select(routeCols).From("routes").Where("id = ?", id)
	return queryOne(ctx, q.db, b, scanRoute, "route", id)
}

func (q *Queries) FindRoutes(ctx context.Context, f store.RouteQuery) ([]domain.Route, error) {
	b := psql.Select(routeCols).From("routes").OrderBy("created_at", "id")
	b = eqIf(b, "schema_id", f.SchemaID)
	b = eqIf(b, "channel_id", f.ChannelID)
	b = eqIf(b, "business_unit_id", f.BusinessUnitID)
	b = eqIf(b, "message_type_id", f.MessageTypeID)
	return queryAll(ctx, q.db, page(b, f.Page), scanRoute)
}

func (q *Queries) FindChannelStack(ctx context.Context, f store.ChannelStackQuery) ([]store.RoutedChannel, error) {
	b := psql.Select(
		"r.id, r.schema_id, r.channel_id, r.business_unit_id, r.message_type_id, r.connection_id, r.properties, r.enabled, r.created_at, r.updated_at",
		"c.id, c.business_unit_id, c.connection_id, c.name, c.dispatch_type, c.priority, c.properties, c.enabled, c.created_at, c.updated_at",
		"n.id, n.name, n.plugin_id, n.enabled, n.properties, n.created_at, n.updated_at",
	).
		From("routes r").
		Join("channels c ON c.id = r.channel_id").
		Join("connections n ON n.id = c.connection_id").
		Where(sq.Eq{
			"r.business_unit_id": f.BusinessUnitID,
			"r.message_type_id":  f.MessageTypeID,
			"r.schema_id":        f.SchemaID,
			"c.dispatch_type":    f.DispatchType,
			"r.enabled":          true,
			"c.enabled":          true,
			"n.enabled":          true,
		}).
		OrderBy("c.priority", "c.created_at", "r.id")

	return queryAll(ctx, q.db, b, func(row pgx.Row) (store.RoutedChannel, error) {
		var rc store.RoutedChannel
		var rp, cp, np []byte
		r, c, n := &rc.Route, &rc.Channel, &rc.Connection
		err := row.Scan(
			&r.ID, &r.SchemaID, &r.ChannelID, &r.BusinessUnitID, &r.MessageTypeID, &r.ConnectionID, &rp, &r.Enabled, &r.CreatedAt, &r.UpdatedAt,
			&c.ID, &c.BusinessUnitID, &c.ConnectionID, &c.Name, &c.DispatchType, &c.Priority, &cp, &c.Enabled, &c.CreatedAt, &c.UpdatedAt,
			&n.ID, &n.Name, &n.PluginID, &n.Enabled, &np, &n.CreatedAt, &n.UpdatedAt,
		)
		r.Properties = unmarshalMap[domain.Properties](rp)
		c.Properties = unmarshalMap[domain.Properties](cp)
		n.Properties = unmarshalMap[domain.Properties](np)
		return rc, err
	})
}
