package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"courier/internal/domain"
	"courier/internal/store"
)

func (s *state) InsertBusinessUnit(_ context.Context, bu domain.BusinessUnit) error {
	for _, other := range s.businessUnits {
		if other.Code == bu.Code {
			return domain.Conflict("business_unit", "code "+bu.Code.String()+" already exists")
		}
	}
	return insert(s.businessUnits, bu.ID, bu, "business_unit")
}

func (s *state) UpdateBusinessUnit(_ context.Context, bu domain.BusinessUnit) error {
	return update(s.businessUnits, bu.ID, bu, "business_unit")
}

func (s *state) GetBusinessUnit(_ context.Context, id uuid.UUID) (domain.BusinessUnit, error) {
	return get(s.businessUnits, id, "business_unit")
}

func (s *state) FindBusinessUnits(_ context.Context, q store.BusinessUnitQuery) ([]domain.BusinessUnit, error) {
	return list(s.businessUnits, q.Page,
		func(v domain.BusinessUnit) bool { return eq(q.Code, v.Code) },
		func(v domain.BusinessUnit) (time.Time, uuid.UUID) { return v.CreatedAt, v.ID }), nil
}

func (s *state) InsertMessageType(_ context.Context, mt domain.MessageType) error {
	for _, other := range s.messageTypes {
		if other.BusinessUnitID == mt.BusinessUnitID && other.Code == mt.Code {
			return domain.Conflict("message_type", "code "+mt.Code.String()+" already exists in business unit")
		}
	}
	return insert(s.messageTypes, mt.ID, mt, "message_type")
}

func (s *state) UpdateMessageType(_ context.Context, mt domain.MessageType) error {
	return update(s.messageTypes, mt.ID, mt, "message_type")
}

func (s *state) GetMessageType(_ context.Context, id uuid.UUID) (domain.MessageType, error) {
	return get(s.messageTypes, id, "message_type")
}

func (s *state) FindMessageTypes(_ context.Context, q store.MessageTypeQuery) ([]domain.MessageType, error) {
	return list(s.messageTypes, q.Page,
		func(v domain.MessageType) bool {
			return eq(q.BusinessUnitID, v.BusinessUnitID) && eq(q.Code, v.Code) && eq(q.Enabled, v.Enabled)
		},
		func(v domain.MessageType) (time.Time, uuid.UUID) { return v.CreatedAt, v.ID }), nil
}

func (s *state) NextSchemaVersion(_ context.Context, messageTypeID uuid.UUID) (int, error) {
	if _, err := get(s.messageTypes, messageTypeID, "message_type"); err != nil {
		return 0, err
	}
	next := 1
	for _, sc := range s.schemas {
		if sc.MessageTypeID == messageTypeID && sc.Version >= next {
			next = sc.Version + 1
		}
	}
	return next, nil
}

func (s *state) InsertSchema(_ context.Context, sc domain.Schema) error {
	for _, other := range s.schemas {
		if other.MessageTypeID == sc.MessageTypeID && other.Version == sc.Version {
			return domain.Conflict("schema", "version already exists")
		}
	}
	return insert(s.schemas, sc.ID, sc, "schema")
}

func (s *state) UpdateSchema(_ context.Context, sc domain.Schema) error {
	return update(s.schemas, sc.ID, sc, "schema")
}

func (s *state) GetSchema(_ context.Context, id uuid.UUID) (domain.Schema, error) {
	return get(s.schemas, id, "schema")
}

func (s *state) FindSchemas(_ context.Context, q store.SchemaQuery) ([]domain.Schema, error) {
	out := list(s.schemas, store.Page{Limit: store.MaxLimit},
		func(v domain.Schema) bool {
			return eq(q.MessageTypeID, v.MessageTypeID) && eq(q.Version, v.Version) &&
				eq(q.Enabled, v.Enabled) && eq(q.Published, v.Published)
		},
		func(v domain.Schema) (time.Time, uuid.UUID) { return v.CreatedAt, v.ID })
	slices.SortStableFunc(out, func(a, b domain.Schema) int { return cmp.Compare(a.Version, b.Version) })
	return paged(out, q.Page), nil
}

func (s *state) InsertConnection(_ context.Context, c domain.Connection) error {
	return insert(s.connections, c.ID, c, "connection")
}

func (s *state) UpdateConnection(_ context.Context, c domain.Connection) error {
	return update(s.connections, c.ID, c, "connection")
}

func (s *state) GetConnection(_ context.Context, id uuid.UUID) (domain.Connection, error) {
	return get(s.connections, id, "connection")
}

func (s *state) FindConnections(_ context.Context, q store.ConnectionQuery) ([]domain.Connection, error) {
	return list(s.connections, q.Page,
		func(v domain.Connection) bool { return eq(q.PluginID, v.PluginID) && eq(q.Enabled, v.Enabled) },
		func(v domain.Connection) (time.Time, uuid.UUID) { return v.CreatedAt, v.ID }), nil
}

func (s *state) InsertChannel(_ context.Context, c domain.Channel) error {
	return insert(s.channels, c.ID, c, "channel")
}

func (s *state) UpdateChannel(_ context.Context, c domain.Channel) error {
	return update(s.channels, c.ID, c, "channel")
}

func (s *state) GetChannel(_ context.Context, id uuid.UUID) (domain.Channel, error) {
	return get(s.channels, id, "channel")
}

func (s *state) FindChannels(_ context.Context, q store.ChannelQuery) ([]domain.Channel, error) {
	return list(s.channels, q.Page,
		func(v domain.Channel) bool {
			return eq(q.BusinessUnitID, v.BusinessUnitID) && eq(q.ConnectionID, v.ConnectionID) &&
				eq(q.DispatchType, v.DispatchType) && eq(q.Enabled, v.Enabled)
		},
		func(v domain.Channel) (time.Time, uuid.UUID) { return v.CreatedAt, v.ID }), nil
}

func (s *state) InsertRoute(_ context.Context, r domain.Route) error {
	for _, other := range s.routes {
		if other.SchemaID == r.SchemaID && other.ChannelID == r.ChannelID {
			return domain.Conflict("route", "schema is already routed to channel")
		}
	}
	return insert(s.routes, r.ID, r, "route")
}

func (s *state) UpdateRoute(_ context.Context, r domain.Route) error {
	return update(s.routes, r.ID, r, "route")
}

func (s *state) DeleteRoute(_ context.Context, id uuid.UUID) error {
	if _, err := get(s.routes, id, "route"); err != nil {
		return err
	}
	delete(s.routes, id)
	return nil
}

func (s *state) GetRoute(_ context.Context, id uuid.UUID) (domain.Route, error) {
	return get(s.routes, id, "route")
}

func (s *state) FindRoutes(_ context.Context, q store.RouteQuery) ([]domain.Route, error) {
	return list(s.routes, q.Page,
		func(v domain.Route) bool {
			return eq(q.SchemaID, v.SchemaID) && eq(q.ChannelID, v.ChannelID) &&
				eq(q.BusinessUnitID, v.BusinessUnitID) && eq(q.MessageTypeID, v.MessageTypeID)
		},
		func(v domain.Route) (time.Time, uuid.UUID) { return v.CreatedAt, v.ID }), nil
}

func (s *state) FindChannelStack(_ context.Context, q store.ChannelStackQuery) ([]store.RoutedChannel, error) {
	out := make([]store.RoutedChannel, 0)
	for _, r := range s.routes {
		if !r.Enabled || r.BusinessUnitID != q.BusinessUnitID || r.MessageTypeID != q.MessageTypeID || r.SchemaID != q.SchemaID {
			continue
		}
		ch, ok := s.channels[r.ChannelID]
		if !ok || !ch.Enabled || ch.DispatchType != q.DispatchType {
			continue
		}
		cn, ok := s.connections[ch.ConnectionID]
		if !ok || !cn.Enabled {
			continue
		}
		out = append(out, store.RoutedChannel{Route: r, Channel: ch, Connection: cn})
	}
	slices.SortFunc(out, func(a, b store.RoutedChannel) int {
		if c := cmp.Compare(a.Channel.Priority, b.Channel.Priority); c != 0 {
			return c
		}
		if c := a.Channel.CreatedAt.Compare(b.Channel.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Route.ID.String(), b.Route.ID.String())
	})
	return out, nil
}

func (s *state) InsertTemplate(_ context.Context, t domain.Template) error {
	return insert(s.templates, t.ID, t, "template")
}

func (s *state) UpdateTemplate(_ context.Context, t domain.Template) error {
	return update(s.templates, t.ID, t, "template")
}

func (s *state) GetTemplate(_ context.Context, id uuid.UUID) (domain.Template, error) {
	return get(s.templates, id, "template")
}

func (s *state) FindTemplates(_ context.Context, q store.TemplateQuery) ([]domain.Template, error) {
	return list(s.templates, q.Page,
		func(v domain.Template) bool {
			return eq(q.SchemaID, v.SchemaID) && eq(q.DispatchType, v.DispatchType) && eq(q.Active, v.Active)
		},
		func(v domain.Template) (time.Time, uuid.UUID) { return v.CreatedAt, v.ID }), nil
}

func (s *state) DeactivateTemplates(_ context.Context, schemaID uuid.UUID, dt domain.DispatchType, keep uuid.UUID) error {
	for id, t := range s.templates {
		if t.SchemaID == schemaID && t.DispatchType == dt && id != keep && t.Active {
			t.Active = false
			s.templates[id] = t
		}
	}
	return nil
}

func (s *state) InsertTemplateAssignment(_ context.Context, a domain.TemplateAssignment) error {
	return insert(s.assignments, a.ID, a, "template_assignment")
}

func (s *state) UpdateTemplateAssignment(_ context.Context, a domain.TemplateAssignment) error {
	return update(s.assignments, a.ID, a, "template_assignment")
}

func (s *state) DeleteTemplateAssignment(_ context.Context, id uuid.UUID) error {
	if _, err := get(s.assignments, id, "template_assignment"); err != nil {
		return err
	}
	delete(s.assignments, id)
	return nil
}

func (s *state) GetTemplateAssignment(_ context.Context, id uuid.UUID) (domain.TemplateAssignment, error) {
	return get(s.assignments, id, "template_assignment")
}

func (s *state) FindTemplateAssignments(_ context.Context, q store.TemplateAssignmentQuery) ([]domain.TemplateAssignment, error) {
	out := make([]domain.TemplateAssignment, 0)
	for _, a := range s.assignments {
		if !eq(q.BusinessUnitID, a.BusinessUnitID) || !eq(q.MessageTypeID, a.MessageTypeID) || !eq(q.Enabled, a.Enabled) {
			continue
		}
		if q.At != nil && !a.Covers(*q.At) {
			continue
		}
		if q.DispatchType != nil && a.TemplateFor(*q.DispatchType) == nil {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b domain.TemplateAssignment) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := b.StartAt.Compare(a.StartAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return paged(out, q.Page), nil
}

func (s *state) InsertMessage(_ context.Context, m domain.Message) error {
	return insert(s.messages, m.ID, m, "message")
}

func (s *state) UpdateMessageStatus(_ context.Context, id uuid.UUID, from, to domain.MessageStatus, reason string, at time.Time) error {
	m, err := get(s.messages, id, "message")
	if err != nil {
		return err
	}
	if m.Status != from {
		return domain.Conflict("message", "message is no longer "+string(from))
	}
	m.Status = to
	m.StatusReason = reason
	m.UpdatedAt = at
	s.messages[id] = m
	return nil
}

func (s *state) GetMessage(_ context.Context, id uuid.UUID) (domain.Message, error) {
	return get(s.messages, id, "message")
}

func (s *state) FindMessages(_ context.Context, q store.MessageQuery) ([]domain.Message, error) {
	return list(s.messages, q.Page,
		func(v domain.Message) bool {
			return eq(q.BusinessUnitID, v.BusinessUnitID) && eq(q.MessageTypeID, v.MessageTypeID) && eq(q.Status, v.Status)
		},
		func(v domain.Message) (time.Time, uuid.UUID) { return v.CreatedAt, v.ID }), nil
}

func (s *state) InsertMessageDispatch(_ context.Context, d domain.MessageDispatch) (bool, error) {
	for _, other := range s.dispatches {
		if other.MessageID == d.MessageID && other.RouteID == d.RouteID {
			return false, nil
		}
	}
	s.dispatches = append(s.dispatches, d)
	return true, nil
}

func (s *state) FindMessageDispatches(_ context.Context, messageID uuid.UUID) ([]domain.MessageDispatch, error) {
	out := make([]domain.MessageDispatch, 0)
	for _, d := range s.dispatches {
		if d.MessageID == messageID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *state) InsertAuditLog(_ context.Context, a domain.AuditLog) error {
	s.audits = append(s.audits, a)
	return nil
}

func (s *state) InsertEvent(_ context.Context, e domain.Event) error {
	s.events = append(s.events, e)
	return nil
}

func (s *state) FindUnconsumedEvents(_ context.Context, limit int) ([]domain.Event, error) {
	out := make([]domain.Event, 0)
	for _, e := range s.events {
		if e.ConsumedAt == nil {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Event) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *state) MarkEventsConsumed(_ context.Context, published, skipped []string, at time.Time) error {
	mark := func(ids []string, skip bool) {
		for _, id := range ids {
			for i := range s.events {
				if s.events[i].ID == id && s.events[i].ConsumedAt == nil {
					ts, sk := at, skip
					s.events[i].ConsumedAt = &ts
					s.events[i].Skipped = &sk
				}
			}
		}
	}
	mark(published, false)
	mark(skipped, true)
	return nil
}
