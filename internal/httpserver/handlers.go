package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"courier/internal/bus"
	"courier/internal/connector"
	"courier/internal/domain"
	"courier/internal/service"
	"courier/internal/store"
)

// ActorHeader names the caller recorded on audit rows and events.
const ActorHeader = "X-Actor"

const defaultActor domain.Actor = "api"

type API struct {
	Commands *bus.CommandBus
	Queries  *bus.QueryBus
}

func (a *API) Register(r *mux.Router) {
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/business-units", execute[service.CreateBusinessUnit, domain.BusinessUnit](a, http.StatusCreated, nil)).Methods(http.MethodPost)
	v1.HandleFunc("/business-units", ask[service.ListBusinessUnits, []domain.BusinessUnit](a, func(p *params) service.ListBusinessUnits {
		return service.ListBusinessUnits{BusinessUnitQuery: store.BusinessUnitQuery{Code: p.code("code"), Page: p.page()}}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/business-units/{id}", get[service.GetBusinessUnit, domain.BusinessUnit](a, func(id uuid.UUID) service.GetBusinessUnit {
		return service.GetBusinessUnit{ID: id}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/business-units/{id}", execute[service.UpdateBusinessUnit, domain.BusinessUnit](a, http.StatusOK, func(c *service.UpdateBusinessUnit, id uuid.UUID) {
		c.ID = id
	})).Methods(http.MethodPatch)

	v1.HandleFunc("/message-types", execute[service.CreateMessageType, domain.MessageType](a, http.StatusCreated, nil)).Methods(http.MethodPost)
	v1.HandleFunc("/message-types", ask[service.ListMessageTypes, []domain.MessageType](a, func(p *params) service.ListMessageTypes {
		return service.ListMessageTypes{MessageTypeQuery: store.MessageTypeQuery{
			BusinessUnitID: p.uuid("business_unit_id"),
			Code:           p.code("code"),
			Enabled:        p.bool("enabled"),
			Page:           p.page(),
		}}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/message-types/{id}", get[service.GetMessageType, domain.MessageType](a, func(id uuid.UUID) service.GetMessageType {
		return service.GetMessageType{ID: id}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/message-types/{id}", execute[service.UpdateMessageType, domain.MessageType](a, http.StatusOK, func(c *service.UpdateMessageType, id uuid.UUID) {
		c.ID = id
	})).Methods(http.MethodPatch)

	v1.HandleFunc("/schemas", execute[service.CreateSchema, domain.Schema](a, http.StatusCreated, nil)).Methods(http.MethodPost)
	v1.HandleFunc("/schemas", ask[service.ListSchemas, []domain.Schema](a, func(p *params) service.ListSchemas {
		return service.ListSchemas{SchemaQuery: store.SchemaQuery{
			MessageTypeID: p.uuid("message_type_id"),
			Version:       p.int("version"),
			Enabled:       p.bool("enabled"),
			Published:     p.bool("published"),
			Page:          p.page(),
		}}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/schemas/{id}", get[service.GetSchema, domain.Schema](a, func(id uuid.UUID) service.GetSchema {
		return service.GetSchema{ID: id}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/schemas/{id}", execute[service.UpdateSchema, domain.Schema](a, http.StatusOK, func(c *service.UpdateSchema, id uuid.UUID) {
		c.ID = id
	})).Methods(http.MethodPatch)

	v1.HandleFunc("/templates", execute[service.CreateTemplate, domain.Template](a, http.StatusCreated, nil)).Methods(http.MethodPost)
	v1.HandleFunc("/templates", ask[service.ListTemplates, []domain.Template](a, func(p *params) service.ListTemplates {
		return service.ListTemplates{TemplateQuery: store.TemplateQuery{
			SchemaID:     p.uuid("schema_id"),
			DispatchType: p.dispatchType("dispatch_type"),
			Active:       p.bool("active"),
			Page:         p.page(),
		}}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/templates/{id}", get[service.GetTemplate, domain.Template](a, func(id uuid.UUID) service.GetTemplate {
		return service.GetTemplate{ID: id}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/templates/{id}", execute[service.UpdateTemplate, domain.Template](a, http.StatusOK, func(c *service.UpdateTemplate, id uuid.UUID) {
		c.ID = id
	})).Methods(http.MethodPatch)
	v1.HandleFunc("/templates/{id}/activate", execute[service.ActivateTemplate, domain.Template](a, http.StatusOK, func(c *service.ActivateTemplate, id uuid.UUID) {
		c.ID = id
	})).Methods(http.MethodPost)

	v1.HandleFunc("/template-assignments", execute[service.CreateTemplateAssignment, domain.TemplateAssignment](a, http.StatusCreated, nil)).Methods(http.MethodPost)
	v1.HandleFunc("/template-assignments", ask[service.ListTemplateAssignments, []domain.TemplateAssignment](a, func(p *params) service.ListTemplateAssignments {
		return service.ListTemplateAssignments{TemplateAssignmentQuery: store.TemplateAssignmentQuery{
			BusinessUnitID: p.uuid("business_unit_id"),
			MessageTypeID:  p.uuid("message_type_id"),
			Enabled:        p.bool("enabled"),
			DispatchType:   p.dispatchType("dispatch_type"),
			Page:           p.page(),
		}}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/template-assignments/{id}", get[service.GetTemplateAssignment, domain.TemplateAssignment](a, func(id uuid.UUID) service.GetTemplateAssignment {
		return service.GetTemplateAssignment{ID: id}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/template-assignments/{id}", execute[service.UpdateTemplateAssignment, domain.TemplateAssignment](a, http.StatusOK, func(c *service.UpdateTemplateAssignment, id uuid.UUID) {
		c.ID = id
	})).Methods(http.MethodPatch)
	v1.HandleFunc("/template-assignments/{id}", execute[service.DeleteTemplateAssignment, domain.TemplateAssignment](a, http.StatusOK, func(c *service.DeleteTemplateAssignment, id uuid.UUID) {
		c.ID = id
	})).Methods(http.MethodDelete)

	v1.HandleFunc("/connections", execute[service.CreateConnection, domain.Connection](a, http.StatusCreated, nil)).Methods(http.MethodPost)
	v1.HandleFunc("/connections", ask[service.ListConnections, []domain.Connection](a, func(p *params) service.ListConnections {
		return service.ListConnections{ConnectionQuery: store.ConnectionQuery{
			PluginID: p.str("plugin_id"),
			Enabled:  p.bool("enabled"),
			Page:     p.page(),
		}}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/connections/{id}", get[service.GetConnection, domain.Connection](a, func(id uuid.UUID) service.GetConnection {
		return service.GetConnection{ID: id}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/connections/{id}", execute[service.UpdateConnection, domain.Connection](a, http.StatusOK, func(c *service.UpdateConnection, id uuid.UUID) {
		c.ID = id
	})).Methods(http.MethodPatch)

	v1.HandleFunc("/channels", execute[service.CreateChannel, domain.Channel](a, http.StatusCreated, nil)).Methods(http.MethodPost)
	v1.HandleFunc("/channels", ask[service.ListChannels, []domain.Channel](a, func(p *params) service.ListChannels {
		return service.ListChannels{ChannelQuery: store.ChannelQuery{
			BusinessUnitID: p.uuid("business_unit_id"),
			ConnectionID:   p.uuid("connection_id"),
			DispatchType:   p.dispatchType("dispatch_type"),
			Enabled:        p.bool("enabled"),
			Page:           p.page(),
		}}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/channels/{id}", get[service.GetChannel, domain.Channel](a, func(id uuid.UUID) service.GetChannel {
		return service.GetChannel{ID: id}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/channels/{id}", execute[service.UpdateChannel, domain.Channel](a, http.StatusOK, func(c *service.UpdateChannel, id uuid.UUID) {
		c.ID = id
	})).Methods(http.MethodPatch)

	v1.HandleFunc("/routes", execute[service.CreateRoute, domain.Route](a, http.StatusCreated, nil)).Methods(http.MethodPost)
	v1.HandleFunc("/routes", ask[service.ListRoutes, []domain.Route](a, func(p *params) service.ListRoutes {
		return service.ListRoutes{RouteQuery: store.RouteQuery{
			SchemaID:       p.uuid("schema_id"),
			ChannelID:      p.uuid("channel_id"),
			BusinessUnitID: p.uuid("business_unit_id"),
			MessageTypeID:  p.uuid("message_type_id"),
			Page:           p.page(),
		}}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/routes/{id}", get[service.GetRoute, domain.Route](a, func(id uuid.UUID) service.GetRoute {
		return service.GetRoute{ID: id}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/routes/{id}", execute[service.UpdateRoute, domain.Route](a, http.StatusOK, func(c *service.UpdateRoute, id uuid.UUID) {
		c.ID = id
	})).Methods(http.MethodPatch)
	v1.HandleFunc("/routes/{id}", execute[service.DeleteRoute, domain.Route](a, http.StatusOK, func(c *service.DeleteRoute, id uuid.UUID) {
		c.ID = id
	})).Methods(http.MethodDelete)

	v1.HandleFunc("/messages", execute[service.CreateMessage, domain.Message](a, http.StatusAccepted, nil)).Methods(http.MethodPost)
	v1.HandleFunc("/messages", ask[service.ListMessages, []domain.Message](a, func(p *params) service.ListMessages {
		return service.ListMessages{MessageQuery: store.MessageQuery{
			BusinessUnitID: p.uuid("business_unit_id"),
			MessageTypeID:  p.uuid("message_type_id"),
			Status:         p.messageStatus("status"),
			Page:           p.page(),
		}}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}", get[service.GetMessage, domain.Message](a, func(id uuid.UUID) service.GetMessage {
		return service.GetMessage{ID: id}
	})).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}/dispatches", get[service.ListMessageDispatches, []domain.MessageDispatch](a, func(id uuid.UUID) service.ListMessageDispatches {
		return service.ListMessageDispatches{MessageID: id}
	})).Methods(http.MethodGet)

	v1.HandleFunc("/plugins", ask[service.ListPlugins, []connector.PluginDescription](a, func(*params) service.ListPlugins {
		return service.ListPlugins{}
	})).Methods(http.MethodGet)
}

func actor(r *http.Request) domain.Actor {
	if v := r.Header.Get(ActorHeader); v != "" {
		return domain.Actor(v)
	}
	return defaultActor
}

// execute decodes the body into C, lets withID copy the path id in and runs
// the command. An empty body is an empty command.
func execute[C bus.Command, O any](a *API, status int, withID func(*C, uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd C
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil && !errors.Is(err, io.EOF) {
			// Value types such as codes validate while decoding.
			if errors.Is(err, domain.ErrValidation) {
				writeError(w, r, err)
				return
			}
			badRequest(w, ErrInvalidJSON)
			return
		}
		if withID != nil {
			id, err := pathID(r)
			if err != nil {
				badRequest(w, err.Error())
				return
			}
			withID(&cmd, id)
		}
		out, err := bus.Execute[C, O](r.Context(), a.Commands, actor(r), cmd)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, status, out)
	}
}

func get[Q bus.Query, O any](a *API, build func(uuid.UUID) Q) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		out, err := bus.Ask[Q, O](r.Context(), a.Queries, actor(r), build(id))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func ask[Q bus.Query, O any](a *API, build func(*params) Q) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := queryParams(r)
		q := build(p)
		if p.err != nil {
			badRequest(w, p.err.Error())
			return
		}
		out, err := bus.Ask[Q, O](r.Context(), a.Queries, actor(r), q)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}
