// Package logstub is a plugin that only logs what it would send. Useful in
// local setups and for smoke-testing routes.
package logstub

import (
	"context"
	"encoding/json"

	"courier/internal/connector"
	"courier/internal/domain"
	"courier/internal/logging"
	"courier/internal/util"
)

const PluginID = "log"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (Plugin) ID() string { return PluginID }

func (Plugin) ConnectionConfiguration() connector.Configuration { return connector.Empty }

func (Plugin) Dispatchers() []connector.Dispatcher {
	out := make([]connector.Dispatcher, 0, len(domain.DispatchTypes))
	for _, dt := range domain.DispatchTypes {
		out = append(out, dispatcher(dt))
	}
	return out
}

type dispatcher domain.DispatchType

func (d dispatcher) DispatchType() domain.DispatchType { return domain.DispatchType(d) }

func (dispatcher) TemplateSupport() connector.TemplateSupport { return connector.TemplateOptional }

func (dispatcher) Configuration() connector.Configuration { return connector.Empty }

func (d dispatcher) Dispatch(ctx context.Context, req connector.DispatchRequest) (connector.DispatchResponse, error) {
	ref := util.NewID(PluginID)
	attrs := []any{
		"message_id", req.MessageID.String(),
		"dispatch_type", string(d),
		"recipient", req.Recipient,
		"reference", ref,
	}
	if req.Subject != nil {
		attrs = append(attrs, "subject", *req.Subject)
	}
	if req.Template != nil {
		attrs = append(attrs, "template", *req.Template)
	} else {
		attrs = append(attrs, "payload", string(req.Payload))
	}
	logging.From(ctx).Info("dispatch logged", attrs...)

	data, _ := json.Marshal(map[string]string{"logged": string(d)})
	return connector.DispatchResponse{Reference: ref, Data: data}, nil
}
