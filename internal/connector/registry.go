package connector

import (
	"fmt"
	"sort"

	"courier/internal/domain"
)

// Registry is the set of plugins known to the process. It is built once at
// startup and only read afterwards.
type Registry struct {
	plugins map[string]Plugin
	ids     []string
}

// NewRegistry panics on duplicate plugin ids or a plugin exposing the same
// medium twice; both are wiring mistakes.
func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		if _, dup := r.plugins[p.ID()]; dup {
			panic(fmt.Sprintf("connector: plugin %q registered twice", p.ID()))
		}
		seen := map[domain.DispatchType]bool{}
		for _, d := range p.Dispatchers() {
			if seen[d.DispatchType()] {
				panic(fmt.Sprintf("connector: plugin %q declares %s twice", p.ID(), d.DispatchType()))
			}
			seen[d.DispatchType()] = true
		}
		r.plugins[p.ID()] = p
		r.ids = append(r.ids, p.ID())
	}
	sort.Strings(r.ids)
	return r
}

func (r *Registry) Plugin(id string) (Plugin, error) {
	p, ok := r.plugins[id]
	if !ok {
		return nil, domain.NotFound("plugin", id)
	}
	return p, nil
}

func (r *Registry) Dispatcher(pluginID string, dt domain.DispatchType) (Dispatcher, error) {
	p, err := r.Plugin(pluginID)
	if err != nil {
		return nil, err
	}
	for _, d := range p.Dispatchers() {
		if d.DispatchType() == dt {
			return d, nil
		}
	}
	return nil, domain.Invalid("dispatch_type", "plugin %q does not support %s", pluginID, dt)
}

func (r *Registry) ValidateConnection(pluginID string, props domain.Properties) error {
	p, err := r.Plugin(pluginID)
	if err != nil {
		return domain.Invalid("plugin_id", "unknown plugin %q", pluginID)
	}
	if err := p.ConnectionConfiguration().Validate(props); err != nil {
		return prefixed(err, "properties")
	}
	return nil
}

func (r *Registry) ValidateDispatch(pluginID string, dt domain.DispatchType, props domain.Properties) error {
	d, err := r.Dispatcher(pluginID, dt)
	if err != nil {
		return err
	}
	if err := d.Configuration().Validate(props); err != nil {
		return prefixed(err, "properties")
	}
	return nil
}

func prefixed(err error, prefix string) error {
	if ve, ok := err.(*domain.ValidationError); ok {
		return ve.Prefix(prefix)
	}
	return err
}

type DispatcherDescription struct {
	DispatchType    domain.DispatchType `json:"dispatch_type"`
	TemplateSupport TemplateSupport     `json:"template_support"`
	Properties      []Property          `json:"properties"`
}

type PluginDescription struct {
	ID                   string                  `json:"id"`
	ConnectionProperties []Property              `json:"connection_properties"`
	Dispatchers          []DispatcherDescription `json:"dispatchers"`
}

func (r *Registry) Describe() []PluginDescription {
	out := make([]PluginDescription, 0, len(r.ids))
	for _, id := range r.ids {
		p := r.plugins[id]
		desc := PluginDescription{ID: id, ConnectionProperties: p.ConnectionConfiguration().Properties()}
		for _, d := range p.Dispatchers() {
			desc.Dispatchers = append(desc.Dispatchers, DispatcherDescription{
				DispatchType:    d.DispatchType(),
				TemplateSupport: d.TemplateSupport(),
				Properties:      d.Configuration().Properties(),
			})
		}
		out = append(out, desc)
	}
	return out
}
