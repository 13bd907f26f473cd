// Package connectortest provides a scriptable plugin for tests.
package connectortest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"courier/internal/connector"
	"courier/internal/domain"
)

type FakeConfig struct {
	Sender string `json:"sender"`
	Label  string `json:"label"`
}

// Plugin records every dispatch and answers from Outcomes, keyed by the
// "label" dispatch property. Labels without an outcome succeed.
type Plugin struct {
	PluginID string
	Support  connector.TemplateSupport

	mu       sync.Mutex
	Outcomes map[string]error
	Calls    []connector.DispatchRequest
}

func New(id string) *Plugin {
	return &Plugin{PluginID: id, Support: connector.TemplateOptional, Outcomes: map[string]error{}}
}

func (p *Plugin) ID() string { return p.PluginID }

func (p *Plugin) ConnectionConfiguration() connector.Configuration {
	return connector.NewConfig[struct {
		Token string `json:"token"`
	}](connector.Property{Name: "token", Type: connector.TypeString})
}

func (p *Plugin) Dispatchers() []connector.Dispatcher {
	out := make([]connector.Dispatcher, 0, len(domain.DispatchTypes))
	for _, dt := range domain.DispatchTypes {
		out = append(out, &dispatcher{p: p, dt: dt})
	}
	return out
}

func (p *Plugin) Fail(label string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Outcomes[label] = err
}

// Labels returns the label of every dispatch in call order.
func (p *Plugin) Labels() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.Calls))
	for _, c := range p.Calls {
		out = append(out, fmt.Sprint(c.DispatchProperties["label"]))
	}
	return out
}

func (p *Plugin) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

type dispatcher struct {
	p  *Plugin
	dt domain.DispatchType
}

func (d *dispatcher) DispatchType() domain.DispatchType { return d.dt }

func (d *dispatcher) TemplateSupport() connector.TemplateSupport { return d.p.Support }

func (d *dispatcher) Configuration() connector.Configuration {
	return connector.NewConfig[FakeConfig](
		connector.Property{Name: "sender", Type: connector.TypeString},
		connector.Property{Name: "label", Type: connector.TypeString},
	)
}

func (d *dispatcher) Dispatch(_ context.Context, req connector.DispatchRequest) (connector.DispatchResponse, error) {
	d.p.mu.Lock()
	d.p.Calls = append(d.p.Calls, req)
	label := fmt.Sprint(req.DispatchProperties["label"])
	err := d.p.Outcomes[label]
	d.p.mu.Unlock()
	if err != nil {
		return connector.DispatchResponse{}, err
	}
	data, _ := json.Marshal(map[string]string{"label": label})
	return connector.DispatchResponse{Reference: "ref-" + label, Data: data}, nil
}
