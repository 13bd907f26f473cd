// Package worker turns a pending message into dispatch attempts. Every read
// goes through the query bus and every write through the command bus, so each
// attempt is audited and visible before the next one starts.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"courier/internal/bus"
	"courier/internal/connector"
	"courier/internal/domain"
	"courier/internal/logging"
	"courier/internal/observability"
	"courier/internal/render"
	"courier/internal/service"
	"courier/internal/store"
)

// Reasons stored on failed messages, one per medium.
const (
	ReasonNoTemplate     = "no_template_assignment_eligible"
	ReasonRenderFailed   = "render_failed"
	ReasonNoChannel      = "no_channel"
	ReasonChannelsFailed = "all_channels_failed"
)

var ErrNoTemplate = errors.New("no template assignment eligible")

const defaultDispatchTimeout = 10 * time.Second

type Processor struct {
	Commands *bus.CommandBus
	Queries  *bus.QueryBus
	Plugins  *connector.Registry
	// DispatchTimeout bounds one plugin call. Zero means 10s.
	DispatchTimeout time.Duration
}

// mediumResult is the outcome of one medium of a message.
type mediumResult struct {
	ok     bool
	reason string
}

// Process dispatches every requested medium of the message and finalizes it.
// A returned error means the run could not be recorded and should be retried;
// provider failures are recorded, not returned.
func (p *Processor) Process(ctx context.Context, messageID uuid.UUID) error {
	ctx, span := observability.Tracer().Start(ctx, "process message")
	defer span.End()
	span.SetAttributes(attribute.String("courier.message_id", messageID.String()))
	log := logging.From(ctx).With("message_id", messageID.String())

	// 1) load and gate on status
	m, err := bus.Ask[service.GetMessage, domain.Message](ctx, p.Queries, domain.SystemActor, service.GetMessage{ID: messageID})
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("message not found, dropping")
		return nil
	}
	if err != nil {
		return fail(span, err)
	}
	if m.Status != domain.MessagePending {
		log.Info("message already finalized, skipping", "status", m.Status)
		return nil
	}

	scope, err := p.loadScope(ctx, m)
	if err != nil {
		return fail(span, err)
	}

	// 2) one fallback loop per medium
	var (
		anyOK   bool
		reasons []string
	)
	for _, dt := range m.DispatchTypes {
		res, err := p.dispatchMedium(ctx, scope, dt)
		if err != nil {
			return fail(span, fmt.Errorf("dispatch %s: %w", dt, err))
		}
		if res.ok {
			anyOK = true
			continue
		}
		log.Warn("medium not delivered", "dispatch_type", dt, "reason", res.reason)
		reasons = append(reasons, string(dt)+": "+res.reason)
	}

	// 3) finalize
	final := service.FinalizeMessage{MessageID: m.ID, Status: domain.MessageDistributed}
	if !anyOK {
		final.Status = domain.MessageFailed
		final.Reason = strings.Join(reasons, "; ")
	}
	_, err = bus.Execute[service.FinalizeMessage, domain.Message](ctx, p.Commands, domain.SystemActor, final)
	if errors.Is(err, domain.ErrConflict) {
		// A concurrent run finalized first.
		log.Info("message finalized elsewhere")
		return nil
	}
	if err != nil {
		return fail(span, err)
	}
	log.Info("message finalized", "status", final.Status, "reason", final.Reason)
	return nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// scope is what every medium of one message shares.
type scope struct {
	message   domain.Message
	unit      domain.BusinessUnit
	msgType   domain.MessageType
	schema    domain.Schema
	attempted map[uuid.UUID]domain.MessageDispatch
}

func (p *Processor) loadScope(ctx context.Context, m domain.Message) (scope, error) {
	s := scope{message: m, attempted: map[uuid.UUID]domain.MessageDispatch{}}
	var err error
	if s.unit, err = bus.Ask[service.GetBusinessUnit, domain.BusinessUnit](ctx, p.Queries, domain.SystemActor, service.GetBusinessUnit{ID: m.BusinessUnitID}); err != nil {
		return s, err
	}
	if s.msgType, err = bus.Ask[service.GetMessageType, domain.MessageType](ctx, p.Queries, domain.SystemActor, service.GetMessageType{ID: m.MessageTypeID}); err != nil {
		return s, err
	}
	if s.schema, err = bus.Ask[service.GetSchema, domain.Schema](ctx, p.Queries, domain.SystemActor, service.GetSchema{ID: m.SchemaID}); err != nil {
		return s, err
	}
	// Attempts of an earlier, interrupted run.
	prior, err := bus.Ask[service.ListMessageDispatches, []domain.MessageDispatch](ctx, p.Queries, domain.SystemActor, service.ListMessageDispatches{MessageID: m.ID})
	if err != nil {
		return s, err
	}
	for _, d := range prior {
		s.attempted[d.RouteID] = d
	}
	return s, nil
}

func (p *Processor) dispatchMedium(ctx context.Context, s scope, dt domain.DispatchType) (mediumResult, error) {
	log := logging.From(ctx).With("message_id", s.message.ID.String(), "dispatch_type", dt)

	for _, d := range s.attempted {
		if d.DispatchType == dt && d.Status == domain.DispatchSuccess {
			return mediumResult{ok: true}, nil
		}
	}

	tpl, assignment, err := p.resolveTemplate(ctx, s, dt)
	if errors.Is(err, ErrNoTemplate) {
		return mediumResult{reason: ReasonNoTemplate}, nil
	}
	if err != nil {
		return mediumResult{}, err
	}

	vars := domain.MergeVars(s.unit.Vars, s.msgType.Vars, s.schema.Vars, assignment.Vars, tpl.Vars, s.message.Vars)
	data, err := render.NewData(s.message.Payload, vars)
	if err != nil {
		log.Error("payload not renderable", "err", err)
		return mediumResult{reason: ReasonRenderFailed}, nil
	}
	content, err := render.Content(tpl.Content, data)
	if err != nil {
		log.Error("template render failed", "template_id", tpl.ID.String(), "err", err)
		return mediumResult{reason: ReasonRenderFailed}, nil
	}

	stack, err := bus.Ask[service.GetChannelStack, []store.RoutedChannel](ctx, p.Queries, domain.SystemActor, service.GetChannelStack{
		ChannelStackQuery: store.ChannelStackQuery{
			BusinessUnitID: s.message.BusinessUnitID,
			MessageTypeID:  s.message.MessageTypeID,
			SchemaID:       s.message.SchemaID,
			DispatchType:   dt,
		},
	})
	if err != nil {
		return mediumResult{}, err
	}
	if len(stack) == 0 {
		return mediumResult{reason: ReasonNoChannel}, nil
	}

	for _, rc := range stack {
		if prev, done := s.attempted[rc.Route.ID]; done {
			if prev.Status == domain.DispatchSuccess {
				return mediumResult{ok: true}, nil
			}
			continue
		}
		ok, err := p.attempt(ctx, s.message, rc, dt, tpl.ID, content, vars)
		if err != nil {
			return mediumResult{}, err
		}
		if ok {
			return mediumResult{ok: true}, nil
		}
	}
	return mediumResult{reason: ReasonChannelsFailed}, nil
}

// resolveTemplate picks the highest-priority eligible assignment naming a
// template for dt, else the schema's active template for dt.
func (p *Processor) resolveTemplate(ctx context.Context, s scope, dt domain.DispatchType) (domain.Template, domain.TemplateAssignment, error) {
	at := s.message.ReferenceTime()
	assignments, err := bus.Ask[service.ListTemplateAssignments, []domain.TemplateAssignment](ctx, p.Queries, domain.SystemActor, service.ListTemplateAssignments{
		TemplateAssignmentQuery: store.TemplateAssignmentQuery{
			BusinessUnitID: &s.message.BusinessUnitID,
			MessageTypeID:  &s.message.MessageTypeID,
			Enabled:        store.Ptr(true),
			At:             &at,
			DispatchType:   &dt,
			Page:           store.Page{Limit: 1},
		},
	})
	if err != nil {
		return domain.Template{}, domain.TemplateAssignment{}, err
	}
	if len(assignments) > 0 {
		a := assignments[0]
		tpl, err := bus.Ask[service.GetTemplate, domain.Template](ctx, p.Queries, domain.SystemActor, service.GetTemplate{ID: *a.TemplateFor(dt)})
		if err != nil {
			return domain.Template{}, domain.TemplateAssignment{}, err
		}
		return tpl, a, nil
	}

	active, err := bus.Ask[service.ListTemplates, []domain.Template](ctx, p.Queries, domain.SystemActor, service.ListTemplates{
		TemplateQuery: store.TemplateQuery{SchemaID: &s.message.SchemaID, DispatchType: &dt, Active: store.Ptr(true), Page: store.Page{Limit: 1}},
	})
	if err != nil {
		return domain.Template{}, domain.TemplateAssignment{}, err
	}
	if len(active) == 0 {
		return domain.Template{}, domain.TemplateAssignment{}, ErrNoTemplate
	}
	return active[0], domain.TemplateAssignment{}, nil
}

// attempt sends over one route and records the outcome. It reports whether
// the provider accepted the message.
func (p *Processor) attempt(ctx context.Context, m domain.Message, rc store.RoutedChannel, dt domain.DispatchType, templateID uuid.UUID, content domain.TemplateContent, vars domain.Vars) (bool, error) {
	pluginID := rc.Connection.PluginID
	log := logging.From(ctx).With("message_id", m.ID.String(), "route_id", rc.Route.ID.String(), "plugin", pluginID)

	record := service.RecordDispatchAttempt{
		MessageID:    m.ID,
		RouteID:      rc.Route.ID,
		ChannelID:    rc.Channel.ID,
		TemplateID:   &templateID,
		DispatchType: dt,
		Status:       domain.DispatchSuccess,
	}

	resp, err := p.send(ctx, m, rc, dt, content, vars)
	if err != nil {
		kind := connector.Classify(err)
		observability.Dispatches.WithLabelValues(pluginID, string(dt), kind.String()).Inc()
		log.Warn("dispatch failed", "kind", kind.String(), "err", err)
		record.Status = domain.DispatchFailed
		record.Error = err.Error()
	} else {
		observability.Dispatches.WithLabelValues(pluginID, string(dt), "ok").Inc()
		record.Reference = resp.Reference
		record.Response = resp.Data
	}

	rec, rerr := bus.Execute[service.RecordDispatchAttempt, service.RecordedDispatch](ctx, p.Commands, domain.SystemActor, record)
	if rerr != nil {
		return false, fmt.Errorf("record attempt on route %s: %w", rc.Route.ID, rerr)
	}
	if !rec.Inserted {
		log.Warn("route already attempted by a concurrent run")
	}
	return err == nil, nil
}

func (p *Processor) send(ctx context.Context, m domain.Message, rc store.RoutedChannel, dt domain.DispatchType, content domain.TemplateContent, vars domain.Vars) (connector.DispatchResponse, error) {
	d, err := p.Plugins.Dispatcher(rc.Connection.PluginID, dt)
	if err != nil {
		return connector.DispatchResponse{}, connector.Unrecoverable(err)
	}

	req := connector.DispatchRequest{
		MessageID:            m.ID,
		ConnectionProperties: rc.Connection.Properties,
		DispatchProperties:   rc.Channel.Properties.Merge(rc.Route.Properties),
		Recipient:            m.Recipient.Address(dt),
		Payload:              m.Payload,
		Vars:                 vars,
	}
	if d.TemplateSupport() != connector.TemplateNone {
		req.Template = &content
		if content.Subject != "" {
			req.Subject = &content.Subject
		}
	}

	timeout := p.DispatchTimeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := d.Dispatch(callCtx, req)
	observability.DispatchLatency.WithLabelValues(rc.Connection.PluginID).Observe(time.Since(start).Seconds())
	return resp, err
}
