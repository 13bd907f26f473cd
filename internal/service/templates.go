package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"courier/internal/bus"
	"courier/internal/domain"
	"courier/internal/render"
	"courier/internal/store"
)

type CreateTemplate struct {
	SchemaID     uuid.UUID              `json:"schema_id"`
	DispatchType domain.DispatchType    `json:"dispatch_type"`
	Name         domain.Name            `json:"name"`
	Content      domain.TemplateContent `json:"content"`
	Vars         domain.Vars            `json:"vars"`
	Active       bool                   `json:"active"`
}

func (CreateTemplate) CommandName() string { return "template.create" }

type UpdateTemplate struct {
	ID      uuid.UUID               `json:"id"`
	Name    *domain.Name            `json:"name,omitempty"`
	Content *domain.TemplateContent `json:"content,omitempty"`
	Vars    *domain.Vars            `json:"vars,omitempty"`
}

func (UpdateTemplate) CommandName() string { return "template.update" }

// ActivateTemplate makes the template the only active one for its schema and
// medium.
type ActivateTemplate struct {
	ID uuid.UUID `json:"id"`
}

func (ActivateTemplate) CommandName() string { return "template.activate" }

type CreateTemplateAssignment struct {
	BusinessUnitID  uuid.UUID   `json:"business_unit_id"`
	MessageTypeID   uuid.UUID   `json:"message_type_id"`
	EmailTemplateID *uuid.UUID  `json:"email_template_id,omitempty"`
	SMSTemplateID   *uuid.UUID  `json:"sms_template_id,omitempty"`
	PushTemplateID  *uuid.UUID  `json:"push_template_id,omitempty"`
	Vars            domain.Vars `json:"vars"`
	Priority        int         `json:"priority"`
	StartAt         *time.Time  `json:"start_at,omitempty"`
	EndAt           *time.Time  `json:"end_at,omitempty"`
	Enabled         *bool       `json:"enabled,omitempty"`
}

func (CreateTemplateAssignment) CommandName() string { return "template_assignment.create" }

// UpdateTemplateAssignment replaces the fields that are present. Template ids
// can be swapped but not cleared.
type UpdateTemplateAssignment struct {
	ID              uuid.UUID    `json:"id"`
	EmailTemplateID *uuid.UUID   `json:"email_template_id,omitempty"`
	SMSTemplateID   *uuid.UUID   `json:"sms_template_id,omitempty"`
	PushTemplateID  *uuid.UUID   `json:"push_template_id,omitempty"`
	Vars            *domain.Vars `json:"vars,omitempty"`
	Priority        *int         `json:"priority,omitempty"`
	StartAt         *time.Time   `json:"start_at,omitempty"`
	EndAt           *time.Time   `json:"end_at,omitempty"`
	Enabled         *bool        `json:"enabled,omitempty"`
}

func (UpdateTemplateAssignment) CommandName() string { return "template_assignment.update" }

type DeleteTemplateAssignment struct {
	ID uuid.UUID `json:"id"`
}

func (DeleteTemplateAssignment) CommandName() string { return "template_assignment.delete" }

type GetTemplate struct{ ID uuid.UUID }

func (GetTemplate) QueryName() string { return "template.get" }

type ListTemplates struct{ store.TemplateQuery }

func (ListTemplates) QueryName() string { return "template.list" }

type GetTemplateAssignment struct{ ID uuid.UUID }

func (GetTemplateAssignment) QueryName() string { return "template_assignment.get" }

type ListTemplateAssignments struct{ store.TemplateAssignmentQuery }

func (ListTemplateAssignments) QueryName() string { return "template_assignment.list" }

func registerTemplates(cb *bus.CommandBus, qb *bus.QueryBus) {
	bus.RegisterCommand(cb, bus.Emits(createTemplate, func(_ CreateTemplate, t domain.Template) (domain.EventDraft, bool) {
		return event(domain.EventTemplateCreated, t.ID, t)
	}))
	bus.RegisterCommand(cb, bus.Emits(updateTemplate, func(_ UpdateTemplate, t domain.Template) (domain.EventDraft, bool) {
		return event(domain.EventTemplateUpdated, t.ID, t)
	}))
	bus.RegisterCommand(cb, bus.Emits(activateTemplate, func(_ ActivateTemplate, t domain.Template) (domain.EventDraft, bool) {
		return event(domain.EventTemplateActivated, t.ID, t)
	}))
	bus.RegisterCommand(cb, bus.Emits(createTemplateAssignment, func(_ CreateTemplateAssignment, a domain.TemplateAssignment) (domain.EventDraft, bool) {
		return event(domain.EventTemplateAssignmentCreated, a.ID, a)
	}))
	bus.RegisterCommand(cb, bus.Emits(updateTemplateAssignment, func(_ UpdateTemplateAssignment, a domain.TemplateAssignment) (domain.EventDraft, bool) {
		return event(domain.EventTemplateAssignmentUpdated, a.ID, a)
	}))
	bus.RegisterCommand(cb, bus.Emits(deleteTemplateAssignment, func(_ DeleteTemplateAssignment, a domain.TemplateAssignment) (domain.EventDraft, bool) {
		return event(domain.EventTemplateAssignmentDeleted, a.ID, a)
	}))

	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q GetTemplate) (domain.Template, error) {
		return hc.Tx.GetTemplate(ctx, q.ID)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q ListTemplates) ([]domain.Template, error) {
		return hc.Tx.FindTemplates(ctx, q.TemplateQuery)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q GetTemplateAssignment) (domain.TemplateAssignment, error) {
		return hc.Tx.GetTemplateAssignment(ctx, q.ID)
	})
	bus.RegisterQuery(qb, func(ctx context.Context, hc bus.HandlerContext, q ListTemplateAssignments) ([]domain.TemplateAssignment, error) {
		return hc.Tx.FindTemplateAssignments(ctx, q.TemplateAssignmentQuery)
	})
}

func checkContent(dt domain.DispatchType, c domain.TemplateContent) error {
	if err := c.ValidateFor(dt); err != nil {
		return err
	}
	return render.Check(c)
}

func createTemplate(ctx context.Context, hc bus.HandlerContext, cmd CreateTemplate) (domain.Template, error) {
	dt, err := domain.ParseDispatchType(string(cmd.DispatchType))
	if err != nil {
		return domain.Template{}, err
	}
	if err := joinErrs(checkName(cmd.Name), checkContent(dt, cmd.Content)); err != nil {
		return domain.Template{}, err
	}
	if _, err := hc.Tx.GetSchema(ctx, cmd.SchemaID); err != nil {
		return domain.Template{}, err
	}
	t := domain.Template{
		ID:           uuid.New(),
		SchemaID:     cmd.SchemaID,
		DispatchType: dt,
		Name:         cmd.Name,
		Content:      cmd.Content,
		Vars:         orEmpty(cmd.Vars),
		Active:       cmd.Active,
		CreatedAt:    hc.Now,
		UpdatedAt:    hc.Now,
	}
	if t.Active {
		if err := hc.Tx.DeactivateTemplates(ctx, t.SchemaID, dt, t.ID); err != nil {
			return domain.Template{}, err
		}
	}
	if err := hc.Tx.InsertTemplate(ctx, t); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

func updateTemplate(ctx context.Context, hc bus.HandlerContext, cmd UpdateTemplate) (domain.Template, error) {
	t, err := hc.Tx.GetTemplate(ctx, cmd.ID)
	if err != nil {
		return t, err
	}
	if cmd.Name != nil {
		if err := checkName(*cmd.Name); err != nil {
			return t, err
		}
		t.Name = *cmd.Name
	}
	if cmd.Content != nil {
		if err := checkContent(t.DispatchType, *cmd.Content); err != nil {
			return t, err
		}
		t.Content = *cmd.Content
	}
	if cmd.Vars != nil {
		t.Vars = orEmpty(*cmd.Vars)
	}
	t.UpdatedAt = hc.Now
	return t, hc.Tx.UpdateTemplate(ctx, t)
}

func activateTemplate(ctx context.Context, hc bus.HandlerContext, cmd ActivateTemplate) (domain.Template, error) {
	t, err := hc.Tx.GetTemplate(ctx, cmd.ID)
	if err != nil {
		return t, err
	}
	if err := hc.Tx.DeactivateTemplates(ctx, t.SchemaID, t.DispatchType, t.ID); err != nil {
		return t, err
	}
	t.Active = true
	t.UpdatedAt = hc.Now
	return t, hc.Tx.UpdateTemplate(ctx, t)
}

// checkAssignmentTemplate verifies that id names a template of medium dt that
// belongs to a schema of the message type.
func checkAssignmentTemplate(ctx context.Context, q store.Querier, field string, id *uuid.UUID, dt domain.DispatchType, messageTypeID uuid.UUID) error {
	if id == nil {
		return nil
	}
	t, err := q.GetTemplate(ctx, *id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Invalid(field, "template %s does not exist", *id)
		}
		return err
	}
	if t.DispatchType != dt {
		return domain.Invalid(field, "template %s is a %s template", *id, t.DispatchType)
	}
	s, err := q.GetSchema(ctx, t.SchemaID)
	if err != nil {
		return err
	}
	if s.MessageTypeID != messageTypeID {
		return domain.Invalid(field, "template %s belongs to another message type", *id)
	}
	return nil
}

func checkAssignment(ctx context.Context, q store.Querier, a domain.TemplateAssignment) error {
	var errs []error
	if a.EmailTemplateID == nil && a.SMSTemplateID == nil && a.PushTemplateID == nil {
		errs = append(errs, domain.Invalid("templates", "at least one template id is required"))
	}
	if a.EndAt != nil && !a.EndAt.After(a.StartAt) {
		errs = append(errs, domain.Invalid("end_at", "must be after start_at"))
	}
	errs = append(errs,
		checkAssignmentTemplate(ctx, q, "email_template_id", a.EmailTemplateID, domain.DispatchEmail, a.MessageTypeID),
		checkAssignmentTemplate(ctx, q, "sms_template_id", a.SMSTemplateID, domain.DispatchSMS, a.MessageTypeID),
		checkAssignmentTemplate(ctx, q, "push_template_id", a.PushTemplateID, domain.DispatchPush, a.MessageTypeID),
	)
	return joinErrs(errs...)
}

func createTemplateAssignment(ctx context.Context, hc bus.HandlerContext, cmd CreateTemplateAssignment) (domain.TemplateAssignment, error) {
	mt, err := hc.Tx.GetMessageType(ctx, cmd.MessageTypeID)
	if err != nil {
		return domain.TemplateAssignment{}, err
	}
	if mt.BusinessUnitID != cmd.BusinessUnitID {
		return domain.TemplateAssignment{}, domain.Invalid("message_type_id", "message type belongs to another business unit")
	}
	a := domain.TemplateAssignment{
		ID:              uuid.New(),
		BusinessUnitID:  cmd.BusinessUnitID,
		MessageTypeID:   cmd.MessageTypeID,
		EmailTemplateID: cmd.EmailTemplateID,
		SMSTemplateID:   cmd.SMSTemplateID,
		PushTemplateID:  cmd.PushTemplateID,
		Vars:            orEmpty(cmd.Vars),
		Priority:        cmd.Priority,
		StartAt:         hc.Now,
		EndAt:           cmd.EndAt,
		Enabled:         boolOr(cmd.Enabled, true),
		CreatedAt:       hc.Now,
		UpdatedAt:       hc.Now,
	}
	if cmd.StartAt != nil {
		a.StartAt = cmd.StartAt.UTC()
	}
	if err := checkAssignment(ctx, hc.Tx, a); err != nil {
		return domain.TemplateAssignment{}, err
	}
	if err := hc.Tx.InsertTemplateAssignment(ctx, a); err != nil {
		return domain.TemplateAssignment{}, err
	}
	return a, nil
}

func updateTemplateAssignment(ctx context.Context, hc bus.HandlerContext, cmd UpdateTemplateAssignment) (domain.TemplateAssignment, error) {
	a, err := hc.Tx.GetTemplateAssignment(ctx, cmd.ID)
	if err != nil {
		return a, err
	}
	if cmd.EmailTemplateID != nil {
		a.EmailTemplateID = cmd.EmailTemplateID
	}
	if cmd.SMSTemplateID != nil {
		a.SMSTemplateID = cmd.SMSTemplateID
	}
	if cmd.PushTemplateID != nil {
		a.PushTemplateID = cmd.PushTemplateID
	}
	if cmd.Vars != nil {
		a.Vars = orEmpty(*cmd.Vars)
	}
	if cmd.Priority != nil {
		a.Priority = *cmd.Priority
	}
	if cmd.StartAt != nil {
		a.StartAt = cmd.StartAt.UTC()
	}
	if cmd.EndAt != nil {
		end := cmd.EndAt.UTC()
		a.EndAt = &end
	}
	a.Enabled = boolOr(cmd.Enabled, a.Enabled)
	if err := checkAssignment(ctx, hc.Tx, a); err != nil {
		return a, err
	}
	a.UpdatedAt = hc.Now
	return a, hc.Tx.UpdateTemplateAssignment(ctx, a)
}

func deleteTemplateAssignment(ctx context.Context, hc bus.HandlerContext, cmd DeleteTemplateAssignment) (domain.TemplateAssignment, error) {
	a, err := hc.Tx.GetTemplateAssignment(ctx, cmd.ID)
	if err != nil {
		return a, err
	}
	return a, hc.Tx.DeleteTemplateAssignment(ctx, a.ID)
}
