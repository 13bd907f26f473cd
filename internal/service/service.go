// Package service holds the command and query handlers. Each handler works
// only through the transaction in its bus.HandlerContext.
package service

import (
	"courier/internal/bus"
	"courier/internal/domain"
)

// Register binds every command and query handler. Call once at startup.
func Register(cb *bus.CommandBus, qb *bus.QueryBus) {
	registerCatalog(cb, qb)
	registerDelivery(cb, qb)
	registerTemplates(cb, qb)
	registerMessages(cb, qb)
}

func event(t domain.EventType, id interface{ String() string }, payload any) (domain.EventDraft, bool) {
	return domain.EventDraft{EntityID: id.String(), Type: t, Payload: payload}, true
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func checkCode(c domain.Code) error {
	_, err := domain.NewCode(string(c))
	return err
}

func checkName(n domain.Name) error {
	_, err := domain.NewName(string(n))
	return err
}

// joinErrs merges validation errors so the caller sees every bad field at once.
// Non-validation errors short-circuit.
func joinErrs(errs ...error) error {
	var out *domain.ValidationError
	for _, err := range errs {
		if err == nil {
			continue
		}
		ve, ok := err.(*domain.ValidationError)
		if !ok {
			return err
		}
		if out == nil {
			out = &domain.ValidationError{}
		}
		out.Fields = append(out.Fields, ve.Fields...)
	}
	if out == nil {
		return nil
	}
	return out
}
