// Package connector defines how delivery providers plug into courier: the
// configuration they accept per connection and per medium, and the function
// that hands a rendered message to the provider.
package connector

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"courier/internal/domain"
)

type TemplateSupport int

const (
	// TemplateMandatory dispatchers cannot send without a rendered template.
	TemplateMandatory TemplateSupport = iota
	TemplateOptional
	TemplateNone
)

func (t TemplateSupport) String() string {
	switch t {
	case TemplateMandatory:
		return "mandatory"
	case TemplateOptional:
		return "optional"
	case TemplateNone:
		return "none"
	}
	return "unknown"
}

func (t TemplateSupport) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

type Plugin interface {
	ID() string
	ConnectionConfiguration() Configuration
	Dispatchers() []Dispatcher
}

type Dispatcher interface {
	DispatchType() domain.DispatchType
	TemplateSupport() TemplateSupport
	Configuration() Configuration
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResponse, error)
}

type DispatchRequest struct {
	MessageID            uuid.UUID
	ConnectionProperties domain.Properties
	// DispatchProperties are the channel properties with route properties merged on top.
	DispatchProperties domain.Properties
	Template           *domain.TemplateContent
	Recipient          string
	Payload            json.RawMessage
	Vars               domain.Vars
	Subject            *string
}

// DispatchResponse is stored verbatim on the attempt row.
type DispatchResponse struct {
	Reference string
	Data      json.RawMessage
}
