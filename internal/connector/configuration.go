package connector

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"courier/internal/domain"
)

type PropertyType string

const (
	TypeString  PropertyType = "string"
	TypeNumber  PropertyType = "number"
	TypeBoolean PropertyType = "boolean"
)

// Property declares one configuration key a plugin understands.
type Property struct {
	Name        string       `json:"name"`
	Type        PropertyType `json:"type"`
	Required    bool         `json:"required"`
	Multiple    bool         `json:"multiple"`
	Description string       `json:"description,omitempty"`
}

type Configuration interface {
	Properties() []Property
	Validate(props domain.Properties) error
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Config is a Configuration backed by a Go struct. The declared properties are
// checked first, then the bag is decoded into T and validated with the
// `validate` struct tags.
type Config[T any] struct {
	props []Property
}

func NewConfig[T any](props ...Property) *Config[T] {
	return &Config[T]{props: props}
}

func (c *Config[T]) Properties() []Property {
	out := make([]Property, len(c.props))
	copy(out, c.props)
	return out
}

func (c *Config[T]) Validate(props domain.Properties) error {
	_, err := c.Decode(props)
	return err
}

// Decode validates props and returns them as T.
func (c *Config[T]) Decode(props domain.Properties) (T, error) {
	var out T
	if err := c.checkDeclared(props); err != nil {
		return out, err
	}
	b, err := json.Marshal(props)
	if err != nil {
		return out, domain.Invalid("properties", "cannot encode: %v", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, domain.Invalid("properties", "cannot decode: %v", err)
	}
	if err := validate.Struct(&out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			ve := &domain.ValidationError{}
			for _, fe := range verrs {
				ve.Fields = append(ve.Fields, domain.FieldError{
					Field:   fe.Field(),
					Message: fmt.Sprintf("failed %q validation", fe.Tag()),
				})
			}
			return out, ve
		}
		return out, domain.Invalid("properties", "%v", err)
	}
	return out, nil
}

func (c *Config[T]) checkDeclared(props domain.Properties) error {
	ve := &domain.ValidationError{}
	known := make(map[string]Property, len(c.props))
	for _, p := range c.props {
		known[p.Name] = p
		v, ok := props[p.Name]
		if !ok || v == nil || v == "" {
			if p.Required {
				ve.Fields = append(ve.Fields, domain.FieldError{Field: p.Name, Message: "is required"})
			}
			continue
		}
		if msg := checkValue(p, v); msg != "" {
			ve.Fields = append(ve.Fields, domain.FieldError{Field: p.Name, Message: msg})
		}
	}
	unknown := make([]string, 0)
	for k := range props {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		ve.Fields = append(ve.Fields, domain.FieldError{Field: k, Message: "unknown property"})
	}
	if len(ve.Fields) > 0 {
		return ve
	}
	return nil
}

func checkValue(p Property, v any) string {
	if p.Multiple {
		items, ok := v.([]any)
		if !ok {
			rv := reflect.ValueOf(v)
			if rv.Kind() != reflect.Slice {
				return "must be a list of " + string(p.Type)
			}
			items = make([]any, rv.Len())
			for i := range items {
				items[i] = rv.Index(i).Interface()
			}
		}
		for _, it := range items {
			if !matchesType(p.Type, it) {
				return "must be a list of " + string(p.Type)
			}
		}
		return ""
	}
	if !matchesType(p.Type, v) {
		return "must be a " + string(p.Type)
	}
	return ""
}

func matchesType(t PropertyType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
			return true
		}
	}
	return false
}

// Empty is the configuration of plugins that take no properties.
var Empty Configuration = NewConfig[struct{}]()
