package domain

import (
	"encoding/json"
	"maps"
	"regexp"
	"strings"
	"unicode/utf8"
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,63}$`)

// Code is a stable, human readable identifier such as "WINE" or "ORDER_CONFIRM".
type Code string

func NewCode(s string) (Code, error) {
	s = strings.TrimSpace(s)
	if !codePattern.MatchString(s) {
		return "", Invalid("code", "must be 1-64 characters of letters, digits, '_', '.' or '-'")
	}
	return Code(s), nil
}

func (c Code) String() string { return string(c) }

func (c *Code) UnmarshalText(b []byte) error {
	v, err := NewCode(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

type Name string

const maxNameLen = 255

func NewName(s string) (Name, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", Invalid("name", "must not be empty")
	}
	if utf8.RuneCountInString(s) > maxNameLen {
		return "", Invalid("name", "must be at most %d characters", maxNameLen)
	}
	return Name(s), nil
}

func (n Name) String() string { return string(n) }

func (n *Name) UnmarshalText(b []byte) error {
	v, err := NewName(string(b))
	if err != nil {
		return err
	}
	*n = v
	return nil
}

type DispatchType string

const (
	DispatchEmail DispatchType = "email"
	DispatchSMS   DispatchType = "sms"
	DispatchPush  DispatchType = "push"
)

var DispatchTypes = []DispatchType{DispatchEmail, DispatchSMS, DispatchPush}

func ParseDispatchType(s string) (DispatchType, error) {
	switch d := DispatchType(strings.ToLower(strings.TrimSpace(s))); d {
	case DispatchEmail, DispatchSMS, DispatchPush:
		return d, nil
	}
	return "", Invalid("dispatch_type", "unknown dispatch type %q", s)
}

func (d *DispatchType) UnmarshalText(b []byte) error {
	v, err := ParseDispatchType(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Properties is a free-form configuration bag for connections, channels and routes.
type Properties map[string]any

// Merge returns a new bag where keys from override replace keys from p.
func (p Properties) Merge(override Properties) Properties {
	out := make(Properties, len(p)+len(override))
	maps.Copy(out, p)
	maps.Copy(out, override)
	return out
}

// Vars are template variables attached to several entities.
type Vars map[string]any

func (v Vars) Merge(override Vars) Vars {
	out := make(Vars, len(v)+len(override))
	maps.Copy(out, v)
	maps.Copy(out, override)
	return out
}

// MergeVars folds layers left to right; later layers win.
func MergeVars(layers ...Vars) Vars {
	out := Vars{}
	for _, l := range layers {
		maps.Copy(out, l)
	}
	return out
}

// Actor identifies who issued a command. Pipelines use SystemActor.
type Actor string

const SystemActor Actor = "system"

// RawJSON normalises empty payloads to JSON null.
func RawJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(b)
}
