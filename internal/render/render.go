// Package render fills template content with a message payload and its merged
// vars. Plain fields use text/template; the html field uses html/template so
// payload values are escaped.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"text/template"
	"unicode/utf8"

	"courier/internal/domain"
)

// Data is what templates see: {{.Payload.order_id}} and {{.Vars.brand}}.
type Data struct {
	Payload any
	Vars    domain.Vars
}

// NewData decodes the raw payload so templates can walk into it.
func NewData(payload json.RawMessage, vars domain.Vars) (Data, error) {
	d := Data{Vars: vars}
	if d.Vars == nil {
		d.Vars = domain.Vars{}
	}
	if len(payload) == 0 {
		return d, nil
	}
	if err := json.Unmarshal(payload, &d.Payload); err != nil {
		return d, fmt.Errorf("decode payload: %w", err)
	}
	return d, nil
}

var funcs = map[string]any{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"title": func(s string) string {
		r, n := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError {
			return s
		}
		return strings.ToUpper(string(r)) + s[n:]
	},
	"default": func(def, v any) any {
		if v == nil {
			return def
		}
		if s, ok := v.(string); ok && s == "" {
			return def
		}
		return v
	},
}

// Content renders every non-empty field of c.
func Content(c domain.TemplateContent, data Data) (domain.TemplateContent, error) {
	var out domain.TemplateContent
	var err error
	if out.Subject, err = text("subject", c.Subject, data); err != nil {
		return out, err
	}
	if out.HTML, err = html("html", c.HTML, data); err != nil {
		return out, err
	}
	if out.Text, err = text("text", c.Text, data); err != nil {
		return out, err
	}
	if out.Title, err = text("title", c.Title, data); err != nil {
		return out, err
	}
	if out.Body, err = text("body", c.Body, data); err != nil {
		return out, err
	}
	return out, nil
}

// Check parses every field without executing it.
func Check(c domain.TemplateContent) error {
	fields := []struct{ name, src string }{
		{"subject", c.Subject}, {"text", c.Text}, {"title", c.Title}, {"body", c.Body},
	}
	for _, f := range fields {
		if _, err := template.New(f.name).Funcs(funcs).Parse(f.src); err != nil {
			return domain.Invalid("content."+f.name, "%v", err)
		}
	}
	if _, err := htmltemplate.New("html").Funcs(funcs).Parse(c.HTML); err != nil {
		return domain.Invalid("content.html", "%v", err)
	}
	return nil
}

// noValue is what text/template prints for a key missing from a map, which
// missingkey=zero does not cover.
const noValue = "<no value>"

func text(name, src string, data Data) (string, error) {
	if src == "" {
		return "", nil
	}
	t, err := template.New(name).Option("missingkey=zero").Funcs(funcs).Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.ReplaceAll(buf.String(), noValue, ""), nil
}

func html(name, src string, data Data) (string, error) {
	if src == "" {
		return "", nil
	}
	t, err := htmltemplate.New(name).Option("missingkey=zero").Funcs(funcs).Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
