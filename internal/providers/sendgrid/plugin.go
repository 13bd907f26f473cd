// Package sendgrid delivers email through the SendGrid v3 mail/send API.
package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"courier/internal/connector"
	"courier/internal/domain"
	"courier/internal/providers"
)

const (
	PluginID       = "sendgrid"
	defaultBaseURL = "https://api.sendgrid.com"
)

type ConnectionConfig struct {
	APIKey  string `json:"api_key" validate:"required"`
	BaseURL string `json:"base_url" validate:"omitempty,url"`
}

type EmailConfig struct {
	FromEmail  string `json:"from_email" validate:"required,email"`
	FromName   string `json:"from_name"`
	ReplyTo    string `json:"reply_to" validate:"omitempty,email"`
	TemplateID string `json:"template_id" validate:"omitempty,startswith=d-"`
}

var (
	connectionConfig = connector.NewConfig[ConnectionConfig](
		connector.Property{Name: "api_key", Type: connector.TypeString, Required: true},
		connector.Property{Name: "base_url", Type: connector.TypeString},
	)
	emailConfig = connector.NewConfig[EmailConfig](
		connector.Property{Name: "from_email", Type: connector.TypeString, Required: true},
		connector.Property{Name: "from_name", Type: connector.TypeString},
		connector.Property{Name: "reply_to", Type: connector.TypeString},
		connector.Property{Name: "template_id", Type: connector.TypeString, Description: "dynamic template used when no courier template is rendered"},
	)
)

type Plugin struct {
	http  *http.Client
	guard *providers.Guard
}

func New(httpClient *http.Client, guard *providers.Guard) *Plugin {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if guard == nil {
		guard = providers.NewGuard(PluginID, providers.GuardConfig{})
	}
	return &Plugin{http: httpClient, guard: guard}
}

func (p *Plugin) ID() string { return PluginID }

func (p *Plugin) ConnectionConfiguration() connector.Configuration { return connectionConfig }

func (p *Plugin) Dispatchers() []connector.Dispatcher {
	return []connector.Dispatcher{&emailDispatcher{p}}
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type personalization struct {
	To                  []address      `json:"to"`
	DynamicTemplateData map[string]any `json:"dynamic_template_data,omitempty"`
}

type mailSend struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	ReplyTo          *address          `json:"reply_to,omitempty"`
	Subject          string            `json:"subject,omitempty"`
	Content          []content         `json:"content,omitempty"`
	TemplateID       string            `json:"template_id,omitempty"`
	CustomArgs       map[string]string `json:"custom_args,omitempty"`
}

type emailDispatcher struct{ p *Plugin }

func (d *emailDispatcher) DispatchType() domain.DispatchType { return domain.DispatchEmail }

func (d *emailDispatcher) TemplateSupport() connector.TemplateSupport {
	return connector.TemplateOptional
}

func (d *emailDispatcher) Configuration() connector.Configuration { return emailConfig }

func (d *emailDispatcher) Dispatch(ctx context.Context, req connector.DispatchRequest) (connector.DispatchResponse, error) {
	conn, err := connectionConfig.Decode(req.ConnectionProperties)
	if err != nil {
		return connector.DispatchResponse{}, connector.Unrecoverable(err)
	}
	cfg, err := emailConfig.Decode(req.DispatchProperties)
	if err != nil {
		return connector.DispatchResponse{}, connector.Unrecoverable(err)
	}
	body, err := buildMail(req, cfg)
	if err != nil {
		return connector.DispatchResponse{}, connector.Unrecoverable(err)
	}

	baseURL := strings.TrimRight(conn.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	var ref string
	err = d.p.guard.Do(ctx, func(ctx context.Context) (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v3/mail/send", bytes.NewReader(body))
		if err != nil {
			return 0, connector.Unrecoverable(err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+conn.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := d.p.http.Do(httpReq)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			return resp.StatusCode, &providers.HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		}
		ref = resp.Header.Get("X-Message-Id")
		return resp.StatusCode, nil
	})
	if err != nil {
		return connector.DispatchResponse{}, err
	}
	data, _ := json.Marshal(map[string]string{"x_message_id": ref})
	return connector.DispatchResponse{Reference: ref, Data: data}, nil
}

// buildMail sends the rendered template when there is one, otherwise the
// configured dynamic template with the payload and vars as its data.
func buildMail(req connector.DispatchRequest, cfg EmailConfig) ([]byte, error) {
	m := mailSend{
		Personalizations: []personalization{{To: []address{{Email: req.Recipient}}}},
		From:             address{Email: cfg.FromEmail, Name: cfg.FromName},
		CustomArgs:       map[string]string{"message_id": req.MessageID.String()},
	}
	if cfg.ReplyTo != "" {
		m.ReplyTo = &address{Email: cfg.ReplyTo}
	}

	switch {
	case req.Template != nil:
		m.Subject = req.Template.Subject
		if req.Subject != nil {
			m.Subject = *req.Subject
		}
		if req.Template.Text != "" {
			m.Content = append(m.Content, content{Type: "text/plain", Value: req.Template.Text})
		}
		if req.Template.HTML != "" {
			m.Content = append(m.Content, content{Type: "text/html", Value: req.Template.HTML})
		}
		if len(m.Content) == 0 {
			return nil, errors.New("sendgrid: rendered template has no body")
		}
	case cfg.TemplateID != "":
		m.TemplateID = cfg.TemplateID
		data := map[string]any{}
		if len(req.Payload) > 0 {
			if err := json.Unmarshal(req.Payload, &data); err != nil {
				return nil, fmt.Errorf("sendgrid: payload is not an object: %w", err)
			}
		}
		if data == nil {
			data = map[string]any{}
		}
		for k, v := range req.Vars {
			if _, ok := data[k]; !ok {
				data[k] = v
			}
		}
		m.Personalizations[0].DynamicTemplateData = data
	default:
		return nil, errors.New("sendgrid: no rendered template and no template_id configured")
	}
	return json.Marshal(m)
}
