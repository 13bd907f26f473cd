// Package twilio delivers sms through the Twilio Messages API.
package twilio

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"courier/internal/connector"
	"courier/internal/domain"
	"courier/internal/providers"
)

const PluginID = "twilio"

type ConnectionConfig struct {
	AccountSID string `json:"account_sid" validate:"required,startswith=AC"`
	AuthToken  string `json:"auth_token" validate:"required"`
	BaseURL    string `json:"base_url" validate:"omitempty,url"`
}

type SMSConfig struct {
	From                string `json:"from" validate:"required_without=MessagingServiceSID,omitempty,e164"`
	MessagingServiceSID string `json:"messaging_service_sid" validate:"omitempty,startswith=MG"`
	StatusCallbackURL   string `json:"status_callback_url" validate:"omitempty,url"`
}

var (
	connectionConfig = connector.NewConfig[ConnectionConfig](
		connector.Property{Name: "account_sid", Type: connector.TypeString, Required: true},
		connector.Property{Name: "auth_token", Type: connector.TypeString, Required: true},
		connector.Property{Name: "base_url", Type: connector.TypeString, Description: "override for tests and regional edges"},
	)
	smsConfig = connector.NewConfig[SMSConfig](
		connector.Property{Name: "from", Type: connector.TypeString, Description: "E.164 sender, unless messaging_service_sid is set"},
		connector.Property{Name: "messaging_service_sid", Type: connector.TypeString},
		connector.Property{Name: "status_callback_url", Type: connector.TypeString},
	)
)

type Plugin struct {
	http  *http.Client
	guard *providers.Guard
}

func New(httpClient *http.Client, guard *providers.Guard) *Plugin {
	if guard == nil {
		guard = providers.NewGuard(PluginID, providers.GuardConfig{})
	}
	return &Plugin{http: httpClient, guard: guard}
}

func (p *Plugin) ID() string { return PluginID }

func (p *Plugin) ConnectionConfiguration() connector.Configuration { return connectionConfig }

func (p *Plugin) Dispatchers() []connector.Dispatcher { return []connector.Dispatcher{&smsDispatcher{p}} }

type smsDispatcher struct{ p *Plugin }

func (d *smsDispatcher) DispatchType() domain.DispatchType { return domain.DispatchSMS }

func (d *smsDispatcher) TemplateSupport() connector.TemplateSupport {
	return connector.TemplateMandatory
}

func (d *smsDispatcher) Configuration() connector.Configuration { return smsConfig }

func (d *smsDispatcher) Dispatch(ctx context.Context, req connector.DispatchRequest) (connector.DispatchResponse, error) {
	conn, err := connectionConfig.Decode(req.ConnectionProperties)
	if err != nil {
		return connector.DispatchResponse{}, connector.Unrecoverable(err)
	}
	cfg, err := smsConfig.Decode(req.DispatchProperties)
	if err != nil {
		return connector.DispatchResponse{}, connector.Unrecoverable(err)
	}
	if req.Template == nil || strings.TrimSpace(req.Template.Text) == "" {
		return connector.DispatchResponse{}, connector.Unrecoverable(errors.New("twilio: sms needs a rendered text template"))
	}

	client := &Client{AccountSID: conn.AccountSID, AuthToken: conn.AuthToken, HTTP: d.p.http, BaseURL: conn.BaseURL}
	var (
		out SendResponse
		raw []byte
	)
	err = d.p.guard.Do(ctx, func(ctx context.Context) (int, error) {
		var status int
		var err error
		out, status, raw, err = client.SendSMS(ctx, SendRequest{
			To:                  req.Recipient,
			Body:                req.Template.Text,
			From:                cfg.From,
			MessagingServiceSID: cfg.MessagingServiceSID,
			StatusCallbackURL:   cfg.StatusCallbackURL,
		})
		return status, err
	})
	if err != nil {
		return connector.DispatchResponse{}, err
	}
	return connector.DispatchResponse{Reference: out.Sid, Data: raw}, nil
}
