// Package plugins assembles the connector registry shared by the API, which
// validates properties against it, and the worker, which dispatches through it.
package plugins

import (
	"net/http"
	"time"

	"courier/internal/config"
	"courier/internal/connector"
	"courier/internal/providers"
	"courier/internal/providers/logstub"
	"courier/internal/providers/sendgrid"
	"courier/internal/providers/smtp"
	"courier/internal/providers/twilio"
	"courier/internal/providers/webhook"
)

func Registry(cfg config.ProviderConfig) *connector.Registry {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	return connector.NewRegistry(
		logstub.New(),
		smtp.New(nil),
		sendgrid.New(hc, providers.NewGuard(sendgrid.PluginID, cfg.Sendgrid())),
		twilio.New(hc, providers.NewGuard(twilio.PluginID, cfg.Twilio())),
		webhook.New(hc, providers.NewGuard(webhook.PluginID, cfg.Webhook())),
	)
}
