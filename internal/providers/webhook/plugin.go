// Package webhook delivers push notifications as signed JSON POSTs to an
// endpoint owned by the customer.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courier/internal/connector"
	"courier/internal/domain"
	"courier/internal/providers"
)

const (
	PluginID        = "webhook"
	SignatureHeader = "X-Courier-Signature"
	TimestampHeader = "X-Courier-Timestamp"
)

type ConnectionConfig struct {
	URL    string `json:"url" validate:"required,http_url"`
	Secret string `json:"secret" validate:"omitempty,min=16"`
}

type PushConfig struct {
	Topic string `json:"topic" validate:"omitempty,max=128"`
}

var (
	connectionConfig = connector.NewConfig[ConnectionConfig](
		connector.Property{Name: "url", Type: connector.TypeString, Required: true},
		connector.Property{Name: "secret", Type: connector.TypeString, Description: "HMAC-SHA256 key for the signature header"},
	)
	pushConfig = connector.NewConfig[PushConfig](
		connector.Property{Name: "topic", Type: connector.TypeString},
	)
)

// Payload is the body POSTed for each dispatch.
type Payload struct {
	MessageID string          `json:"message_id"`
	Recipient string          `json:"recipient"`
	Topic     string          `json:"topic,omitempty"`
	Title     string          `json:"title,omitempty"`
	Body      string          `json:"body,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Vars      domain.Vars     `json:"vars,omitempty"`
}

type Plugin struct {
	http  *http.Client
	guard *providers.Guard
	now   func() time.Time
}

func New(httpClient *http.Client, guard *providers.Guard) *Plugin {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if guard == nil {
		guard = providers.NewGuard(PluginID, providers.GuardConfig{})
	}
	return &Plugin{http: httpClient, guard: guard, now: time.Now}
}

func (p *Plugin) ID() string { return PluginID }

func (p *Plugin) ConnectionConfiguration() connector.Configuration { return connectionConfig }

func (p *Plugin) Dispatchers() []connector.Dispatcher {
	return []connector.Dispatcher{&pushDispatcher{p}}
}

// Sign returns the hex HMAC-SHA256 of timestamp + "." + body.
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify is the receiving side of Sign.
func Verify(secret string, ts int64, body []byte, signature string) bool {
	want := Sign(secret, ts, body)
	return hmac.Equal([]byte(want), []byte(strings.TrimPrefix(signature, "sha256=")))
}

type pushDispatcher struct{ p *Plugin }

func (d *pushDispatcher) DispatchType() domain.DispatchType { return domain.DispatchPush }

func (d *pushDispatcher) TemplateSupport() connector.TemplateSupport {
	return connector.TemplateOptional
}

func (d *pushDispatcher) Configuration() connector.Configuration { return pushConfig }

func (d *pushDispatcher) Dispatch(ctx context.Context, req connector.DispatchRequest) (connector.DispatchResponse, error) {
	conn, err := connectionConfig.Decode(req.ConnectionProperties)
	if err != nil {
		return connector.DispatchResponse{}, connector.Unrecoverable(err)
	}
	cfg, err := pushConfig.Decode(req.DispatchProperties)
	if err != nil {
		return connector.DispatchResponse{}, connector.Unrecoverable(err)
	}

	payload := Payload{
		MessageID: req.MessageID.String(),
		Recipient: req.Recipient,
		Topic:     cfg.Topic,
		Data:      req.Payload,
		Vars:      req.Vars,
	}
	if req.Template != nil {
		payload.Title = req.Template.Title
		payload.Body = req.Template.Body
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return connector.DispatchResponse{}, connector.Unrecoverable(err)
	}

	var answer []byte
	err = d.p.guard.Do(ctx, func(ctx context.Context) (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.URL, bytes.NewReader(body))
		if err != nil {
			return 0, connector.Unrecoverable(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Idempotency-Key", req.MessageID.String())
		if conn.Secret != "" {
			ts := d.p.now().Unix()
			httpReq.Header.Set(TimestampHeader, strconv.FormatInt(ts, 10))
			httpReq.Header.Set(SignatureHeader, "sha256="+Sign(conn.Secret, ts, body))
		}

		resp, err := d.p.http.Do(httpReq)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		answer, _ = io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp.StatusCode, &providers.HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(answer))}
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return connector.DispatchResponse{}, err
	}

	out := connector.DispatchResponse{Reference: req.MessageID.String()}
	if json.Valid(answer) {
		out.Data = answer
		var ack struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(answer, &ack) == nil && ack.ID != "" {
			out.Reference = ack.ID
		}
	}
	return out, nil
}
