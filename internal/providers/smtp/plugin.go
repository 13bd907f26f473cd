// Package smtp delivers email to an SMTP relay.
package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"courier/internal/connector"
	"courier/internal/domain"
	"courier/internal/observability"
)

const PluginID = "smtp"

type ConnectionConfig struct {
	Host     string `json:"host" validate:"required,hostname|ip"`
	Port     int    `json:"port" validate:"required,min=1,max=65535"`
	Username string `json:"username" validate:"required_with=Password"`
	Password string `json:"password"`
}

type EmailConfig struct {
	From     string `json:"from" validate:"required,email"`
	FromName string `json:"from_name"`
	ReplyTo  string `json:"reply_to" validate:"omitempty,email"`
}

var (
	connectionConfig = connector.NewConfig[ConnectionConfig](
		connector.Property{Name: "host", Type: connector.TypeString, Required: true},
		connector.Property{Name: "port", Type: connector.TypeNumber, Required: true},
		connector.Property{Name: "username", Type: connector.TypeString},
		connector.Property{Name: "password", Type: connector.TypeString},
	)
	emailConfig = connector.NewConfig[EmailConfig](
		connector.Property{Name: "from", Type: connector.TypeString, Required: true},
		connector.Property{Name: "from_name", Type: connector.TypeString},
		connector.Property{Name: "reply_to", Type: connector.TypeString},
	)
)

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Plugin struct {
	send SendFunc
	now  func() time.Time
}

// New returns the plugin. A nil send uses smtp.SendMail, which upgrades to
// STARTTLS when the server offers it.
func New(send SendFunc) *Plugin {
	if send == nil {
		send = smtp.SendMail
	}
	return &Plugin{send: send, now: time.Now}
}

func (p *Plugin) ID() string { return PluginID }

func (p *Plugin) ConnectionConfiguration() connector.Configuration { return connectionConfig }

func (p *Plugin) Dispatchers() []connector.Dispatcher {
	return []connector.Dispatcher{&emailDispatcher{p}}
}

type emailDispatcher struct{ p *Plugin }

func (d *emailDispatcher) DispatchType() domain.DispatchType { return domain.DispatchEmail }

func (d *emailDispatcher) TemplateSupport() connector.TemplateSupport {
	return connector.TemplateMandatory
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
	if req.Template == nil {
		return connector.DispatchResponse{}, connector.Unrecoverable(errors.New("smtp: email needs a rendered template"))
	}

	msgID := fmt.Sprintf("<%s@%s>", req.MessageID, conn.Host)
	msg, err := compose(req, cfg, msgID, d.p.now())
	if err != nil {
		return connector.DispatchResponse{}, connector.Unrecoverable(err)
	}

	var auth smtp.Auth
	if conn.Username != "" {
		auth = smtp.PlainAuth("", conn.Username, conn.Password, conn.Host)
	}
	addr := net.JoinHostPort(conn.Host, strconv.Itoa(conn.Port))

	// smtp.SendMail has no context; run it aside so a cancelled dispatch returns.
	done := make(chan error, 1)
	go func() { done <- d.p.send(addr, auth, cfg.From, []string{req.Recipient}, msg) }()
	select {
	case <-ctx.Done():
		observability.ProviderCalls.WithLabelValues(PluginID, "error", "0").Inc()
		return connector.DispatchResponse{}, connector.Recoverable(ctx.Err())
	case err = <-done:
	}
	if err != nil {
		observability.ProviderCalls.WithLabelValues(PluginID, "error", replyCode(err)).Inc()
		return connector.DispatchResponse{}, classify(err)
	}
	observability.ProviderCalls.WithLabelValues(PluginID, "ok", "250").Inc()
	return connector.DispatchResponse{Reference: msgID}, nil
}

// classify maps SMTP reply codes: 4xx is transient, 5xx permanent. Anything
// without a reply code is a connection problem.
func classify(err error) error {
	var te *textproto.Error
	if errors.As(err, &te) && te.Code >= 500 {
		return connector.Unrecoverable(err)
	}
	return connector.Recoverable(err)
}

func replyCode(err error) string {
	var te *textproto.Error
	if errors.As(err, &te) {
		return strconv.Itoa(te.Code)
	}
	return "0"
}

func compose(req connector.DispatchRequest, cfg EmailConfig, msgID string, now time.Time) ([]byte, error) {
	subject := req.Template.Subject
	if req.Subject != nil {
		subject = *req.Subject
	}
	if req.Template.Text == "" && req.Template.HTML == "" {
		return nil, errors.New("smtp: rendered template has no body")
	}
	to, err := mail.ParseAddress(req.Recipient)
	if err != nil {
		return nil, fmt.Errorf("smtp: recipient: %w", err)
	}
	from := &mail.Address{Name: cfg.FromName, Address: cfg.From}

	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", from.String())
	header("To", to.String())
	if cfg.ReplyTo != "" {
		header("Reply-To", cfg.ReplyTo)
	}
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", msgID)
	header("MIME-Version", "1.0")

	mw := multipart.NewWriter(&buf)
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")
	for _, part := range []struct{ ctype, body string }{
		{"text/plain", req.Template.Text},
		{"text/html", req.Template.HTML},
	} {
		if part.body == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.ctype + "; charset=utf-8"},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.body)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
