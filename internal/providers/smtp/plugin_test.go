package smtp

import (
	"context"
	"errors"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/connector"
	"courier/internal/domain"
)

type sent struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  []byte
}

func request() connector.DispatchRequest {
	subject := "Your WINE order W-42"
	return connector.DispatchRequest{
		MessageID:            uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		ConnectionProperties: domain.Properties{"host": "mail.example.com", "port": 587, "username": "u", "password": "p"},
		DispatchProperties:   domain.Properties{"from": "shop@example.com", "from_name": "Wine Shop"},
		Template:             &domain.TemplateContent{Subject: "raw", Text: "Total: 99.5 EUR", HTML: "<b>Total</b>"},
		Subject:              &subject,
		Recipient:            "jane@example.com",
	}
}

func TestDispatchComposesMultipartMail(t *testing.T) {
	var got sent
	p := New(func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		got = sent{addr, a, from, to, msg}
		return nil
	})

	resp, err := p.Dispatchers()[0].Dispatch(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "<22222222-2222-2222-2222-222222222222@mail.example.com>", resp.Reference)

	assert.Equal(t, "mail.example.com:587", got.addr)
	assert.NotNil(t, got.auth)
	assert.Equal(t, "shop@example.com", got.from)
	assert.Equal(t, []string{"jane@example.com"}, got.to)

	m, err := mail.ReadMessage(strings.NewReader(string(got.msg)))
	require.NoError(t, err)
	assert.Equal(t, "Your WINE order W-42", decodeHeader(t, m.Header.Get("Subject")))
	assert.Equal(t, resp.Reference, m.Header.Get("Message-ID"))
	assert.Contains(t, m.Header.Get("From"), "shop@example.com")

	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(m.Body, params["boundary"])
	var types []string
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		types = append(types, part.Header.Get("Content-Type"))
	}
	assert.Equal(t, []string{"text/plain; charset=utf-8", "text/html; charset=utf-8"}, types)
}

func decodeHeader(t *testing.T, v string) string {
	t.Helper()
	out, err := new(mime.WordDecoder).DecodeHeader(v)
	require.NoError(t, err)
	return out
}

func TestReplyCodeClassification(t *testing.T) {
	cases := []struct {
		err  error
		want connector.ErrorKind
	}{
		{&textproto.Error{Code: 421, Msg: "try later"}, connector.KindRecoverable},
		{&textproto.Error{Code: 550, Msg: "no such user"}, connector.KindUnrecoverable},
		{errors.New("dial tcp: connection refused"), connector.KindRecoverable},
	}
	for _, tc := range cases {
		p := New(func(string, smtp.Auth, string, []string, []byte) error { return tc.err })
		_, err := p.Dispatchers()[0].Dispatch(context.Background(), request())
		require.Error(t, err)
		assert.Equal(t, tc.want, connector.Classify(err), tc.err.Error())
	}
}

func TestCancelledDispatchReturns(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := New(func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Dispatchers()[0].Dispatch(ctx, request())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, connector.IsRecoverable(err))
}

func TestConfiguration(t *testing.T) {
	p := New(nil)
	assert.NoError(t, p.ConnectionConfiguration().Validate(domain.Properties{"host": "localhost", "port": 25}))
	assert.ErrorIs(t, p.ConnectionConfiguration().Validate(domain.Properties{"host": "localhost", "port": 70000}), domain.ErrValidation)
	assert.ErrorIs(t, p.ConnectionConfiguration().Validate(domain.Properties{"host": "localhost", "port": 25, "password": "p"}), domain.ErrValidation)
	assert.ErrorIs(t, p.Dispatchers()[0].Configuration().Validate(domain.Properties{}), domain.ErrValidation)
}
