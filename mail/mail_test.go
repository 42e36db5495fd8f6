package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/knadh/smtppool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplatesRender(t *testing.T) {
	msg, err := DefaultTemplates().Render(PINData{
		To:      "a@x.com",
		Code:    "123456",
		Purpose: "forgot_password",
		TTL:     10 * time.Minute,
		AppName: "Acme",
	})
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", msg.To)
	assert.Equal(t, "Acme password reset code", msg.Subject)
	assert.Contains(t, msg.Text, "123456")
	assert.Contains(t, msg.Text, "10 minutes")
	assert.Contains(t, msg.HTML, "<strong>123456</strong>")
}

func TestRenderEscapesHTML(t *testing.T) {
	tpl, err := ParseTemplates("{{.AppName}}", "{{.Code}}", "<p>{{.AppName}}</p>")
	require.NoError(t, err)

	msg, err := tpl.Render(PINData{To: "a@x.com", Code: "1", AppName: "<b>x</b>"})
	require.NoError(t, err)
	assert.Equal(t, "<p>&lt;b&gt;x&lt;/b&gt;</p>", msg.HTML)
}

func TestRenderRequiresRecipient(t *testing.T) {
	_, err := DefaultTemplates().Render(PINData{Code: "123456"})
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestPINDataMinutesRoundsUp(t *testing.T) {
	assert.Equal(t, 1, PINData{TTL: 0}.Minutes())
	assert.Equal(t, 2, PINData{TTL: 61 * time.Second}.Minutes())
	assert.Equal(t, 10, PINData{TTL: 10 * time.Minute}.Minutes())
}

type fakeSMTP struct {
	sent   []smtppool.Email
	err    error
	closed bool
}

func (f *fakeSMTP) Send(e smtppool.Email) error {
	f.sent = append(f.sent, e)
	return f.err
}

func (f *fakeSMTP) Close() { f.closed = true }

func TestSMTPMailerSend(t *testing.T) {
	pool := &fakeSMTP{}
	m := &SMTPMailer{pool: pool, from: "noreply@x.com"}

	require.NoError(t, m.Send(context.Background(), Message{To: "a@x.com", Subject: "s", Text: "t"}))
	require.Len(t, pool.sent, 1)
	assert.Equal(t, "noreply@x.com", pool.sent[0].From)
	assert.Equal(t, []string{"a@x.com"}, pool.sent[0].To)
	assert.Equal(t, []byte("t"), pool.sent[0].Text)
	assert.Nil(t, pool.sent[0].HTML)

	pool.err = errors.New("relay down")
	assert.Error(t, m.Send(context.Background(), Message{To: "a@x.com"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Send(ctx, Message{To: "a@x.com"}), context.Canceled)

	m.Close()
	assert.True(t, pool.closed)
}

func TestNewSMTPMailerValidates(t *testing.T) {
	_, err := NewSMTPMailer(SMTPConfig{Host: "localhost"})
	assert.Error(t, err)
}

type fakePublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func TestQueueMailerPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	m := newQueueMailer(pub, QueueConfig{Exchange: "notifications"})

	require.NoError(t, m.Send(context.Background(), Message{To: "a@x.com", Subject: "s", Text: "t"}))
	assert.Equal(t, "notifications", pub.exchange)
	assert.Equal(t, DefaultRoutingKey, pub.key)
	assert.Equal(t, "application/json", pub.msg.ContentType)

	var got Message
	require.NoError(t, json.Unmarshal(pub.msg.Body, &got))
	assert.Equal(t, "a@x.com", got.To)

	assert.ErrorIs(t, m.Send(context.Background(), Message{}), ErrNoRecipient)
	assert.NoError(t, m.Close())
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMailer(slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, m.Send(context.Background(), Message{To: "a@x.com", Subject: "code"}))
	assert.True(t, strings.Contains(buf.String(), `"to":"a@x.com"`))
}
