// Package mail delivers reset PINs to account owners.
//
// Backends:
//   - [SMTPMailer] sends directly through a pooled SMTP connection.
//   - [QueueMailer] publishes the rendered message to a RabbitMQ topic exchange for a
//     separate notification service.
//   - [LogMailer] writes messages to a slog logger for local development.
package mail

import (
	"bytes"
	"context"
	"errors"
	htmltemplate "html/template"
	"text/template"
	"time"
)

// ErrNoRecipient is returned for messages without a To address.
var ErrNoRecipient = errors.New("mail: message has no recipient")

// Message is a rendered email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// PINData feeds the PIN templates.
type PINData struct {
	To      string
	Code    string
	Purpose string
	TTL     time.Duration
	AppName string
}

// Minutes returns the TTL rounded up to whole minutes for display.
func (d PINData) Minutes() int {
	m := int((d.TTL + time.Minute - 1) / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}

const (
	defaultSubject = "{{.AppName}} password reset code"
	defaultText    = `Your {{.AppName}} password reset code is {{.Code}}.

It expires in {{.Minutes}} minutes. If you did not request a reset you can ignore this email.
`
	defaultHTML = `<p>Your {{.AppName}} password reset code is <strong>{{.Code}}</strong>.</p>
<p>It expires in {{.Minutes}} minutes. If you did not request a reset you can ignore this email.</p>
`
)

// Templates renders PIN messages.
type Templates struct {
	subject *template.Template
	text    *template.Template
	html    *htmltemplate.Template
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() *Templates {
	t, err := ParseTemplates(defaultSubject, defaultText, defaultHTML)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTemplates compiles custom templates. An empty html disables the HTML part.
func ParseTemplates(subject, text, html string) (*Templates, error) {
	t := &Templates{}
	var err error
	if t.subject, err = template.New("subject").Parse(subject); err != nil {
		return nil, err
	}
	if t.text, err = template.New("text").Parse(text); err != nil {
		return nil, err
	}
	if html != "" {
		if t.html, err = htmltemplate.New("html").Parse(html); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Render builds the message for data.
func (t *Templates) Render(data PINData) (Message, error) {
	if data.To == "" {
		return Message{}, ErrNoRecipient
	}
	if data.AppName == "" {
		data.AppName = "Account"
	}

	var subject, text, html bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return Message{}, err
	}
	if err := t.text.Execute(&text, data); err != nil {
		return Message{}, err
	}
	if t.html != nil {
		if err := t.html.Execute(&html, data); err != nil {
			return Message{}, err
		}
	}

	return Message{
		To:      data.To,
		Subject: subject.String(),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
