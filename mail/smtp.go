package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"net/smtp"
	"time"

	"github.com/knadh/smtppool"
)

// SMTPConfig describes one SMTP relay.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	MaxConns           int
	Timeout            time.Duration
	InsecureSkipVerify bool
}

type smtpSender interface {
	Send(smtppool.Email) error
	Close()
}

// SMTPMailer sends through a pooled SMTP connection.
type SMTPMailer struct {
	pool smtpSender
	from string
}

// NewSMTPMailer opens a connection pool to the relay in cfg.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.Port == 0 || cfg.From == "" {
		return nil, errors.New("mail: smtp host, port and from address are required")
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	var auth smtp.Auth
	if cfg.Username != "" || cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	pool, err := smtppool.New(smtppool.Opt{
		Host:            cfg.Host,
		Port:            cfg.Port,
		MaxConns:        cfg.MaxConns,
		IdleTimeout:     cfg.Timeout,
		PoolWaitTimeout: cfg.Timeout,
		TLSConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			ServerName:         cfg.Host,
		},
		Auth: auth,
	})
	if err != nil {
		return nil, err
	}
	return &SMTPMailer{pool: pool, from: cfg.From}, nil
}

// Send implements [Mailer]. The pool has its own wait timeout, so ctx is only checked
// before handing off.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e := smtppool.Email{
		From:    m.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Text:    []byte(msg.Text),
	}
	if msg.HTML != "" {
		e.HTML = []byte(msg.HTML)
	}
	return m.pool.Send(e)
}

// Close releases pooled connections.
func (m *SMTPMailer) Close() {
	m.pool.Close()
}
