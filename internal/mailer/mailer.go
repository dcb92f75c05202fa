// Package mailer delivers rendered messages.  The SMTP sender is used in
// every deployed environment; LogSender stands in for it locally when no
// SMTP host is configured.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"
)

// Message is a rendered email.  Text is optional.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers one message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (providerID string, err error)
	Name() string
}

// SMTPConfig holds connection and envelope settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// SMTPSender delivers through an SMTP relay with go-mail.  A new client is
// dialled per message; mail volume is a handful per order.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender validates cfg and returns a sender.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("mail from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg}, nil
}

func (s *SMTPSender) Name() string { return "smtp" }

func (s *SMTPSender) Send(ctx context.Context, m Message) (string, error) {
	opts := []mail.Option{mail.WithPort(s.cfg.Port)}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	c, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return "", fmt.Errorf("smtp client: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
		return "", fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return "", fmt.Errorf("to address: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextHTML, m.HTML)
	if strings.TrimSpace(m.Text) != "" {
		msg.AddAlternativeString(mail.TypeTextPlain, m.Text)
	}
	id := uuid.NewString() + "@" + s.cfg.Host
	msg.SetMessageIDWithValue(id)

	if err := c.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}
	return id, nil
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct{}

func (LogSender) Name() string { return "log" }

func (LogSender) Send(_ context.Context, m Message) (string, error) {
	id := uuid.NewString()
	log.Info().Str("to", m.To).Str("subject", m.Subject).Str("provider_id", id).
		Int("html_bytes", len(m.HTML)).Msg("mail (log sender)")
	return id, nil
}
