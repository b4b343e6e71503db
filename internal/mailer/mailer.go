package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/lamallette/boutique-backend/pkg/config"
	"github.com/lamallette/boutique-backend/pkg/logger"
)

// Dispatcher sends a single HTML message. Services depend on this rather
// than on the SMTP implementation so tests can capture outgoing mail.
type Dispatcher interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPDispatcher delivers mail over a plain SMTP connection with optional
// PLAIN auth. Good enough for a transactional trickle; no queue, no retries.
type SMTPDispatcher struct {
	cfg  config.SMTPConfig
	logg *logger.Logger
}

// NewSMTPDispatcher validates the SMTP settings and returns a dispatcher.
func NewSMTPDispatcher(cfg config.SMTPConfig, logg *logger.Logger) (*SMTPDispatcher, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Sender == "" {
		return nil, errors.New("smtp sender is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &SMTPDispatcher{cfg: cfg, logg: logg}, nil
}

func (d *SMTPDispatcher) Send(ctx context.Context, to, subject, htmlBody string) error {
	if to == "" {
		return errors.New("recipient is required")
	}

	addr := fmt.Sprintf("%s:%s", d.cfg.Host, d.cfg.Port)

	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}

	msg := buildMessage(d.cfg.Sender, to, subject, htmlBody)

	if err := smtp.SendMail(addr, auth, d.cfg.Sender, []string{to}, msg); err != nil {
		return fmt.Errorf("sending mail via %s: %w", addr, err)
	}

	d.logg.Info(d.logg.WithFields(ctx, map[string]any{
		"to":      to,
		"subject": subject,
	}), "email dispatched")
	return nil
}

func buildMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}
