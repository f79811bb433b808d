package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/gomail.v2"
)

// SMTPConfig is read from SMTP_* environment variables.
type SMTPConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`
}

// LoadSMTPConfig parses the environment. An empty Host means email is not
// configured.
func LoadSMTPConfig() (SMTPConfig, error) {
	cfg, err := env.ParseAs[SMTPConfig]()
	if err != nil {
		return SMTPConfig{}, fmt.Errorf("parse smtp config: %w", err)
	}
	return cfg, nil
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" }

func (c SMTPConfig) validate() error {
	if c.Host == "" {
		return errors.New("missing SMTP_HOST environment variable")
	}
	if c.Port <= 0 {
		return errors.New("missing SMTP_PORT environment variable")
	}
	if c.From == "" {
		return errors.New("missing SMTP_FROM environment variable")
	}
	return nil
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTP sends notifications as plain text email. Each message opens its own
// connection.
type SMTP struct {
	from   string
	dialer dialer
}

func NewSMTP(cfg SMTPConfig) (*SMTP, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &SMTP{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

func (s *SMTP) MagicLink(ctx context.Context, to, link string, expiresAt time.Time) error {
	return s.send(ctx, to, subjectMagicLink, magicLinkBody(link, expiresAt))
}

func (s *SMTP) LowBackupCodes(ctx context.Context, to string, remaining int) error {
	return s.send(ctx, to, subjectLowBackupCodes, lowBackupCodesBody(remaining))
}

func (s *SMTP) send(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return errors.New("no recipient specified")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	// gomail has no context support; give up on the result instead.
	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(msg) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send %q to %s: %w", subject, to, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
