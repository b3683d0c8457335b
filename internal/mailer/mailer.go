// Package mailer is the e-mail side channel. Delivery is best-effort: the
// notification record is the durable source of truth, a failed send is
// logged by the caller and never propagated.
package mailer

import (
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"liblend/internal/config"
)

type Mailer interface {
	Send(recipientAddress, subject, body string) error
}

type smtpMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTP builds a Mailer over the configured SMTP relay. When no host is
// configured it returns a disabled mailer that drops everything.
func NewSMTP(cfg config.SMTP) Mailer {
	if cfg.Host == "" {
		return disabledMailer{}
	}
	return &smtpMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (m *smtpMailer) Send(recipientAddress, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", recipientAddress)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", recipientAddress, err)
	}
	return nil
}

type disabledMailer struct{}

func (disabledMailer) Send(string, string, string) error { return nil }
