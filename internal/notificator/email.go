package notificator

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/fridaybazar/bazar/pkg/logger"
)

// Mailer delivers a copy of admin alerts by email.
type Mailer interface {
	Send(subject, body string) error
}

type EmailNotificator struct {
	logger *logger.Logger
	dialer *gomail.Dialer

	sender string
	to     string
}

func NewEmailNotificator(logger *logger.Logger, host string, port int, user, password, sender, to string) *EmailNotificator {
	return &EmailNotificator{
		logger: logger,
		dialer: gomail.NewDialer(host, port, user, password),
		sender: sender,
		to:     to,
	}
}

func (e *EmailNotificator) message(subject, body string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", e.sender)
	m.SetHeader("To", e.to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return m
}

func (e *EmailNotificator) Send(subject, body string) error {
	if err := e.dialer.DialAndSend(e.message(subject, body)); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", e.to, err)
	}
	return nil
}
