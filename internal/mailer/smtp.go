// Package mailer renders reminder emails and delivers them over SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/voicetel/appointment-reminder/internal/config"
	"github.com/voicetel/appointment-reminder/internal/models"
)

type SMTPMailer struct {
	smtp     config.SMTPConfig
	email    config.EmailConfig
	location *time.Location
}

func NewSMTPMailer(smtpCfg config.SMTPConfig, emailCfg config.EmailConfig, loc *time.Location) *SMTPMailer {
	if loc == nil {
		loc = time.UTC
	}
	return &SMTPMailer{
		smtp:     smtpCfg,
		email:    emailCfg,
		location: loc,
	}
}

// BuildMessage renders the reminder into a ready-to-send message.
func (m *SMTPMailer) BuildMessage(r models.Reminder) (*mail.Msg, error) {
	if r.Customer.Email == "" {
		return nil, fmt.Errorf("customer %d has no email address", r.Customer.ID)
	}

	msg := mail.NewMsg()
	if err := msg.From(m.email.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if m.email.ReplyTo != "" {
		if err := msg.ReplyTo(m.email.ReplyTo); err != nil {
			return nil, fmt.Errorf("invalid reply-to address: %w", err)
		}
	}
	if err := msg.AddToFormat(r.Customer.DisplayName(), r.Customer.Email); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", r.Customer.Email, err)
	}
	msg.Subject(Render(m.email.Subject, r, m.location))
	msg.SetBodyString(mail.TypeTextPlain, Render(m.email.Body, r, m.location))
	msg.SetDate()
	msg.SetMessageID()

	return msg, nil
}

// Send delivers one reminder. It blocks until the server accepts or rejects
// the message.
func (m *SMTPMailer) Send(ctx context.Context, r models.Reminder) error {
	msg, err := m.BuildMessage(r)
	if err != nil {
		return err
	}

	client, err := m.newClient()
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send to %s failed: %w", r.Customer.Email, err)
	}
	return nil
}

// Check connects and authenticates without sending anything.
func (m *SMTPMailer) Check(ctx context.Context) error {
	client, err := m.newClient()
	if err != nil {
		return err
	}
	if err := client.DialWithContext(ctx); err != nil {
		return fmt.Errorf("smtp dial failed: %w", err)
	}
	return client.Close()
}

func (m *SMTPMailer) newClient() (*mail.Client, error) {
	if m.smtp.Host == "" {
		return nil, errors.New("smtp host is not configured")
	}

	var opts []mail.Option
	if m.smtp.Port > 0 {
		opts = append(opts, mail.WithPort(m.smtp.Port))
	}
	if m.smtp.Timeout.Duration > 0 {
		opts = append(opts, mail.WithTimeout(m.smtp.Timeout.Duration))
	}
	if m.smtp.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.smtp.Username),
			mail.WithPassword(m.smtp.Password),
		)
	}

	switch {
	case m.smtp.Port == 465:
		opts = append(opts, mail.WithSSL())
	case m.smtp.TLS == "none":
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	case m.smtp.TLS == "opportunistic":
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	client, err := mail.NewClient(m.smtp.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return client, nil
}
