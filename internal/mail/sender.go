// Package mail delivers the password-reset and email-verification messages
// issued by the authentication flows.
package mail

import (
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/tu2l/identity-platform/internal/config"
)

// Sender is what the auth service needs from a mail transport. The SMTP
// implementation lives here; tests substitute a recording fake.
type Sender interface {
	SendPasswordReset(to string, resetToken string) error
	SendEmailVerification(to string, verificationToken string) error
}

type SMTPSender struct {
	client        *mail.Client
	fromAddress   string
	resetBaseURL  string
	verifyBaseURL string
}

func NewSMTPSender(cfg config.SMTPConfig) (*SMTPSender, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("create mail client: %w", err)
	}

	return &SMTPSender{
		client:        client,
		fromAddress:   cfg.FromAddress,
		resetBaseURL:  cfg.ResetBaseURL,
		verifyBaseURL: cfg.VerifyBaseURL,
	}, nil
}

func (s *SMTPSender) SendPasswordReset(to string, resetToken string) error {
	body := fmt.Sprintf(
		"A password reset was requested for your account.\n\n"+
			"Open the link below within one hour to choose a new password:\n\n%s?token=%s\n\n"+
			"If you did not request this, you can ignore this message.",
		s.resetBaseURL, resetToken,
	)
	return s.send(to, "Password reset instructions", body)
}

func (s *SMTPSender) SendEmailVerification(to string, verificationToken string) error {
	body := fmt.Sprintf(
		"Welcome! Confirm your email address by opening the link below:\n\n%s?token=%s\n\n"+
			"The link is valid for 24 hours.",
		s.verifyBaseURL, verificationToken,
	)
	return s.send(to, "Verify your email address", body)
}

func (s *SMTPSender) send(to string, subject string, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(s.fromAddress); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("set to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := s.client.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
