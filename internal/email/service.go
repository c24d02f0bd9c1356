package email

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/gomail.v2"
)

// ErrNoRecipients is returned when a message has nobody to go to.
var ErrNoRecipients = errors.New("email: no recipients")

type Service interface {
	SendCustom(ctx context.Context, to []string, subject string, content string) error
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPService delivers mail through an SMTP relay with gomail.
type SMTPService struct {
	from string
	dial func() (gomail.SendCloser, error)
}

func NewSMTPService(cfg Config) *SMTPService {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTPService{
		from: cfg.From,
		dial: dialer.Dial,
	}
}

// NewServiceWithSender is used by tests to capture outgoing mail.
func NewServiceWithSender(from string, sender gomail.SendCloser) *SMTPService {
	return &SMTPService{
		from: from,
		dial: func() (gomail.SendCloser, error) { return sender, nil },
	}
}

func (s *SMTPService) SendCustom(ctx context.Context, to []string, subject string, content string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", to...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", content)

	conn, err := s.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to smtp server: %w", err)
	}
	defer conn.Close()

	if err := gomail.Send(conn, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
