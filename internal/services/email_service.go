package services

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Message is one outbound email with plain-text and HTML bodies.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// EmailService delivers a message or reports why it could not.
// Implementations never retry; resend is driven by the caller.
type EmailService interface {
	Send(ctx context.Context, msg Message) error
}

// ---------- SendGrid ----------

type sendGridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type sendGridEmailService struct {
	client   sendGridClient
	fromAddr string
	fromName string
	log      *zap.Logger
}

func NewSendGridEmailService(apiKey, fromAddr, fromName string, log *zap.Logger) EmailService {
	return newSendGridEmailService(sendgrid.NewSendClient(apiKey), fromAddr, fromName, log)
}

func newSendGridEmailService(client sendGridClient, fromAddr, fromName string, log *zap.Logger) *sendGridEmailService {
	if log == nil {
		log = zap.NewNop()
	}
	return &sendGridEmailService{client: client, fromAddr: fromAddr, fromName: fromName, log: log}
}

func buildSendGridMessage(fromAddr, fromName string, msg Message) *mail.SGMailV3 {
	from := mail.NewEmail(fromName, fromAddr)
	to := mail.NewEmail("", msg.To)
	return mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)
}

func (s *sendGridEmailService) Send(ctx context.Context, msg Message) error {
	resp, err := s.client.SendWithContext(ctx, buildSendGridMessage(s.fromAddr, s.fromName, msg))
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.log.Warn("sendgrid rejected message",
			zap.Int("status", resp.StatusCode),
			zap.String("body", resp.Body),
		)
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}
	s.log.Debug("email sent", zap.String("provider", "sendgrid"), zap.String("to", msg.To))
	return nil
}

// ---------- SMTP ----------

type smtpDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type smtpEmailService struct {
	dialer smtpDialer
	from   string
	log    *zap.Logger
}

func NewSMTPEmailService(smtpHost string, smtpPort int, smtpUser, smtpPassword, fromEmail string, log *zap.Logger) EmailService {
	dialer := gomail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPassword)
	return newSMTPEmailService(dialer, fromEmail, log)
}

func newSMTPEmailService(dialer smtpDialer, from string, log *zap.Logger) *smtpEmailService {
	if log == nil {
		log = zap.NewNop()
	}
	return &smtpEmailService{dialer: dialer, from: from, log: log}
}

func buildSMTPMessage(from string, msg Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Text)
	if msg.HTML != "" {
		m.AddAlternative("text/html", msg.HTML)
	}
	return m
}

func (s *smtpEmailService) Send(ctx context.Context, msg Message) error {
	// gomail has no context support; at least don't dial for an abandoned request.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(buildSMTPMessage(s.from, msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	s.log.Debug("email sent", zap.String("provider", "smtp"), zap.String("to", msg.To))
	return nil
}

// ---------- dry-run ----------

type logEmailService struct {
	log *zap.Logger
}

// NewLogEmailService only writes the message to the log. Local development only.
func NewLogEmailService(log *zap.Logger) EmailService {
	if log == nil {
		log = zap.NewNop()
	}
	return &logEmailService{log: log}
}

func (s *logEmailService) Send(_ context.Context, msg Message) error {
	s.log.Info("email [dry-run]",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("text", msg.Text),
	)
	return nil
}
