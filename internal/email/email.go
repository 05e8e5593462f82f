package email

import (
	"context"
	"fmt"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/tracing"
)

// Message is one outbound email
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a message. Callers log failures; they never surface them.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ResendSender delivers through the Resend API
type ResendSender struct {
	client  *resend.Client
	from    string
	timeout time.Duration
}

// NewResendSender creates a Resend-backed sender
func NewResendSender(apiKey, from string, timeout time.Duration) *ResendSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ResendSender{client: resend.NewClient(apiKey), from: from, timeout: timeout}
}

// Send delivers msg, bounded by the sender timeout
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return tracing.Outbound(ctx, "email", "send", func(ctx context.Context) error {
		_, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
			From:    s.from,
			To:      []string{msg.To},
			Subject: msg.Subject,
			Html:    msg.HTML,
			Text:    msg.Text,
		})
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	})
}

// LogSender writes messages to the log instead of delivering them. It is
// used when no email API key is configured.
type LogSender struct {
	logger *logging.Logger
}

// NewLogSender creates a sender that only logs
func NewLogSender(logger *logging.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.WithFields(map[string]interface{}{
		"to":      msg.To,
		"subject": msg.Subject,
	}).Info("email delivery disabled, message logged")
	return nil
}

// NewSender picks Resend when an API key is present, otherwise the log sender
func NewSender(apiKey, from string, timeout time.Duration, logger *logging.Logger) Sender {
	if apiKey == "" {
		return NewLogSender(logger)
	}
	return NewResendSender(apiKey, from, timeout)
}
