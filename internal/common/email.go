package common

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Email is a single outgoing message.
type Email struct {
	From    string
	To      string
	Subject string
	Body    string
}

// EmailSender delivers customer emails.
type EmailSender interface {
	Send(ctx context.Context, msg Email) error
}

// InMemoryEmail records messages instead of sending them. Safe for concurrent use.
type InMemoryEmail struct {
	mu     sync.Mutex
	Outbox []Email
}

// Send records the email in memory.
func (m *InMemoryEmail) Send(_ context.Context, msg Email) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Outbox = append(m.Outbox, msg)
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *InMemoryEmail) Sent() []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Email(nil), m.Outbox...)
}

// LogEmailSender writes emails to the log. It is the default sender until an
// SMTP or provider integration is configured.
type LogEmailSender struct {
	Logger zerolog.Logger
}

// Send implements EmailSender.
func (l LogEmailSender) Send(_ context.Context, msg Email) error {
	l.Logger.Info().
		Str("from", msg.From).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Int("body_bytes", len(msg.Body)).
		Msg("email sent")
	return nil
}

// NopEmailSender implements EmailSender without performing any action.
type NopEmailSender struct{}

// Send implements EmailSender.
func (NopEmailSender) Send(context.Context, Email) error { return nil }
