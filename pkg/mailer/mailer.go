// Package mailer abstracts outbound email. Real transports (SES, SMTP,
// Postmark) live outside this module; the log provider is the built-in
// default used by development and the worker's dry-run mode.
package mailer

import (
	"context"
	"log/slog"
)

// Payload is one email to send, already rendered.
type Payload struct {
	To       string `json:"to"       validate:"required,email"`
	Subject  string `json:"subject"  validate:"required"`
	HTML     string `json:"html,omitempty"`
	Text     string `json:"text,omitempty"`
	FromName string `json:"from_name,omitempty"`
	ReplyTo  string `json:"reply_to,omitempty"`
}

// Result reports what the provider did with the payload.
type Result struct {
	Success   bool   `json:"success"`
	Provider  string `json:"provider"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Mailer interface {
	Send(ctx context.Context, payload Payload) (Result, error)
}

// LogMailer writes the email to the structured log instead of sending it.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("module", "mailer")}
}

func (m *LogMailer) Send(ctx context.Context, payload Payload) (Result, error) {
	m.logger.InfoContext(ctx, "email send (log provider)",
		"to", payload.To,
		"subject", payload.Subject,
		"from_name", payload.FromName)

	return Result{Success: true, Provider: "log"}, nil
}

// WithDefaults fills FromName and ReplyTo on payloads that leave them empty
// before handing off to the wrapped provider.
func WithDefaults(m Mailer, fromName, replyTo string) Mailer {
	return &defaultsMailer{inner: m, fromName: fromName, replyTo: replyTo}
}

type defaultsMailer struct {
	inner    Mailer
	fromName string
	replyTo  string
}

func (m *defaultsMailer) Send(ctx context.Context, payload Payload) (Result, error) {
	if payload.FromName == "" {
		payload.FromName = m.fromName
	}

	if payload.ReplyTo == "" {
		payload.ReplyTo = m.replyTo
	}

	return m.inner.Send(ctx, payload)
}
