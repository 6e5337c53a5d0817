// Package mailer delivers workflow e-mails. The engine depends only on Sender.
package mailer

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rendis/triggerflow/pkg/schema"
)

// Priority values understood by senders.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Message is a single e-mail with plain-text and HTML bodies.
type Message struct {
	To       string   `json:"to"`
	Subject  string   `json:"subject"`
	Text     string   `json:"text"`
	HTML     string   `json:"html,omitempty"`
	From     string   `json:"from,omitempty"`
	CC       []string `json:"cc,omitempty"`
	BCC      []string `json:"bcc,omitempty"`
	Priority string   `json:"priority,omitempty"`
}

// Recipients returns every envelope recipient: To, CC and BCC.
func (m *Message) Recipients() []string {
	out := make([]string, 0, 1+len(m.CC)+len(m.BCC))
	for _, addr := range append(append([]string{m.To}, m.CC...), m.BCC...) {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// Validate checks the fields every sender needs.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return schema.NewError(schema.ErrCodeValidation, "message recipient is empty")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return schema.NewError(schema.ErrCodeValidation, "message subject is empty")
	}
	switch m.Priority {
	case "", PriorityHigh, PriorityNormal, PriorityLow:
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown priority %q", m.Priority)
	}
	return nil
}

// Sender is the e-mail delivery collaborator.
// ok=false with a nil error means the provider refused the message.
type Sender interface {
	SendEmail(ctx context.Context, msg *Message) (ok bool, err error)
}

// LogSender writes messages to the logger instead of delivering them.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender. A nil logger uses slog.Default().
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) SendEmail(ctx context.Context, msg *Message) (bool, error) {
	if err := msg.Validate(); err != nil {
		return false, err
	}
	s.logger.InfoContext(ctx, "email not delivered (log sender)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.Int("recipients", len(msg.Recipients())),
		slog.String("priority", msg.Priority),
	)
	return true, nil
}
