// Package notify delivers operator messages about provisioning outcomes.
package notify

import (
	"context"
	"log/slog"
)

type Message struct {
	Subject string
	Body    string
	// OrderRef correlates the message with an order; it may be empty.
	OrderRef string
}

type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

// LogNotifier writes messages to the log. It stands in for the mailer
// when no mail server is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, m Message) error {
	slog.Info("notification", "subject", m.Subject, "orderref", m.OrderRef, "body", m.Body)
	return nil
}
