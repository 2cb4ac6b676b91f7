package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"provisioner/internal/notify"
)

const (
	MsgNewOrder    = "Project New Order"
	MsgWebhookTest = "Webhook Test"
)

var ErrInvalidEvent = errors.New("invalid event")

// Event is the order source's webhook payload.
type Event struct {
	Event    string `json:"event"`
	OrderRef string `json:"orderref"`
	Msg      string `json:"msg"`
}

func (e Event) Validate() error {
	var missing []string
	if strings.TrimSpace(e.Event) == "" {
		missing = append(missing, "event")
	}
	if strings.TrimSpace(e.OrderRef) == "" {
		missing = append(missing, "orderref")
	}
	if strings.TrimSpace(e.Msg) == "" {
		missing = append(missing, "msg")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEvent, strings.Join(missing, ", "))
	}
	return nil
}

type Provisioning interface {
	Provision(ctx context.Context, orderRef string) (Outcome, error)
}

type EventService struct {
	provisioner Provisioning
	notifier    notify.Notifier
}

func NewEventService(provisioner Provisioning, notifier notify.Notifier) *EventService {
	return &EventService{provisioner: provisioner, notifier: notifier}
}

// Handle dispatches a validated event on its msg. Only unexpected
// provisioning errors are returned.
func (s *EventService) Handle(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	switch ev.Msg {
	case MsgNewOrder:
		out, err := s.provisioner.Provision(ctx, ev.OrderRef)
		if err != nil {
			return err
		}
		slog.Info("order handled", "orderref", ev.OrderRef, "stage", out.Stage)
	case MsgWebhookTest:
		slog.Info("webhook test received", "event", ev.Event, "orderref", ev.OrderRef)
		err := s.notifier.Notify(ctx, notify.Message{
			Subject: "Webhook test received",
			Body:    fmt.Sprintf("event: %s\norderref: %s\nmsg: %s", ev.Event, ev.OrderRef, ev.Msg),
		})
		if err != nil {
			slog.Error("failed to send test notification", "error", err)
		}
	default:
		slog.Warn("no handler for event message", "event", ev.Event, "orderref", ev.OrderRef, "msg", ev.Msg)
	}
	return nil
}
