package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/wneessen/go-mail"

	"provisioner/internal/config"
)

var ErrNoRecipients = errors.New("no mail recipients configured")

// ContractSource fetches the signed contract PDF for an order.
type ContractSource interface {
	DownloadContract(ctx context.Context, orderRef string) ([]byte, error)
}

// Mailer sends plain-text mail through an unauthenticated relay. The
// mail settings are read on every send so a config reload takes effect.
type Mailer struct {
	settings  func() config.Mail
	contracts ContractSource
	timeout   time.Duration
}

func NewMailer(settings func() config.Mail, contracts ContractSource) *Mailer {
	return &Mailer{settings: settings, contracts: contracts, timeout: 30 * time.Second}
}

func (ml *Mailer) Notify(ctx context.Context, m Message) error {
	cfg := ml.settings()
	if len(cfg.Recipients) == 0 {
		return ErrNoRecipients
	}

	var attachment string
	if cfg.AttachContract && m.OrderRef != "" && ml.contracts != nil {
		path, cleanup, err := ml.fetchContract(ctx, m.OrderRef)
		if err != nil {
			slog.Warn("contract not attached", "orderref", m.OrderRef, "error", err)
		} else {
			defer cleanup()
			attachment = path
		}
	}

	msg, err := buildMessage(cfg, m, attachment)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(cfg.Server,
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.NoTLS),
		mail.WithTimeout(ml.timeout),
	)
	if err != nil {
		return fmt.Errorf("create mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}

	slog.Info("notification sent", "subject", m.Subject, "orderref", m.OrderRef, "recipients", len(cfg.Recipients))
	return nil
}

func buildMessage(cfg config.Mail, m Message, attachment string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(cfg.Sender); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(cfg.Recipients...); err != nil {
		return nil, fmt.Errorf("set recipients: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	if attachment != "" {
		msg.AttachFile(attachment)
	}
	return msg, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (ml *Mailer) fetchContract(ctx context.Context, orderRef string) (string, func(), error) {
	data, err := ml.contracts.DownloadContract(ctx, orderRef)
	if err != nil {
		return "", nil, err
	}

	dir, err := os.MkdirTemp("", "contract-*")
	if err != nil {
		return "", nil, fmt.Errorf("create contract dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Warn("failed to remove contract file", "dir", dir, "error", err)
		}
	}

	path := filepath.Join(dir, "contract_"+unsafeName.ReplaceAllString(orderRef, "_")+".pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write contract file: %w", err)
	}
	return path, cleanup, nil
}
