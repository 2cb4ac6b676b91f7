package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"

	"provisioner/internal/config"
	"provisioner/internal/lock"
	"provisioner/internal/model"
	"provisioner/internal/notify"
)

var ErrUnexpected = errors.New("unexpected provisioning error")

type OrderSource interface {
	FetchOrder(ctx context.Context, orderRef string) (*model.CustomerRecord, error)
}

type Accounts interface {
	FindAccounts(ctx context.Context, name string) ([]model.AccountSummary, error)
	CreateAccount(ctx context.Context, req model.AccountCreationRequest) (string, error)
	AddServicePlan(ctx context.Context, accountID string, planID int) (*PlanAddResult, error)
	CreateTicket(ctx context.Context, accountID, description string) (string, error)
}

type FailureRecorder interface {
	RecordFailure(ctx context.Context, ref, message string, category model.FailureCategory, snapshot *model.AccountCreationRequest) (string, error)
	Resolve(ctx context.Context, ref, note string) (bool, error)
}

type Stage string

const (
	StageLookupFailed   Stage = "lookup_failed"
	StageAlreadyExists  Stage = "already_exists"
	StageCreated        Stage = "created"
	StageCreationFailed Stage = "creation_failed"
	StageError          Stage = "error"
)

// Outcome describes where one provisioning run ended.
type Outcome struct {
	OrderRef         string   `json:"orderref"`
	Stage            Stage    `json:"stage"`
	AccountID        string   `json:"account_id,omitempty"`
	MatchedAccountID string   `json:"matched_account_id,omitempty"`
	PlanIDs          []int    `json:"plan_ids,omitempty"`
	TicketID         string   `json:"ticket_id,omitempty"`
	Warnings         []string `json:"warnings,omitempty"`
	FailureKey       string   `json:"failure_key,omitempty"`
	Resolved         bool     `json:"resolved,omitempty"`
	Err              error    `json:"-" yaml:"-"`
}

// Succeeded is true when the order has an account, new or existing.
func (o Outcome) Succeeded() bool {
	return o.Stage == StageCreated || o.Stage == StageAlreadyExists
}

func (o *Outcome) warn(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

type Provisioner struct {
	settings  func() *config.Config
	orders    OrderSource
	accounts  Accounts
	failures  FailureRecorder
	notifier  notify.Notifier
	locker    lock.Locker
	templates TemplateStore
}

func NewProvisioner(
	settings func() *config.Config,
	orders OrderSource,
	accounts Accounts,
	failures FailureRecorder,
	notifier notify.Notifier,
	locker lock.Locker,
	templates TemplateStore,
) *Provisioner {
	return &Provisioner{
		settings:  settings,
		orders:    orders,
		accounts:  accounts,
		failures:  failures,
		notifier:  notifier,
		locker:    locker,
		templates: templates,
	}
}

// Provision runs the whole workflow for one order reference. Expected
// failures are recorded, notified and reported through the Outcome; the
// error is non-nil only for unexpected ones.
func (p *Provisioner) Provision(ctx context.Context, orderRef string) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("provisioning panicked", "orderref", orderRef, "panic", r, "stack", string(debug.Stack()))
			out, err = p.unexpected(ctx, orderRef, nil, fmt.Errorf("panic: %v", r))
		}
	}()
	return p.provision(ctx, orderRef)
}

func (p *Provisioner) provision(ctx context.Context, orderRef string) (Outcome, error) {
	cfg := p.settings()

	slog.Info("looking up order", "orderref", orderRef)
	rec, err := p.orders.FetchOrder(ctx, orderRef)
	if err != nil {
		return p.lookupFailed(ctx, cfg, orderRef, err), nil
	}

	req := model.BuildAccountRequest(rec, orderRef, cfg.Accounts.PortalPassword)

	unlock, err := p.locker.Lock(ctx, orderRef)
	if err != nil {
		return p.unexpected(ctx, orderRef, &req, fmt.Errorf("lock order: %w", err))
	}
	defer unlock()

	searchName := rec.FullName()
	slog.Info("searching accounts", "orderref", orderRef, "name", searchName)
	found, err := p.accounts.FindAccounts(ctx, searchName)
	if err != nil {
		return p.unexpected(ctx, orderRef, &req, err)
	}

	name, city := rec.MatchKey()
	if m := model.MatchAccount(name, city, found); m.Found {
		return p.alreadyExists(ctx, cfg, req, m), nil
	}

	accountID, err := p.accounts.CreateAccount(ctx, req)
	if err != nil {
		return p.creationFailed(ctx, req, err), nil
	}

	return p.created(ctx, cfg, rec, req, accountID), nil
}

// Retry re-runs the workflow for an order and resolves its failure record
// when the order ends up with an account.
func (p *Provisioner) Retry(ctx context.Context, orderRef string) (Outcome, error) {
	out, err := p.Provision(ctx, orderRef)
	if err != nil || !out.Succeeded() {
		return out, err
	}

	note := "retried: account " + out.AccountID + " created"
	if out.Stage == StageAlreadyExists {
		note = "retried: matched existing account " + out.MatchedAccountID
	}
	ok, rerr := p.failures.Resolve(ctx, orderRef, note)
	if rerr != nil {
		slog.Error("failed to resolve failure after retry", "orderref", orderRef, "error", rerr)
		out.warn("failure record not resolved: %v", rerr)
		return out, nil
	}
	out.Resolved = ok
	return out, nil
}

func (p *Provisioner) lookupFailed(ctx context.Context, cfg *config.Config, orderRef string, err error) Outcome {
	out := Outcome{OrderRef: orderRef, Stage: StageLookupFailed, Err: err}

	msg := err.Error()
	var ose *OrderSourceError
	if errors.As(err, &ose) {
		msg = ose.Message
	}
	slog.Error("order lookup failed", "orderref", orderRef, "error", msg)

	out.FailureKey = p.record(ctx, &out, orderRef, msg, model.CategoryOrderSource, nil)

	if benign(msg, cfg.OrderSource.BenignErrors) {
		slog.Info("lookup error is benign, not notifying", "orderref", orderRef)
		return out
	}
	p.notify(ctx, notify.Message{
		Subject:  "Order lookup failed - " + orderRef,
		Body:     fmt.Sprintf("The order source returned an error for order %s:\n\n%s", orderRef, msg),
		OrderRef: orderRef,
	})
	return out
}

func (p *Provisioner) alreadyExists(ctx context.Context, cfg *config.Config, req model.AccountCreationRequest, m model.AccountMatch) Outcome {
	slog.Info("account already exists", "orderref", req.OrderRef, "account_id", m.ID)

	p.notify(ctx, notify.Message{
		Subject:  "Customer already exists - account " + m.ID,
		Body:     fmt.Sprintf("No account created.\nExisting account: %s\n\n%s", accountLink(cfg, m.ID), req.ContactSummary()),
		OrderRef: req.OrderRef,
	})
	return Outcome{OrderRef: req.OrderRef, Stage: StageAlreadyExists, MatchedAccountID: m.ID}
}

func (p *Provisioner) creationFailed(ctx context.Context, req model.AccountCreationRequest, err error) Outcome {
	out := Outcome{OrderRef: req.OrderRef, Stage: StageCreationFailed, Err: err}

	category := model.CategoryAccountCreation
	detail := err.Error()
	var ce *CreationError
	if errors.As(err, &ce) {
		detail = ce.LastResponse
		if ce.AlreadyExists() {
			category = model.CategoryUnexpectedDupe
		}
	}
	slog.Error("account creation failed", "orderref", req.OrderRef, "category", category, "error", err)

	snapshot := req
	out.FailureKey = p.record(ctx, &out, req.OrderRef, err.Error(), category, &snapshot)

	p.notify(ctx, notify.Message{
		Subject:  "Failed to create customer - " + req.OrderRef,
		Body:     fmt.Sprintf("Check the account system logs.\n\nLast response:\n%s\n\n%s", detail, req.ContactSummary()),
		OrderRef: req.OrderRef,
	})
	return out
}

func (p *Provisioner) created(ctx context.Context, cfg *config.Config, rec *model.CustomerRecord, req model.AccountCreationRequest, accountID string) Outcome {
	out := Outcome{OrderRef: req.OrderRef, Stage: StageCreated, AccountID: accountID}

	catalog := NewPlanCatalog(cfg.Plans)
	description := rec.PlanDescription()
	if _, matched := catalog.Resolve(description); !matched {
		slog.Warn("unknown plan description, using default plan", "orderref", req.OrderRef, "description", description)
	}
	for _, planID := range catalog.PlansFor(description) {
		res, err := p.accounts.AddServicePlan(ctx, accountID, planID)
		if err != nil {
			slog.Warn("failed to add service plan", "orderref", req.OrderRef, "account_id", accountID, "plan_id", planID, "error", err)
			out.warn("plan %d not added: %v", planID, err)
			continue
		}
		slog.Info("service plan added", "orderref", req.OrderRef, "account_id", accountID, "plan_id", planID, "message", res.Message)
		out.PlanIDs = append(out.PlanIDs, planID)
	}

	if tpl, err := p.templates.Template(cfg.Ticket.TemplateID); err != nil {
		slog.Warn("ticket template unavailable", "orderref", req.OrderRef, "template", cfg.Ticket.TemplateID, "error", err)
		out.warn("ticket not created: %v", err)
	} else if ticketID, err := p.accounts.CreateTicket(ctx, accountID, RenderTicket(tpl, req)); err != nil {
		slog.Warn("failed to create ticket", "orderref", req.OrderRef, "account_id", accountID, "error", err)
		out.warn("ticket not created: %v", err)
	} else {
		out.TicketID = ticketID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Account: %s\n", accountLink(cfg, accountID))
	if out.TicketID != "" {
		fmt.Fprintf(&b, "Ticket: %s\n", out.TicketID)
	}
	fmt.Fprintf(&b, "Plan: %s\n", description)
	for _, w := range out.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	b.WriteString("\n")
	b.WriteString(req.ContactSummary())

	p.notify(ctx, notify.Message{
		Subject:  "Customer created - account " + accountID,
		Body:     b.String(),
		OrderRef: req.OrderRef,
	})
	slog.Info("customer provisioned", "orderref", req.OrderRef, "account_id", accountID, "site_id", req.SiteID, "warnings", len(out.Warnings))
	return out
}

func (p *Provisioner) unexpected(ctx context.Context, orderRef string, snapshot *model.AccountCreationRequest, err error) (Outcome, error) {
	err = fmt.Errorf("%w: %v", ErrUnexpected, err)
	slog.Error("provisioning error", "orderref", orderRef, "error", err)

	out := Outcome{OrderRef: orderRef, Stage: StageError, Err: err}
	if orderRef != "" {
		out.FailureKey = p.record(ctx, &out, orderRef, err.Error(), model.CategoryUnknown, snapshot)
	}
	p.notify(ctx, notify.Message{
		Subject:  "Error provisioning order " + orderRef,
		Body:     err.Error(),
		OrderRef: orderRef,
	})
	return out, err
}

func (p *Provisioner) record(ctx context.Context, out *Outcome, ref, message string, category model.FailureCategory, snapshot *model.AccountCreationRequest) string {
	key, err := p.failures.RecordFailure(ctx, ref, message, category, snapshot)
	if err != nil {
		slog.Error("failed to record failure", "orderref", ref, "category", category, "error", err)
		out.warn("failure not recorded: %v", err)
		return ""
	}
	return key
}

func (p *Provisioner) notify(ctx context.Context, m notify.Message) {
	if err := p.notifier.Notify(ctx, m); err != nil {
		slog.Error("failed to send notification", "subject", m.Subject, "orderref", m.OrderRef, "error", err)
	}
}

func benign(msg string, known []string) bool {
	lower := strings.ToLower(msg)
	for _, k := range known {
		if k != "" && strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

func accountLink(cfg *config.Config, accountID string) string {
	tpl := cfg.Accounts.AccountViewURL
	switch {
	case tpl == "":
		return accountID
	case strings.Contains(tpl, "%s"):
		return fmt.Sprintf(tpl, accountID)
	default:
		return tpl + accountID
	}
}
