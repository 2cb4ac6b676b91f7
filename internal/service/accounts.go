package service

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"provisioner/internal/config"
	"provisioner/internal/model"
	"provisioner/internal/retry"
)

// geocodeFailedStatus is the account system's "could not geocode the
// address" status code.
const geocodeFailedStatus = "23"

var (
	errGeocodeFailed = errors.New("geocoding failed")
	ErrNoTicketID    = errors.New("ticket id missing from response")
)

// CreationError is returned once account creation has used up its
// attempts. LastResponse is the raw body (or transport error) of the final
// attempt.
type CreationError struct {
	LastResponse string
	Attempts     int
	Err          error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("account creation failed after %d attempts: %s", e.Attempts, e.LastResponse)
}

func (e *CreationError) Unwrap() error { return e.Err }

// AlreadyExists reports whether the account system refused the account
// because it already has one.
func (e *CreationError) AlreadyExists() bool {
	return strings.Contains(strings.ToLower(e.LastResponse), "already exists")
}

type PlanAddResult struct {
	StatusCode string
	Message    string
}

type apiResponse struct {
	StatusCode model.FlexString       `json:"statusCode"`
	Message    string                 `json:"message"`
	CustomerID model.FlexString       `json:"customerID"`
	TicketID   model.FlexString       `json:"ticketID"`
	Customers  []model.AccountSummary `json:"customers"`
}

func (r apiResponse) ok() bool {
	s := r.StatusCode.String()
	return s == "" || s == "0"
}

type AccountClient struct {
	settings func() *config.Config
	client   *http.Client
}

func NewAccountClient(settings func() *config.Config, timeout time.Duration) *AccountClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !settings().Accounts.VerifySSL {
		slog.Warn("account system TLS verification is disabled")
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &AccountClient{
		settings: settings,
		client:   &http.Client{Timeout: timeout, Transport: transport},
	}
}

func (c *AccountClient) post(ctx context.Context, acc config.Accounts, form url.Values) (int, []byte, error) {
	form.Set("apiKey", acc.APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, acc.APIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *AccountClient) call(ctx context.Context, form url.Values) (*apiResponse, error) {
	status, body, err := c.post(ctx, c.settings().Accounts, form)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d, body: %s", status, truncate(body))
	}

	var res apiResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &res, nil
}

// FindAccounts runs the account system's name search. No hits is an empty
// slice, not an error.
func (c *AccountClient) FindAccounts(ctx context.Context, name string) ([]model.AccountSummary, error) {
	form := url.Values{}
	form.Set("action", "searchCustomers")
	form.Set("searchString", name)

	res, err := c.call(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("search accounts: %w", err)
	}
	if res.Customers == nil {
		return []model.AccountSummary{}, nil
	}
	return res.Customers, nil
}

func createForm(acc config.Accounts, req model.AccountCreationRequest, geocode bool) url.Values {
	phone, _ := json.Marshal([]map[string]string{{"Type": "Home", "Number": req.Phone}})

	notes := fmt.Sprintf("Order# %s\nUtopia SiteID: %s", req.OrderRef, req.SiteID)
	if req.TermsAgreedAt != "" {
		notes += "\nTerms Agreed: " + req.TermsAgreedAt
	}

	street := req.Street
	if req.Apartment != "" {
		street += " " + req.Apartment
	}

	form := url.Values{}
	form.Set("action", "createCustomer")
	form.Set("firstName", req.FirstName)
	form.Set("lastName", req.LastName)
	form.Set("emailAddress", req.Email)
	form.Set("physicalStreet", street)
	form.Set("physicalCity", req.City)
	form.Set("physicalState", model.NormalizeState(req.State))
	form.Set("physicalZip", req.Zip)
	if geocode {
		form.Set("physicalAutomaticallyGeocode", "1")
	} else {
		form.Set("physicalAutomaticallyGeocode", "0")
	}
	form.Set("billingSameAsPhysical", "1")
	form.Set("taxZoneId", "1")
	form.Set("billDay", "Activation Date")
	form.Set("dueByDays", "0")
	form.Set("gracePeriodDays", "10")
	form.Set("customerNotes", notes)
	form.Set("customerPortalUsername", req.PortalUsername)
	form.Set("customerPortalPassword", req.PortalPassword)
	form.Set("phone", string(phone))
	form.Set("extAccountID", req.SiteID)
	return form
}

// CreateAccount opens a customer account and returns its id. A geocoding
// failure switches automatic geocoding off for the remaining attempts.
func (c *AccountClient) CreateAccount(ctx context.Context, req model.AccountCreationRequest) (string, error) {
	acc := c.settings().Accounts
	policy := retry.Policy{
		MaxAttempts: acc.CreateAttempts,
		Delay:       acc.CreateRetryDelay,
	}

	var (
		accountID string
		last      string
		attempts  int
		geocode   = true
	)
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		slog.Info("creating account", "orderref", req.OrderRef, "attempt", attempt, "geocode", geocode)

		status, body, err := c.post(ctx, acc, createForm(acc, req, geocode))
		if err != nil {
			last = err.Error()
			slog.Warn("account creation request failed", "orderref", req.OrderRef, "attempt", attempt, "error", err)
			return err
		}
		last = string(body)

		var res apiResponse
		if err := json.Unmarshal(body, &res); err != nil {
			return fmt.Errorf("decode response (status %d): %w", status, err)
		}
		if status == http.StatusOK && res.CustomerID != "" {
			accountID = res.CustomerID.String()
			return nil
		}
		if res.StatusCode.String() == geocodeFailedStatus {
			slog.Warn("geocoding failed, retrying without it", "orderref", req.OrderRef, "attempt", attempt)
			geocode = false
			return errGeocodeFailed
		}
		return fmt.Errorf("create account: status %d: %s", status, res.Message)
	})
	if err != nil {
		return "", &CreationError{LastResponse: last, Attempts: attempts, Err: err}
	}

	slog.Info("account created", "orderref", req.OrderRef, "account_id", accountID, "attempts", attempts)
	return accountID, nil
}

// AddServicePlan attaches a plan to an account. A non-zero upstream status
// code is an error; the result is returned either way when one was read.
func (c *AccountClient) AddServicePlan(ctx context.Context, accountID string, planID int) (*PlanAddResult, error) {
	form := url.Values{}
	form.Set("action", "addCustomerService")
	form.Set("customerID", accountID)
	form.Set("serviceID", strconv.Itoa(planID))
	form.Set("quantity", strconv.Itoa(c.settings().Accounts.PlanQuantity))
	form.Set("prorateService", "0")

	res, err := c.call(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("add plan %d: %w", planID, err)
	}

	out := &PlanAddResult{StatusCode: res.StatusCode.String(), Message: res.Message}
	if !res.ok() {
		return out, fmt.Errorf("add plan %d: status %s: %s", planID, out.StatusCode, out.Message)
	}
	return out, nil
}

func (c *AccountClient) CreateTicket(ctx context.Context, accountID, description string) (string, error) {
	t := c.settings().Ticket

	form := url.Values{}
	form.Set("action", "createTicket")
	form.Set("type", "Individual")
	form.Set("summary", t.Summary)
	form.Set("category", strconv.Itoa(t.Category))
	form.Set("ticketType", strconv.Itoa(t.Type))
	form.Set("description", description)
	form.Set("status", strconv.Itoa(t.Status))
	form.Set("responsibleUser", t.ResponsibleUser)
	form.Set("responsibleGroupID", strconv.Itoa(t.ResponsibleGroupID))
	if t.CustomerViewable {
		form.Set("customerViewable", "1")
	} else {
		form.Set("customerViewable", "0")
	}
	form.Set("customerID", accountID)

	res, err := c.call(ctx, form)
	if err != nil {
		return "", fmt.Errorf("create ticket: %w", err)
	}
	if res.TicketID == "" {
		return "", fmt.Errorf("create ticket: %w: %s", ErrNoTicketID, res.Message)
	}
	return res.TicketID.String(), nil
}
