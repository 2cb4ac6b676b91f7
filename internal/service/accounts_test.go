package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"provisioner/internal/config"
	"provisioner/internal/model"
)

type formRecorder struct {
	mu    sync.Mutex
	forms []url.Values
}

func (f *formRecorder) add(r *http.Request) url.Values {
	_ = r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forms = append(f.forms, r.PostForm)
	return r.PostForm
}

func (f *formRecorder) all() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.forms...)
}

func newAccountClient(t *testing.T, h http.HandlerFunc) *AccountClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Accounts.APIURL = srv.URL
	cfg.Accounts.APIKey = "pc-key"
	cfg.Accounts.CreateRetryDelay = 0
	return NewAccountClient(func() *config.Config { return cfg }, 5*time.Second)
}

func sampleRequest() model.AccountCreationRequest {
	return model.AccountCreationRequest{
		FirstName:      "Ann",
		LastName:       "Lee",
		Email:          "ann@example.com",
		Phone:          "4065550100",
		Street:         "12 Main St",
		City:           "Bozeman",
		State:          "Montana",
		Zip:            "59715",
		SiteID:         "714780",
		OrderRef:       "ORD-1",
		TermsAgreedAt:  "2024-11-02",
		PortalUsername: "ann@example.com",
		PortalPassword: "pw",
	}
}

func TestCreateAccountSuccess(t *testing.T) {
	rec := &formRecorder{}
	c := newAccountClient(t, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.Write([]byte(`{"statusCode":0,"customerID":9001}`))
	})

	id, err := c.CreateAccount(t.Context(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "9001", id)

	forms := rec.all()
	require.Len(t, forms, 1)
	f := forms[0]
	assert.Equal(t, "pc-key", f.Get("apiKey"))
	assert.Equal(t, "createCustomer", f.Get("action"))
	assert.Equal(t, "MT", f.Get("physicalState"))
	assert.Equal(t, "1", f.Get("physicalAutomaticallyGeocode"))
	assert.Equal(t, "714780", f.Get("extAccountID"))
	assert.Equal(t, "Order# ORD-1\nUtopia SiteID: 714780\nTerms Agreed: 2024-11-02", f.Get("customerNotes"))

	var phone []map[string]string
	require.NoError(t, json.Unmarshal([]byte(f.Get("phone")), &phone))
	assert.Equal(t, []map[string]string{{"Type": "Home", "Number": "4065550100"}}, phone)
}

func TestCreateAccountGeocodeRetryIsOneWay(t *testing.T) {
	rec := &formRecorder{}
	c := newAccountClient(t, func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.Write([]byte(`{"statusCode":23,"message":"Geocoding failed"}`))
	})

	id, err := c.CreateAccount(t.Context(), sampleRequest())
	assert.Empty(t, id)

	var ce *CreationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, 3, ce.Attempts)
	assert.Contains(t, ce.LastResponse, "Geocoding failed")

	forms := rec.all()
	require.Len(t, forms, 3)
	assert.Equal(t, "1", forms[0].Get("physicalAutomaticallyGeocode"))
	assert.Equal(t, "0", forms[1].Get("physicalAutomaticallyGeocode"))
	assert.Equal(t, "0", forms[2].Get("physicalAutomaticallyGeocode"))
}

func TestCreateAccountOtherErrorsKeepGeocode(t *testing.T) {
	rec := &formRecorder{}
	c := newAccountClient(t, func(w http.ResponseWriter, r *http.Request) {
		f := rec.add(r)
		if len(rec.all()) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"statusCode":99,"message":"busy"}`))
			return
		}
		assert.Equal(t, "1", f.Get("physicalAutomaticallyGeocode"))
		w.Write([]byte(`{"customerID":"77"}`))
	})

	id, err := c.CreateAccount(t.Context(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "77", id)
	assert.Len(t, rec.all(), 3)
}

func TestCreateAccountMissingIDIsFailure(t *testing.T) {
	c := newAccountClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"statusCode":0,"message":"ok"}`))
	})

	_, err := c.CreateAccount(t.Context(), sampleRequest())
	var ce *CreationError
	require.True(t, errors.As(err, &ce))
	assert.False(t, ce.AlreadyExists())
}

func TestCreationErrorAlreadyExists(t *testing.T) {
	c := newAccountClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"statusCode":5,"message":"Customer already exists"}`))
	})

	_, err := c.CreateAccount(t.Context(), sampleRequest())
	var ce *CreationError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.AlreadyExists())
}

func TestFindAccounts(t *testing.T) {
	c := newAccountClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Equal(t, "searchCustomers", r.PostForm.Get("action"))
		if r.PostForm.Get("searchString") == "Nobody" {
			w.Write([]byte(`{"statusCode":0}`))
			return
		}
		w.Write([]byte(`{"customers":[{"CustomerID":"10","CompanyName":"Ann Lee","City":"Bozeman"}]}`))
	})

	hits, err := c.FindAccounts(t.Context(), "Ann Lee")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "10", hits[0].ID.String())

	none, err := c.FindAccounts(t.Context(), "Nobody")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestFindAccountsHTTPError(t *testing.T) {
	c := newAccountClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.FindAccounts(t.Context(), "Ann Lee")
	assert.ErrorContains(t, err, "unexpected status: 403")
}

func TestAddServicePlan(t *testing.T) {
	c := newAccountClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Equal(t, "addCustomerService", r.PostForm.Get("action"))
		assert.Equal(t, "5", r.PostForm.Get("quantity"))
		assert.Equal(t, "0", r.PostForm.Get("prorateService"))
		if r.PostForm.Get("serviceID") == "172" {
			w.Write([]byte(`{"statusCode":12,"message":"Service not found"}`))
			return
		}
		w.Write([]byte(`{"statusCode":0,"message":"Service added"}`))
	})

	res, err := c.AddServicePlan(t.Context(), "9001", 163)
	require.NoError(t, err)
	assert.Equal(t, "Service added", res.Message)

	res, err = c.AddServicePlan(t.Context(), "9001", 172)
	require.Error(t, err)
	assert.Equal(t, "12", res.StatusCode)
}

func TestCreateTicket(t *testing.T) {
	c := newAccountClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Equal(t, "createTicket", r.PostForm.Get("action"))
		assert.Equal(t, "54", r.PostForm.Get("category"))
		assert.Equal(t, "21", r.PostForm.Get("ticketType"))
		assert.Equal(t, "Sales", r.PostForm.Get("responsibleUser"))
		assert.Equal(t, "1", r.PostForm.Get("customerViewable"))
		if r.PostForm.Get("customerID") == "bad" {
			w.Write([]byte(`{"statusCode":3,"message":"no such customer"}`))
			return
		}
		w.Write([]byte(`{"message":"Ticket created","statusCode":0,"ticketID":"15"}`))
	})

	id, err := c.CreateTicket(t.Context(), "9001", "<p>hi</p>")
	require.NoError(t, err)
	assert.Equal(t, "15", id)

	_, err = c.CreateTicket(t.Context(), "bad", "<p>hi</p>")
	assert.ErrorIs(t, err, ErrNoTicketID)
}
