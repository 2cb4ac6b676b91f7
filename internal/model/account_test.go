package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOrder = `{
	"status": "Signed",
	"ordersource": "webcustomer",
	"customer": {"firstname": "Susie", "lastname": "Drukman", "email": "susie@example.com", "phone": 4065550123},
	"address": {"siteid": 714780, "address": "411 N BROADWAY AVENUE", "apt": "", "city": "Bozeman", "zip": "59715", "state": "Montana"},
	"billingaddress": {"name": "Susie Drukman", "city": "Bozeman"},
	"orderitems": [{"pid": "259", "chargetype": "mrc", "description": "250 Mbps"}],
	"termsagreed": "2024-11-02 10:15:00"
}`

func TestCustomerRecordDecodesMixedTypes(t *testing.T) {
	var rec CustomerRecord
	require.NoError(t, json.Unmarshal([]byte(sampleOrder), &rec))

	assert.Equal(t, "4065550123", rec.Customer.Phone.String())
	assert.Equal(t, "714780", rec.Address.SiteID.String())
	assert.Equal(t, "250 Mbps", rec.PlanDescription())
	assert.Equal(t, "Susie Drukman", rec.FullName())

	name, city := rec.MatchKey()
	assert.Equal(t, "Susie Drukman", name)
	assert.Equal(t, "Bozeman", city)
}

func TestBuildAccountRequest(t *testing.T) {
	var rec CustomerRecord
	require.NoError(t, json.Unmarshal([]byte(sampleOrder), &rec))

	req := BuildAccountRequest(&rec, "UIA202411-001186", "portal-secret")

	assert.Equal(t, "Susie", req.FirstName)
	assert.Equal(t, "Drukman", req.LastName)
	assert.Equal(t, "MT", req.State)
	assert.Equal(t, "59715", req.Zip)
	assert.Equal(t, "714780", req.SiteID)
	assert.Equal(t, "UIA202411-001186", req.OrderRef)
	assert.Equal(t, "2024-11-02 10:15:00", req.TermsAgreedAt)
	assert.Equal(t, "susie@example.com", req.PortalUsername)
	assert.Equal(t, "portal-secret", req.PortalPassword)
}

func TestBuildAccountRequestMissingFields(t *testing.T) {
	var rec CustomerRecord
	require.NoError(t, json.Unmarshal([]byte(`{"customer": {"firstname": "Ann"}}`), &rec))

	req := BuildAccountRequest(&rec, "ORD-1", "")
	assert.Equal(t, "Ann", req.FirstName)
	assert.Empty(t, req.LastName)
	assert.Empty(t, req.SiteID)
	assert.Empty(t, req.Zip)
	assert.Empty(t, req.TermsAgreedAt)

	empty := BuildAccountRequest(nil, "ORD-2", "pw")
	assert.Equal(t, AccountCreationRequest{OrderRef: "ORD-2", PortalPassword: "pw"}, empty)
}

func TestNormalizeState(t *testing.T) {
	assert.Equal(t, "MT", NormalizeState("Montana"))
	assert.Equal(t, "MT", NormalizeState("MT"))
	assert.Equal(t, "Utah", NormalizeState("Utah"))
	assert.Equal(t, "montana", NormalizeState("montana"))
	assert.Equal(t, "", NormalizeState(""))
}

func TestMatchAccountIsExact(t *testing.T) {
	accounts := []AccountSummary{
		{ID: "10", Name: "Susie Drukman", City: "Belgrade"},
		{ID: "11", Name: "Susie Drukman", City: "Bozeman"},
		{ID: "12", Name: "Susie Drukman", City: "Bozeman"},
	}

	m := MatchAccount("Susie Drukman", "Bozeman", accounts)
	require.True(t, m.Found)
	assert.Equal(t, "11", m.ID)

	assert.False(t, MatchAccount("susie drukman", "Bozeman", accounts).Found)
	assert.False(t, MatchAccount("Susie Drukman", "BOZEMAN", accounts).Found)
	assert.False(t, MatchAccount("Susie  Drukman", "Bozeman", accounts).Found)
	assert.False(t, MatchAccount("Susie Drukman", "Bozeman", nil).Found)
}

func TestComputeStats(t *testing.T) {
	st := ComputeStats([]FailureRecord{
		{Category: CategoryOrderSource, RetryCount: 2},
		{Category: CategoryAccountCreation, Resolved: true},
		{Category: CategoryOrderSource, RetryCount: 1},
		{},
	})

	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 3, st.Unresolved)
	assert.Equal(t, 1, st.Resolved)
	assert.Equal(t, 3, st.TotalRetries)
	assert.Equal(t, 2, st.ByCategory[CategoryOrderSource])
	assert.Equal(t, 1, st.ByCategory[CategoryUnknown])
}
