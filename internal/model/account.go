package model

import (
	"fmt"
	"strings"
)

// AccountCreationRequest is the flattened field set the account system
// needs to open a customer account.
type AccountCreationRequest struct {
	FirstName      string `json:"firstname"`
	LastName       string `json:"lastname"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Street         string `json:"address"`
	City           string `json:"city"`
	State          string `json:"state"`
	Zip            string `json:"zip"`
	Apartment      string `json:"apt"`
	SiteID         string `json:"siteid"`
	OrderRef       string `json:"orderref"`
	TermsAgreedAt  string `json:"terms_agreed_at"`
	PortalUsername string `json:"portal_username"`
	PortalPassword string `json:"-"`
}

var stateAbbreviations = map[string]string{
	"Montana": "MT",
}

// NormalizeState maps the full state names the order source is known to
// send to their postal codes. Anything else passes through unchanged.
func NormalizeState(state string) string {
	if abbr, ok := stateAbbreviations[state]; ok {
		return abbr
	}
	return state
}

// BuildAccountRequest never fails: missing source fields become "".
func BuildAccountRequest(rec *CustomerRecord, orderRef, portalPassword string) AccountCreationRequest {
	req := AccountCreationRequest{
		OrderRef:       orderRef,
		PortalPassword: portalPassword,
	}
	if rec == nil {
		return req
	}

	req.FirstName = rec.Customer.FirstName
	req.LastName = rec.Customer.LastName
	req.Email = rec.Customer.Email
	req.Phone = rec.Customer.Phone.String()
	req.Street = rec.Address.Street
	req.City = rec.Address.City
	req.State = NormalizeState(rec.Address.State)
	req.Zip = rec.Address.Zip.String()
	req.Apartment = rec.Address.Apartment
	req.SiteID = rec.Address.SiteID.String()
	req.TermsAgreedAt = rec.TermsAgreedAt.String()
	req.PortalUsername = rec.Customer.Email
	return req
}

// FullName joins first and last name.
func (r AccountCreationRequest) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// ContactSummary is the plain-text block operations see in notifications.
func (r AccountCreationRequest) ContactSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s %s\n", r.FirstName, r.LastName)
	fmt.Fprintf(&b, "Email: %s\n", r.Email)
	fmt.Fprintf(&b, "Phone: %s\n", r.Phone)
	fmt.Fprintf(&b, "Address: %s\n", r.Street)
	if r.Apartment != "" {
		fmt.Fprintf(&b, "Apt: %s\n", r.Apartment)
	}
	fmt.Fprintf(&b, "City: %s\n", r.City)
	fmt.Fprintf(&b, "State: %s\n", r.State)
	fmt.Fprintf(&b, "ZIP: %s\n", r.Zip)
	fmt.Fprintf(&b, "Site ID: %s\n", r.SiteID)
	fmt.Fprintf(&b, "Order Ref: %s", r.OrderRef)
	return b.String()
}

// AccountSummary is one hit from an account system name search.
type AccountSummary struct {
	ID   FlexString `json:"CustomerID"`
	Name string     `json:"CompanyName"`
	City string     `json:"City"`
}

// AccountMatch is the outcome of a duplicate search.
type AccountMatch struct {
	Found bool
	ID    string
	Name  string
	City  string
}

// MatchAccount returns the first summary whose name and city equal the
// given pair exactly. Case and whitespace differences do not match.
func MatchAccount(name, city string, accounts []AccountSummary) AccountMatch {
	for _, a := range accounts {
		if a.Name == name && a.City == city {
			return AccountMatch{Found: true, ID: a.ID.String(), Name: a.Name, City: a.City}
		}
	}
	return AccountMatch{}
}
