package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexString decodes a JSON string, number or null into a string. The
// order source and the account system both send ids and zip codes either way.
type FlexString string

func (s *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = FlexString(n.String())
	return nil
}

func (s FlexString) String() string { return string(s) }

type Person struct {
	FirstName string     `json:"firstname"`
	LastName  string     `json:"lastname"`
	Email     string     `json:"email"`
	Phone     FlexString `json:"phone"`
}

type ServiceAddress struct {
	SiteID    FlexString `json:"siteid"`
	Street    string     `json:"address"`
	Apartment string     `json:"apt"`
	City      string     `json:"city"`
	Zip       FlexString `json:"zip"`
	State     string     `json:"state"`
}

type BillingAddress struct {
	Name string `json:"name"`
	City string `json:"city"`
}

type OrderItem struct {
	ProductID   FlexString `json:"pid"`
	ChargeType  string     `json:"chargetype"`
	Description string     `json:"description"`
}

// CustomerRecord is the order source's view of one order.
type CustomerRecord struct {
	Status         string         `json:"status"`
	Customer       Person         `json:"customer"`
	Address        ServiceAddress `json:"address"`
	BillingAddress BillingAddress `json:"billingaddress"`
	OrderItems     []OrderItem    `json:"orderitems"`
	TermsAgreedAt  FlexString     `json:"termsagreed"`
}

// FullName is "first last" from the person block.
func (c *CustomerRecord) FullName() string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.Customer.FirstName + " " + c.Customer.LastName)
}

// PlanDescription returns the first order item's description, or "".
func (c *CustomerRecord) PlanDescription() string {
	if c == nil || len(c.OrderItems) == 0 {
		return ""
	}
	return c.OrderItems[0].Description
}

// MatchKey is the (name, city) pair compared against account search results.
// Billing data wins when present.
func (c *CustomerRecord) MatchKey() (name, city string) {
	if c == nil {
		return "", ""
	}
	name = c.BillingAddress.Name
	if name == "" {
		name = c.FullName()
	}
	city = c.BillingAddress.City
	if city == "" {
		city = c.Address.City
	}
	return name, city
}
