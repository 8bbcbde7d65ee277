package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	FinancialStatusPaid = "paid"

	PropertyBookingDate = "Booking Date"
	PropertyBookingTime = "Booking Time"
)

// ExternalID is a storefront identifier that may arrive as a JSON number or string.
type ExternalID string

func (id *ExternalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ExternalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("external id: %w", err)
	}
	*id = ExternalID(n.String())
	return nil
}

func (id ExternalID) MarshalJSON() ([]byte, error) {
	// только каноничная запись числа, "007" и "+5" остаются строками
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ExternalID) String() string {
	return string(id)
}

// Order is a storefront purchase as returned by the order API.
type Order struct {
	ID              ExternalID `json:"id"`
	OrderNumber     string     `json:"order_number"`
	FinancialStatus string     `json:"financial_status"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	Customer        *Customer  `json:"customer,omitempty"`
	BillingAddress  *Address   `json:"billing_address,omitempty"`
	ShippingAddress *Address   `json:"shipping_address,omitempty"`
	LineItems       []LineItem `json:"line_items"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsPaid reports whether the storefront marked the order as paid.
func (o *Order) IsPaid() bool {
	return strings.EqualFold(strings.TrimSpace(o.FinancialStatus), FinancialStatusPaid)
}

type LineItem struct {
	ID         ExternalID `json:"id"`
	Name       string     `json:"name"`
	Title      string     `json:"title,omitempty"`
	ProductID  ExternalID `json:"product_id"`
	VariantID  ExternalID `json:"variant_id"`
	Quantity   int        `json:"quantity"`
	Properties []Property `json:"properties"`
}

// Property returns the trimmed value of a named line item property.
func (li *LineItem) Property(name string) (string, bool) {
	for _, p := range li.Properties {
		if p.Name == name {
			return strings.TrimSpace(p.Value), true
		}
	}
	return "", false
}

// HasBooking reports whether the line item carries both booking properties.
func (li *LineItem) HasBooking() bool {
	_, hasDate := li.Property(PropertyBookingDate)
	_, hasTime := li.Property(PropertyBookingTime)
	return hasDate && hasTime
}

type Property struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Customer struct {
	Name      string `json:"name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type Address struct {
	Name      string `json:"name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// DisplayName returns the explicit name or the joined first/last name.
func (c *Customer) DisplayName() string {
	if c == nil {
		return ""
	}
	return displayName(c.Name, c.FirstName, c.LastName)
}

func (a *Address) DisplayName() string {
	if a == nil {
		return ""
	}
	return displayName(a.Name, a.FirstName, a.LastName)
}

func displayName(name, first, last string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
}
