package models

import "time"

// Booking is a date/time/product triple extracted from one order line item.
type Booking struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	LineItemID  string      `json:"line_item_id"`
	ProductName string      `json:"product_name"`
	ProductID   string      `json:"product_id,omitempty"`
	VariantID   string      `json:"variant_id,omitempty"`
	Quantity    int         `json:"quantity"`
	Date        string      `json:"date"`
	Time        string      `json:"time"`
	Customer    ContactInfo `json:"customer"`
}

type ContactInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// ProcessedOrder is the append-only idempotency record for a synchronized order.
type ProcessedOrder struct {
	OrderID         string             `json:"order_id"`
	OrderNumber     string             `json:"order_number"`
	PaymentStatus   string             `json:"payment_status"`
	CalendarEventID string             `json:"calendar_event_id"`
	SyncSource      string             `json:"sync_source"`
	ProcessedAt     time.Time          `json:"processed_at"`
	Bookings        []ProcessedBooking `json:"bookings"`
}

// ProcessedBooking is the per-line-item part of a ProcessedOrder.
type ProcessedBooking struct {
	LineItemID      string `json:"line_item_id"`
	ProductName     string `json:"product_name"`
	BookingDate     string `json:"booking_date"`
	BookingTime     string `json:"booking_time"`
	CustomerName    string `json:"customer_name"`
	CustomerEmail   string `json:"customer_email"`
	CalendarEventID string `json:"calendar_event_id"`
}
