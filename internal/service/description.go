package service

import (
	"fmt"
	"strings"

	"bookingsync/internal/models"
)

// EventSummary is the calendar title for a booking: "{product} - {customer}".
func EventSummary(b *models.Booking) string {
	return fmt.Sprintf("%s - %s", b.ProductName, b.Customer.Name)
}

// EventDescription renders the calendar event body for a booking.
func EventDescription(label string, b *models.Booking) string {
	if label == "" {
		label = "Session"
	}
	lines := []string{
		label + " booking",
		"Order: #" + b.OrderNumber,
		"Product: " + b.ProductName,
		"Customer: " + b.Customer.Name,
		"Email: " + b.Customer.Email,
	}
	if b.Customer.Phone != "" {
		lines = append(lines, "Phone: "+b.Customer.Phone)
	}
	if b.Quantity > 1 {
		lines = append(lines, fmt.Sprintf("Quantity: %d", b.Quantity))
	}
	lines = append(lines, "", "Booked via storefront sync (order id "+b.OrderID+")")
	return strings.Join(lines, "\n")
}
