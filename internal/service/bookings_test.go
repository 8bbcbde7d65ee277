package service

import (
	"testing"
	"time"

	"bookingsync/internal/models"
	"bookingsync/internal/syncerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBookingOrder(t *testing.T) {
	order := bookingOrder("1", "Studio A", "2025-03-10", "10:00 AM")
	assert.True(t, IsBookingOrder(order))

	order.LineItems[0].Properties = order.LineItems[0].Properties[:1]
	assert.False(t, IsBookingOrder(order))

	assert.False(t, IsBookingOrder(&models.Order{}))
}

func TestExtractBookings(t *testing.T) {
	order := bookingOrder("1", "Studio A", "2025-03-10", " 10:00 AM ")
	order.LineItems = append(order.LineItems,
		models.LineItem{ID: "plain", Name: "Gift card", Quantity: 1},
		models.LineItem{
			ID:       "li-2",
			Title:    "Studio B",
			Quantity: 0,
			Properties: []models.Property{
				{Name: models.PropertyBookingDate, Value: "2025-03-11"},
				{Name: models.PropertyBookingTime, Value: "2:30 PM"},
			},
		},
	)

	bookings := ExtractBookings(order)
	require.Len(t, bookings, 2)

	first := bookings[0]
	assert.Equal(t, "1", first.OrderID)
	assert.Equal(t, "li-1", first.LineItemID)
	assert.Equal(t, "Studio A", first.ProductName)
	assert.Equal(t, "10:00 AM", first.Time)
	assert.Equal(t, "Jane Cruz", first.Customer.Name)
	assert.Equal(t, "jane@example.com", first.Customer.Email)

	second := bookings[1]
	assert.Equal(t, "Studio B", second.ProductName)
	assert.Equal(t, 1, second.Quantity)
}

func TestExtractBookings_MissingLineItemIDs(t *testing.T) {
	order := bookingOrder("1", "Studio A", "2025-03-10", "10:00 AM")
	second := order.LineItems[0]
	order.LineItems = append(order.LineItems, models.LineItem{Name: "Gift card"}, second)
	order.LineItems[0].ID = ""
	order.LineItems[2].ID = ""

	bookings := ExtractBookings(order)
	require.Len(t, bookings, 2)
	assert.Equal(t, "line-0", bookings[0].LineItemID)
	assert.Equal(t, "line-2", bookings[1].LineItemID)
}

func TestExtractBookings_ContactFallbacks(t *testing.T) {
	order := bookingOrder("1", "", "2025-03-10", "10:00 AM")
	order.Customer = nil
	order.Email = "order@example.com"
	order.Phone = "123"

	b := ExtractBookings(order)[0]
	assert.Equal(t, "Unknown Product", b.ProductName)
	assert.Equal(t, "order@example.com", b.Customer.Email)
	assert.Equal(t, "123", b.Customer.Phone)
	assert.Equal(t, "Customer", b.Customer.Name)
}

func TestCustomerName(t *testing.T) {
	tests := []struct {
		name  string
		order models.Order
		want  string
	}{
		{"customer name", models.Order{Customer: &models.Customer{Name: "Ana"}}, "Ana"},
		{"customer first last", models.Order{Customer: &models.Customer{FirstName: "Ana", LastName: "Reyes"}}, "Ana Reyes"},
		{"billing", models.Order{Customer: &models.Customer{}, BillingAddress: &models.Address{Name: "Bill"}}, "Bill"},
		{"shipping", models.Order{ShippingAddress: &models.Address{FirstName: "Ship"}}, "Ship"},
		{"fallback", models.Order{}, "Customer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CustomerName(&tt.order))
		})
	}
}

func TestValidateBooking(t *testing.T) {
	today := time.Date(2025, 3, 1, 23, 0, 0, 0, manila)
	valid := func() models.Booking {
		return models.Booking{
			LineItemID:  "li-1",
			ProductName: "Studio A",
			Date:        "2025-03-10",
			Time:        "10:00 AM",
			Customer:    models.ContactInfo{Name: "Jane", Email: "jane@example.com"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(b *models.Booking)
		wantErr string
	}{
		{"valid", func(*models.Booking) {}, ""},
		{"today is allowed", func(b *models.Booking) { b.Date = "2025-03-01" }, ""},
		{"lowercase pm", func(b *models.Booking) { b.Time = "2:15pm" }, ""},
		{"past date", func(b *models.Booking) { b.Date = "2025-02-28" }, "in the past"},
		{"bad date format", func(b *models.Booking) { b.Date = "10/03/2025" }, "expected YYYY-MM-DD"},
		{"impossible date", func(b *models.Booking) { b.Date = "2025-02-30" }, "invalid booking date"},
		{"24h time", func(b *models.Booking) { b.Time = "14:00" }, "expected H:MM AM/PM"},
		{"hour 13", func(b *models.Booking) { b.Time = "13:00 PM" }, "expected H:MM AM/PM"},
		{"missing date", func(b *models.Booking) { b.Date = "" }, "booking date is required"},
		{"missing email", func(b *models.Booking) { b.Customer.Email = "" }, "customer email is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid()
			tt.mutate(&b)
			err := ValidateBooking(&b, today)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, syncerr.CategoryValidation, syncerr.Classify(err))
		})
	}
}

func TestBookingStart(t *testing.T) {
	tests := []struct {
		tm   string
		hour int
		min  int
	}{
		{"10:00 AM", 10, 0},
		{"12:00 AM", 0, 0},
		{"12:30 PM", 12, 30},
		{"2:15pm", 14, 15},
		{"9:05 Am", 9, 5},
	}
	for _, tt := range tests {
		t.Run(tt.tm, func(t *testing.T) {
			start, err := BookingStart(&models.Booking{Date: "2025-03-10", Time: tt.tm}, manila)
			require.NoError(t, err)
			assert.Equal(t, time.Date(2025, 3, 10, tt.hour, tt.min, 0, 0, manila), start)
		})
	}

	_, err := BookingStart(&models.Booking{Date: "2025-03-10", Time: "25:00"}, manila)
	assert.Error(t, err)
}
