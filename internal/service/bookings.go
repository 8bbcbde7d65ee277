package service

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"bookingsync/internal/models"
	"bookingsync/internal/syncerr"
)

const (
	defaultCustomerName = "Customer"
	defaultProductName  = "Unknown Product"
	bookingTimeLayout   = "3:04 PM"
)

var (
	bookingDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	bookingTimeRe = regexp.MustCompile(`(?i)^(1[0-2]|[1-9]):([0-5][0-9])\s*(AM|PM)$`)
)

// IsBookingOrder reports whether any line item carries both booking properties.
func IsBookingOrder(order *models.Order) bool {
	for i := range order.LineItems {
		if order.LineItems[i].HasBooking() {
			return true
		}
	}
	return false
}

// ExtractBookings returns one booking per line item carrying booking properties.
func ExtractBookings(order *models.Order) []models.Booking {
	contact := models.ContactInfo{
		Name:  CustomerName(order),
		Email: firstNonEmpty(customerField(order, func(c *models.Customer) string { return c.Email }), order.Email),
		Phone: firstNonEmpty(customerField(order, func(c *models.Customer) string { return c.Phone }), order.Phone),
	}

	var bookings []models.Booking
	for i := range order.LineItems {
		li := &order.LineItems[i]
		date, hasDate := li.Property(models.PropertyBookingDate)
		bookingTime, hasTime := li.Property(models.PropertyBookingTime)
		if !hasDate || !hasTime {
			continue
		}
		quantity := li.Quantity
		if quantity <= 0 {
			quantity = 1
		}
		// без id позиция в заказе даёт стабильный ключ для записи и поиска события
		lineItemID := li.ID.String()
		if lineItemID == "" {
			lineItemID = fmt.Sprintf("line-%d", i)
		}
		bookings = append(bookings, models.Booking{
			OrderID:     order.ID.String(),
			OrderNumber: order.OrderNumber,
			LineItemID:  lineItemID,
			ProductName: firstNonEmpty(li.Name, li.Title, defaultProductName),
			ProductID:   li.ProductID.String(),
			VariantID:   li.VariantID.String(),
			Quantity:    quantity,
			Date:        date,
			Time:        bookingTime,
			Customer:    contact,
		})
	}
	return bookings
}

// CustomerName resolves the customer's name from the customer record, then
// billing address, then shipping address, falling back to "Customer".
func CustomerName(order *models.Order) string {
	return firstNonEmpty(
		order.Customer.DisplayName(),
		order.BillingAddress.DisplayName(),
		order.ShippingAddress.DisplayName(),
		defaultCustomerName,
	)
}

// ValidateBooking checks required fields and formats. today is the current
// date in the booking time zone; dates strictly before it are rejected.
func ValidateBooking(b *models.Booking, today time.Time) error {
	var problems []string

	if b.Date == "" {
		problems = append(problems, "booking date is required")
	}
	if b.Time == "" {
		problems = append(problems, "booking time is required")
	}
	if strings.TrimSpace(b.ProductName) == "" {
		problems = append(problems, "product name is required")
	}
	if strings.TrimSpace(b.Customer.Email) == "" {
		problems = append(problems, "customer email is required")
	}

	if b.Date != "" {
		if !bookingDateRe.MatchString(b.Date) {
			problems = append(problems, fmt.Sprintf("invalid booking date %q, expected YYYY-MM-DD", b.Date))
		} else if day, err := time.ParseInLocation(time.DateOnly, b.Date, today.Location()); err != nil {
			problems = append(problems, fmt.Sprintf("invalid booking date %q", b.Date))
		} else if day.Before(startOfDay(today)) {
			problems = append(problems, fmt.Sprintf("booking date %s is in the past", b.Date))
		}
	}

	if b.Time != "" && !bookingTimeRe.MatchString(b.Time) {
		problems = append(problems, fmt.Sprintf("invalid booking time %q, expected H:MM AM/PM", b.Time))
	}

	if len(problems) > 0 {
		return syncerr.Validation("booking "+b.LineItemID, "%s", strings.Join(problems, "; "))
	}
	return nil
}

// BookingStart combines a validated booking date and time in loc.
func BookingStart(b *models.Booking, loc *time.Location) (time.Time, error) {
	m := bookingTimeRe.FindStringSubmatch(strings.TrimSpace(b.Time))
	if m == nil {
		return time.Time{}, syncerr.Validation("time", "invalid booking time %q", b.Time)
	}
	clock, err := time.Parse(bookingTimeLayout, m[1]+":"+m[2]+" "+strings.ToUpper(m[3]))
	if err != nil {
		return time.Time{}, syncerr.Validation("time", "invalid booking time %q", b.Time)
	}
	day, err := time.ParseInLocation(time.DateOnly, b.Date, loc)
	if err != nil {
		return time.Time{}, syncerr.Validation("date", "invalid booking date %q", b.Date)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func customerField(order *models.Order, get func(*models.Customer) string) string {
	if order.Customer == nil {
		return ""
	}
	return get(order.Customer)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
