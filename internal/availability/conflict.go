// Package availability decides whether a booking slot is free on the calendar.
package availability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bookingsync/internal/models"
)

const productSeparator = " - "

// Slot is a half-open time window [Start, End).
type Slot struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the slot intersects [start, end). Touching edges do not overlap.
func (s Slot) Overlaps(start, end time.Time) bool {
	return s.Start.Before(end) && s.End.After(start)
}

// IsClosure reports whether an event title marks a global closure.
func IsClosure(title string) bool {
	t := strings.ToLower(strings.TrimSpace(title))
	return t == "closed" || strings.HasPrefix(t, "closed ") || strings.HasPrefix(t, "closed:")
}

// EventProduct returns the product part of a "{product} - {customer}" title.
func EventProduct(title string) string {
	t := strings.TrimSpace(title)
	if i := strings.Index(t, productSeparator); i >= 0 {
		return strings.TrimSpace(t[:i])
	}
	return t
}

// Conflict returns the first event that blocks the slot, or nil.
// Closures block every product; otherwise only events of the same product
// block, or any overlapping event when product is empty.
func Conflict(slot Slot, events []models.CalendarEvent, product string) *models.CalendarEvent {
	product = strings.TrimSpace(product)
	var match *models.CalendarEvent
	for i := range events {
		ev := &events[i]
		if !slot.Overlaps(ev.Start, ev.End) {
			continue
		}
		if IsClosure(ev.Summary) {
			return ev
		}
		if match != nil {
			continue
		}
		if product == "" || strings.EqualFold(EventProduct(ev.Summary), product) {
			match = ev
		}
	}
	return match
}

// IsAvailable reports whether no event blocks the slot.
func IsAvailable(slot Slot, events []models.CalendarEvent, product string) bool {
	return Conflict(slot, events, product) == nil
}

// EventLister lists calendar events in a window.
type EventLister interface {
	ListEvents(ctx context.Context, start, end time.Time) ([]models.CalendarEvent, error)
}

// Detector checks slots against the live calendar.
type Detector struct {
	events   EventLister
	session  time.Duration
	buffer   time.Duration
	location *time.Location
}

func NewDetector(events EventLister, session, buffer time.Duration, loc *time.Location) *Detector {
	if loc == nil {
		loc = time.UTC
	}
	return &Detector{events: events, session: session, buffer: buffer, location: loc}
}

// Location is the zone booking dates and times are interpreted in.
func (d *Detector) Location() *time.Location {
	return d.location
}

// SlotAt builds the slot starting at start, sized session plus buffer.
func (d *Detector) SlotAt(start time.Time) Slot {
	return Slot{Start: start, End: start.Add(d.session + d.buffer)}
}

// DayBounds returns local midnight of t's day and the following midnight.
func (d *Detector) DayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(d.location)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, d.location)
	return dayStart, dayStart.AddDate(0, 0, 1)
}

// Check returns the blocking event for a slot starting at start, or nil when free.
func (d *Detector) Check(ctx context.Context, start time.Time, product string) (*models.CalendarEvent, error) {
	return d.CheckExcept(ctx, start, product, "")
}

// CheckExcept is Check ignoring the event with id eventID, used when an
// existing event is being moved into the slot.
func (d *Detector) CheckExcept(ctx context.Context, start time.Time, product, eventID string) (*models.CalendarEvent, error) {
	dayStart, dayEnd := d.DayBounds(start)
	events, err := d.events.ListEvents(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", dayStart.Format(time.DateOnly), err)
	}
	if eventID != "" {
		kept := events[:0]
		for _, ev := range events {
			if ev.ID != eventID {
				kept = append(kept, ev)
			}
		}
		events = kept
	}
	return Conflict(d.SlotAt(start), events, product), nil
}
