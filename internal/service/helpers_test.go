package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"bookingsync/internal/availability"
	"bookingsync/internal/clock"
	"bookingsync/internal/database"
	"bookingsync/internal/models"
	"bookingsync/internal/syncerr"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var manila = mustLoad("Asia/Manila")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone(name, 8*3600)
	}
	return loc
}

// t0 is 2025-03-01 09:00 in Manila.
var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, manila)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func bookingOrder(id, product, date, tm string) *models.Order {
	return &models.Order{
		ID:              models.ExternalID(id),
		OrderNumber:     "10" + id,
		FinancialStatus: "paid",
		Customer:        &models.Customer{FirstName: "Jane", LastName: "Cruz", Email: "jane@example.com", Phone: "+63 900 000 0000"},
		LineItems: []models.LineItem{{
			ID:        models.ExternalID("li-" + id),
			Name:      product,
			ProductID: "p1",
			Quantity:  1,
			Properties: []models.Property{
				{Name: models.PropertyBookingDate, Value: date},
				{Name: models.PropertyBookingTime, Value: tm},
			},
		}},
		UpdatedAt: t0.Add(-time.Hour),
	}
}

// fakeCalendar keeps events in memory.
type fakeCalendar struct {
	mu        sync.Mutex
	events    []models.CalendarEvent
	created   []models.EventRequest
	updated   []string
	createErr error
	updateErr error
	listErr   error
	seq       int
}

func (c *fakeCalendar) ListEvents(_ context.Context, start, end time.Time) ([]models.CalendarEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listErr != nil {
		return nil, c.listErr
	}
	var out []models.CalendarEvent
	for _, ev := range c.events {
		if ev.Start.Before(end) && ev.End.After(start) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *fakeCalendar) CreateEvent(_ context.Context, req models.EventRequest) (*models.CreatedEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return nil, c.createErr
	}
	c.seq++
	id := fmt.Sprintf("evt-%d", c.seq)
	c.created = append(c.created, req)
	c.events = append(c.events, models.CalendarEvent{
		ID:         id,
		Summary:    req.Summary,
		Start:      req.Start,
		End:        req.End,
		OrderID:    req.Properties[models.EventPropertyOrderID],
		LineItemID: req.Properties[models.EventPropertyLineItemID],
	})
	return &models.CreatedEvent{ID: id, Link: "https://calendar.test/" + id}, nil
}

func (c *fakeCalendar) UpdateEvent(_ context.Context, id string, req models.EventRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateErr != nil {
		return c.updateErr
	}
	c.updated = append(c.updated, id)
	for i := range c.events {
		if c.events[i].ID == id {
			c.events[i].Summary = req.Summary
			c.events[i].Start = req.Start
			c.events[i].End = req.End
		}
	}
	return nil
}

func (c *fakeCalendar) DeleteEvent(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ev := range c.events {
		if ev.ID == id {
			c.events = append(c.events[:i], c.events[i+1:]...)
			return nil
		}
	}
	return nil
}

func (c *fakeCalendar) FindEventByOrderID(_ context.Context, orderID string, _ time.Time) ([]models.CalendarEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.CalendarEvent
	for _, ev := range c.events {
		if ev.OrderID == orderID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *fakeCalendar) Ping(context.Context) error { return nil }

func (c *fakeCalendar) block(summary string, start time.Time, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, models.CalendarEvent{ID: "blk-" + summary, Summary: summary, Start: start, End: start.Add(d)})
}

func (c *fakeCalendar) createdCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.created)
}

// fakeRetrier records queue interactions without backoff.
type fakeRetrier struct {
	clock    clock.Clock
	mu       sync.Mutex
	entries  map[string]*models.RetryEntry
	failures map[string][]error
	resolved []string
}

func newFakeRetrier(clk clock.Clock) *fakeRetrier {
	return &fakeRetrier{clock: clk, entries: map[string]*models.RetryEntry{}, failures: map[string][]error{}}
}

func (r *fakeRetrier) Enqueue(_ context.Context, order *models.Order, reason string, category syncerr.Category) (*models.RetryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := &models.RetryEntry{
		OrderID:         order.ID.String(),
		Order:           order,
		FailureReason:   reason,
		FailureCategory: string(category),
		MaxRetries:      5,
		Status:          models.RetryStatusPending,
		NextRetryAt:     r.next(),
	}
	r.entries[e.OrderID] = e
	return e, nil
}

func (r *fakeRetrier) DequeueReady(_ context.Context, limit int) ([]models.RetryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RetryEntry
	for _, e := range r.entries {
		due := e.NextRetryAt == nil || !e.NextRetryAt.After(r.clock.Now())
		if e.Status == models.RetryStatusPending && due && len(out) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *fakeRetrier) RecordSuccess(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[orderID]; ok {
		e.Status = models.RetryStatusResolved
		r.resolved = append(r.resolved, orderID)
	}
	return nil
}

func (r *fakeRetrier) RecordFailure(_ context.Context, orderID string, cause error) (*models.RetryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[orderID]
	if !ok {
		return nil, syncerr.ErrRetryEntryMissing
	}
	e.RetryCount++
	e.NextRetryAt = r.next()
	r.failures[orderID] = append(r.failures[orderID], cause)
	if e.RetryCount >= e.MaxRetries {
		e.Status = models.RetryStatusFailed
	}
	return e, nil
}

func (r *fakeRetrier) List(_ context.Context, f models.RetryFilter) ([]models.RetryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RetryEntry
	for _, e := range r.entries {
		if e.Status == models.RetryStatusResolved && !f.IncludeResolved {
			continue
		}
		if f.Exhausted && !e.Exhausted() {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (r *fakeRetrier) next() *time.Time {
	next := r.clock.Now().Add(time.Minute)
	return &next
}

func (r *fakeRetrier) IsPending(_ context.Context, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[orderID]
	return ok && e.Status != models.RetryStatusResolved, nil
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}

type processorFixture struct {
	db        *database.DB
	calendar  *fakeCalendar
	retries   *fakeRetrier
	clock     *clock.Fake
	processor *OrderProcessor
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	f := &processorFixture{
		db:       newTestDB(t),
		calendar: &fakeCalendar{},
		clock:    clock.NewFake(t0),
	}
	f.retries = newFakeRetrier(f.clock)
	detector := availability.NewDetector(f.calendar, time.Hour, 15*time.Minute, manila)
	f.processor = NewOrderProcessor(f.calendar, detector, f.db, f.retries, nil, f.clock,
		ProcessorConfig{Session: time.Hour, Location: manila, EventLabel: "Photography session"}, nil)
	return f
}
