package google

import (
	"context"
	"fmt"
	"os"
	"time"

	"bookingsync/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// CalendarService is the booking calendar backed by Google Calendar.
type CalendarService struct {
	service    *calendar.Service
	calendarID string
	location   *time.Location
}

// NewCalendarService authenticates with a service account key file.
func NewCalendarService(ctx context.Context, credentialsFile, calendarID string, loc *time.Location) (*CalendarService, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	return NewCalendarServiceWith(srv, calendarID, loc), nil
}

// NewCalendarServiceWith wraps an existing client.
func NewCalendarServiceWith(srv *calendar.Service, calendarID string, loc *time.Location) *CalendarService {
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarService{service: srv, calendarID: calendarID, location: loc}
}

// Ping проверяет доступ к календарю
func (s *CalendarService) Ping(ctx context.Context) error {
	if _, err := s.service.Calendars.Get(s.calendarID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("calendar %s: %w", s.calendarID, err)
	}
	return nil
}

// ListEvents returns single events overlapping [start, end), ordered by start.
func (s *CalendarService) ListEvents(ctx context.Context, start, end time.Time) ([]models.CalendarEvent, error) {
	call := s.service.Events.List(s.calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		TimeZone(s.location.String()).
		ShowDeleted(false)
	return s.collect(ctx, call)
}

// FindEventByOrderID searches FindEventWindowDays either side of near for
// events tagged with the order id.
func (s *CalendarService) FindEventByOrderID(ctx context.Context, orderID string, near time.Time) ([]models.CalendarEvent, error) {
	if near.IsZero() {
		near = time.Now()
	}
	window := time.Duration(models.FindEventWindowDays) * 24 * time.Hour
	call := s.service.Events.List(s.calendarID).
		TimeMin(near.Add(-window).Format(time.RFC3339)).
		TimeMax(near.Add(window).Format(time.RFC3339)).
		SingleEvents(true).
		PrivateExtendedProperty(models.EventPropertyOrderID + "=" + orderID).
		MaxResults(2500)

	events, err := s.collect(ctx, call)
	if err != nil {
		return nil, err
	}
	out := events[:0]
	for _, ev := range events {
		if ev.OrderID == orderID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *CalendarService) collect(ctx context.Context, call *calendar.EventsListCall) ([]models.CalendarEvent, error) {
	var out []models.CalendarEvent
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			ev, err := s.toModel(item)
			if err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

// CreateEvent inserts the event without notifying attendees.
func (s *CalendarService) CreateEvent(ctx context.Context, req models.EventRequest) (*models.CreatedEvent, error) {
	created, err := s.service.Events.Insert(s.calendarID, s.toAPI(req)).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return &models.CreatedEvent{ID: created.Id, Link: created.HtmlLink}, nil
}

// UpdateEvent patches summary, description, times and tags of an event.
func (s *CalendarService) UpdateEvent(ctx context.Context, eventID string, req models.EventRequest) error {
	_, err := s.service.Events.Patch(s.calendarID, eventID, s.toAPI(req)).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update event %s: %w", eventID, err)
	}
	return nil
}

func (s *CalendarService) DeleteEvent(ctx context.Context, eventID string) error {
	if err := s.service.Events.Delete(s.calendarID, eventID).SendUpdates("none").Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}

func (s *CalendarService) toAPI(req models.EventRequest) *calendar.Event {
	tz := req.TimeZone
	if tz == "" {
		tz = s.location.String()
	}
	ev := &calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Reminders: &calendar.EventReminders{
			UseDefault: false,
			Overrides: []*calendar.EventReminder{
				{Method: "email", Minutes: 24 * 60},
				{Method: "email", Minutes: 60},
			},
			ForceSendFields: []string{"UseDefault"},
		},
	}
	if !req.Start.IsZero() {
		ev.Start = &calendar.EventDateTime{DateTime: req.Start.Format(time.RFC3339), TimeZone: tz}
	}
	if !req.End.IsZero() {
		ev.End = &calendar.EventDateTime{DateTime: req.End.Format(time.RFC3339), TimeZone: tz}
	}
	if len(req.Properties) > 0 {
		ev.ExtendedProperties = &calendar.EventExtendedProperties{Private: req.Properties}
	}
	return ev
}

func (s *CalendarService) toModel(item *calendar.Event) (models.CalendarEvent, error) {
	ev := models.CalendarEvent{ID: item.Id, Summary: item.Summary, Link: item.HtmlLink}
	if item.ExtendedProperties != nil {
		ev.OrderID = item.ExtendedProperties.Private[models.EventPropertyOrderID]
		ev.LineItemID = item.ExtendedProperties.Private[models.EventPropertyLineItemID]
	}

	var err error
	if ev.Start, ev.AllDay, err = s.parseTime(item.Start); err != nil {
		return ev, fmt.Errorf("event %s start: %w", item.Id, err)
	}
	if ev.End, _, err = s.parseTime(item.End); err != nil {
		return ev, fmt.Errorf("event %s end: %w", item.Id, err)
	}
	return ev, nil
}

// parseTime reads a timed or all-day boundary; all-day dates are local midnight.
func (s *CalendarService) parseTime(dt *calendar.EventDateTime) (time.Time, bool, error) {
	if dt == nil {
		return time.Time{}, false, nil
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	}
	if dt.Date != "" {
		t, err := time.ParseInLocation(time.DateOnly, dt.Date, s.location)
		return t, true, err
	}
	return time.Time{}, false, nil
}
