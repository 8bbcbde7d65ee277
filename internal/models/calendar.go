package models

import "time"

// CalendarEvent is the subset of a calendar event the sync needs.
type CalendarEvent struct {
	ID         string    `json:"id"`
	Summary    string    `json:"summary"`
	Link       string    `json:"link,omitempty"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	AllDay     bool      `json:"all_day,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	LineItemID string    `json:"line_item_id,omitempty"`
}

// EventRequest describes a calendar event to create or update.
type EventRequest struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
	Properties  map[string]string
}

// CreatedEvent is returned after a successful insert.
type CreatedEvent struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}
