package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventOrderSynced    = "order_synced"
	EventOrderFailed    = "order_failed"
	EventRetryExhausted = "retry_exhausted"
	EventSyncCompleted  = "sync_completed"
	EventSyncFailed     = "sync_failed"
)

// OrderEventPayload describes one processed order for event consumers.
type OrderEventPayload struct {
	OrderID     string   `json:"order_id"`
	OrderNumber string   `json:"order_number"`
	EventIDs    []string `json:"event_ids,omitempty"`
	Source      string   `json:"source"`
	Category    string   `json:"category,omitempty"`
	Error       string   `json:"error,omitempty"`
	RetryCount  int      `json:"retry_count,omitempty"`
	MaxRetries  int      `json:"max_retries,omitempty"`
}

// RunEventPayload summarizes a finished sync run.
type RunEventPayload struct {
	RunID      string        `json:"run_id"`
	Source     string        `json:"source"`
	Status     string        `json:"status"`
	Checked    int           `json:"checked"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Retried    int           `json:"retried"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the event payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	onError     func(event *Event, err error)
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError sets a hook called when a handler fails.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
