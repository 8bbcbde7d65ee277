package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookingsync/internal/availability"
	"bookingsync/internal/clock"
	"bookingsync/internal/domain"
	"bookingsync/internal/events"
	"bookingsync/internal/metrics"
	"bookingsync/internal/models"
	"bookingsync/internal/syncerr"

	"github.com/rs/zerolog"
)

// RetryEnqueuer accepts orders that failed and may succeed later.
type RetryEnqueuer interface {
	Enqueue(ctx context.Context, order *models.Order, reason string, category syncerr.Category) (*models.RetryEntry, error)
}

// ProcessOptions tunes a single ProcessOrder call.
type ProcessOptions struct {
	// Force bypasses the idempotency guard and enables the duplicate-event lookup.
	Force                 bool
	AllowUnpaid           bool
	SkipAvailabilityCheck bool
	QueueOnFailure        bool
	Source                string
}

// BookingResult is the outcome for one booking line item.
type BookingResult struct {
	LineItemID  string
	ProductName string
	Date        string
	Time        string
	EventID     string
	EventLink   string
	Reused      bool
	Moved       bool
	Err         error
}

func (r *BookingResult) Success() bool {
	return r.Err == nil
}

// OrderResult is the outcome of ProcessOrder.
type OrderResult struct {
	OrderID     string
	OrderNumber string
	Success     bool
	Skipped     bool
	Queued      bool
	Category    syncerr.Category
	Bookings    []BookingResult
	Errors      []string
	err         error
}

// Err returns the aggregated failure, or nil for a successful or skipped order.
func (r *OrderResult) Err() error {
	if r.Success {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	return errors.New(strings.Join(r.Errors, "; "))
}

// EventIDs lists the calendar events backing the order.
func (r *OrderResult) EventIDs() []string {
	ids := make([]string, 0, len(r.Bookings))
	for i := range r.Bookings {
		if r.Bookings[i].EventID != "" {
			ids = append(ids, r.Bookings[i].EventID)
		}
	}
	return ids
}

// ProcessorConfig holds the deployment settings the processor needs.
type ProcessorConfig struct {
	Session    time.Duration
	Location   *time.Location
	EventLabel string
}

// OrderProcessor turns a storefront order into calendar events.
type OrderProcessor struct {
	calendar  domain.CalendarBackend
	detector  *availability.Detector
	processed domain.ProcessedOrderStore
	retries   RetryEnqueuer
	events    domain.EventPublisher
	clock     clock.Clock
	cfg       ProcessorConfig
	logger    zerolog.Logger
}

// NewOrderProcessor wires the processor. retries and publisher may be nil.
func NewOrderProcessor(
	calendar domain.CalendarBackend,
	detector *availability.Detector,
	processed domain.ProcessedOrderStore,
	retries RetryEnqueuer,
	publisher domain.EventPublisher,
	clk clock.Clock,
	cfg ProcessorConfig,
	logger *zerolog.Logger,
) *OrderProcessor {
	if cfg.Session <= 0 {
		cfg.Session = time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = detector.Location()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "order_processor").Logger()
	}
	return &OrderProcessor{
		calendar:  calendar,
		detector:  detector,
		processed: processed,
		retries:   retries,
		events:    publisher,
		clock:     clk,
		cfg:       cfg,
		logger:    l,
	}
}

// ProcessOrder syncs every booking of an order to the calendar. Failures are
// reported in the result; the returned error is reserved for storage faults
// that prevent deciding anything at all.
func (p *OrderProcessor) ProcessOrder(ctx context.Context, order *models.Order, opts ProcessOptions) (*OrderResult, error) {
	if order == nil {
		return nil, errors.New("order is required")
	}
	if opts.Source == "" {
		opts.Source = models.SyncSourceManual
	}
	res := &OrderResult{OrderID: order.ID.String(), OrderNumber: order.OrderNumber}
	log := p.logger.With().Str("order_id", res.OrderID).Str("order_number", res.OrderNumber).Logger()

	if !opts.Force {
		done, err := p.processed.IsOrderProcessed(ctx, res.OrderID)
		if err != nil {
			return nil, fmt.Errorf("check processed order %s: %w", res.OrderID, err)
		}
		if done {
			res.Success = true
			res.Skipped = true
			metrics.IncOrder("skipped")
			log.Debug().Msg("order already processed")
			return res, nil
		}
	}

	if !opts.AllowUnpaid && !order.IsPaid() {
		p.fail(ctx, order, res, opts, syncerr.ErrNotPaid)
		return res, nil
	}

	bookings := ExtractBookings(order)
	if len(bookings) == 0 {
		p.fail(ctx, order, res, opts, syncerr.ErrNoBookings)
		return res, nil
	}

	for i := range bookings {
		br := p.processBooking(ctx, &bookings[i], opts)
		res.Bookings = append(res.Bookings, br)
		if br.Err != nil {
			log.Warn().Err(br.Err).Str("line_item_id", br.LineItemID).Msg("booking failed")
		}
	}

	var failures []error
	for i := range res.Bookings {
		if res.Bookings[i].Err != nil {
			failures = append(failures, res.Bookings[i].Err)
		}
	}
	if len(failures) > 0 {
		p.fail(ctx, order, res, opts, failures...)
		return res, nil
	}

	rec := p.processedRecord(order, bookings, res, opts.Source)
	if _, err := p.processed.RecordProcessedOrder(ctx, rec); err != nil {
		// Events exist; a forced retry finds them through the duplicate guard.
		p.fail(ctx, order, res, opts, syncerr.Transient("record processed order", err))
		return res, nil
	}

	res.Success = true
	metrics.IncOrder("synced")
	p.publish(events.EventOrderSynced, events.OrderEventPayload{
		OrderID:     res.OrderID,
		OrderNumber: res.OrderNumber,
		EventIDs:    res.EventIDs(),
		Source:      opts.Source,
	})
	log.Info().Int("bookings", len(bookings)).Str("source", opts.Source).Msg("order synced")
	return res, nil
}

func (p *OrderProcessor) processBooking(ctx context.Context, b *models.Booking, opts ProcessOptions) BookingResult {
	br := BookingResult{
		LineItemID:  b.LineItemID,
		ProductName: b.ProductName,
		Date:        b.Date,
		Time:        b.Time,
	}

	today := p.clock.Now().In(p.cfg.Location)
	if err := ValidateBooking(b, today); err != nil {
		br.Err = err
		return br
	}
	start, err := BookingStart(b, p.cfg.Location)
	if err != nil {
		br.Err = err
		return br
	}

	if opts.Force {
		existing, err := p.existingEvent(ctx, b, start)
		if err != nil {
			br.Err = fmt.Errorf("look up existing event: %w", err)
			return br
		}
		if existing != nil {
			br.EventID = existing.ID
			br.EventLink = existing.Link
			br.Reused = true
			if !existing.Start.Equal(start) {
				p.moveEvent(ctx, b, start, existing, opts, &br)
			}
			return br
		}
	}

	if !opts.SkipAvailabilityCheck {
		if br.Err = p.checkSlot(ctx, b, start, ""); br.Err != nil {
			return br
		}
	}

	created, err := p.calendar.CreateEvent(ctx, p.eventRequest(b, start))
	if err != nil {
		br.Err = fmt.Errorf("create calendar event: %w", err)
		return br
	}
	br.EventID = created.ID
	br.EventLink = created.Link
	return br
}

// checkSlot returns a ConflictError when the slot is taken by an event other than ignoreID.
func (p *OrderProcessor) checkSlot(ctx context.Context, b *models.Booking, start time.Time, ignoreID string) error {
	blocking, err := p.detector.CheckExcept(ctx, start, b.ProductName, ignoreID)
	if err != nil {
		return fmt.Errorf("check availability: %w", err)
	}
	if blocking != nil {
		return &syncerr.ConflictError{
			Product: b.ProductName,
			Date:    b.Date,
			Time:    b.Time,
			Reason:  fmt.Sprintf("slot taken by %q", blocking.Summary),
		}
	}
	return nil
}

// moveEvent patches an event whose booking was rescheduled after it was created.
func (p *OrderProcessor) moveEvent(ctx context.Context, b *models.Booking, start time.Time, existing *models.CalendarEvent, opts ProcessOptions, br *BookingResult) {
	if !opts.SkipAvailabilityCheck {
		if br.Err = p.checkSlot(ctx, b, start, existing.ID); br.Err != nil {
			return
		}
	}
	if err := p.calendar.UpdateEvent(ctx, existing.ID, p.eventRequest(b, start)); err != nil {
		br.Err = fmt.Errorf("move calendar event: %w", err)
		return
	}
	br.Moved = true
	p.logger.Info().
		Str("order_id", b.OrderID).
		Str("event_id", existing.ID).
		Time("from", existing.Start).
		Time("to", start).
		Msg("calendar event moved to rescheduled booking")
}

// existingEvent finds an event a previous attempt created for this line item.
func (p *OrderProcessor) existingEvent(ctx context.Context, b *models.Booking, start time.Time) (*models.CalendarEvent, error) {
	found, err := p.calendar.FindEventByOrderID(ctx, b.OrderID, start)
	if err != nil {
		return nil, err
	}
	for i := range found {
		if found[i].LineItemID == b.LineItemID {
			return &found[i], nil
		}
	}
	return nil, nil
}

func (p *OrderProcessor) eventRequest(b *models.Booking, start time.Time) models.EventRequest {
	return models.EventRequest{
		Summary:     EventSummary(b),
		Description: EventDescription(p.cfg.EventLabel, b),
		Start:       start,
		End:         start.Add(p.cfg.Session),
		TimeZone:    p.cfg.Location.String(),
		Properties: map[string]string{
			models.EventPropertyOrderID:    b.OrderID,
			models.EventPropertyOrderNo:    b.OrderNumber,
			models.EventPropertyLineItemID: b.LineItemID,
		},
	}
}

func (p *OrderProcessor) processedRecord(order *models.Order, bookings []models.Booking, res *OrderResult, source string) *models.ProcessedOrder {
	rec := &models.ProcessedOrder{
		OrderID:       res.OrderID,
		OrderNumber:   res.OrderNumber,
		PaymentStatus: order.FinancialStatus,
		SyncSource:    source,
		ProcessedAt:   p.clock.Now(),
	}
	for i, b := range bookings {
		eventID := res.Bookings[i].EventID
		if rec.CalendarEventID == "" {
			rec.CalendarEventID = eventID
		}
		rec.Bookings = append(rec.Bookings, models.ProcessedBooking{
			LineItemID:      b.LineItemID,
			ProductName:     b.ProductName,
			BookingDate:     b.Date,
			BookingTime:     b.Time,
			CustomerName:    b.Customer.Name,
			CustomerEmail:   b.Customer.Email,
			CalendarEventID: eventID,
		})
	}
	return rec
}

// fail records the aggregated failure on res and queues it when allowed.
func (p *OrderProcessor) fail(ctx context.Context, order *models.Order, res *OrderResult, opts ProcessOptions, errs ...error) {
	res.Success = false
	res.Category = worstCategory(errs)
	for _, err := range errs {
		res.Errors = append(res.Errors, err.Error())
	}
	if len(errs) == 1 {
		res.err = errs[0]
	} else {
		res.err = errors.Join(errs...)
	}
	reason := strings.Join(res.Errors, "; ")

	if opts.QueueOnFailure && p.retries != nil && res.Category.Retryable() {
		if _, err := p.retries.Enqueue(ctx, order, reason, res.Category); err != nil {
			p.logger.Error().Err(err).Str("order_id", res.OrderID).Msg("failed to queue order for retry")
		} else {
			res.Queued = true
		}
	}

	metrics.IncOrder("failed")
	p.publish(events.EventOrderFailed, events.OrderEventPayload{
		OrderID:     res.OrderID,
		OrderNumber: res.OrderNumber,
		EventIDs:    res.EventIDs(),
		Source:      opts.Source,
		Category:    string(res.Category),
		Error:       reason,
	})
}

func (p *OrderProcessor) publish(eventType string, payload events.OrderEventPayload) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishJSON(eventType, payload); err != nil {
		p.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

// worstCategory picks the category deciding the order's fate; a single
// validation failure makes the whole order non-retryable.
func worstCategory(errs []error) syncerr.Category {
	worst := syncerr.CategoryUnknown
	for _, err := range errs {
		if c := syncerr.Classify(err); c.Rank() > worst.Rank() {
			worst = c
		}
	}
	return worst
}
