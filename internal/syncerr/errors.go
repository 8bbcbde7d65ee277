// Package syncerr defines the failure taxonomy shared by the sync pipeline.
package syncerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/api/googleapi"
)

// Category labels a failure for retry decisions and reporting.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryConflict   Category = "conflict"
	CategoryTransient  Category = "transient"
	CategoryLock       Category = "lock"
	CategoryTimeout    Category = "timeout"
	CategoryUnknown    Category = "unknown"
)

var (
	ErrLockHeld          = errors.New("lock is held by another owner")
	ErrRetriesExhausted  = errors.New("retries exhausted")
	ErrOrderNotFound     = errors.New("order not found")
	ErrNotPaid           = errors.New("order is not paid")
	ErrNoBookings        = errors.New("order has no booking line items")
	ErrTimeout           = errors.New("sync exceeded maximum duration")
	ErrAlreadyProcessed  = errors.New("order already processed")
	ErrRetryEntryMissing = errors.New("retry entry not found")
	ErrStaleRetryEntry   = errors.New("retry entry was modified concurrently")
)

// ValidationError marks input that will never succeed on retry.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports a slot already occupied on the calendar.
type ConflictError struct {
	Product string
	Date    string
	Time    string
	Reason  string
}

func (e *ConflictError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "slot unavailable"
	}
	return fmt.Sprintf("%s on %s at %s: %s", e.Product, e.Date, e.Time, reason)
}

// TransientError wraps a failure expected to clear on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError, keeping nil as nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// Classify maps an error onto a Category.
func Classify(err error) Category {
	if err == nil {
		return ""
	}

	var validation *ValidationError
	var conflict *ConflictError
	var transient *TransientError
	var gerr *googleapi.Error
	var netErr net.Error

	switch {
	case errors.As(err, &validation),
		errors.Is(err, ErrNotPaid),
		errors.Is(err, ErrNoBookings),
		errors.Is(err, ErrOrderNotFound):
		return CategoryValidation
	case errors.As(err, &conflict):
		return CategoryConflict
	case errors.Is(err, ErrLockHeld):
		return CategoryLock
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.As(err, &transient):
		return CategoryTransient
	case errors.As(err, &gerr):
		if gerr.Code == 429 || gerr.Code >= 500 {
			return CategoryTransient
		}
		if gerr.Code == 409 {
			return CategoryConflict
		}
		return CategoryUnknown
	case errors.As(err, &netErr):
		return CategoryTransient
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") {
		return CategoryTransient
	}
	return CategoryUnknown
}

// Retryable reports whether a failure of this category should be queued.
func (c Category) Retryable() bool {
	return c != CategoryValidation && c != ""
}

// Rank orders categories when an order has several failing bookings.
func (c Category) Rank() int {
	switch c {
	case CategoryValidation:
		return 5
	case CategoryConflict:
		return 4
	case CategoryTransient:
		return 3
	case CategoryTimeout:
		return 2
	case CategoryUnknown, CategoryLock:
		return 1
	}
	return 0
}
