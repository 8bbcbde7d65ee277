package syncerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, ""},
		{"validation", Validation("date", "bad format %q", "x"), CategoryValidation},
		{"wrapped validation", fmt.Errorf("booking 1: %w", Validation("time", "bad")), CategoryValidation},
		{"not paid", ErrNotPaid, CategoryValidation},
		{"not found", fmt.Errorf("fetch: %w", ErrOrderNotFound), CategoryValidation},
		{"conflict", &ConflictError{Product: "Studio A", Date: "2025-01-02", Time: "1:00 PM"}, CategoryConflict},
		{"transient", Transient("list events", errors.New("eof")), CategoryTransient},
		{"google 503", &googleapi.Error{Code: 503}, CategoryTransient},
		{"google 429", fmt.Errorf("insert: %w", &googleapi.Error{Code: 429}), CategoryTransient},
		{"google 400", &googleapi.Error{Code: 400}, CategoryUnknown},
		{"google 409", &googleapi.Error{Code: 409}, CategoryConflict},
		{"lock", ErrLockHeld, CategoryLock},
		{"deadline", context.DeadlineExceeded, CategoryTimeout},
		{"connection reset", errors.New("read tcp: connection reset by peer"), CategoryTransient},
		{"other", errors.New("boom"), CategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestCategoryRetryable(t *testing.T) {
	assert.False(t, CategoryValidation.Retryable())
	assert.True(t, CategoryConflict.Retryable())
	assert.True(t, CategoryTransient.Retryable())
	assert.True(t, CategoryUnknown.Retryable())
}

func TestCategoryRank(t *testing.T) {
	assert.Greater(t, CategoryValidation.Rank(), CategoryConflict.Rank())
	assert.Greater(t, CategoryConflict.Rank(), CategoryTransient.Rank())
	assert.Greater(t, CategoryTransient.Rank(), CategoryUnknown.Rank())
}

func TestTransientNil(t *testing.T) {
	assert.NoError(t, Transient("noop", nil))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "date: bad", Validation("date", "bad").Error())
	assert.Equal(t, "Studio A on 2025-01-02 at 1:00 PM: slot unavailable",
		(&ConflictError{Product: "Studio A", Date: "2025-01-02", Time: "1:00 PM"}).Error())
}
