package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"bookingsync/internal/clock"
	"bookingsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) Push(ctx context.Context, e *models.RetryEntry) error {
	return m.Called(ctx, e).Error(0)
}

func (m *mockQueue) List(ctx context.Context, limit int) ([]models.RetryEntry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RetryEntry), args.Error(1)
}

func (m *mockQueue) Len(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func TestFailoverDeadLetter(t *testing.T) {
	primary := new(mockQueue)
	fallback := NewMemoryDeadLetter(10)
	clk := clock.NewFake(time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC))
	logger := zerolog.New(io.Discard)
	dl := NewFailoverDeadLetter(primary, fallback, clk, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Push", ctx, mock.Anything).Return(nil).Once()
		require.NoError(t, dl.Push(ctx, exhausted("1")))
		n, _ := fallback.Len(ctx)
		assert.Zero(t, n)
	})

	t.Run("PrimaryFailsFallsBack", func(t *testing.T) {
		primary.On("Push", ctx, mock.Anything).Return(errors.New("redis down")).Once()
		require.NoError(t, dl.Push(ctx, exhausted("2")))
		assert.True(t, dl.isDown.Load())

		// While down the primary is not retried.
		require.NoError(t, dl.Push(ctx, exhausted("3")))
		n, _ := fallback.Len(ctx)
		assert.Equal(t, int64(2), n)
	})

	t.Run("ListWhileDown", func(t *testing.T) {
		got, err := dl.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "3", got[0].OrderID)
	})

	t.Run("Recovery", func(t *testing.T) {
		clk.Advance(2 * time.Minute)
		primary.On("Push", ctx, mock.Anything).Return(nil).Once()
		require.NoError(t, dl.Push(ctx, exhausted("4")))
		assert.False(t, dl.isDown.Load())

		primary.On("Len", ctx).Return(int64(2), nil).Once()
		n, err := dl.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})

	primary.AssertExpectations(t)
}
