package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeadLetter(t *testing.T) {
	dl := NewMemoryDeadLetter(2)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, dl.Push(ctx, exhausted(id)))
	}

	n, err := dl.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := dl.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].OrderID)
	assert.Equal(t, "2", got[1].OrderID)

	got, err = dl.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// Returned slices are copies.
	got[0].OrderID = "changed"
	again, _ := dl.List(ctx, 1)
	assert.Equal(t, "3", again[0].OrderID)
}
