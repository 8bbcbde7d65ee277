package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_AdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	c := NewFake(start)

	short := c.After(time.Minute)
	long := c.After(time.Hour)
	assert.Equal(t, 2, c.Waiters())

	c.Advance(2 * time.Minute)

	select {
	case fired := <-short:
		assert.Equal(t, start.Add(2*time.Minute), fired)
	default:
		t.Fatal("short timer should have fired")
	}

	select {
	case <-long:
		t.Fatal("long timer fired early")
	default:
	}
	assert.Equal(t, 1, c.Waiters())
	assert.Equal(t, start.Add(2*time.Minute), c.Now())
}

func TestFake_NonPositiveDurationFiresImmediately(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero timer should fire immediately")
	}
	assert.Equal(t, 0, c.Waiters())
}

func TestFake_BlockUntil(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.After(time.Second)
	}()
	require.True(t, c.BlockUntil(1, time.Second))
	assert.False(t, c.BlockUntil(2, 20*time.Millisecond))
}
