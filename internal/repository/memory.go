package repository

import (
	"context"
	"sync"

	"bookingsync/internal/models"
)

// MemoryDeadLetter is the in-process dead-letter list used without redis
// and as the failover target.
type MemoryDeadLetter struct {
	mu      sync.Mutex
	entries []models.RetryEntry
	maxLen  int
}

func NewMemoryDeadLetter(maxLen int) *MemoryDeadLetter {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &MemoryDeadLetter{maxLen: maxLen}
}

func (r *MemoryDeadLetter) Push(_ context.Context, entry *models.RetryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append([]models.RetryEntry{*entry}, r.entries...)
	if len(r.entries) > r.maxLen {
		r.entries = r.entries[:r.maxLen]
	}
	return nil
}

func (r *MemoryDeadLetter) List(_ context.Context, limit int) ([]models.RetryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.RetryEntry, n)
	copy(out, r.entries[:n])
	return out, nil
}

func (r *MemoryDeadLetter) Len(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.entries)), nil
}
