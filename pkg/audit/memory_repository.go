package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository, useful for the demo
// command and tests where a dedicated audit table isn't worth standing up.
type MemoryRepository struct {
	entries []*Entry
	mu      sync.Mutex
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make([]*Entry, 0)}
}

func (r *MemoryRepository) Create(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *MemoryRepository) Find(ctx context.Context, filter *Filter) ([]*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*Entry
	for _, entry := range r.entries {
		if !matches(entry, filter) {
			continue
		}
		result = append(result, entry)
		if filter.Limit != nil && len(result) >= *filter.Limit {
			break
		}
	}
	return result, nil
}

func (r *MemoryRepository) Count(ctx context.Context, filter *Filter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, entry := range r.entries {
		if matches(entry, filter) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) DeleteOlderThan(ctx context.Context, age time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-age)
	kept := r.entries[:0:0]
	for _, entry := range r.entries {
		if entry.Timestamp.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	r.entries = kept
	return nil
}

func matches(entry *Entry, filter *Filter) bool {
	if filter.Subject != nil && entry.Subject != *filter.Subject {
		return false
	}
	if filter.Operation != nil && entry.Operation != *filter.Operation {
		return false
	}
	if filter.Allowed != nil && entry.Allowed != *filter.Allowed {
		return false
	}
	if filter.StartTime != nil && entry.Timestamp.Before(*filter.StartTime) {
		return false
	}
	if filter.EndTime != nil && entry.Timestamp.After(*filter.EndTime) {
		return false
	}
	return true
}
