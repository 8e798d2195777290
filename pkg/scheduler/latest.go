package scheduler

import (
	"sync"
	"time"
)

// Latest holds the most recent result of a periodic computation. A result is
// accepted only when its sequence number is newer than the one applied, so a
// slow cycle finishing late never replaces the output of a newer snapshot.
type Latest[T any] struct {
	mu        sync.RWMutex
	seq       uint64
	value     T
	appliedAt time.Time
}

// Apply stores value if seq is newer than the current one
func (l *Latest[T]) Apply(seq uint64, value T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if seq <= l.seq {
		return false
	}
	l.seq = seq
	l.value = value
	l.appliedAt = time.Now()
	return true
}

// Get returns the applied value and its sequence number; seq 0 means nothing
// has been applied yet
func (l *Latest[T]) Get() (T, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.seq
}

// AppliedAt returns when the current value was applied
func (l *Latest[T]) AppliedAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.appliedAt
}
