package telem

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/markus-lassfolk/wifiwatch/pkg"
)

// Store keeps telemetry history in RAM with ring buffers
type Store struct {
	mu sync.RWMutex

	retention time.Duration

	metrics    *RingBuffer[pkg.MetricSample]
	speedTests *RingBuffer[pkg.SpeedTestSample]
	alerts     *RingBuffer[pkg.Alert]

	lastCleanup time.Time
}

// NewStore creates an in-memory store
func NewStore(retentionHours, maxMetrics int) (*Store, error) {
	if retentionHours < 1 || retentionHours > 24*90 {
		return nil, fmt.Errorf("retention_hours must be between 1 and %d", 24*90)
	}
	if maxMetrics < 1 {
		return nil, fmt.Errorf("max_metrics must be positive")
	}

	return &Store{
		retention:   time.Duration(retentionHours) * time.Hour,
		metrics:     NewRingBuffer[pkg.MetricSample](maxMetrics),
		speedTests:  NewRingBuffer[pkg.SpeedTestSample](1000),
		alerts:      NewRingBuffer[pkg.Alert](1000),
		lastCleanup: time.Now(),
	}, nil
}

// AddMetric appends a metric sample
func (s *Store) AddMetric(ctx context.Context, sample pkg.MetricSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.Add(sample)
	s.maybeCleanup()
	return nil
}

// AddSpeedTest appends a speed test result
func (s *Store) AddSpeedTest(ctx context.Context, test pkg.SpeedTestSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.speedTests.Add(test)
	return nil
}

// AddAlerts appends alerts whose ID is not stored yet
func (s *Store) AddAlerts(ctx context.Context, alerts []pkg.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range alerts {
		if s.hasAlert(a.ID) {
			continue
		}
		s.alerts.Add(a)
	}
	return nil
}

func (s *Store) hasAlert(id string) bool {
	found := false
	s.alerts.Each(func(a pkg.Alert) {
		if a.ID == id {
			found = true
		}
	})
	return found
}

// RecentMetrics returns up to n samples, most recent first
func (s *Store) RecentMetrics(ctx context.Context, n int) ([]pkg.MetricSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.metrics.Last(n), nil
}

// MetricsSince returns samples newer than since, oldest first
func (s *Store) MetricsSince(ctx context.Context, since time.Time) ([]pkg.MetricSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []pkg.MetricSample
	s.metrics.Each(func(m pkg.MetricSample) {
		if m.Timestamp.After(since) {
			out = append(out, m)
		}
	})
	return out, nil
}

// RecentSpeedTests returns up to n speed tests, most recent first
func (s *Store) RecentSpeedTests(ctx context.Context, n int) ([]pkg.SpeedTestSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.speedTests.Last(n), nil
}

// RecentAlerts returns up to n alerts, most recent first
func (s *Store) RecentAlerts(ctx context.Context, n int) ([]pkg.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.alerts.Last(n), nil
}

// AcknowledgeAlert flags an alert as acknowledged
func (s *Store) AcknowledgeAlert(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := s.alerts.Update(func(a *pkg.Alert) bool {
		if a.ID != id {
			return false
		}
		a.Acknowledged = true
		return true
	})
	if !found {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

// Cleanup drops metric samples older than the retention window
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cleanup()
}

func (s *Store) maybeCleanup() {
	if time.Since(s.lastCleanup) > time.Hour {
		s.cleanup()
	}
}

func (s *Store) cleanup() {
	cutoff := time.Now().Add(-s.retention)
	s.metrics.DropWhile(func(m pkg.MetricSample) bool { return m.Timestamp.Before(cutoff) })
	s.speedTests.DropWhile(func(t pkg.SpeedTestSample) bool { return t.Timestamp.Before(cutoff) })
	s.lastCleanup = time.Now()
}

// Size returns the number of stored metric samples
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics.Size()
}

// RingBuffer is a fixed capacity FIFO that overwrites its oldest entry
type RingBuffer[T any] struct {
	data     []T
	capacity int
	head     int
	size     int
}

// NewRingBuffer creates a ring buffer
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	return &RingBuffer[T]{data: make([]T, capacity), capacity: capacity}
}

// Add appends an item, evicting the oldest when full
func (rb *RingBuffer[T]) Add(item T) {
	tail := (rb.head + rb.size) % rb.capacity
	rb.data[tail] = item
	if rb.size < rb.capacity {
		rb.size++
	} else {
		rb.head = (rb.head + 1) % rb.capacity
	}
}

// Size returns the number of items held
func (rb *RingBuffer[T]) Size() int {
	return rb.size
}

// Each visits items oldest first
func (rb *RingBuffer[T]) Each(fn func(T)) {
	for i := 0; i < rb.size; i++ {
		fn(rb.data[(rb.head+i)%rb.capacity])
	}
}

// Last returns up to n items, newest first
func (rb *RingBuffer[T]) Last(n int) []T {
	if n <= 0 || n > rb.size {
		n = rb.size
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		idx := (rb.head + rb.size - 1 - i) % rb.capacity
		out = append(out, rb.data[idx])
	}
	return out
}

// Update applies fn to items newest first until it returns true
func (rb *RingBuffer[T]) Update(fn func(*T) bool) bool {
	for i := rb.size - 1; i >= 0; i-- {
		idx := (rb.head + i) % rb.capacity
		if fn(&rb.data[idx]) {
			return true
		}
	}
	return false
}

// DropWhile removes items from the old end while pred holds
func (rb *RingBuffer[T]) DropWhile(pred func(T) bool) int {
	removed := 0
	var zero T
	for rb.size > 0 && pred(rb.data[rb.head]) {
		rb.data[rb.head] = zero
		rb.head = (rb.head + 1) % rb.capacity
		rb.size--
		removed++
	}
	return removed
}
