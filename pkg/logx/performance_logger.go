package logx

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// PerformanceLogger tracks timing and failure rates of named operations
type PerformanceLogger struct {
	logger        *Logger
	slowThreshold time.Duration
	metrics       map[string]*OperationStats
	mu            sync.RWMutex
}

// OperationStats aggregates executions of one operation
type OperationStats struct {
	Name          string        `json:"name"`
	Count         int64         `json:"count"`
	ErrorCount    int64         `json:"error_count"`
	TotalDuration time.Duration `json:"total_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastExecuted  time.Time     `json:"last_executed"`
	InFlight      int64         `json:"in_flight"`
}

// Timer measures one running operation
type Timer struct {
	name  string
	start time.Time
	pl    *PerformanceLogger
}

// NewPerformanceLogger creates a performance logger; operations slower than
// slowThreshold are logged at info level
func NewPerformanceLogger(logger *Logger, slowThreshold time.Duration) *PerformanceLogger {
	if slowThreshold <= 0 {
		slowThreshold = 250 * time.Millisecond
	}
	return &PerformanceLogger{
		logger:        logger,
		slowThreshold: slowThreshold,
		metrics:       make(map[string]*OperationStats),
	}
}

// Start begins timing an operation
func (pl *PerformanceLogger) Start(name string) *Timer {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	stats, ok := pl.metrics[name]
	if !ok {
		stats = &OperationStats{Name: name}
		pl.metrics[name] = stats
	}
	stats.InFlight++

	return &Timer{name: name, start: time.Now(), pl: pl}
}

// Done records completion and returns the elapsed time
func (t *Timer) Done(err error) time.Duration {
	elapsed := time.Since(t.start)

	t.pl.mu.Lock()
	stats := t.pl.metrics[t.name]
	stats.Count++
	stats.InFlight--
	stats.TotalDuration += elapsed
	stats.AvgDuration = stats.TotalDuration / time.Duration(stats.Count)
	stats.LastExecuted = time.Now()
	if elapsed > stats.MaxDuration {
		stats.MaxDuration = elapsed
	}
	if err != nil {
		stats.ErrorCount++
	}
	successRate := float64(stats.Count-stats.ErrorCount) / float64(stats.Count) * 100
	t.pl.mu.Unlock()

	if err != nil {
		t.pl.logger.Warn("Operation failed",
			"operation", t.name,
			"duration", elapsed.String(),
			"error", err,
			"success_rate", fmt.Sprintf("%.1f%%", successRate))
		return elapsed
	}

	if elapsed > t.pl.slowThreshold {
		t.pl.logger.Info("Slow operation",
			"operation", t.name,
			"duration", elapsed.String(),
			"threshold", t.pl.slowThreshold.String())
	}
	return elapsed
}

// Stats returns a copy of the collected statistics ordered by name
func (pl *PerformanceLogger) Stats() []OperationStats {
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	out := make([]OperationStats, 0, len(pl.metrics))
	for _, s := range pl.metrics {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LogSummary writes one line per tracked operation
func (pl *PerformanceLogger) LogSummary() {
	for _, s := range pl.Stats() {
		pl.logger.Info("Operation summary",
			"operation", s.Name,
			"count", s.Count,
			"errors", s.ErrorCount,
			"avg_duration", s.AvgDuration.String(),
			"max_duration", s.MaxDuration.String())
	}
}
