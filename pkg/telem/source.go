package telem

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/markus-lassfolk/wifiwatch/pkg"
)

// ErrNotFound is returned when a referenced record does not exist
var ErrNotFound = errors.New("not found")

// Source is the read side of the history storage
type Source interface {
	// RecentMetrics returns up to n samples, most recent first
	RecentMetrics(ctx context.Context, n int) ([]pkg.MetricSample, error)
	// MetricsSince returns samples newer than since, oldest first
	MetricsSince(ctx context.Context, since time.Time) ([]pkg.MetricSample, error)
	// RecentSpeedTests returns up to n speed tests, most recent first
	RecentSpeedTests(ctx context.Context, n int) ([]pkg.SpeedTestSample, error)
}

// Sink is the write side of the history storage
type Sink interface {
	AddMetric(ctx context.Context, sample pkg.MetricSample) error
	AddSpeedTest(ctx context.Context, test pkg.SpeedTestSample) error
	AddAlerts(ctx context.Context, alerts []pkg.Alert) error
}

// AlertStore keeps alerts and their acknowledgement flag
type AlertStore interface {
	RecentAlerts(ctx context.Context, n int) ([]pkg.Alert, error)
	AcknowledgeAlert(ctx context.Context, id string) error
}

// Snapshot is a sequence numbered copy of recent history taken at one point in time
type Snapshot struct {
	Seq     uint64             `json:"seq"`
	TakenAt time.Time          `json:"taken_at"`
	Metrics []pkg.MetricSample `json:"-"` // most recent first
}

// Snapshotter hands out snapshots with monotonically increasing sequence numbers
type Snapshotter struct {
	source Source
	seq    atomic.Uint64
	now    func() time.Time
}

// NewSnapshotter creates a snapshotter over a source
func NewSnapshotter(source Source) *Snapshotter {
	return &Snapshotter{source: source, now: time.Now}
}

// Take reads the n most recent samples and tags them with the next sequence number
func (s *Snapshotter) Take(ctx context.Context, n int) (*Snapshot, error) {
	seq := s.seq.Add(1)
	metrics, err := s.source.RecentMetrics(ctx, n)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Seq: seq, TakenAt: s.now(), Metrics: metrics}, nil
}
