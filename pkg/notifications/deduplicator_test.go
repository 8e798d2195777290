package notifications

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
)

func newTestDeduplicator(config *Config) (*Deduplicator, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := NewDeduplicator(config, logx.NewLoggerWithOutput("error", "test", false, io.Discard))
	d.now = func() time.Time { return now }
	return d, &now
}

func TestFilterSuppressesRepeatsWithinWindow(t *testing.T) {
	d, now := newTestDeduplicator(&Config{Window: 10 * time.Minute})

	weak := pkg.NewAlert(*now, pkg.AlertSignal, pkg.SeverityMedium, "Weak signal", "Signal at 28%")
	require.Len(t, d.Filter([]pkg.Alert{weak}), 1)

	*now = now.Add(30 * time.Second)
	again := pkg.NewAlert(*now, pkg.AlertSignal, pkg.SeverityMedium, "Weak signal", "Signal at 27%")
	open := pkg.NewAlert(*now, pkg.AlertSecurity, pkg.SeverityHigh, "Open network", "")
	out := d.Filter([]pkg.Alert{again, open})
	require.Len(t, out, 1)
	assert.Equal(t, pkg.AlertSecurity, out[0].Category)

	*now = now.Add(11 * time.Minute)
	assert.Len(t, d.Filter([]pkg.Alert{again}), 1)

	stats := d.Stats()
	assert.Equal(t, int64(4), stats.Checked)
	assert.Equal(t, int64(1), stats.Duplicates)
}

func TestFilterSimilarAlerts(t *testing.T) {
	d, now := newTestDeduplicator(&Config{Window: time.Hour, SimilarityThreshold: 0.9})

	first := pkg.NewAlert(*now, pkg.AlertSpeed, pkg.SeverityMedium, "Slow download", "Download speed 4.1 Mbps")
	escalated := pkg.NewAlert(*now, pkg.AlertSpeed, pkg.SeverityHigh, "Slow download", "Download speed 4.1 Mbps")
	unrelated := pkg.NewAlert(*now, pkg.AlertCongestion, pkg.SeverityMedium, "Busy channel", "Channel utilization 85%")

	out := d.Filter([]pkg.Alert{first, escalated, unrelated})
	require.Len(t, out, 2)
	assert.Equal(t, first.ID, out[0].ID)
	assert.Equal(t, unrelated.ID, out[1].ID)
}

func TestFilterDisabled(t *testing.T) {
	d, now := newTestDeduplicator(&Config{})
	a := pkg.NewAlert(*now, pkg.AlertSignal, pkg.SeverityLow, "Weak signal", "")
	assert.Len(t, d.Filter([]pkg.Alert{a, a}), 2)
}

func TestSimilarity(t *testing.T) {
	ts := time.Now()
	a := pkg.NewAlert(ts, pkg.AlertSignal, pkg.SeverityLow, "Weak signal", "x")
	b := pkg.NewAlert(ts, pkg.AlertSpeed, pkg.SeverityLow, "Weak signal", "x")
	assert.Zero(t, Similarity(a, b))
	assert.InDelta(t, 1.0, Similarity(a, a), 1e-9)
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
}
