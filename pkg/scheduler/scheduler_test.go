package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
	"github.com/markus-lassfolk/wifiwatch/pkg/notifications"
	"github.com/markus-lassfolk/wifiwatch/pkg/telem"
)

func testLogger() *logx.Logger {
	return logx.NewLoggerWithOutput("error", "test", false, io.Discard)
}

type fakeCollector struct {
	sample pkg.MetricSample
	err    error
}

func (f *fakeCollector) Collect(ctx context.Context) (*pkg.MetricSample, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := f.sample
	return &s, nil
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	alerts  []pkg.Alert
	visible []pkg.ScanNetwork
	// block makes PredictSnapshot wait for cancellation on the given sequence
	block   uint64
	started chan uint64
	// predictions replaces the default single medium congestion forecast
	predictions []pkg.Prediction
}

func (f *fakeAnalyzer) EvaluateLatest(ctx context.Context, visible []pkg.ScanNetwork) ([]pkg.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = visible
	return f.alerts, nil
}

func (f *fakeAnalyzer) PredictSnapshot(ctx context.Context, snapshot *telem.Snapshot) []pkg.Prediction {
	if f.started != nil {
		f.started <- snapshot.Seq
	}
	if snapshot.Seq == f.block {
		<-ctx.Done()
	}
	if f.predictions != nil {
		return f.predictions
	}
	p := pkg.NewPrediction(snapshot.TakenAt, pkg.PredictCongestion, pkg.SeverityMedium, 60, "busy", "this hour")
	return []pkg.Prediction{p}
}

func (f *fakeAnalyzer) GetEngineStatus(ctx context.Context) pkg.EngineStatus {
	return pkg.EngineStatus{ActiveEngine: pkg.EngineTrend}
}

type fakePublisher struct {
	mu          sync.Mutex
	alerts      int
	predictions []uint64
	statuses    int
}

func (f *fakePublisher) PublishAlerts(alerts []pkg.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts += len(alerts)
	return nil
}

func (f *fakePublisher) PublishPredictions(seq uint64, _ []pkg.Prediction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.predictions = append(f.predictions, seq)
	return nil
}

func (f *fakePublisher) PublishEngineStatus(pkg.EngineStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses++
	return nil
}

type fakeObserver struct {
	samples int
	errors  map[string]int
}

func (f *fakeObserver) ObserveSample(pkg.MetricSample) { f.samples++ }

func (f *fakeObserver) ObserveCollectError(source string) {
	if f.errors == nil {
		f.errors = map[string]int{}
	}
	f.errors[source]++
}

type fakeScanner struct {
	snapshot *pkg.ChannelSnapshot
	calls    int
	err      error
}

func (f *fakeScanner) Snapshot(ctx context.Context) (*pkg.ChannelSnapshot, error) {
	f.calls++
	return f.snapshot, f.err
}

func newStore(t *testing.T) *telem.Store {
	t.Helper()
	store, err := telem.NewStore(24, 1000)
	require.NoError(t, err)
	return store
}

func TestLatestRejectsOlderSequences(t *testing.T) {
	var l Latest[string]
	_, seq := l.Get()
	assert.Equal(t, uint64(0), seq)

	assert.True(t, l.Apply(2, "second"))
	assert.False(t, l.Apply(1, "first"))
	assert.False(t, l.Apply(2, "again"))

	value, seq := l.Get()
	assert.Equal(t, "second", value)
	assert.Equal(t, uint64(2), seq)
	assert.False(t, l.AppliedAt().IsZero())
}

func TestCollectOncePersistsAndPublishesAlerts(t *testing.T) {
	store := newStore(t)
	now := time.Now()
	alert := pkg.NewAlert(now, pkg.AlertSignal, pkg.SeverityHigh, "Weak WiFi signal", "")
	analyzer := &fakeAnalyzer{alerts: []pkg.Alert{alert}}
	publisher := &fakePublisher{}
	observer := &fakeObserver{}

	scans := NewScanCache(&fakeScanner{snapshot: &pkg.ChannelSnapshot{
		Timestamp: now,
		Networks:  []pkg.ScanNetwork{{SSID: "home", Band: pkg.Band5, Channel: 36}},
	}}, time.Hour)
	_, err := scans.Refresh(context.Background())
	require.NoError(t, err)

	s := New(DefaultConfig(), Dependencies{
		Collector: &fakeCollector{sample: pkg.MetricSample{Timestamp: now, SignalPercent: 20}},
		Scans:     scans,
		Sink:      store,
		Analyzer:  analyzer,
		Publisher: publisher,
		Observer:  observer,
	}, testLogger())

	alerts, err := s.CollectOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	stored, _ := store.RecentMetrics(context.Background(), 10)
	assert.Len(t, stored, 1)
	storedAlerts, _ := store.RecentAlerts(context.Background(), 10)
	assert.Len(t, storedAlerts, 1)
	assert.Equal(t, 1, publisher.alerts)
	assert.Equal(t, 1, observer.samples)
	assert.Len(t, analyzer.visible, 1)
}

func TestCollectOnceDeduplicatesPublishedAlerts(t *testing.T) {
	store := newStore(t)
	now := time.Now()
	analyzer := &fakeAnalyzer{alerts: []pkg.Alert{
		pkg.NewAlert(now, pkg.AlertSignal, pkg.SeverityHigh, "Weak WiFi signal", ""),
	}}
	publisher := &fakePublisher{}

	s := New(DefaultConfig(), Dependencies{
		Collector: &fakeCollector{sample: pkg.MetricSample{Timestamp: now, SignalPercent: 20}},
		Sink:      store,
		Analyzer:  analyzer,
		Publisher: publisher,
		Dedup:     notifications.NewDeduplicator(&notifications.Config{Window: time.Hour}, testLogger()),
	}, testLogger())

	for i := 0; i < 3; i++ {
		alerts, err := s.CollectOnce(context.Background())
		require.NoError(t, err)
		assert.Len(t, alerts, 1)
	}
	assert.Equal(t, 1, publisher.alerts)
}

func TestCollectOnceFailure(t *testing.T) {
	observer := &fakeObserver{}
	s := New(DefaultConfig(), Dependencies{
		Collector: &fakeCollector{err: errors.New("not associated")},
		Sink:      newStore(t),
		Analyzer:  &fakeAnalyzer{},
		Observer:  observer,
	}, testLogger())

	_, err := s.CollectOnce(context.Background())
	assert.ErrorContains(t, err, "not associated")
	assert.Equal(t, 1, observer.errors["link"])
}

func TestPredictOnceAppliesInOrder(t *testing.T) {
	store := newStore(t)
	publisher := &fakePublisher{}
	s := New(DefaultConfig(), Dependencies{
		Sink:        store,
		Snapshotter: telem.NewSnapshotter(store),
		Analyzer:    &fakeAnalyzer{},
		Publisher:   publisher,
	}, testLogger())

	assert.True(t, s.PredictOnce(context.Background()))
	assert.True(t, s.PredictOnce(context.Background()))

	predictions, seq := s.Predictions()
	assert.Equal(t, uint64(2), seq)
	require.Len(t, predictions, 1)
	assert.Equal(t, []uint64{1, 2}, publisher.predictions)
	assert.Equal(t, 2, publisher.statuses)
}

func TestPredictOnceRaisesConfidentSevereForecasts(t *testing.T) {
	store := newStore(t)
	publisher := &fakePublisher{}
	now := time.Now()
	analyzer := &fakeAnalyzer{predictions: []pkg.Prediction{
		pkg.NewPrediction(now, pkg.PredictDisconnection, pkg.SeverityHigh, 85, "Signal trending to 8%", "~2 hours"),
		pkg.NewPrediction(now, pkg.PredictCongestion, pkg.SeverityCritical, 50, "Channel busy", "this hour"),
		pkg.NewPrediction(now, pkg.PredictSpeedDegradation, pkg.SeverityMedium, 95, "Slow evenings", "this hour"),
	}}
	s := New(DefaultConfig(), Dependencies{
		Sink:        store,
		Snapshotter: telem.NewSnapshotter(store),
		Analyzer:    analyzer,
		Publisher:   publisher,
		Dedup:       notifications.NewDeduplicator(&notifications.Config{Window: time.Hour}, testLogger()),
	}, testLogger())

	require.True(t, s.PredictOnce(context.Background()))
	require.True(t, s.PredictOnce(context.Background()))

	stored, err := store.RecentAlerts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, pkg.AlertDevice, stored[0].Category)
	assert.Equal(t, pkg.SeverityHigh, stored[0].Severity)
	assert.Contains(t, stored[0].Message, "85% confidence")
	assert.Equal(t, 1, publisher.alerts)

	predictions, _ := s.Predictions()
	assert.Len(t, predictions, 3)
}

func TestPredictionAlertThresholds(t *testing.T) {
	s := New(Config{PredictionAlertSeverity: pkg.SeverityMedium, PredictionAlertConfidence: 60}, Dependencies{}, testLogger())
	now := time.Now()

	alerts := s.predictionAlerts([]pkg.Prediction{
		pkg.NewPrediction(now, pkg.PredictCongestion, pkg.SeverityMedium, 60, "busy", "this hour"),
		pkg.NewPrediction(now, pkg.PredictCongestion, pkg.SeverityLow, 99, "busy", "this hour"),
		pkg.NewPrediction(now, pkg.PredictSecurity, pkg.SeverityHigh, 59, "open", "now"),
	})
	require.Len(t, alerts, 1)
	assert.Equal(t, pkg.AlertCongestion, alerts[0].Category)

	assert.Empty(t, New(Config{}, Dependencies{}, testLogger()).predictionAlerts(nil))
}

func TestSupersededPredictionIsDropped(t *testing.T) {
	store := newStore(t)
	publisher := &fakePublisher{}
	analyzer := &fakeAnalyzer{block: 1, started: make(chan uint64, 2)}
	s := New(DefaultConfig(), Dependencies{
		Sink:        store,
		Snapshotter: telem.NewSnapshotter(store),
		Analyzer:    analyzer,
		Publisher:   publisher,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.startPrediction(ctx)
	require.Equal(t, uint64(1), <-analyzer.started)

	s.startPrediction(ctx)
	require.Equal(t, uint64(2), <-analyzer.started)
	s.wg.Wait()

	_, seq := s.Predictions()
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, []uint64{2}, publisher.predictions)
}

func TestScanCache(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	scanner := &fakeScanner{snapshot: &pkg.ChannelSnapshot{Timestamp: now}}
	cache := NewScanCache(scanner, 10*time.Minute)
	cache.now = func() time.Time { return now.Add(time.Minute) }

	assert.Nil(t, cache.Visible())

	_, err := cache.Snapshot(context.Background())
	require.NoError(t, err)
	_, err = cache.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, scanner.calls)

	cache.now = func() time.Time { return now.Add(time.Hour) }
	_, err = cache.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, scanner.calls)

	scanner.err = errors.New("busy")
	_, err = cache.Refresh(context.Background())
	assert.Error(t, err)
}
