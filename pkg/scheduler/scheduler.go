package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
	"github.com/markus-lassfolk/wifiwatch/pkg/telem"
)

// Collector takes one link sample
type Collector interface {
	Collect(ctx context.Context) (*pkg.MetricSample, error)
}

// Analyzer is the part of the analytics engine driven by the scheduler
type Analyzer interface {
	EvaluateLatest(ctx context.Context, visible []pkg.ScanNetwork) ([]pkg.Alert, error)
	PredictSnapshot(ctx context.Context, snapshot *telem.Snapshot) []pkg.Prediction
	GetEngineStatus(ctx context.Context) pkg.EngineStatus
}

// Publisher fans results out to listeners
type Publisher interface {
	PublishAlerts(alerts []pkg.Alert) error
	PublishPredictions(seq uint64, predictions []pkg.Prediction) error
	PublishEngineStatus(status pkg.EngineStatus) error
}

// AlertFilter drops alerts that should not be published again
type AlertFilter interface {
	Filter(alerts []pkg.Alert) []pkg.Alert
}

// Pruner drops history past its retention
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// SampleObserver records collection outcomes
type SampleObserver interface {
	ObserveSample(sample pkg.MetricSample)
	ObserveCollectError(source string)
}

// Config holds the cycle cadences
type Config struct {
	MetricInterval     time.Duration
	ScanInterval       time.Duration
	PredictionInterval time.Duration
	PruneInterval      time.Duration
	// HistoryLimit is the number of samples in each prediction snapshot
	HistoryLimit int
	// Predictions at or above both thresholds are also raised as alerts
	PredictionAlertSeverity   pkg.Severity
	PredictionAlertConfidence int
}

// DefaultConfig returns the stock cadences
func DefaultConfig() Config {
	return Config{
		MetricInterval:     30 * time.Second,
		ScanInterval:       15 * time.Minute,
		PredictionInterval: 5 * time.Minute,
		PruneInterval:      time.Hour,
		HistoryLimit:       2000,

		PredictionAlertSeverity:   pkg.SeverityHigh,
		PredictionAlertConfidence: 70,
	}
}

// Dependencies wires the scheduler. Scans, Publisher, Pruner and Observer are optional.
type Dependencies struct {
	Collector   Collector
	Scans       *ScanCache
	Sink        telem.Sink
	Snapshotter *telem.Snapshotter
	Analyzer    Analyzer
	Publisher   Publisher
	Dedup       AlertFilter
	Pruner      Pruner
	Observer    SampleObserver
}

// Scheduler drives collection, scans, alert evaluation and predictions on
// tickers. Prediction cycles are tagged with the sequence of the snapshot they
// read; a cycle still running when the next one starts is cancelled.
type Scheduler struct {
	config Config
	deps   Dependencies
	logger *logx.Logger

	predictions Latest[[]pkg.Prediction]

	predictionMu     sync.Mutex
	cancelPrediction context.CancelFunc
	scanning         atomic.Bool
	wg               sync.WaitGroup

	now func() time.Time
}

// New creates a scheduler
func New(config Config, deps Dependencies, logger *logx.Logger) *Scheduler {
	defaults := DefaultConfig()
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = defaults.HistoryLimit
	}
	if config.PredictionAlertSeverity == "" {
		config.PredictionAlertSeverity = defaults.PredictionAlertSeverity
	}
	if config.PredictionAlertConfidence <= 0 {
		config.PredictionAlertConfidence = defaults.PredictionAlertConfidence
	}
	return &Scheduler{config: config, deps: deps, logger: logger, now: time.Now}
}

// Predictions returns the newest applied predictions and their snapshot sequence
func (s *Scheduler) Predictions() ([]pkg.Prediction, uint64) {
	return s.predictions.Get()
}

// Run blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Scheduler started",
		"metric_interval", s.config.MetricInterval.String(),
		"scan_interval", s.config.ScanInterval.String(),
		"prediction_interval", s.config.PredictionInterval.String())

	metricTicker := time.NewTicker(s.config.MetricInterval)
	defer metricTicker.Stop()
	predictionTicker := time.NewTicker(s.config.PredictionInterval)
	defer predictionTicker.Stop()

	var scanC, pruneC <-chan time.Time
	if s.deps.Scans != nil && s.config.ScanInterval > 0 {
		scanTicker := time.NewTicker(s.config.ScanInterval)
		defer scanTicker.Stop()
		scanC = scanTicker.C
		s.startScan(ctx)
	}
	if s.deps.Pruner != nil && s.config.PruneInterval > 0 {
		pruneTicker := time.NewTicker(s.config.PruneInterval)
		defer pruneTicker.Stop()
		pruneC = pruneTicker.C
	}

	s.collect(ctx)
	s.startPrediction(ctx)

	for {
		select {
		case <-ctx.Done():
			s.stopPrediction()
			s.wg.Wait()
			s.logger.Info("Scheduler stopped")
			return
		case <-metricTicker.C:
			s.collect(ctx)
		case <-scanC:
			s.startScan(ctx)
		case <-predictionTicker.C:
			s.startPrediction(ctx)
		case <-pruneC:
			s.prune(ctx)
		}
	}
}

func (s *Scheduler) collect(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, s.config.MetricInterval)
	defer cancel()
	if _, err := s.CollectOnce(cctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Collection cycle failed", "error", err)
	}
}

// CollectOnce takes a sample, stores it, evaluates the alert rules against the
// stored history and persists and publishes the alerts
func (s *Scheduler) CollectOnce(ctx context.Context) ([]pkg.Alert, error) {
	sample, err := s.deps.Collector.Collect(ctx)
	if err != nil {
		s.observeError("link")
		return nil, fmt.Errorf("collect: %w", err)
	}
	if err := s.deps.Sink.AddMetric(ctx, *sample); err != nil {
		s.observeError("store")
		return nil, fmt.Errorf("store sample: %w", err)
	}
	if s.deps.Observer != nil {
		s.deps.Observer.ObserveSample(*sample)
	}

	var visible []pkg.ScanNetwork
	if s.deps.Scans != nil {
		visible = s.deps.Scans.Visible()
	}
	alerts, err := s.deps.Analyzer.EvaluateLatest(ctx, visible)
	if err != nil {
		return nil, fmt.Errorf("evaluate alerts: %w", err)
	}
	if len(alerts) == 0 {
		return nil, nil
	}

	s.raise(ctx, alerts)
	return alerts, nil
}

// raise persists alerts and publishes the ones the dedup filter lets through
func (s *Scheduler) raise(ctx context.Context, alerts []pkg.Alert) {
	if err := s.deps.Sink.AddAlerts(ctx, alerts); err != nil {
		s.logger.Warn("Failed to persist alerts", "count", len(alerts), "error", err)
	}
	published := alerts
	if s.deps.Dedup != nil {
		published = s.deps.Dedup.Filter(alerts)
	}
	if s.deps.Publisher != nil && len(published) > 0 {
		if err := s.deps.Publisher.PublishAlerts(published); err != nil {
			s.logger.Warn("Failed to publish alerts", "error", err)
		}
	}
}

func (s *Scheduler) startScan(ctx context.Context) {
	if !s.scanning.CompareAndSwap(false, true) {
		s.logger.Debug("Channel scan still running, skipping")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.scanning.Store(false)

		snapshot, err := s.deps.Scans.Refresh(ctx)
		if err != nil {
			s.observeError("scan")
			s.logger.Warn("Channel scan failed", "error", err)
			return
		}
		s.logger.Debug("Channel scan completed", "networks", len(snapshot.Networks), "channels", len(snapshot.Channels))
	}()
}

func (s *Scheduler) startPrediction(ctx context.Context) {
	s.predictionMu.Lock()
	if s.cancelPrediction != nil {
		s.cancelPrediction()
	}
	cctx, cancel := context.WithCancel(ctx)
	s.cancelPrediction = cancel
	s.predictionMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.PredictOnce(cctx)
	}()
}

func (s *Scheduler) stopPrediction() {
	s.predictionMu.Lock()
	defer s.predictionMu.Unlock()
	if s.cancelPrediction != nil {
		s.cancelPrediction()
		s.cancelPrediction = nil
	}
}

// PredictOnce runs one prediction cycle. It reports whether the result was
// applied; cancelled cycles and results older than the applied ones are dropped.
// Applied predictions that clear the alert thresholds are raised as alerts.
func (s *Scheduler) PredictOnce(ctx context.Context) bool {
	snapshot, err := s.deps.Snapshotter.Take(ctx, s.config.HistoryLimit)
	if err != nil {
		s.logger.Warn("Failed to snapshot history for predictions", "error", err)
		return false
	}

	predictions := s.deps.Analyzer.PredictSnapshot(ctx, snapshot)
	if ctx.Err() != nil {
		s.logger.Debug("Prediction cycle superseded", "seq", snapshot.Seq)
		return false
	}
	if !s.predictions.Apply(snapshot.Seq, predictions) {
		s.logger.Debug("Dropping stale prediction result", "seq", snapshot.Seq)
		return false
	}

	s.logger.Info("Prediction cycle completed", "seq", snapshot.Seq, "samples", len(snapshot.Metrics), "predictions", len(predictions))
	if alerts := s.predictionAlerts(predictions); len(alerts) > 0 {
		s.raise(ctx, alerts)
	}
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.PublishPredictions(snapshot.Seq, predictions); err != nil {
			s.logger.Warn("Failed to publish predictions", "error", err)
		}
		if err := s.deps.Publisher.PublishEngineStatus(s.deps.Analyzer.GetEngineStatus(ctx)); err != nil {
			s.logger.Warn("Failed to publish engine status", "error", err)
		}
	}
	return true
}

// predictionAlerts selects the confident, severe forecasts worth alerting on
func (s *Scheduler) predictionAlerts(predictions []pkg.Prediction) []pkg.Alert {
	var alerts []pkg.Alert
	minRank := s.config.PredictionAlertSeverity.Rank()
	for _, p := range predictions {
		if p.Severity.Rank() < minRank || p.Confidence < s.config.PredictionAlertConfidence {
			continue
		}
		alerts = append(alerts, pkg.AlertFromPrediction(p))
	}
	return alerts
}

func (s *Scheduler) prune(ctx context.Context) {
	removed, err := s.deps.Pruner.Prune(ctx, s.now())
	if err != nil {
		s.logger.Warn("History pruning failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("Pruned history", "rows", removed)
	}
}

func (s *Scheduler) observeError(source string) {
	if s.deps.Observer != nil {
		s.deps.Observer.ObserveCollectError(source)
	}
}
