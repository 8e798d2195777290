package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
	"github.com/markus-lassfolk/wifiwatch/pkg/predictive"
	"github.com/markus-lassfolk/wifiwatch/pkg/telem"
	"github.com/markus-lassfolk/wifiwatch/pkg/wifi"
)

// ErrNoChannelSource is logged when a recommendation is requested without a scanner
var ErrNoChannelSource = errors.New("no channel source configured")

// ChannelSource provides live channel scans
type ChannelSource interface {
	Snapshot(ctx context.Context) (*pkg.ChannelSnapshot, error)
}

// Predictor runs the forecasting engines
type Predictor interface {
	Predict(ctx context.Context, in predictive.Input) ([]pkg.Prediction, error)
	Status(count int) pkg.EngineStatus
}

// Observer receives operation outcomes, typically Prometheus collectors
type Observer interface {
	ObserveOperation(operation string, duration time.Duration, err error)
	ObserveAlerts(alerts []pkg.Alert)
	ObservePredictions(predictions []pkg.Prediction)
	SetActiveEngine(kind pkg.EngineKind)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, time.Duration, error) {}
func (nopObserver) ObserveAlerts([]pkg.Alert)                     {}
func (nopObserver) ObservePredictions([]pkg.Prediction)           {}
func (nopObserver) SetActiveEngine(pkg.EngineKind)                {}

// Dependencies are the collaborators of the analytics engine. Only Source is
// required.
type Dependencies struct {
	Source    telem.Source
	Channels  ChannelSource
	Predictor Predictor
	Observer  Observer
}

// Engine is the single entry point for every analysis. Each call fetches its
// own history, so calls are independent and may run concurrently. Collaborator
// failures are logged and degrade to an empty or insufficient-data result.
type Engine struct {
	config *Config
	logger *logx.Logger
	perf   *logx.PerformanceLogger

	source    telem.Source
	channels  ChannelSource
	predictor Predictor
	observer  Observer

	stability   *StabilityAnalyzer
	bestTimes   *TimeBucketAnalyzer
	throttling  *ThrottlingDetector
	alerts      *AlertRules
	health      *HealthAnalyzer
	recommender *wifi.ChannelRecommender

	now func() time.Time
}

// NewEngine creates the analytics engine
func NewEngine(deps Dependencies, config *Config, logger *logx.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	return &Engine{
		config:      config,
		logger:      logger,
		perf:        logx.NewPerformanceLogger(logger, 0),
		source:      deps.Source,
		channels:    deps.Channels,
		predictor:   deps.Predictor,
		observer:    deps.Observer,
		stability:   NewStabilityAnalyzer(config),
		bestTimes:   NewTimeBucketAnalyzer(config),
		throttling:  NewThrottlingDetector(config),
		alerts:      NewAlertRules(config),
		health:      NewHealthAnalyzer(DefaultHealthThresholds()),
		recommender: wifi.NewChannelRecommender(wifi.NewCongestionScorer(), config.ChannelImprovementMinPct),
		now:         time.Now,
	}
}

// Config returns the thresholds in use
func (e *Engine) Config() *Config { return e.config }

// Performance returns per-operation timing statistics
func (e *Engine) Performance() []logx.OperationStats { return e.perf.Stats() }

func (e *Engine) track(operation string) func(err error) {
	timer := e.perf.Start(operation)
	return func(err error) {
		e.observer.ObserveOperation(operation, timer.Done(err), err)
	}
}

// AnalyzeCurrentSample evaluates the alert rules. history is ordered most
// recent first and excludes current; only the configured window is used.
// Identical inputs always produce identical alerts.
func (e *Engine) AnalyzeCurrentSample(current pkg.MetricSample, history []pkg.MetricSample, visible []pkg.ScanNetwork) []pkg.Alert {
	done := e.track("analyze_current_sample")
	if len(history) > e.config.AlertHistoryWindow {
		history = history[:e.config.AlertHistoryWindow]
	}
	alerts := e.alerts.Evaluate(current, history, visible)
	done(nil)

	e.observer.ObserveAlerts(alerts)
	if len(alerts) > 0 {
		e.logger.Debug("Alerts raised", "count", len(alerts), "signal", current.SignalPercent, "channel", current.Channel)
	}
	return alerts
}

// EvaluateLatest loads the newest sample with its history and runs the alert rules
func (e *Engine) EvaluateLatest(ctx context.Context, visible []pkg.ScanNetwork) ([]pkg.Alert, error) {
	recent, err := e.source.RecentMetrics(ctx, e.config.AlertHistoryWindow+1)
	if err != nil {
		e.logger.Warn("Failed to load recent metrics for alerts", "error", err)
		return nil, fmt.Errorf("failed to load recent metrics: %w", err)
	}
	if len(recent) == 0 {
		return nil, nil
	}
	return e.AnalyzeCurrentSample(recent[0], recent[1:], visible), nil
}

// GetBestDownloadTimes ranks hours of the day by average link speed. It
// returns nil when there is not enough history.
func (e *Engine) GetBestDownloadTimes(ctx context.Context) *BestTimeAnalysis {
	done := e.track("best_download_times")
	recent, err := e.source.RecentMetrics(ctx, e.config.BestTimesSampleLimit)
	done(err)
	if err != nil {
		e.logger.Warn("Failed to load metrics for best download times", "error", err)
		return nil
	}
	return e.bestTimes.Analyze(recent)
}

// AnalyzeISPPerformance checks speed tests for throttling. It returns nil
// when fewer than two tests exist.
func (e *Engine) AnalyzeISPPerformance(ctx context.Context) *IspAnalysis {
	done := e.track("isp_performance")
	tests, err := e.source.RecentSpeedTests(ctx, e.config.SpeedTestLimit)
	done(err)
	if err != nil {
		e.logger.Warn("Failed to load speed tests", "error", err)
		return nil
	}
	return e.throttling.Analyze(tests)
}

// GetNetworkStability scores the link over the trailing period. It always
// returns a result; check InsufficientData.
func (e *Engine) GetNetworkStability(ctx context.Context, period time.Duration) *NetworkStability {
	done := e.track("network_stability")
	samples, err := e.source.MetricsSince(ctx, e.now().Add(-period))
	done(err)
	if err != nil {
		e.logger.Warn("Failed to load metrics for stability", "period", period.String(), "error", err)
		samples = nil
	}
	return e.stability.Analyze(samples, period)
}

// GetChannelRecommendation scores the current band from a live scan. It
// returns nil when the current channel or the scan is unavailable.
func (e *Engine) GetChannelRecommendation(ctx context.Context) *wifi.ChannelRecommendation {
	done := e.track("channel_recommendation")

	latest, err := e.source.RecentMetrics(ctx, 1)
	if err != nil || len(latest) == 0 {
		done(err)
		if err != nil {
			e.logger.Warn("Failed to load current channel", "error", err)
		}
		return nil
	}
	current := latest[0]

	if e.channels == nil {
		done(ErrNoChannelSource)
		e.logger.Debug("Channel recommendation skipped", "error", ErrNoChannelSource)
		return nil
	}
	snapshot, err := e.channels.Snapshot(ctx)
	done(err)
	if err != nil {
		e.logger.Warn("Channel scan failed", "error", err)
		return nil
	}

	snapshot = wifi.ExcludeBSSID(snapshot, current.BSSID)
	rec := e.recommender.Recommend(snapshot, current.Channel, current.Band)
	if rec != nil && rec.ShouldSwitch {
		e.logger.Info("Better channel available",
			"current", rec.CurrentChannel,
			"recommended", rec.RecommendedChannel,
			"improvement_percent", rec.ImprovementPercent)
	}
	return rec
}

// PredictIssues loads recent history and forecasts upcoming problems
func (e *Engine) PredictIssues(ctx context.Context) []pkg.Prediction {
	done := e.track("predict_issues")
	recent, err := e.source.RecentMetrics(ctx, e.config.PredictionSampleLimit)
	if err != nil {
		done(err)
		e.logger.Warn("Failed to load metrics for predictions", "error", err)
		return nil
	}
	predictions := e.predict(ctx, recent)
	done(nil)
	return predictions
}

// PredictSnapshot forecasts from an already taken history snapshot
func (e *Engine) PredictSnapshot(ctx context.Context, snapshot *telem.Snapshot) []pkg.Prediction {
	if snapshot == nil {
		return nil
	}
	done := e.track("predict_issues")
	predictions := e.predict(ctx, snapshot.Metrics)
	done(nil)
	return predictions
}

func (e *Engine) predict(ctx context.Context, recent []pkg.MetricSample) []pkg.Prediction {
	if e.predictor == nil {
		return nil
	}

	now := e.now()
	in := predictive.Input{Now: now, Recent: recent, Pattern: e.patternHistory(ctx, now)}
	predictions, err := e.predictor.Predict(ctx, in)
	if err != nil {
		e.logger.Warn("Prediction failed", "samples", len(recent), "error", err)
		return nil
	}

	e.observer.SetActiveEngine(e.predictor.Status(len(recent)).ActiveEngine)
	e.observer.ObservePredictions(predictions)
	return predictions
}

// patternHistory loads the lookback window and keeps the samples of the
// current and next hour of day, newest first. On failure it returns nil and
// the forecasters fall back to the recent window.
func (e *Engine) patternHistory(ctx context.Context, now time.Time) []pkg.MetricSample {
	if e.config.PatternLookback <= 0 {
		return nil
	}
	samples, err := e.source.MetricsSince(ctx, now.Add(-e.config.PatternLookback))
	if err != nil {
		e.logger.Warn("Failed to load pattern history", "lookback", e.config.PatternLookback.String(), "error", err)
		return nil
	}

	hour, next := now.Hour(), (now.Hour()+1)%24
	pattern := make([]pkg.MetricSample, 0, len(samples)/12+1)
	for i := len(samples) - 1; i >= 0; i-- {
		if h := samples[i].Timestamp.Hour(); h == hour || h == next {
			pattern = append(pattern, samples[i])
		}
	}
	return pattern
}

// GetEngineStatus reports which forecasting engine is active
func (e *Engine) GetEngineStatus(ctx context.Context) pkg.EngineStatus {
	done := e.track("engine_status")
	recent, err := e.source.RecentMetrics(ctx, e.config.PredictionSampleLimit)
	done(err)
	if err != nil {
		e.logger.Warn("Failed to count samples for engine status", "error", err)
	}
	if e.predictor == nil {
		return pkg.EngineStatus{ActiveEngine: pkg.EngineTrend, SamplesCollected: len(recent)}
	}

	status := e.predictor.Status(len(recent))
	e.observer.SetActiveEngine(status.ActiveEngine)
	return status
}

// GetHealth scores the most recent sample. It returns nil without samples.
func (e *Engine) GetHealth(ctx context.Context) *LinkHealth {
	done := e.track("link_health")
	latest, err := e.source.RecentMetrics(ctx, 1)
	done(err)
	if err != nil {
		e.logger.Warn("Failed to load latest sample", "error", err)
		return nil
	}
	if len(latest) == 0 {
		return nil
	}
	return e.health.Analyze(latest[0])
}
