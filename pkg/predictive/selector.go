package predictive

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
)

// Input is the history a forecasting engine works on. Recent drives engine
// selection and model training. Pattern is a longer lookback used to match
// hour-of-day and weekday patterns; when nil, Recent is used instead.
type Input struct {
	Now     time.Time
	Recent  []pkg.MetricSample // newest first
	Pattern []pkg.MetricSample // newest first
}

func (in Input) patternSamples() []pkg.MetricSample {
	if in.Pattern != nil {
		return in.Pattern
	}
	return in.Recent
}

// Engine is one forecasting strategy
type Engine interface {
	Kind() pkg.EngineKind
	Predict(ctx context.Context, in Input) ([]pkg.Prediction, error)
}

// Expected accuracy bands reported by engine status
const (
	TrendAccuracy  = "30-75%"
	SeriesAccuracy = "60-85%"
)

// SelectEngine picks the engine for a history of count samples. The choice
// depends on nothing but count, so a growing history never switches back.
func SelectEngine(count, threshold int) pkg.EngineKind {
	if count >= threshold {
		return pkg.EngineSeries
	}
	return pkg.EngineTrend
}

// Selector delegates to the engine matching the amount of history
type Selector struct {
	config *Config
	logger *logx.Logger
	trend  Engine
	series Engine
	cache  *ModelCache
}

// NewSelector wires both engines. cache is consulted for status only and may be nil.
func NewSelector(config *Config, trend, series Engine, cache *ModelCache, logger *logx.Logger) *Selector {
	if config == nil {
		config = DefaultConfig()
	}
	return &Selector{config: config, logger: logger, trend: trend, series: series, cache: cache}
}

// Engine returns the engine for count samples
func (s *Selector) Engine(count int) Engine {
	if SelectEngine(count, s.config.UpgradeThreshold) == pkg.EngineSeries {
		return s.series
	}
	return s.trend
}

// Predict runs the active engine and tags every prediction with its identity
func (s *Selector) Predict(ctx context.Context, in Input) ([]pkg.Prediction, error) {
	engine := s.Engine(len(in.Recent))
	predictions, err := engine.Predict(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("%s engine: %w", engine.Kind(), err)
	}
	for i := range predictions {
		predictions[i].Engine = engine.Kind()
	}

	s.logger.Debug("Predictions computed",
		"engine", engine.Kind(),
		"samples", len(in.Recent),
		"predictions", len(predictions))
	return predictions, nil
}

// Status describes the active engine for count samples
func (s *Selector) Status(count int) pkg.EngineStatus {
	threshold := s.config.UpgradeThreshold
	remaining := threshold - count
	if remaining < 0 {
		remaining = 0
	}

	status := pkg.EngineStatus{
		ActiveEngine:     SelectEngine(count, threshold),
		SamplesCollected: count,
		SamplesRequired:  threshold,
		SamplesRemaining: remaining,
	}

	if status.ActiveEngine == pkg.EngineSeries {
		status.ExpectedAccuracy = SeriesAccuracy
		status.TimeToUpgrade = "upgraded"
		if s.cache != nil {
			status.LastTrained = s.cache.LastTrained()
		}
		return status
	}

	status.ExpectedAccuracy = TrendAccuracy
	status.TimeToUpgrade = formatETA(time.Duration(remaining) * s.config.SampleInterval)
	return status
}

func formatETA(d time.Duration) string {
	switch {
	case d < time.Hour:
		minutes := int(math.Ceil(d.Minutes()))
		if minutes < 1 {
			minutes = 1
		}
		return approx(minutes, "minute")
	case d < 48*time.Hour:
		return approx(int(math.Round(d.Hours())), "hour")
	default:
		return approx(int(math.Round(d.Hours()/24)), "day")
	}
}

func approx(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("~1 %s", unit)
	}
	return fmt.Sprintf("~%d %ss", n, unit)
}
