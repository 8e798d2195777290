package predictive

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
)

// TrainingObserver is notified after every training attempt
type TrainingObserver func(metric Metric, duration time.Duration, err error)

// SeriesForecaster is the model based engine. It keeps one autoregressive
// model per metric in a ModelCache and retrains it when missing or stale.
type SeriesForecaster struct {
	config   *Config
	logger   *logx.Logger
	cache    *ModelCache
	store    ModelStore
	observer TrainingObserver
}

// NewSeriesForecaster creates the model based engine. store may be nil.
func NewSeriesForecaster(config *Config, cache *ModelCache, store ModelStore, logger *logx.Logger) *SeriesForecaster {
	if config == nil {
		config = DefaultConfig()
	}
	if cache == nil {
		cache = NewModelCache()
	}
	return &SeriesForecaster{config: config, logger: logger, cache: cache, store: store}
}

// OnTraining registers a training observer
func (sf *SeriesForecaster) OnTraining(observer TrainingObserver) {
	sf.observer = observer
}

// Kind identifies the engine
func (sf *SeriesForecaster) Kind() pkg.EngineKind { return pkg.EngineSeries }

// Cache exposes the model cache
func (sf *SeriesForecaster) Cache() *ModelCache { return sf.cache }

// Predict forecasts signal and speed over the configured horizon and matches
// the weekly congestion pattern. A metric whose model cannot be trained is
// skipped for this cycle.
func (sf *SeriesForecaster) Predict(ctx context.Context, in Input) ([]pkg.Prediction, error) {
	if len(in.Recent) == 0 {
		return nil, nil
	}

	window := chronological(in.Recent, sf.config.TrainingWindow)
	signal := make([]float64, len(window))
	speed := make([]float64, len(window))
	for i, s := range window {
		signal[i] = s.SignalPercent
		speed[i] = s.RxSpeedMbps
	}

	var predictions []pkg.Prediction

	if model := sf.model(ctx, MetricSignal, signal, in.Now); model != nil {
		if p := sf.predictSignal(in, model, signal); p != nil {
			predictions = append(predictions, *p)
		}
	}
	if err := ctx.Err(); err != nil {
		return predictions, err
	}

	if model := sf.model(ctx, MetricSpeed, speed, in.Now); model != nil {
		if p := sf.predictSpeed(in, model, speed); p != nil {
			predictions = append(predictions, *p)
		}
	}

	if p := sf.predictCongestion(in); p != nil {
		predictions = append(predictions, *p)
	}
	return predictions, nil
}

// model returns a usable model for metric, training one when needed. While
// another cycle trains, the previous model is used. A failed training yields
// nil so that the metric is omitted rather than forecast from a stale model.
func (sf *SeriesForecaster) model(ctx context.Context, metric Metric, series []float64, now time.Time) *ARModel {
	current := sf.cache.Get(metric)
	if current != nil && !current.Stale(now, sf.config.RetrainAfter) {
		return current
	}

	if !sf.cache.TryBeginTraining(metric) {
		sf.logger.Debug("Training in progress, using previous model", "metric", metric)
		return current
	}
	defer sf.cache.EndTraining(metric)

	if err := ctx.Err(); err != nil {
		return nil
	}

	start := time.Now()
	model, err := FitAR(metric, series, sf.config.AROrder, now)
	duration := time.Since(start)
	if sf.observer != nil {
		sf.observer(metric, duration, err)
	}
	if err != nil {
		sf.logger.Warn("Model training failed", "metric", metric, "samples", len(series), "error", err)
		return nil
	}

	sf.cache.Put(model)
	sf.logger.Info("Model trained",
		"metric", metric,
		"samples", model.Samples,
		"order", model.Order,
		"sigma", model.Sigma,
		"duration_ms", duration.Milliseconds())

	if sf.store != nil {
		if err := sf.store.Save(model); err != nil {
			sf.logger.Warn("Failed to persist model", "metric", metric, "error", err)
		}
	}
	return model
}

func (sf *SeriesForecaster) predictSignal(in Input, model *ARModel, signal []float64) *pkg.Prediction {
	forecast, err := model.Forecast(signal, sf.config.Horizon)
	if err != nil {
		sf.logger.Debug("Signal forecast failed", "error", err)
		return nil
	}

	current := in.Recent[0].SignalPercent
	threshold := sf.config.SignalThreshold
	if current < threshold {
		return nil
	}

	crossing := -1
	minValue := math.Inf(1)
	for _, fp := range forecast {
		if fp.Value < minValue {
			minValue = fp.Value
		}
		if crossing < 0 && fp.Value < threshold {
			crossing = fp.Step
		}
	}
	if crossing < 0 {
		return nil
	}

	confidence := pkg.Clamp(100-avgWidth(forecast), 30, 95)
	severity := pkg.SeverityMedium
	if minValue < 30 {
		severity = pkg.SeverityHigh
	}

	eta := time.Duration(crossing) * sf.config.SampleInterval
	p := pkg.NewPrediction(in.Now, pkg.PredictSignalDegradation, severity, int(math.Round(confidence)),
		fmt.Sprintf("Signal is forecast to fall from %.0f%% to %.0f%%.", current, math.Max(minValue, 0)),
		within(eta))
	return &p
}

func (sf *SeriesForecaster) predictSpeed(in Input, model *ARModel, speed []float64) *pkg.Prediction {
	forecast, err := model.Forecast(speed, sf.config.Horizon)
	if err != nil {
		sf.logger.Debug("Speed forecast failed", "error", err)
		return nil
	}

	n := sf.config.CurrentWindow
	if n > len(speed) {
		n = len(speed)
	}
	currentAvg := stat.Mean(speed[len(speed)-n:], nil)
	historicalAvg := model.Mean
	live := in.Recent[0].RxSpeedMbps
	if currentAvg <= 0 || historicalAvg <= 0 {
		return nil
	}

	var sum float64
	for _, fp := range forecast {
		sum += fp.Value
	}
	forecastAvg := sum / float64(len(forecast))

	drop := (currentAvg - forecastAvg) / currentAvg * 100
	if drop <= sf.config.SpeedDropPercent || forecastAvg >= live {
		return nil
	}

	confidence := pkg.Clamp(100-avgWidth(forecast)/historicalAvg*100, 40, 95)
	eta := time.Duration(len(forecast)) * sf.config.SampleInterval
	p := pkg.NewPrediction(in.Now, pkg.PredictSpeedDegradation, pkg.SeverityMedium, int(math.Round(confidence)),
		fmt.Sprintf("Link speed is forecast to drop %.0f%% to about %.0f Mbps.", drop, math.Max(forecastAvg, 0)),
		within(eta))
	return &p
}

func (sf *SeriesForecaster) predictCongestion(in Input) *pkg.Prediction {
	utilization := sameSlot(in.patternSamples(), in.Now)
	if len(utilization) < sf.config.PatternMinSamples {
		return nil
	}
	if len(utilization) > sf.config.PatternRecent {
		utilization = utilization[:sf.config.PatternRecent]
	}

	mean, variance := stat.PopMeanVariance(utilization, nil)
	stdDev := math.Sqrt(variance)
	if stdDev >= sf.config.PatternMaxStdDev || mean <= sf.config.CongestionThreshold {
		return nil
	}

	confidence := math.Min(95, 60+(30-stdDev)*2)
	p := pkg.NewPrediction(in.Now, pkg.PredictCongestion, pkg.SeverityMedium, int(math.Round(confidence)),
		fmt.Sprintf("The channel is consistently %.0f%% busy on %s around %02d:00 (std dev %.1f).",
			mean, in.Now.Weekday(), in.Now.Hour(), stdDev),
		"this hour")
	return &p
}

// chronological returns up to limit of the newest samples, oldest first
func chronological(recent []pkg.MetricSample, limit int) []pkg.MetricSample {
	n := len(recent)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]pkg.MetricSample, n)
	for i := 0; i < n; i++ {
		out[n-1-i] = recent[i]
	}
	return out
}

func avgWidth(forecast []ForecastPoint) float64 {
	if len(forecast) == 0 {
		return 0
	}
	var sum float64
	for _, fp := range forecast {
		sum += fp.Width()
	}
	return sum / float64(len(forecast))
}
