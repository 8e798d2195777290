package predictive

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sajari/regression"
	"gonum.org/v1/gonum/stat"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
)

// TrendForecaster is the statistical engine used while history is short. It
// extrapolates the signal trend linearly and compares hour-of-day averages.
type TrendForecaster struct {
	config *Config
	logger *logx.Logger
}

// NewTrendForecaster creates the statistical engine
func NewTrendForecaster(config *Config, logger *logx.Logger) *TrendForecaster {
	if config == nil {
		config = DefaultConfig()
	}
	return &TrendForecaster{config: config, logger: logger}
}

// Kind identifies the engine
func (tf *TrendForecaster) Kind() pkg.EngineKind { return pkg.EngineTrend }

// Predict runs the signal, speed and congestion rules. Fewer than
// TrendMinSamples samples yield no predictions.
func (tf *TrendForecaster) Predict(ctx context.Context, in Input) ([]pkg.Prediction, error) {
	if len(in.Recent) < tf.config.TrendMinSamples {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var predictions []pkg.Prediction
	if p := tf.predictSignal(in); p != nil {
		predictions = append(predictions, *p)
	}
	if p := tf.predictSpeed(in); p != nil {
		predictions = append(predictions, *p)
	}
	if p := tf.predictCongestion(in); p != nil {
		predictions = append(predictions, *p)
	}
	return predictions, nil
}

func (tf *TrendForecaster) predictSignal(in Input) *pkg.Prediction {
	window := tf.config.TrendWindow
	if window > len(in.Recent) {
		window = len(in.Recent)
	}
	values := make([]float64, window)
	for i := 0; i < window; i++ {
		// Recent is newest first; regress oldest to newest
		values[window-1-i] = in.Recent[i].SignalPercent
	}

	slope, err := OLSSlope(values)
	if err != nil {
		tf.logger.Debug("Signal trend regression failed", "error", err)
		return nil
	}

	current := in.Recent[0].SignalPercent
	threshold := tf.config.SignalThreshold
	projected := current + slope*float64(tf.config.LookaheadSteps)
	if slope >= tf.config.SignalSlopeThreshold || current < threshold || projected >= threshold {
		return nil
	}

	confidence := math.Min(100, math.Min(float64(window)/2, 50)+math.Min(math.Abs(slope)*5, 50))
	stepsToCross := (current - threshold) / math.Abs(slope)
	eta := time.Duration(stepsToCross * float64(tf.config.SampleInterval))

	severity := pkg.SeverityMedium
	if projected < 30 {
		severity = pkg.SeverityHigh
	}

	p := pkg.NewPrediction(in.Now, pkg.PredictSignalDegradation, severity, int(math.Round(confidence)),
		fmt.Sprintf("Signal is falling %.1f%% per sample and is expected to drop below %.0f%% (now %.0f%%).",
			math.Abs(slope), threshold, current),
		within(eta))
	return &p
}

func (tf *TrendForecaster) predictSpeed(in Input) *pkg.Prediction {
	hour := in.Now.Hour()
	next := (hour + 1) % 24

	var curSum, nextSum float64
	var curCount, nextCount int
	for _, s := range in.patternSamples() {
		switch s.Timestamp.Hour() {
		case hour:
			curSum += s.RxSpeedMbps
			curCount++
		case next:
			nextSum += s.RxSpeedMbps
			nextCount++
		}
	}

	minSamples := tf.config.SpeedBucketMinSamples
	if curCount < minSamples || nextCount < minSamples {
		return nil
	}
	curAvg := curSum / float64(curCount)
	nextAvg := nextSum / float64(nextCount)
	if curAvg <= 0 {
		return nil
	}

	drop := (curAvg - nextAvg) / curAvg * 100
	if drop <= tf.config.SpeedDropPercent {
		return nil
	}

	confidence := math.Min(85, 40+float64(minInt(curCount, nextCount)))
	p := pkg.NewPrediction(in.Now, pkg.PredictSpeedDegradation, pkg.SeverityMedium, int(confidence),
		fmt.Sprintf("Speeds usually drop %.0f%% at %02d:00 (%.0f Mbps vs %.0f Mbps now).", drop, next, nextAvg, curAvg),
		fmt.Sprintf("at %02d:00", next))
	return &p
}

func (tf *TrendForecaster) predictCongestion(in Input) *pkg.Prediction {
	utilization := sameSlot(in.patternSamples(), in.Now)
	if len(utilization) < tf.config.CongestionMinSamples {
		return nil
	}

	mean := stat.Mean(utilization, nil)
	if mean <= tf.config.CongestionThreshold {
		return nil
	}

	confidence := math.Min(90, 50+float64(len(utilization)))
	p := pkg.NewPrediction(in.Now, pkg.PredictCongestion, pkg.SeverityMedium, int(confidence),
		fmt.Sprintf("The channel is typically %.0f%% busy on %s around %02d:00.", mean, in.Now.Weekday(), in.Now.Hour()),
		"this hour")
	return &p
}

// OLSSlope fits value = a + b*index and returns b
func OLSSlope(values []float64) (float64, error) {
	if len(values) < 3 {
		return 0, fmt.Errorf("need at least 3 points, got %d", len(values))
	}

	r := new(regression.Regression)
	r.SetObserved("value")
	r.SetVar(0, "index")
	for i, v := range values {
		r.Train(regression.DataPoint(v, []float64{float64(i)}))
	}
	if err := r.Run(); err != nil {
		return 0, fmt.Errorf("regression failed: %w", err)
	}

	slope := r.Coeff(1)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0, fmt.Errorf("degenerate regression")
	}
	return slope, nil
}

// sameSlot returns the utilization of samples taken in the same hour of the
// same weekday as now, newest first
func sameSlot(samples []pkg.MetricSample, now time.Time) []float64 {
	var out []float64
	for _, s := range samples {
		if s.Timestamp.Hour() == now.Hour() && s.Timestamp.Weekday() == now.Weekday() {
			out = append(out, s.ChannelUtilization)
		}
	}
	return out
}

func within(d time.Duration) string {
	minutes := int(math.Ceil(d.Minutes()))
	switch {
	case minutes <= 1:
		return "within 1 minute"
	case minutes < 120:
		return fmt.Sprintf("within %d minutes", minutes)
	default:
		return fmt.Sprintf("within %d hours", int(math.Ceil(d.Hours())))
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
