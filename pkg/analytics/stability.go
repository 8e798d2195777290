package analytics

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/markus-lassfolk/wifiwatch/pkg"
)

// Stability score weights. These are fixed design constants, not learned:
// up to 50 points for a steady signal, 30 for an absence of sharp drops and 20
// for a steady link rate.
const (
	stabilitySignalWeight = 50.0
	stabilityDropWeight   = 30.0
	stabilityDropPenalty  = 5.0
	stabilitySpeedWeight  = 20.0
	stabilitySpeedDivisor = 10.0
)

// NetworkStability summarises how steady the link was over a period. Scores
// is nil when there were too few samples, so no zero scores are reported.
type NetworkStability struct {
	Period           string `json:"period"`
	SampleCount      int    `json:"sample_count"`
	InsufficientData bool   `json:"insufficient_data"`
	Message          string `json:"message,omitempty"`
	*StabilityScores
}

// StabilityScores are the measured figures of a stability assessment
type StabilityScores struct {
	AvgSignal        float64 `json:"avg_signal"`
	SignalStdDev     float64 `json:"signal_std_dev"`
	AvgSpeed         float64 `json:"avg_speed"`
	SpeedStdDev      float64 `json:"speed_std_dev"`
	SignificantDrops int     `json:"significant_drops"`
	SignalStability  float64 `json:"signal_stability"`
	SpeedStability   float64 `json:"speed_stability"`
	StabilityScore   float64 `json:"stability_score"`
	IsStable         bool    `json:"is_stable"`
}

// StabilityAnalyzer computes variance based stability scores
type StabilityAnalyzer struct {
	config *Config
}

// NewStabilityAnalyzer creates a stability analyzer
func NewStabilityAnalyzer(config *Config) *StabilityAnalyzer {
	if config == nil {
		config = DefaultConfig()
	}
	return &StabilityAnalyzer{config: config}
}

// Analyze scores samples ordered oldest first. It never fails: too few samples
// yield a result flagged InsufficientData with no scores.
func (sa *StabilityAnalyzer) Analyze(samples []pkg.MetricSample, period time.Duration) *NetworkStability {
	result := &NetworkStability{
		Period:      period.String(),
		SampleCount: len(samples),
	}

	if len(samples) < sa.config.StabilityMinSamples {
		result.InsufficientData = true
		result.Message = fmt.Sprintf("Collecting data: %d of %d samples needed for a stability assessment",
			len(samples), sa.config.StabilityMinSamples)
		return result
	}

	signals := make([]float64, len(samples))
	speeds := make([]float64, len(samples))
	for i, s := range samples {
		signals[i] = s.SignalPercent
		speeds[i] = s.RxSpeedMbps
	}

	avgSignal, signalVar := stat.PopMeanVariance(signals, nil)
	avgSpeed, speedVar := stat.PopMeanVariance(speeds, nil)
	signalStd := math.Sqrt(signalVar)
	speedStd := math.Sqrt(speedVar)

	drops := 0
	for i := 1; i < len(signals); i++ {
		if signals[i-1]-signals[i] > sa.config.SignificantDropPercent {
			drops++
		}
	}

	result.StabilityScores = &StabilityScores{
		AvgSignal:        round1(avgSignal),
		SignalStdDev:     round1(signalStd),
		AvgSpeed:         round1(avgSpeed),
		SpeedStdDev:      round1(speedStd),
		SignificantDrops: drops,
	}

	result.SignalStability = round1(pkg.Clamp(100-2*signalStd, 0, 100))
	if avgSpeed > 0 {
		result.SpeedStability = round1(pkg.Clamp(100-100*speedStd/avgSpeed, 0, 100))
	}

	score := math.Max(0, stabilitySignalWeight-signalStd) +
		math.Max(0, stabilityDropWeight-stabilityDropPenalty*float64(drops)) +
		math.Max(0, stabilitySpeedWeight-speedStd/stabilitySpeedDivisor)
	result.StabilityScore = round1(pkg.Clamp(score, 0, 100))

	result.IsStable = signalStd < sa.config.StableMaxSignalStdDev && drops < sa.config.StableMaxDrops
	if result.IsStable {
		result.Message = "Connection has been stable"
	} else {
		result.Message = fmt.Sprintf("Connection has been unstable: signal deviation %.1f%%, %d significant drops",
			signalStd, drops)
	}

	return result
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
