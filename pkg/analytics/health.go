package analytics

import (
	"github.com/markus-lassfolk/wifiwatch/pkg"
)

// HealthThresholds defines health assessment bands
type HealthThresholds struct {
	Excellent float64 `yaml:"excellent" json:"excellent"` // >= 80
	Good      float64 `yaml:"good" json:"good"`           // 60-80
	Fair      float64 `yaml:"fair" json:"fair"`           // 40-60
	Poor      float64 `yaml:"poor" json:"poor"`           // 20-40
}

// DefaultHealthThresholds returns the stock bands
func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{Excellent: 80, Good: 60, Fair: 40, Poor: 20}
}

// LinkHealth is the health of the current link
type LinkHealth struct {
	Score     float64 `json:"score"`
	Status    string  `json:"status"`
	Signal    float64 `json:"signal"`
	FreeAir   float64 `json:"free_airtime"`
	Channel   int     `json:"channel"`
	Band      string  `json:"band"`
	Timestamp string  `json:"timestamp"`
}

// HealthAnalyzer scores the latest sample
type HealthAnalyzer struct {
	thresholds HealthThresholds
}

// NewHealthAnalyzer creates a health analyzer
func NewHealthAnalyzer(thresholds HealthThresholds) *HealthAnalyzer {
	return &HealthAnalyzer{thresholds: thresholds}
}

// Analyze weighs signal at 60% and free airtime at 40%
func (ha *HealthAnalyzer) Analyze(sample pkg.MetricSample) *LinkHealth {
	freeAir := pkg.Clamp(100-sample.ChannelUtilization, 0, 100)
	score := pkg.Clamp(0.6*pkg.Clamp(sample.SignalPercent, 0, 100)+0.4*freeAir, 0, 100)

	return &LinkHealth{
		Score:     round1(score),
		Status:    ha.status(score),
		Signal:    sample.SignalPercent,
		FreeAir:   freeAir,
		Channel:   sample.Channel,
		Band:      sample.Band,
		Timestamp: sample.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (ha *HealthAnalyzer) status(score float64) string {
	switch {
	case score >= ha.thresholds.Excellent:
		return "excellent"
	case score >= ha.thresholds.Good:
		return "good"
	case score >= ha.thresholds.Fair:
		return "fair"
	case score >= ha.thresholds.Poor:
		return "poor"
	default:
		return "critical"
	}
}
