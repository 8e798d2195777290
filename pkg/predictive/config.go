package predictive

import "time"

// Config holds the forecasting thresholds. The defaults are heuristics, not
// values fitted to labelled outcomes.
type Config struct {
	// Engine selection
	UpgradeThreshold int           `yaml:"upgradeThreshold" json:"upgrade_threshold"` // samples before the series engine takes over
	SampleInterval   time.Duration `yaml:"sampleInterval" json:"sample_interval"`     // collection cadence, used for ETAs and step lengths

	// Trend engine
	TrendMinSamples       int     `yaml:"trendMinSamples" json:"trend_min_samples"`
	TrendWindow           int     `yaml:"trendWindow" json:"trend_window"`
	SignalSlopeThreshold  float64 `yaml:"signalSlopeThreshold" json:"signal_slope_threshold"` // percent per sample
	SignalThreshold       float64 `yaml:"signalThreshold" json:"signal_threshold"`           // percent
	LookaheadSteps        int     `yaml:"lookaheadSteps" json:"lookahead_steps"`             // one hour at 30s
	SpeedBucketMinSamples int     `yaml:"speedBucketMinSamples" json:"speed_bucket_min_samples"`
	SpeedDropPercent      float64 `yaml:"speedDropPercent" json:"speed_drop_percent"`
	CongestionMinSamples  int     `yaml:"congestionMinSamples" json:"congestion_min_samples"`
	CongestionThreshold   float64 `yaml:"congestionThreshold" json:"congestion_threshold"` // utilization percent

	// Series engine
	TrainingWindow    int           `yaml:"trainingWindow" json:"training_window"`
	Horizon           int           `yaml:"horizon" json:"horizon"`
	RetrainAfter      time.Duration `yaml:"retrainAfter" json:"retrain_after"`
	AROrder           int           `yaml:"arOrder" json:"ar_order"`
	CurrentWindow     int           `yaml:"currentWindow" json:"current_window"` // samples averaged as "current" speed
	PatternMinSamples int           `yaml:"patternMinSamples" json:"pattern_min_samples"`
	PatternRecent     int           `yaml:"patternRecent" json:"pattern_recent"`
	PatternMaxStdDev  float64       `yaml:"patternMaxStdDev" json:"pattern_max_std_dev"`
}

// DefaultConfig returns the stock forecasting configuration
func DefaultConfig() *Config {
	return &Config{
		UpgradeThreshold: 500,
		SampleInterval:   30 * time.Second,

		TrendMinSamples:       100,
		TrendWindow:           100,
		SignalSlopeThreshold:  -0.5,
		SignalThreshold:       50,
		LookaheadSteps:        120,
		SpeedBucketMinSamples: 5,
		SpeedDropPercent:      30,
		CongestionMinSamples:  10,
		CongestionThreshold:   70,

		TrainingWindow:    200,
		Horizon:           12,
		RetrainAfter:      24 * time.Hour,
		AROrder:           6,
		CurrentWindow:     20,
		PatternMinSamples: 15,
		PatternRecent:     30,
		PatternMaxStdDev:  15,
	}
}
