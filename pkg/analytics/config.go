package analytics

import "time"

// Config holds the heuristic thresholds used by the analyzers. None of these
// values are fitted to labelled data; they are tunable starting points.
type Config struct {
	// Stability
	StabilityMinSamples    int     `yaml:"stabilityMinSamples" json:"stability_min_samples"`
	SignificantDropPercent float64 `yaml:"significantDropPercent" json:"significant_drop_percent"`
	StableMaxSignalStdDev  float64 `yaml:"stableMaxSignalStdDev" json:"stable_max_signal_std_dev"`
	StableMaxDrops         int     `yaml:"stableMaxDrops" json:"stable_max_drops"`

	// Best download times
	BestTimesSampleLimit   int     `yaml:"bestTimesSampleLimit" json:"best_times_sample_limit"`
	BestTimesMinSamples    int     `yaml:"bestTimesMinSamples" json:"best_times_min_samples"`
	BucketMinSamples       int     `yaml:"bucketMinSamples" json:"bucket_min_samples"`
	MinQualifyingBuckets   int     `yaml:"minQualifyingBuckets" json:"min_qualifying_buckets"`
	RankedHours            int     `yaml:"rankedHours" json:"ranked_hours"`
	BestTimesSpreadPercent float64 `yaml:"bestTimesSpreadPercent" json:"best_times_spread_percent"`

	// ISP / throttling
	SpeedTestLimit            int     `yaml:"speedTestLimit" json:"speed_test_limit"`
	SpeedTestMinSamples       int     `yaml:"speedTestMinSamples" json:"speed_test_min_samples"`
	RecentSpeedTests          int     `yaml:"recentSpeedTests" json:"recent_speed_tests"`
	LikelyThrottlingPercent   float64 `yaml:"likelyThrottlingPercent" json:"likely_throttling_percent"`
	PossibleThrottlingPercent float64 `yaml:"possibleThrottlingPercent" json:"possible_throttling_percent"`
	SpeedTestBucketMinSamples int     `yaml:"speedTestBucketMinSamples" json:"speed_test_bucket_min_samples"`
	HourlySpreadPercent       float64 `yaml:"hourlySpreadPercent" json:"hourly_spread_percent"`

	// Alert rules
	AlertHistoryWindow       int     `yaml:"alertHistoryWindow" json:"alert_history_window"`
	SignalHighThreshold      float64 `yaml:"signalHighThreshold" json:"signal_high_threshold"`
	SignalMediumThreshold    float64 `yaml:"signalMediumThreshold" json:"signal_medium_threshold"`
	SpeedDropMinHistory      int     `yaml:"speedDropMinHistory" json:"speed_drop_min_history"`
	SpeedDropRatio           float64 `yaml:"speedDropRatio" json:"speed_drop_ratio"`
	CongestionUtilization    float64 `yaml:"congestionUtilization" json:"congestion_utilization"`
	ChannelImprovementMinPct float64 `yaml:"channelImprovementMinPct" json:"channel_improvement_min_pct"`

	// Forecasting input. PredictionSampleLimit recent samples select the
	// engine and train the models; PatternLookback of history feeds the
	// hour-of-day and weekday pattern matching.
	PredictionSampleLimit int           `yaml:"predictionSampleLimit" json:"prediction_sample_limit"`
	PatternLookback       time.Duration `yaml:"patternLookback" json:"pattern_lookback"`
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() *Config {
	return &Config{
		StabilityMinSamples:    10,
		SignificantDropPercent: 30,
		StableMaxSignalStdDev:  15,
		StableMaxDrops:         3,

		BestTimesSampleLimit:   1000,
		BestTimesMinSamples:    100,
		BucketMinSamples:       10,
		MinQualifyingBuckets:   3,
		RankedHours:            3,
		BestTimesSpreadPercent: 10,

		SpeedTestLimit:            100,
		SpeedTestMinSamples:       2,
		RecentSpeedTests:          10,
		LikelyThrottlingPercent:   30,
		PossibleThrottlingPercent: 20,
		SpeedTestBucketMinSamples: 3,
		HourlySpreadPercent:       15,

		AlertHistoryWindow:       20,
		SignalHighThreshold:      40,
		SignalMediumThreshold:    60,
		SpeedDropMinHistory:      10,
		SpeedDropRatio:           0.5,
		CongestionUtilization:    70,
		ChannelImprovementMinPct: 10,

		PredictionSampleLimit: 2000,
		PatternLookback:       4 * 7 * 24 * time.Hour,
	}
}
