package analytics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/wifiwatch/pkg"
)

var base = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func steadySamples(n int, signal, speed float64) []pkg.MetricSample {
	out := make([]pkg.MetricSample, n)
	for i := range out {
		out[i] = pkg.MetricSample{
			Timestamp:     base.Add(time.Duration(i) * 30 * time.Second),
			SignalPercent: signal,
			RxSpeedMbps:   speed,
		}
	}
	return out
}

func TestStabilityInsufficientData(t *testing.T) {
	sa := NewStabilityAnalyzer(nil)
	for n := 0; n < 10; n++ {
		result := sa.Analyze(steadySamples(n, 80, 100), 24*time.Hour)
		require.NotNil(t, result)
		assert.True(t, result.InsufficientData)
		assert.Equal(t, n, result.SampleCount)
		assert.Nil(t, result.StabilityScores)
		assert.NotEmpty(t, result.Message)
	}
}

func TestStabilityInsufficientDataOmitsScores(t *testing.T) {
	data, err := json.Marshal(NewStabilityAnalyzer(nil).Analyze(steadySamples(3, 80, 100), time.Hour))
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, true, body["insufficient_data"])
	assert.Equal(t, float64(3), body["sample_count"])
	for _, key := range []string{"stability_score", "signal_stability", "speed_stability", "avg_signal", "is_stable"} {
		assert.NotContains(t, body, key)
	}

	data, err = json.Marshal(NewStabilityAnalyzer(nil).Analyze(steadySamples(50, 80, 100), time.Hour))
	require.NoError(t, err)
	body = nil
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, 100.0, body["stability_score"])
	assert.Equal(t, true, body["is_stable"])
}

func TestStabilitySteadyLink(t *testing.T) {
	result := NewStabilityAnalyzer(nil).Analyze(steadySamples(50, 80, 100), time.Hour)

	assert.False(t, result.InsufficientData)
	require.NotNil(t, result.StabilityScores)
	assert.True(t, result.IsStable)
	assert.Equal(t, 100.0, result.StabilityScore)
	assert.Equal(t, 100.0, result.SignalStability)
	assert.Equal(t, 100.0, result.SpeedStability)
	assert.Equal(t, "1h0m0s", result.Period)
}

func TestStabilityDropsAndBounds(t *testing.T) {
	samples := steadySamples(40, 90, 100)
	for i := 0; i < len(samples); i += 2 {
		samples[i].SignalPercent = 20
		samples[i].RxSpeedMbps = 0
	}

	result := NewStabilityAnalyzer(nil).Analyze(samples, time.Hour)
	assert.False(t, result.IsStable)
	assert.Equal(t, 19, result.SignificantDrops)
	for _, score := range []float64{result.StabilityScore, result.SignalStability, result.SpeedStability} {
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 100.0)
	}
}

func TestStabilityZeroSpeed(t *testing.T) {
	result := NewStabilityAnalyzer(nil).Analyze(steadySamples(20, 70, 0), time.Hour)
	assert.Equal(t, 0.0, result.SpeedStability)
}

// hourSamples spreads perHour samples over each given hour with the given speed
func hourSamples(speeds map[int]float64, perHour int) []pkg.MetricSample {
	var out []pkg.MetricSample
	for hour, speed := range speeds {
		for i := 0; i < perHour; i++ {
			out = append(out, pkg.MetricSample{
				Timestamp:     base.Add(time.Duration(hour)*time.Hour + time.Duration(i)*time.Minute),
				SignalPercent: 70,
				RxSpeedMbps:   speed,
			})
		}
	}
	return out
}

func TestBestTimesNeedsThreeBuckets(t *testing.T) {
	samples := hourSamples(map[int]float64{9: 100, 21: 40}, 50)
	require.Len(t, samples, 100)
	assert.Nil(t, NewTimeBucketAnalyzer(nil).Analyze(samples))
}

func TestBestTimesNeedsHundredSamples(t *testing.T) {
	samples := hourSamples(map[int]float64{1: 100, 2: 90, 3: 80, 4: 70, 5: 60}, 19)
	assert.Nil(t, NewTimeBucketAnalyzer(nil).Analyze(samples))
}

func TestBestTimesDisjointRanking(t *testing.T) {
	samples := hourSamples(map[int]float64{1: 100, 2: 90, 3: 80, 4: 70, 5: 60}, 20)
	result := NewTimeBucketAnalyzer(nil).Analyze(samples)
	require.NotNil(t, result)

	assert.Len(t, result.HourlyStats, 5)
	require.Len(t, result.BestHours, 2)
	require.Len(t, result.WorstHours, 2)
	assert.Equal(t, []int{1, 2}, hoursOf(result.BestHours))
	assert.Equal(t, []int{4, 5}, hoursOf(result.WorstHours))
	assert.Equal(t, 40.0, result.SpreadPercent)
	assert.False(t, result.Consistent)
	assert.Contains(t, result.Recommendation, "01:00, 02:00")
}

func TestBestTimesConsistentSpeeds(t *testing.T) {
	samples := hourSamples(map[int]float64{6: 100, 12: 98, 18: 95, 23: 99}, 30)
	result := NewTimeBucketAnalyzer(nil).Analyze(samples)
	require.NotNil(t, result)
	assert.True(t, result.Consistent)
	assert.Contains(t, result.Recommendation, "consistent")
}

func TestBestTimesIgnoresSparseBuckets(t *testing.T) {
	samples := hourSamples(map[int]float64{1: 100, 2: 90, 3: 80}, 40)
	samples = append(samples, hourSamples(map[int]float64{4: 1}, 9)...)
	result := NewTimeBucketAnalyzer(nil).Analyze(samples)
	require.NotNil(t, result)
	assert.Len(t, result.HourlyStats, 3)
}

func hoursOf(stats []HourStat) []int {
	out := make([]int, len(stats))
	for i, s := range stats {
		out[i] = s.Hour
	}
	return out
}

// speedTests returns tests newest first, each an hour apart
func speedTests(downloads ...float64) []pkg.SpeedTestSample {
	out := make([]pkg.SpeedTestSample, len(downloads))
	for i, d := range downloads {
		out[i] = pkg.SpeedTestSample{
			Timestamp:    base.Add(-time.Duration(i) * time.Hour),
			DownloadMbps: d,
			UploadMbps:   d / 10,
			LatencyMS:    20,
			ISP:          "ExampleNet",
		}
	}
	return out
}

func TestThrottlingDegradation(t *testing.T) {
	tests := speedTests(50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 100)
	result := NewThrottlingDetector(nil).Analyze(tests)
	require.NotNil(t, result)

	require.NotNil(t, result.DegradationPercent)
	assert.Equal(t, 50.0, *result.DegradationPercent)
	assert.True(t, result.PossibleThrottling)
	assert.True(t, result.LikelyThrottling)
	assert.Equal(t, ThrottlingLikely, result.Status)
	assert.Equal(t, 50.0, result.RecentAvgDownload)
	assert.Equal(t, 100.0, result.HistoricalAvg)
	assert.Equal(t, "ExampleNet", result.ISP)
	assert.Nil(t, result.BestHour)
}

func TestThrottlingPossibleOnly(t *testing.T) {
	tests := speedTests(75, 75, 75, 75, 75, 75, 75, 75, 75, 75, 100)
	result := NewThrottlingDetector(nil).Analyze(tests)
	require.NotNil(t, result)
	assert.Equal(t, 25.0, *result.DegradationPercent)
	assert.True(t, result.PossibleThrottling)
	assert.False(t, result.LikelyThrottling)
	assert.Equal(t, ThrottlingPossible, result.Status)
}

func TestThrottlingSmallHistory(t *testing.T) {
	assert.Nil(t, NewThrottlingDetector(nil).Analyze(speedTests(80)))

	result := NewThrottlingDetector(nil).Analyze(speedTests(80, 60, 70))
	require.NotNil(t, result)
	assert.Nil(t, result.DegradationPercent)
	assert.Equal(t, ThrottlingInsufficient, result.Status)
	assert.Equal(t, 70.0, result.AvgDownload)
	assert.Equal(t, 60.0, result.MinDownload)
	assert.Equal(t, 80.0, result.MaxDownload)
}

func TestThrottlingHourlySpread(t *testing.T) {
	var tests []pkg.SpeedTestSample
	for day := 0; day < 3; day++ {
		tests = append(tests,
			pkg.SpeedTestSample{Timestamp: base.AddDate(0, 0, -day).Add(8 * time.Hour), DownloadMbps: 100},
			pkg.SpeedTestSample{Timestamp: base.AddDate(0, 0, -day).Add(20 * time.Hour), DownloadMbps: 40},
		)
	}
	result := NewThrottlingDetector(nil).Analyze(tests)
	require.NotNil(t, result)
	require.NotNil(t, result.BestHour)
	require.NotNil(t, result.WorstHour)
	assert.Equal(t, 8, *result.BestHour)
	assert.Equal(t, 20, *result.WorstHour)
	assert.Equal(t, 60.0, result.HourlySpread)
}

func TestAlertRules(t *testing.T) {
	rules := NewAlertRules(nil)
	now := base.Add(12 * time.Hour)

	history := make([]pkg.MetricSample, 20)
	for i := range history {
		history[i] = pkg.MetricSample{Timestamp: now.Add(-time.Duration(i+1) * 30 * time.Second), RxSpeedMbps: 200, TxSpeedMbps: 100}
	}

	tests := []struct {
		name     string
		current  pkg.MetricSample
		history  []pkg.MetricSample
		visible  []pkg.ScanNetwork
		expected map[pkg.AlertCategory]pkg.Severity
	}{
		{
			name:     "healthy link",
			current:  pkg.MetricSample{Timestamp: now, SignalPercent: 80, RxSpeedMbps: 200, TxSpeedMbps: 100, Authentication: "WPA3-SAE"},
			history:  history,
			expected: map[pkg.AlertCategory]pkg.Severity{},
		},
		{
			name:     "very weak signal",
			current:  pkg.MetricSample{Timestamp: now, SignalPercent: 39},
			expected: map[pkg.AlertCategory]pkg.Severity{pkg.AlertSignal: pkg.SeverityHigh},
		},
		{
			name:     "weak signal",
			current:  pkg.MetricSample{Timestamp: now, SignalPercent: 59},
			expected: map[pkg.AlertCategory]pkg.Severity{pkg.AlertSignal: pkg.SeverityMedium},
		},
		{
			name:    "5 GHz available",
			current: pkg.MetricSample{Timestamp: now, SignalPercent: 90, Band: pkg.Band24, SSID: "home"},
			visible: []pkg.ScanNetwork{
				{SSID: "other", Band: pkg.Band5, Channel: 36},
				{SSID: "home", Band: pkg.Band5, Channel: 44},
			},
			expected: map[pkg.AlertCategory]pkg.Severity{pkg.AlertRecommendation: pkg.SeverityInfo},
		},
		{
			name:     "congested",
			current:  pkg.MetricSample{Timestamp: now, SignalPercent: 90, ChannelUtilization: 71},
			expected: map[pkg.AlertCategory]pkg.Severity{pkg.AlertCongestion: pkg.SeverityMedium},
		},
		{
			name:     "open network",
			current:  pkg.MetricSample{Timestamp: now, SignalPercent: 90, Authentication: "none"},
			expected: map[pkg.AlertCategory]pkg.Severity{pkg.AlertSecurity: pkg.SeverityHigh},
		},
		{
			name:     "wpa2 only",
			current:  pkg.MetricSample{Timestamp: now, SignalPercent: 90, Authentication: "WPA2-PSK"},
			expected: map[pkg.AlertCategory]pkg.Severity{pkg.AlertSecurity: pkg.SeverityLow},
		},
		{
			name:     "mixed wpa2/wpa3",
			current:  pkg.MetricSample{Timestamp: now, SignalPercent: 90, Authentication: "WPA2-PSK/WPA3-SAE"},
			expected: map[pkg.AlertCategory]pkg.Severity{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := rules.Evaluate(tt.current, tt.history, tt.visible)
			got := make(map[pkg.AlertCategory]pkg.Severity)
			for _, a := range alerts {
				got[a.Category] = a.Severity
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAlertRulesSpeedDropsAreIndependent(t *testing.T) {
	rules := NewAlertRules(nil)
	now := base
	history := make([]pkg.MetricSample, 10)
	for i := range history {
		history[i] = pkg.MetricSample{RxSpeedMbps: 200, TxSpeedMbps: 100}
	}

	alerts := rules.CheckSpeed(pkg.MetricSample{Timestamp: now, RxSpeedMbps: 90, TxSpeedMbps: 90}, history)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Download speed dropped", alerts[0].Title)

	alerts = rules.CheckSpeed(pkg.MetricSample{Timestamp: now, RxSpeedMbps: 90, TxSpeedMbps: 40}, history)
	assert.Len(t, alerts, 2)

	assert.Empty(t, rules.CheckSpeed(pkg.MetricSample{Timestamp: now}, history[:9]))
}

func TestAlertRulesAllFireTogether(t *testing.T) {
	rules := NewAlertRules(nil)
	current := pkg.MetricSample{
		Timestamp:          base,
		SignalPercent:      30,
		Band:               pkg.Band24,
		SSID:               "home",
		ChannelUtilization: 90,
		Authentication:     "WEP",
	}
	history := make([]pkg.MetricSample, 12)
	for i := range history {
		history[i] = pkg.MetricSample{RxSpeedMbps: 100, TxSpeedMbps: 100}
	}

	alerts := rules.Evaluate(current, history, []pkg.ScanNetwork{{SSID: "home", Band: pkg.Band5}})
	assert.Len(t, alerts, 6)
}

func TestHealthAnalyzer(t *testing.T) {
	ha := NewHealthAnalyzer(DefaultHealthThresholds())

	health := ha.Analyze(pkg.MetricSample{Timestamp: base, SignalPercent: 100, ChannelUtilization: 0})
	assert.Equal(t, 100.0, health.Score)
	assert.Equal(t, "excellent", health.Status)

	health = ha.Analyze(pkg.MetricSample{Timestamp: base, SignalPercent: 50, ChannelUtilization: 50})
	assert.Equal(t, 50.0, health.Score)
	assert.Equal(t, "fair", health.Status)

	health = ha.Analyze(pkg.MetricSample{Timestamp: base, SignalPercent: 0, ChannelUtilization: 100})
	assert.Equal(t, 0.0, health.Score)
	assert.Equal(t, "critical", health.Status)
}
