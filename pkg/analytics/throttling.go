package analytics

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/markus-lassfolk/wifiwatch/pkg"
)

// Throttling classifications
const (
	ThrottlingLikely       = "likely_throttling"
	ThrottlingPossible     = "possible_throttling"
	ThrottlingStable       = "stable"
	ThrottlingInsufficient = "insufficient_history"
)

// IspAnalysis summarises speed test history and flags sustained degradation
type IspAnalysis struct {
	SampleCount        int      `json:"sample_count"`
	ISP                string   `json:"isp,omitempty"`
	AvgDownload        float64  `json:"avg_download"`
	AvgUpload          float64  `json:"avg_upload"`
	AvgLatency         float64  `json:"avg_latency"`
	MinDownload        float64  `json:"min_download"`
	MaxDownload        float64  `json:"max_download"`
	RecentAvgDownload  float64  `json:"recent_avg_download,omitempty"`
	HistoricalAvg      float64  `json:"historical_avg_download,omitempty"`
	DegradationPercent *float64 `json:"degradation_percent,omitempty"`
	Status             string   `json:"status"`
	LikelyThrottling   bool     `json:"likely_throttling"`
	PossibleThrottling bool     `json:"possible_throttling"`
	BestHour           *int     `json:"best_hour,omitempty"`
	WorstHour          *int     `json:"worst_hour,omitempty"`
	HourlySpread       float64  `json:"hourly_spread_percent,omitempty"`
	Message            string   `json:"message"`
}

// ThrottlingDetector compares recent and historical speed tests
type ThrottlingDetector struct {
	config *Config
}

// NewThrottlingDetector creates a throttling detector
func NewThrottlingDetector(config *Config) *ThrottlingDetector {
	if config == nil {
		config = DefaultConfig()
	}
	return &ThrottlingDetector{config: config}
}

// Analyze takes speed tests ordered most recent first. It returns nil when
// fewer than SpeedTestMinSamples tests exist.
func (td *ThrottlingDetector) Analyze(tests []pkg.SpeedTestSample) *IspAnalysis {
	if len(tests) < td.config.SpeedTestMinSamples {
		return nil
	}
	if len(tests) > td.config.SpeedTestLimit {
		tests = tests[:td.config.SpeedTestLimit]
	}

	downloads := make([]float64, len(tests))
	uploads := make([]float64, len(tests))
	latencies := make([]float64, len(tests))
	for i, t := range tests {
		downloads[i] = t.DownloadMbps
		uploads[i] = t.UploadMbps
		latencies[i] = t.LatencyMS
	}

	result := &IspAnalysis{
		SampleCount: len(tests),
		ISP:         tests[0].ISP,
		AvgDownload: round1(stat.Mean(downloads, nil)),
		AvgUpload:   round1(stat.Mean(uploads, nil)),
		AvgLatency:  round1(stat.Mean(latencies, nil)),
		MinDownload: minOf(downloads),
		MaxDownload: maxOf(downloads),
		Status:      ThrottlingInsufficient,
	}

	recentN := td.config.RecentSpeedTests
	if len(tests) > recentN {
		recentAvg := stat.Mean(downloads[:recentN], nil)
		historicalAvg := stat.Mean(downloads[recentN:], nil)
		result.RecentAvgDownload = round1(recentAvg)
		result.HistoricalAvg = round1(historicalAvg)

		if historicalAvg > 0 {
			degradation := round1((historicalAvg - recentAvg) / historicalAvg * 100)
			result.DegradationPercent = &degradation

			// possible covers the closed band [possible, likely]; likely is strictly above it
			result.PossibleThrottling = degradation >= td.config.PossibleThrottlingPercent
			result.LikelyThrottling = degradation > td.config.LikelyThrottlingPercent
			switch {
			case result.LikelyThrottling:
				result.Status = ThrottlingLikely
			case result.PossibleThrottling:
				result.Status = ThrottlingPossible
			default:
				result.Status = ThrottlingStable
			}
		}
	}

	td.analyzeHours(tests, result)
	result.Message = td.message(result)
	return result
}

func (td *ThrottlingDetector) analyzeHours(tests []pkg.SpeedTestSample, result *IspAnalysis) {
	type acc struct {
		count int
		total float64
	}
	byHour := make(map[int]*acc)
	for _, t := range tests {
		h := t.Timestamp.Hour()
		if byHour[h] == nil {
			byHour[h] = &acc{}
		}
		byHour[h].count++
		byHour[h].total += t.DownloadMbps
	}

	hours := make([]int, 0, len(byHour))
	for h, a := range byHour {
		if a.count >= td.config.SpeedTestBucketMinSamples {
			hours = append(hours, h)
		}
	}
	if len(hours) < 2 {
		return
	}
	sort.Ints(hours)

	best, worst := hours[0], hours[0]
	avg := func(h int) float64 { return byHour[h].total / float64(byHour[h].count) }
	for _, h := range hours[1:] {
		if avg(h) > avg(best) {
			best = h
		}
		if avg(h) < avg(worst) {
			worst = h
		}
	}

	if avg(best) <= 0 {
		return
	}
	spread := (avg(best) - avg(worst)) / avg(best) * 100
	if spread <= td.config.HourlySpreadPercent {
		return
	}

	result.BestHour = &best
	result.WorstHour = &worst
	result.HourlySpread = round1(spread)
}

func (td *ThrottlingDetector) message(r *IspAnalysis) string {
	var msg string
	switch r.Status {
	case ThrottlingLikely:
		msg = fmt.Sprintf("Recent speeds are %.0f%% below your historical average; this pattern suggests throttling.", *r.DegradationPercent)
	case ThrottlingPossible:
		msg = fmt.Sprintf("Recent speeds are %.0f%% below your historical average; possible throttling.", *r.DegradationPercent)
	case ThrottlingStable:
		msg = "Speeds are in line with your historical average."
	default:
		msg = fmt.Sprintf("Average download %.1f Mbps over %d tests; more than %d tests are needed to detect degradation.",
			r.AvgDownload, r.SampleCount, td.config.RecentSpeedTests)
	}
	if r.BestHour != nil && r.WorstHour != nil {
		msg += fmt.Sprintf(" Fastest around %02d:00, slowest around %02d:00.", *r.BestHour, *r.WorstHour)
	}
	return msg
}

func minOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x < m {
			m = x
		}
	}
	return m
}

func maxOf(v []float64) float64 {
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
