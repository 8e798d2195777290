package analytics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/markus-lassfolk/wifiwatch/pkg"
)

// HourStat aggregates samples that share an hour of day
type HourStat struct {
	Hour        int     `json:"hour"`
	SampleCount int     `json:"sample_count"`
	AvgSpeed    float64 `json:"avg_speed"`
	AvgSignal   float64 `json:"avg_signal"`
}

// BestTimeAnalysis ranks hours of day by average receive rate
type BestTimeAnalysis struct {
	SampleCount    int        `json:"sample_count"`
	BestHours      []HourStat `json:"best_hours"`
	WorstHours     []HourStat `json:"worst_hours"`
	HourlyStats    []HourStat `json:"hourly_stats"`
	SpreadPercent  float64    `json:"spread_percent"`
	Consistent     bool       `json:"consistent"`
	Recommendation string     `json:"recommendation"`
}

// TimeBucketAnalyzer groups samples by hour of day
type TimeBucketAnalyzer struct {
	config *Config
}

// NewTimeBucketAnalyzer creates a time bucket analyzer
func NewTimeBucketAnalyzer(config *Config) *TimeBucketAnalyzer {
	if config == nil {
		config = DefaultConfig()
	}
	return &TimeBucketAnalyzer{config: config}
}

// Analyze returns nil when there are too few samples or too few populated hours.
// Best and worst lists never share an hour: with fewer than twice RankedHours
// buckets each list gets half of them.
func (ta *TimeBucketAnalyzer) Analyze(samples []pkg.MetricSample) *BestTimeAnalysis {
	if len(samples) < ta.config.BestTimesMinSamples {
		return nil
	}

	buckets := hourlyStats(samples, ta.config.BucketMinSamples)
	if len(buckets) < ta.config.MinQualifyingBuckets {
		return nil
	}

	ranked := make([]HourStat, len(buckets))
	copy(ranked, buckets)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].AvgSpeed > ranked[j].AvgSpeed })

	k := ta.config.RankedHours
	if half := len(ranked) / 2; half < k {
		k = half
	}

	best := append([]HourStat(nil), ranked[:k]...)
	worst := append([]HourStat(nil), ranked[len(ranked)-k:]...)
	sortByHour(best)
	sortByHour(worst)

	top := ranked[0].AvgSpeed
	bottom := ranked[len(ranked)-1].AvgSpeed
	spread := 0.0
	if top > 0 {
		spread = (top - bottom) / top * 100
	}

	result := &BestTimeAnalysis{
		SampleCount:   len(samples),
		BestHours:     best,
		WorstHours:    worst,
		HourlyStats:   buckets,
		SpreadPercent: round1(spread),
	}

	if spread > ta.config.BestTimesSpreadPercent {
		result.Recommendation = fmt.Sprintf("Best download times: %s (avg %.0f Mbps). Avoid %s (avg %.0f Mbps).",
			formatHours(best), avgSpeed(best), formatHours(worst), avgSpeed(worst))
	} else {
		result.Consistent = true
		result.Recommendation = "Speeds are consistent throughout the day; no time is noticeably better for downloads."
	}

	return result
}

// hourlyStats buckets samples by hour of day and drops buckets below minSamples.
// The result is ordered by hour.
func hourlyStats(samples []pkg.MetricSample, minSamples int) []HourStat {
	type acc struct {
		count  int
		speed  float64
		signal float64
	}
	var byHour [24]acc
	for _, s := range samples {
		h := s.Timestamp.Hour()
		byHour[h].count++
		byHour[h].speed += s.RxSpeedMbps
		byHour[h].signal += s.SignalPercent
	}

	var out []HourStat
	for h, a := range byHour {
		if a.count < minSamples || a.count == 0 {
			continue
		}
		out = append(out, HourStat{
			Hour:        h,
			SampleCount: a.count,
			AvgSpeed:    round1(a.speed / float64(a.count)),
			AvgSignal:   round1(a.signal / float64(a.count)),
		})
	}
	return out
}

func sortByHour(stats []HourStat) {
	sort.Slice(stats, func(i, j int) bool { return stats[i].Hour < stats[j].Hour })
}

func avgSpeed(stats []HourStat) float64 {
	if len(stats) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range stats {
		total += s.AvgSpeed
	}
	return total / float64(len(stats))
}

func formatHours(stats []HourStat) string {
	parts := make([]string, len(stats))
	for i, s := range stats {
		parts[i] = fmt.Sprintf("%02d:00", s.Hour)
	}
	return strings.Join(parts, ", ")
}
