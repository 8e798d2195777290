package wifi

import (
	"math"
	"sort"

	"github.com/markus-lassfolk/wifiwatch/pkg"
)

// Canonical channel sets scored for each band
var (
	Channels24       = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	Channels5        = []int{36, 40, 44, 48, 149, 153, 157, 161, 165}
	NonOverlapping24 = map[int]bool{1: true, 6: true, 11: true}
)

const (
	networkPenalty = 20 // per competing network, capped at 100
	overlapPenalty = 20 // 2.4 GHz channels outside 1/6/11
	maxScore       = 100
)

// CongestionScorer rates channels by competing networks, their signal and
// spectral overlap. Lower is better.
type CongestionScorer struct{}

// NewCongestionScorer creates a congestion scorer
func NewCongestionScorer() *CongestionScorer {
	return &CongestionScorer{}
}

// ScoreChannel scores one channel from its usage
func (cs *CongestionScorer) ScoreChannel(channel int, band string, usage pkg.ChannelUsage) int {
	score := usage.NetworkCount * networkPenalty
	if score > maxScore {
		score = maxScore
	}
	score += int(math.Floor(usage.AvgSignal / 2))
	if band == pkg.Band24 && !NonOverlapping24[channel] {
		score += overlapPenalty
	}
	if score > maxScore {
		score = maxScore
	}
	if score < 0 {
		score = 0
	}
	return score
}

// ScoreBand scores every canonical channel of band. Observed channels come
// first, then channels missing from the scan (assumed clear); each group is
// ordered by channel number. A stable sort by score therefore prefers a
// measured channel over an assumed one on ties.
func (cs *CongestionScorer) ScoreBand(snapshot *pkg.ChannelSnapshot, band string) []pkg.ChannelInfo {
	var observed, synthesized []pkg.ChannelInfo
	seen := make(map[int]bool)

	if snapshot != nil {
		channels := make([]int, 0, len(snapshot.Channels))
		for ch, usage := range snapshot.Channels {
			if bandOf(ch, usage) == band {
				channels = append(channels, ch)
			}
		}
		sort.Ints(channels)

		for _, ch := range channels {
			usage := snapshot.Channels[ch]
			seen[ch] = true
			observed = append(observed, pkg.ChannelInfo{
				Channel:         ch,
				Band:            band,
				NetworkCount:    usage.NetworkCount,
				Networks:        append([]string(nil), usage.Networks...),
				AvgSignal:       usage.AvgSignal,
				CongestionScore: cs.ScoreChannel(ch, band, usage),
				Observed:        true,
			})
		}
	}

	for _, ch := range canonicalChannels(band) {
		if seen[ch] {
			continue
		}
		synthesized = append(synthesized, pkg.ChannelInfo{
			Channel:         ch,
			Band:            band,
			Networks:        []string{},
			CongestionScore: cs.ScoreChannel(ch, band, pkg.ChannelUsage{}),
		})
	}

	return append(observed, synthesized...)
}

// CongestionLevel names a score range
func CongestionLevel(score int) string {
	switch {
	case score < 30:
		return "low"
	case score < 60:
		return "moderate"
	case score < 80:
		return "high"
	default:
		return "severe"
	}
}

func canonicalChannels(band string) []int {
	if band == pkg.Band24 {
		return Channels24
	}
	return Channels5
}

func bandOf(channel int, usage pkg.ChannelUsage) string {
	if usage.Band != "" {
		return usage.Band
	}
	return pkg.BandForChannel(channel)
}
