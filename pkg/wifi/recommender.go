package wifi

import (
	"fmt"
	"sort"
	"strings"

	"github.com/markus-lassfolk/wifiwatch/pkg"
)

// ChannelRecommendation explains which channel to use and why
type ChannelRecommendation struct {
	Band               string            `json:"band"`
	CurrentChannel     int               `json:"current_channel"`
	CurrentScore       int               `json:"current_score"`
	RecommendedChannel int               `json:"recommended_channel"`
	RecommendedScore   int               `json:"recommended_score"`
	ImprovementPercent float64           `json:"improvement_percent"`
	ShouldSwitch       bool              `json:"should_switch"`
	Reasons            []string          `json:"reasons"`
	Summary            string            `json:"summary"`
	Channels           []pkg.ChannelInfo `json:"channels"`
}

// ChannelRecommender picks the least congested channel in the current band
type ChannelRecommender struct {
	scorer         *CongestionScorer
	minImprovement float64
}

// NewChannelRecommender creates a recommender. Improvements at or below
// minImprovement percent keep the current channel.
func NewChannelRecommender(scorer *CongestionScorer, minImprovement float64) *ChannelRecommender {
	if scorer == nil {
		scorer = NewCongestionScorer()
	}
	return &ChannelRecommender{scorer: scorer, minImprovement: minImprovement}
}

// Recommend returns nil when the current channel is unknown
func (cr *ChannelRecommender) Recommend(snapshot *pkg.ChannelSnapshot, currentChannel int, band string) *ChannelRecommendation {
	if currentChannel <= 0 {
		return nil
	}
	if band == "" {
		band = pkg.BandForChannel(currentChannel)
	}

	channels := cr.scorer.ScoreBand(snapshot, band)
	if len(channels) == 0 {
		return nil
	}

	current := pkg.ChannelInfo{
		Channel:         currentChannel,
		Band:            band,
		CongestionScore: cr.scorer.ScoreChannel(currentChannel, band, pkg.ChannelUsage{}),
	}
	for _, ch := range channels {
		if ch.Channel == currentChannel {
			current = ch
			break
		}
	}

	ranked := make([]pkg.ChannelInfo, len(channels))
	copy(ranked, channels)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].CongestionScore < ranked[j].CongestionScore })
	best := ranked[0]

	improvement := 0.0
	if current.CongestionScore > 0 {
		improvement = float64(current.CongestionScore-best.CongestionScore) / float64(current.CongestionScore) * 100
	}

	rec := &ChannelRecommendation{
		Band:               band,
		CurrentChannel:     current.Channel,
		CurrentScore:       current.CongestionScore,
		RecommendedChannel: best.Channel,
		RecommendedScore:   best.CongestionScore,
		ImprovementPercent: float64(int(improvement*10)) / 10,
		Channels:           ranked,
	}

	if improvement <= cr.minImprovement || best.Channel == current.Channel {
		rec.RecommendedChannel = current.Channel
		rec.RecommendedScore = current.CongestionScore
		rec.ImprovementPercent = 0
		rec.Reasons = []string{fmt.Sprintf("Channel %d is already optimal (congestion %s, score %d).",
			current.Channel, CongestionLevel(current.CongestionScore), current.CongestionScore)}
		rec.Summary = rec.Reasons[0]
		return rec
	}

	rec.ShouldSwitch = true
	rec.Reasons = explain(current, best, band)
	rec.Summary = fmt.Sprintf("Switch from channel %d to channel %d for about %.0f%% less congestion. %s",
		current.Channel, best.Channel, improvement, strings.Join(rec.Reasons, " "))
	return rec
}

// explain lists reasons in priority order: competing networks, congestion
// severity, then non-overlap
func explain(current, best pkg.ChannelInfo, band string) []string {
	var reasons []string

	if best.NetworkCount < current.NetworkCount {
		reasons = append(reasons, fmt.Sprintf("Channel %d has %d competing network%s versus %d on channel %d.",
			best.Channel, best.NetworkCount, plural(best.NetworkCount), current.NetworkCount, current.Channel))
	}

	if CongestionLevel(best.CongestionScore) != CongestionLevel(current.CongestionScore) {
		reasons = append(reasons, fmt.Sprintf("Congestion drops from %s (%d) to %s (%d).",
			CongestionLevel(current.CongestionScore), current.CongestionScore,
			CongestionLevel(best.CongestionScore), best.CongestionScore))
	} else {
		reasons = append(reasons, fmt.Sprintf("Congestion score drops from %d to %d.",
			current.CongestionScore, best.CongestionScore))
	}

	if band == pkg.Band24 && NonOverlapping24[best.Channel] && !NonOverlapping24[current.Channel] {
		reasons = append(reasons, fmt.Sprintf("Channel %d is one of the non-overlapping 2.4 GHz channels (1, 6, 11).", best.Channel))
	}

	return reasons
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
