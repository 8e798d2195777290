package wifi

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
)

func TestScoreChannel(t *testing.T) {
	scorer := NewCongestionScorer()

	tests := []struct {
		name    string
		channel int
		band    string
		usage   pkg.ChannelUsage
		want    int
	}{
		{"empty preferred 2.4", 6, pkg.Band24, pkg.ChannelUsage{}, 0},
		{"empty non-preferred 2.4", 3, pkg.Band24, pkg.ChannelUsage{}, 20},
		{"empty 5GHz", 36, pkg.Band5, pkg.ChannelUsage{}, 0},
		{"two networks", 1, pkg.Band24, pkg.ChannelUsage{NetworkCount: 2, AvgSignal: 41}, 60},
		{"network cap", 36, pkg.Band5, pkg.ChannelUsage{NetworkCount: 9, AvgSignal: 0}, 100},
		{"total cap", 3, pkg.Band24, pkg.ChannelUsage{NetworkCount: 4, AvgSignal: 80}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scorer.ScoreChannel(tt.channel, tt.band, tt.usage))
		})
	}
}

func TestScoreBandCoversCanonicalChannels(t *testing.T) {
	scorer := NewCongestionScorer()
	snapshot := &pkg.ChannelSnapshot{Channels: map[int]pkg.ChannelUsage{
		6:  {Band: pkg.Band24, NetworkCount: 1, AvgSignal: 50},
		36: {Band: pkg.Band5, NetworkCount: 2, AvgSignal: 60},
	}}

	band24 := scorer.ScoreBand(snapshot, pkg.Band24)
	require.Len(t, band24, len(Channels24))
	assert.Equal(t, 6, band24[0].Channel)
	assert.True(t, band24[0].Observed)
	assert.Equal(t, 45, band24[0].CongestionScore)

	band5 := scorer.ScoreBand(snapshot, pkg.Band5)
	require.Len(t, band5, len(Channels5))
	for _, ch := range band5 {
		assert.GreaterOrEqual(t, ch.CongestionScore, 0)
		assert.LessOrEqual(t, ch.CongestionScore, 100)
		if ch.Channel != 36 {
			assert.Equal(t, 0, ch.CongestionScore)
			assert.False(t, ch.Observed)
		}
	}

	assert.Len(t, scorer.ScoreBand(nil, pkg.Band5), len(Channels5))
}

func TestRecommendPrefersEmptyNonOverlappingChannel(t *testing.T) {
	recommender := NewChannelRecommender(nil, 10)
	snapshot := &pkg.ChannelSnapshot{Channels: map[int]pkg.ChannelUsage{
		3: {Band: pkg.Band24, NetworkCount: 4, AvgSignal: 80, Networks: []string{"a", "b", "c", "d"}},
		6: {Band: pkg.Band24},
	}}

	rec := recommender.Recommend(snapshot, 3, pkg.Band24)
	require.NotNil(t, rec)
	assert.Equal(t, 6, rec.RecommendedChannel)
	assert.Equal(t, 100, rec.CurrentScore)
	assert.Equal(t, 0, rec.RecommendedScore)
	assert.Greater(t, rec.ImprovementPercent, 0.0)
	assert.True(t, rec.ShouldSwitch)
	require.Len(t, rec.Reasons, 3)
	assert.Contains(t, rec.Reasons[0], "competing")
	assert.Contains(t, rec.Reasons[1], "severe")
	assert.Contains(t, rec.Reasons[2], "non-overlapping")
}

func TestRecommendKeepsOptimalChannel(t *testing.T) {
	recommender := NewChannelRecommender(nil, 10)
	snapshot := &pkg.ChannelSnapshot{Channels: map[int]pkg.ChannelUsage{
		36: {Band: pkg.Band5},
		40: {Band: pkg.Band5, NetworkCount: 3, AvgSignal: 70},
	}}

	rec := recommender.Recommend(snapshot, 36, pkg.Band5)
	require.NotNil(t, rec)
	assert.False(t, rec.ShouldSwitch)
	assert.Equal(t, 36, rec.RecommendedChannel)
	assert.Equal(t, 0.0, rec.ImprovementPercent)
	assert.Contains(t, rec.Summary, "already optimal")
}

func TestRecommendSmallImprovementIsOptimal(t *testing.T) {
	recommender := NewChannelRecommender(nil, 10)
	// Channel 36 scores 100 (5 networks), every other 5 GHz channel scores 91+
	channels := map[int]pkg.ChannelUsage{36: {Band: pkg.Band5, NetworkCount: 5, AvgSignal: 0}}
	for _, ch := range Channels5[1:] {
		channels[ch] = pkg.ChannelUsage{Band: pkg.Band5, NetworkCount: 4, AvgSignal: 22}
	}

	rec := recommender.Recommend(&pkg.ChannelSnapshot{Channels: channels}, 36, pkg.Band5)
	require.NotNil(t, rec)
	assert.False(t, rec.ShouldSwitch)
	assert.Equal(t, 36, rec.RecommendedChannel)
	assert.Equal(t, rec.CurrentScore, rec.RecommendedScore)
	assert.Zero(t, rec.ImprovementPercent)
}

func TestRecommendUnknownChannel(t *testing.T) {
	assert.Nil(t, NewChannelRecommender(nil, 10).Recommend(nil, 0, ""))
}

func TestAggregateAndExclude(t *testing.T) {
	networks := []pkg.ScanNetwork{
		{SSID: "home", BSSID: "aa:bb", Channel: 6, Band: pkg.Band24, SignalPercent: 80},
		{SSID: "neighbor", BSSID: "cc:dd", Channel: 6, Band: pkg.Band24, SignalPercent: 40},
		{SSID: "", BSSID: "ee:ff", Channel: 36, Band: pkg.Band5, SignalPercent: 30},
	}
	snapshot := Aggregate(networks, time.Now())

	require.Contains(t, snapshot.Channels, 6)
	assert.Equal(t, 2, snapshot.Channels[6].NetworkCount)
	assert.Equal(t, 60.0, snapshot.Channels[6].AvgSignal)
	assert.Equal(t, []string{"(hidden)"}, snapshot.Channels[36].Networks)

	filtered := ExcludeBSSID(snapshot, "AA:BB")
	assert.Equal(t, 1, filtered.Channels[6].NetworkCount)
	assert.Equal(t, []string{"neighbor"}, filtered.Channels[6].Networks)
}

func TestScannerSnapshot(t *testing.T) {
	logger := logx.NewLoggerWithOutput("error", "test", false, io.Discard)
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if args[len(args)-1] == `{"device":"wlan1"}` {
			return nil, errors.New("device busy")
		}
		return []byte(`{"results":[
			{"ssid":"home","bssid":"AA:BB:CC:00:00:01","channel":6,"signal":-50,"frequency":2437},
			{"ssid":"home","bssid":"AA:BB:CC:00:00:02","channel":36,"signal":-60,"frequency":5180}
		]}`), nil
	}

	scanner := NewScanner(logger, []string{"wlan0", "wlan1"}, run)
	snapshot, err := scanner.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Networks, 2)
	assert.Equal(t, pkg.Band24, snapshot.Networks[0].Band)
	assert.Equal(t, 100.0, snapshot.Networks[0].SignalPercent)
	assert.Equal(t, pkg.Band5, snapshot.Channels[36].Band)
	assert.Equal(t, 80.0, snapshot.Channels[36].AvgSignal)

	failing := NewScanner(logger, []string{"wlan1"}, run)
	_, err = failing.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestDBMToPercent(t *testing.T) {
	assert.Equal(t, 0.0, DBMToPercent(-110))
	assert.Equal(t, 50.0, DBMToPercent(-75))
	assert.Equal(t, 100.0, DBMToPercent(-30))
}
