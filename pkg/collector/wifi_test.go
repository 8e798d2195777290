package collector

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
)

const infoJSON = `{
	"phy": "phy1",
	"ssid": "home",
	"bssid": "AA:BB:CC:DD:EE:01",
	"mode": "Client",
	"channel": 36,
	"frequency": 5180,
	"signal": -62,
	"noise": -95,
	"quality": 48,
	"quality_max": 70,
	"bitrate": 433300,
	"hwmodes": ["a", "n", "ac"],
	"encryption": {"enabled": true, "wpa": [2, 3], "authentication": ["psk", "sae"], "ciphers": ["ccmp"]}
}`

const assocJSON = `{"results": [
	{"mac": "11:22:33:44:55:66", "signal": -70, "rx": {"rate": 6000}, "tx": {"rate": 6000}},
	{"mac": "aa:bb:cc:dd:ee:01", "signal": -62, "rx": {"rate": 585000}, "tx": {"rate": 390000}}
]}`

const surveyJSON = `{"results": [
	{"mhz": 2412, "active_time": 1000, "busy_time": 900},
	{"mhz": 5180, "active_time": 1000, "busy_time": 350}
]}`

func TestWiFiCollectorCollect(t *testing.T) {
	logger := logx.NewLoggerWithOutput("error", "test", false, io.Discard)
	responses := map[string]string{"info": infoJSON, "assoclist": assocJSON, "survey": surveyJSON}
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		require.Equal(t, "ubus", name)
		return []byte(responses[args[3]]), nil
	}

	c := NewWiFiCollector(logger, "wlan1", run)
	fixed := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	sample, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, fixed, sample.Timestamp)
	assert.Equal(t, "wlan1", sample.Interface)
	assert.Equal(t, "home", sample.SSID)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", sample.BSSID)
	assert.Equal(t, pkg.Band5, sample.Band)
	assert.Equal(t, 36, sample.Channel)
	assert.Equal(t, 76.0, sample.SignalPercent)
	assert.Equal(t, -62.0, sample.SignalDBM)
	assert.Equal(t, 585.0, sample.RxSpeedMbps)
	assert.Equal(t, 390.0, sample.TxSpeedMbps)
	assert.Equal(t, 35.0, sample.ChannelUtilization)
	assert.Equal(t, "802.11ac", sample.RadioType)
	assert.Equal(t, "WPA2-PSK/WPA3-SAE", sample.Authentication)
}

func TestWiFiCollectorOptionalCallsFail(t *testing.T) {
	logger := logx.NewLoggerWithOutput("error", "test", false, io.Discard)
	run := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if args[3] == "info" {
			return []byte(infoJSON), nil
		}
		return nil, errors.New("method not found")
	}

	sample, err := NewWiFiCollector(logger, "wlan1", run).Collect(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 433.3, sample.RxSpeedMbps, 1e-9)
	assert.InDelta(t, 433.3, sample.TxSpeedMbps, 1e-9)
	assert.Equal(t, 0.0, sample.ChannelUtilization)
}

func TestWiFiCollectorErrors(t *testing.T) {
	logger := logx.NewLoggerWithOutput("error", "test", false, io.Discard)

	failing := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return nil, errors.New("ubus: not found")
	}
	_, err := NewWiFiCollector(logger, "wlan0", failing).Collect(context.Background())
	assert.Error(t, err)

	disconnected := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte(`{"ssid": "", "channel": 0}`), nil
	}
	_, err = NewWiFiCollector(logger, "wlan0", disconnected).Collect(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not associated"))
}

func TestAuthentication(t *testing.T) {
	tests := []struct {
		name string
		enc  *IwinfoEncryption
		want string
	}{
		{"unknown", nil, ""},
		{"open", &IwinfoEncryption{Enabled: false}, "OPEN"},
		{"wep", &IwinfoEncryption{Enabled: true}, "WEP"},
		{"wpa2 psk", &IwinfoEncryption{Enabled: true, WPA: []int{2}, Authentication: []string{"psk"}}, "WPA2-PSK"},
		{"wpa3 sae", &IwinfoEncryption{Enabled: true, WPA: []int{3}, Authentication: []string{"sae"}}, "WPA3-SAE"},
		{"wpa1", &IwinfoEncryption{Enabled: true, WPA: []int{1}, Authentication: []string{"psk"}}, "WPA-PSK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authentication(tt.enc))
		})
	}
}

func TestUtilization(t *testing.T) {
	surveys := []IwinfoSurvey{{MHz: 2437, ActiveTime: 200, BusyTime: 150}, {MHz: 5180, ActiveTime: 0, BusyTime: 10}}
	assert.Equal(t, 75.0, Utilization(surveys, 2437))
	assert.Equal(t, 0.0, Utilization(surveys, 5180))
	assert.Equal(t, 0.0, Utilization(surveys, 5200))
}
