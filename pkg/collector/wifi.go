package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
	"github.com/markus-lassfolk/wifiwatch/pkg/wifi"
)

// IwinfoEncryption is the encryption block of `ubus call iwinfo info`
type IwinfoEncryption struct {
	Enabled        bool     `json:"enabled"`
	WPA            []int    `json:"wpa"`
	Authentication []string `json:"authentication"`
	Ciphers        []string `json:"ciphers"`
}

// IwinfoInfo is the subset of `ubus call iwinfo info` used for sampling
type IwinfoInfo struct {
	SSID       string            `json:"ssid"`
	BSSID      string            `json:"bssid"`
	Mode       string            `json:"mode"`
	Channel    int               `json:"channel"`
	Frequency  int               `json:"frequency"` // MHz
	Signal     int               `json:"signal"`    // dBm
	Noise      int               `json:"noise"`
	Quality    int               `json:"quality"`
	QualityMax int               `json:"quality_max"`
	Bitrate    int               `json:"bitrate"` // kbit/s
	HWModes    []string          `json:"hwmodes"`
	Encryption *IwinfoEncryption `json:"encryption"`
}

// IwinfoRate is one direction of an association
type IwinfoRate struct {
	Rate int `json:"rate"` // kbit/s
}

// IwinfoStation is one entry of `ubus call iwinfo assoclist`
type IwinfoStation struct {
	MAC    string     `json:"mac"`
	Signal int        `json:"signal"`
	RX     IwinfoRate `json:"rx"`
	TX     IwinfoRate `json:"tx"`
}

// IwinfoSurvey is one entry of `ubus call iwinfo survey`
type IwinfoSurvey struct {
	MHz        int   `json:"mhz"`
	ActiveTime int64 `json:"active_time"`
	BusyTime   int64 `json:"busy_time"`
}

// WiFiCollector samples the link of one wireless interface through ubus
type WiFiCollector struct {
	logger *logx.Logger
	device string
	run    wifi.CommandRunner
	now    func() time.Time
}

// NewWiFiCollector creates a collector for device (e.g. wlan0)
func NewWiFiCollector(logger *logx.Logger, device string, run wifi.CommandRunner) *WiFiCollector {
	if run == nil {
		run = wifi.ExecRunner
	}
	return &WiFiCollector{logger: logger, device: device, run: run, now: time.Now}
}

// Collect takes one sample. Link rates and channel utilization are best
// effort; the call fails only when the interface info cannot be read.
func (c *WiFiCollector) Collect(ctx context.Context) (*pkg.MetricSample, error) {
	var info IwinfoInfo
	if err := c.call(ctx, "info", &info); err != nil {
		return nil, fmt.Errorf("failed to read %s info: %w", c.device, err)
	}
	if info.Channel == 0 && info.BSSID == "" {
		return nil, fmt.Errorf("%s is not associated", c.device)
	}

	sample := SampleFromInfo(info, c.now())
	sample.Interface = c.device

	var assoc struct {
		Results []IwinfoStation `json:"results"`
	}
	if err := c.call(ctx, "assoclist", &assoc); err != nil {
		c.logger.Debug("assoclist unavailable", "device", c.device, "error", err)
	} else {
		ApplyRates(sample, assoc.Results, info.BSSID)
	}

	var survey struct {
		Results []IwinfoSurvey `json:"results"`
	}
	if err := c.call(ctx, "survey", &survey); err != nil {
		c.logger.Debug("survey unavailable", "device", c.device, "error", err)
	} else {
		sample.ChannelUtilization = Utilization(survey.Results, info.Frequency)
	}

	c.logger.LogDebugVerbose("wifi_sample", map[string]interface{}{
		"device":      c.device,
		"signal":      sample.SignalPercent,
		"channel":     sample.Channel,
		"rx_mbps":     sample.RxSpeedMbps,
		"tx_mbps":     sample.TxSpeedMbps,
		"utilization": sample.ChannelUtilization,
	})
	return sample, nil
}

func (c *WiFiCollector) call(ctx context.Context, method string, out interface{}) error {
	output, err := c.run(ctx, "ubus", "-S", "call", "iwinfo", method, fmt.Sprintf(`{"device":"%s"}`, c.device))
	if err != nil {
		return fmt.Errorf("ubus iwinfo %s: %w", method, err)
	}
	if err := json.Unmarshal(output, out); err != nil {
		return fmt.Errorf("failed to parse iwinfo %s: %w", method, err)
	}
	return nil
}

// SampleFromInfo converts interface info into a sample without rates or utilization
func SampleFromInfo(info IwinfoInfo, ts time.Time) *pkg.MetricSample {
	band := pkg.BandForChannel(info.Channel)
	if info.Frequency > 0 {
		if info.Frequency < 3000 {
			band = pkg.Band24
		} else {
			band = pkg.Band5
		}
	}

	signal := wifi.DBMToPercent(float64(info.Signal))
	if info.Signal == 0 && info.QualityMax > 0 {
		signal = float64(info.Quality) / float64(info.QualityMax) * 100
	}

	rate := float64(info.Bitrate) / 1000
	return &pkg.MetricSample{
		Timestamp:      ts,
		SSID:           info.SSID,
		BSSID:          strings.ToLower(info.BSSID),
		SignalPercent:  signal,
		SignalDBM:      float64(info.Signal),
		Band:           band,
		Channel:        info.Channel,
		RxSpeedMbps:    rate,
		TxSpeedMbps:    rate,
		RadioType:      radioType(info.HWModes),
		Authentication: Authentication(info.Encryption),
	}
}

// ApplyRates sets receive and transmit rates from the association with bssid,
// or the first association when bssid is not listed
func ApplyRates(sample *pkg.MetricSample, stations []IwinfoStation, bssid string) {
	if len(stations) == 0 {
		return
	}
	station := stations[0]
	for _, s := range stations {
		if strings.EqualFold(s.MAC, bssid) {
			station = s
			break
		}
	}
	if station.RX.Rate > 0 {
		sample.RxSpeedMbps = float64(station.RX.Rate) / 1000
	}
	if station.TX.Rate > 0 {
		sample.TxSpeedMbps = float64(station.TX.Rate) / 1000
	}
}

// Utilization returns busy/active airtime in percent for the given frequency
func Utilization(surveys []IwinfoSurvey, mhz int) float64 {
	for _, s := range surveys {
		if s.MHz == mhz && s.ActiveTime > 0 {
			return pkg.Clamp(float64(s.BusyTime)/float64(s.ActiveTime)*100, 0, 100)
		}
	}
	return 0
}

// Authentication renders the encryption block as e.g. "WPA2-PSK/WPA3-SAE".
// A missing block yields an empty string.
func Authentication(enc *IwinfoEncryption) string {
	if enc == nil {
		return ""
	}
	if !enc.Enabled {
		return "OPEN"
	}
	if len(enc.WPA) == 0 {
		return "WEP"
	}

	var parts []string
	for _, version := range enc.WPA {
		name := "WPA"
		if version > 1 {
			name = fmt.Sprintf("WPA%d", version)
		}
		for _, auth := range enc.Authentication {
			if (version == 3) != (strings.EqualFold(auth, "sae") || strings.EqualFold(auth, "owe")) {
				continue
			}
			name += "-" + strings.ToUpper(auth)
			break
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, "/")
}

func radioType(hwmodes []string) string {
	best := ""
	for _, m := range []string{"ax", "ac", "n", "g", "a", "b"} {
		for _, h := range hwmodes {
			if strings.EqualFold(h, m) {
				best = "802.11" + m
				break
			}
		}
		if best != "" {
			break
		}
	}
	return best
}
