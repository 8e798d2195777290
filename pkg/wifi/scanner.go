package wifi

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
)

// CommandRunner executes an external command and returns its stdout
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// UbusAccessPoint is one entry of `ubus call iwinfo scan`
type UbusAccessPoint struct {
	SSID      string `json:"ssid"`
	BSSID     string `json:"bssid"`
	Channel   int    `json:"channel"`
	Signal    int    `json:"signal"` // dBm (negative)
	Frequency int64  `json:"frequency"`
}

// UbusScanResult wraps scan results from ubus
type UbusScanResult struct {
	Results []UbusAccessPoint `json:"results"`
}

// Scanner produces channel snapshots from the radio's own scan
type Scanner struct {
	logger  *logx.Logger
	devices []string
	run     CommandRunner
	now     func() time.Time
}

// NewScanner creates a scanner for the given radio devices (e.g. wlan0, wlan1)
func NewScanner(logger *logx.Logger, devices []string, run CommandRunner) *Scanner {
	if run == nil {
		run = ExecRunner
	}
	return &Scanner{logger: logger, devices: devices, run: run, now: time.Now}
}

// Snapshot scans every configured device and merges the results. A device
// that fails to scan is skipped; the call fails only when all devices fail.
func (s *Scanner) Snapshot(ctx context.Context) (*pkg.ChannelSnapshot, error) {
	var networks []pkg.ScanNetwork
	var lastErr error
	scanned := 0

	for _, device := range s.devices {
		aps, err := s.scanDevice(ctx, device)
		if err != nil {
			s.logger.Warn("WiFi scan failed", "device", device, "error", err)
			lastErr = err
			continue
		}
		scanned++
		for _, ap := range aps {
			networks = append(networks, ap.toNetwork())
		}
	}

	if scanned == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no scan devices configured")
		}
		return nil, fmt.Errorf("channel scan failed: %w", lastErr)
	}

	snapshot := Aggregate(networks, s.now())
	s.logger.Debug("Channel scan completed",
		"devices", scanned,
		"networks", len(networks),
		"channels", len(snapshot.Channels))
	return snapshot, nil
}

func (s *Scanner) scanDevice(ctx context.Context, device string) ([]UbusAccessPoint, error) {
	output, err := s.run(ctx, "ubus", "-S", "-t", "30", "call", "iwinfo", "scan",
		fmt.Sprintf(`{"device":"%s"}`, device))
	if err != nil {
		return nil, fmt.Errorf("ubus scan: %w", err)
	}
	return ParseScan(output)
}

// ParseScan decodes ubus iwinfo scan output
func ParseScan(output []byte) ([]UbusAccessPoint, error) {
	var result UbusScanResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse scan results: %w", err)
	}
	return result.Results, nil
}

func (ap UbusAccessPoint) toNetwork() pkg.ScanNetwork {
	band := pkg.BandForChannel(ap.Channel)
	if ap.Frequency > 0 {
		if ap.Frequency < 3000 {
			band = pkg.Band24
		} else {
			band = pkg.Band5
		}
	}
	return pkg.ScanNetwork{
		SSID:          ap.SSID,
		BSSID:         strings.ToLower(ap.BSSID),
		Channel:       ap.Channel,
		Band:          band,
		SignalDBM:     float64(ap.Signal),
		SignalPercent: DBMToPercent(float64(ap.Signal)),
	}
}

// DBMToPercent maps -100..-50 dBm linearly onto 0..100%
func DBMToPercent(dbm float64) float64 {
	return pkg.Clamp(2*(dbm+100), 0, 100)
}

// Aggregate groups networks into per-channel usage
func Aggregate(networks []pkg.ScanNetwork, ts time.Time) *pkg.ChannelSnapshot {
	snapshot := &pkg.ChannelSnapshot{
		Timestamp: ts,
		Channels:  make(map[int]pkg.ChannelUsage),
		Networks:  networks,
	}

	signalTotals := make(map[int]float64)
	for _, n := range networks {
		if n.Channel <= 0 {
			continue
		}
		usage := snapshot.Channels[n.Channel]
		usage.Band = n.Band
		usage.NetworkCount++
		name := n.SSID
		if name == "" {
			name = "(hidden)"
		}
		usage.Networks = append(usage.Networks, name)
		signalTotals[n.Channel] += n.SignalPercent
		snapshot.Channels[n.Channel] = usage
	}

	for ch, usage := range snapshot.Channels {
		usage.AvgSignal = signalTotals[ch] / float64(usage.NetworkCount)
		sort.Strings(usage.Networks)
		snapshot.Channels[ch] = usage
	}
	return snapshot
}

// ExcludeBSSID rebuilds a snapshot without the given access point, so that the
// network the device is connected to does not count as competition
func ExcludeBSSID(snapshot *pkg.ChannelSnapshot, bssid string) *pkg.ChannelSnapshot {
	if snapshot == nil || bssid == "" {
		return snapshot
	}
	bssid = strings.ToLower(bssid)
	filtered := make([]pkg.ScanNetwork, 0, len(snapshot.Networks))
	for _, n := range snapshot.Networks {
		if n.BSSID != bssid {
			filtered = append(filtered, n)
		}
	}
	return Aggregate(filtered, snapshot.Timestamp)
}
