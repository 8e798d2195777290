package analytics

import (
	"fmt"
	"strings"

	"github.com/markus-lassfolk/wifiwatch/pkg"
)

// AlertRules converts the current sample plus recent history into alerts.
// Every rule is a pure function; all firing rules are returned together.
type AlertRules struct {
	config *Config
}

// NewAlertRules creates the rule set
func NewAlertRules(config *Config) *AlertRules {
	if config == nil {
		config = DefaultConfig()
	}
	return &AlertRules{config: config}
}

// Evaluate runs every rule. history is ordered most recent first and must not
// contain current. visible lists networks from the latest scan and may be empty.
func (r *AlertRules) Evaluate(current pkg.MetricSample, history []pkg.MetricSample, visible []pkg.ScanNetwork) []pkg.Alert {
	alerts := make([]pkg.Alert, 0, 4)
	alerts = append(alerts, r.CheckSignal(current)...)
	alerts = append(alerts, r.CheckBand(current, visible)...)
	alerts = append(alerts, r.CheckSpeed(current, history)...)
	alerts = append(alerts, r.CheckCongestion(current)...)
	alerts = append(alerts, r.CheckSecurity(current)...)
	return alerts
}

// CheckSignal flags weak signal
func (r *AlertRules) CheckSignal(current pkg.MetricSample) []pkg.Alert {
	switch {
	case current.SignalPercent < r.config.SignalHighThreshold:
		return []pkg.Alert{pkg.NewAlert(current.Timestamp, pkg.AlertSignal, pkg.SeverityHigh,
			"Very weak WiFi signal",
			fmt.Sprintf("Signal is at %.0f%% (%.0f dBm). Expect drops and slow speeds; move closer to the access point.",
				current.SignalPercent, current.SignalDBM))}
	case current.SignalPercent < r.config.SignalMediumThreshold:
		return []pkg.Alert{pkg.NewAlert(current.Timestamp, pkg.AlertSignal, pkg.SeverityMedium,
			"Weak WiFi signal",
			fmt.Sprintf("Signal is at %.0f%% (%.0f dBm). Performance may be reduced.",
				current.SignalPercent, current.SignalDBM))}
	}
	return nil
}

// CheckBand suggests the 5 GHz variant of the same network when one is visible
func (r *AlertRules) CheckBand(current pkg.MetricSample, visible []pkg.ScanNetwork) []pkg.Alert {
	if current.Band != pkg.Band24 || current.SSID == "" {
		return nil
	}
	for _, n := range visible {
		if n.SSID == current.SSID && n.Band == pkg.Band5 {
			return []pkg.Alert{pkg.NewAlert(current.Timestamp, pkg.AlertRecommendation, pkg.SeverityInfo,
				"5 GHz network available",
				fmt.Sprintf("You are on 2.4 GHz but %q is also broadcasting on 5 GHz (channel %d), which is usually faster and less congested.",
					current.SSID, n.Channel))}
		}
	}
	return nil
}

// CheckSpeed flags receive or transmit rates far below the recent average
func (r *AlertRules) CheckSpeed(current pkg.MetricSample, history []pkg.MetricSample) []pkg.Alert {
	if len(history) < r.config.SpeedDropMinHistory {
		return nil
	}
	window := history
	if len(window) > r.config.AlertHistoryWindow {
		window = window[:r.config.AlertHistoryWindow]
	}

	var rxTotal, txTotal float64
	for _, s := range window {
		rxTotal += s.RxSpeedMbps
		txTotal += s.TxSpeedMbps
	}
	rxAvg := rxTotal / float64(len(window))
	txAvg := txTotal / float64(len(window))

	var alerts []pkg.Alert
	if rxAvg > 0 && current.RxSpeedMbps < rxAvg*r.config.SpeedDropRatio {
		alerts = append(alerts, pkg.NewAlert(current.Timestamp, pkg.AlertSpeed, pkg.SeverityMedium,
			"Download speed dropped",
			fmt.Sprintf("Receive rate is %.0f Mbps, down from a recent average of %.0f Mbps.", current.RxSpeedMbps, rxAvg)))
	}
	if txAvg > 0 && current.TxSpeedMbps < txAvg*r.config.SpeedDropRatio {
		alerts = append(alerts, pkg.NewAlert(current.Timestamp, pkg.AlertSpeed, pkg.SeverityMedium,
			"Upload speed dropped",
			fmt.Sprintf("Transmit rate is %.0f Mbps, down from a recent average of %.0f Mbps.", current.TxSpeedMbps, txAvg)))
	}
	return alerts
}

// CheckCongestion flags a busy channel
func (r *AlertRules) CheckCongestion(current pkg.MetricSample) []pkg.Alert {
	if current.ChannelUtilization <= r.config.CongestionUtilization {
		return nil
	}
	return []pkg.Alert{pkg.NewAlert(current.Timestamp, pkg.AlertCongestion, pkg.SeverityMedium,
		"Channel congested",
		fmt.Sprintf("Channel %d is %.0f%% utilized. Consider switching to a less crowded channel.",
			current.Channel, current.ChannelUtilization))}
}

// CheckSecurity flags weak or outdated authentication. An empty string means
// the collector could not determine it and no alert is raised.
func (r *AlertRules) CheckSecurity(current pkg.MetricSample) []pkg.Alert {
	auth := strings.ToUpper(strings.TrimSpace(current.Authentication))
	if auth == "" {
		return nil
	}

	hasWPA3 := strings.Contains(auth, "WPA3")
	hasWPA2 := strings.Contains(auth, "WPA2")

	switch {
	case !hasWPA3 && !hasWPA2:
		return []pkg.Alert{pkg.NewAlert(current.Timestamp, pkg.AlertSecurity, pkg.SeverityHigh,
			"Insecure WiFi security",
			fmt.Sprintf("The network uses %q. Traffic may be readable by others; switch to WPA2 or WPA3.", current.Authentication))}
	case hasWPA2 && !hasWPA3:
		return []pkg.Alert{pkg.NewAlert(current.Timestamp, pkg.AlertSecurity, pkg.SeverityLow,
			"WPA3 upgrade available",
			"The network uses WPA2. If your router supports WPA3, enabling it improves protection against password guessing.")}
	}
	return nil
}
