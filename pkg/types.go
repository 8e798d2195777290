package pkg

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Band identifiers used throughout the daemon
const (
	Band24 = "2.4GHz"
	Band5  = "5GHz"
)

// MetricSample is one timestamped WiFi link measurement
type MetricSample struct {
	Timestamp          time.Time `json:"timestamp"`
	Interface          string    `json:"interface,omitempty"`
	SSID               string    `json:"ssid,omitempty"`
	BSSID              string    `json:"bssid,omitempty"`
	SignalPercent      float64   `json:"signal_percent"`       // 0-100
	SignalDBM          float64   `json:"signal_dbm"`           // dBm
	Band               string    `json:"band"`                 // Band24 or Band5
	Channel            int       `json:"channel"`              // primary channel
	RxSpeedMbps        float64   `json:"rx_speed_mbps"`        // receive link rate
	TxSpeedMbps        float64   `json:"tx_speed_mbps"`        // transmit link rate
	ChannelUtilization float64   `json:"channel_utilization"`  // 0-100
	RadioType          string    `json:"radio_type,omitempty"` // 802.11ac, 802.11ax...
	Authentication     string    `json:"authentication,omitempty"`
}

// SpeedTestSample is the result of one external speed test
type SpeedTestSample struct {
	Timestamp    time.Time `json:"timestamp"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	LatencyMS    float64   `json:"latency_ms"`
	ISP          string    `json:"isp,omitempty"`
	Server       string    `json:"server,omitempty"`
}

// AlertCategory classifies an alert
type AlertCategory string

const (
	AlertSignal         AlertCategory = "signal"
	AlertSpeed          AlertCategory = "speed"
	AlertCongestion     AlertCategory = "congestion"
	AlertSecurity       AlertCategory = "security"
	AlertDevice         AlertCategory = "device"
	AlertRecommendation AlertCategory = "recommendation"
)

// Severity orders alerts and predictions from informational to critical
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal of the severity, -1 when unknown
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Alert is a human readable notification produced from a sample or prediction
type Alert struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	Category     AlertCategory `json:"category"`
	Severity     Severity      `json:"severity"`
	Title        string        `json:"title"`
	Message      string        `json:"message"`
	Acknowledged bool          `json:"acknowledged"`
}

var alertNamespace = uuid.MustParse("6f1c2a8e-4b7d-5e21-9c3a-0d8b7e6f5a41")

// NewAlert creates an unacknowledged alert. The ID is derived from the content,
// so evaluating the same sample twice yields the same alert.
func NewAlert(ts time.Time, category AlertCategory, severity Severity, title, message string) Alert {
	key := ts.UTC().Format(time.RFC3339Nano) + "|" + string(category) + "|" + title
	return Alert{
		ID:        uuid.NewSHA1(alertNamespace, []byte(key)).String(),
		Timestamp: ts,
		Category:  category,
		Severity:  severity,
		Title:     title,
		Message:   message,
	}
}

// PredictionCategory classifies a forecasted issue
type PredictionCategory string

const (
	PredictSignalDegradation PredictionCategory = "signal-degradation"
	PredictSpeedDegradation  PredictionCategory = "speed-degradation"
	PredictCongestion        PredictionCategory = "congestion"
	PredictDisconnection     PredictionCategory = "disconnection"
	PredictSecurity          PredictionCategory = "security"
)

var predictionAlertCategory = map[PredictionCategory]AlertCategory{
	PredictSignalDegradation: AlertSignal,
	PredictSpeedDegradation:  AlertSpeed,
	PredictCongestion:        AlertCongestion,
	PredictDisconnection:     AlertDevice,
	PredictSecurity:          AlertSecurity,
}

var predictionTitle = map[PredictionCategory]string{
	PredictSignalDegradation: "Signal degradation expected",
	PredictSpeedDegradation:  "Speed degradation expected",
	PredictCongestion:        "Congestion expected",
	PredictDisconnection:     "Disconnection risk",
	PredictSecurity:          "Security risk expected",
}

// AlertFromPrediction turns a forecast into an alert. The timestamp is
// truncated to the hour so the same forecast repeated by later cycles keeps
// its alert ID.
func AlertFromPrediction(p Prediction) Alert {
	category, ok := predictionAlertCategory[p.Category]
	if !ok {
		category = AlertDevice
	}
	title, ok := predictionTitle[p.Category]
	if !ok {
		title = "Issue expected"
	}
	message := fmt.Sprintf("%s (%s, %d%% confidence)", p.Message, p.Timeframe, p.Confidence)
	return NewAlert(p.CreatedAt.Truncate(time.Hour), category, p.Severity, title, message)
}

// EngineKind names one of the two forecasting engines
type EngineKind string

const (
	EngineTrend  EngineKind = "trend"
	EngineSeries EngineKind = "series"
)

// Prediction is a forecasted degradation with a heuristic confidence
type Prediction struct {
	ID         string             `json:"id"`
	Category   PredictionCategory `json:"category"`
	Severity   Severity           `json:"severity"`
	Confidence int                `json:"confidence"` // 0-100
	Message    string             `json:"message"`
	Timeframe  string             `json:"timeframe"`
	CreatedAt  time.Time          `json:"created_at"`
	Engine     EngineKind         `json:"engine,omitempty"`
}

// NewPrediction creates a prediction with a fresh ID and a clamped confidence
func NewPrediction(now time.Time, category PredictionCategory, severity Severity, confidence int, message, timeframe string) Prediction {
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	return Prediction{
		ID:         uuid.NewString(),
		Category:   category,
		Severity:   severity,
		Confidence: confidence,
		Message:    message,
		Timeframe:  timeframe,
		CreatedAt:  now,
	}
}

// ScanNetwork is a network observed during a channel scan
type ScanNetwork struct {
	SSID          string  `json:"ssid"`
	BSSID         string  `json:"bssid"`
	Channel       int     `json:"channel"`
	Band          string  `json:"band"`
	SignalPercent float64 `json:"signal_percent"`
	SignalDBM     float64 `json:"signal_dbm"`
}

// ChannelUsage aggregates the networks competing on one channel
type ChannelUsage struct {
	Band         string   `json:"band"`
	NetworkCount int      `json:"network_count"`
	AvgSignal    float64  `json:"avg_signal"` // percent
	Networks     []string `json:"networks"`
}

// ChannelSnapshot is the result of one full channel scan
type ChannelSnapshot struct {
	Timestamp time.Time            `json:"timestamp"`
	Channels  map[int]ChannelUsage `json:"channels"`
	Networks  []ScanNetwork        `json:"networks"`
}

// ChannelInfo is a scored channel
type ChannelInfo struct {
	Channel         int      `json:"channel"`
	Band            string   `json:"band"`
	NetworkCount    int      `json:"network_count"`
	Networks        []string `json:"networks"`
	AvgSignal       float64  `json:"avg_signal"`
	CongestionScore int      `json:"congestion_score"` // 0-100
	Observed        bool     `json:"observed"`
}

// EngineStatus reports which forecasting engine is active and how close the upgrade is
type EngineStatus struct {
	ActiveEngine     EngineKind `json:"active_engine"`
	SamplesCollected int        `json:"samples_collected"`
	SamplesRequired  int        `json:"samples_required"`
	SamplesRemaining int        `json:"samples_remaining"`
	ExpectedAccuracy string     `json:"expected_accuracy"`
	TimeToUpgrade    string     `json:"time_to_upgrade"`
	LastTrained      *time.Time `json:"last_trained,omitempty"`
}

// BandForChannel maps a channel number to its band
func BandForChannel(channel int) string {
	if channel >= 1 && channel <= 14 {
		return Band24
	}
	return Band5
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
