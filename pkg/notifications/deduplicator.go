package notifications

import (
	"strings"
	"sync"
	"time"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
)

// Config controls alert deduplication before publishing
type Config struct {
	// Window is how long a published alert suppresses repeats; zero disables
	Window time.Duration `yaml:"window"`
	// SimilarityThreshold (0..1) also suppresses near identical alerts,
	// e.g. "Signal 28%" right after "Signal 27%"; zero keeps exact matching only
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
}

// DefaultConfig returns the default deduplication settings
func DefaultConfig() *Config {
	return &Config{
		Window:              15 * time.Minute,
		SimilarityThreshold: 0.9,
	}
}

// Deduplicator drops alerts that repeat one published within the window.
// Conditions that persist across samples re-fire on every collection; only
// the first occurrence in a window goes out.
type Deduplicator struct {
	config *Config
	logger *logx.Logger
	now    func() time.Time

	mu     sync.Mutex
	recent map[string]seenAlert

	checked    int64
	duplicates int64
}

type seenAlert struct {
	alert    pkg.Alert
	lastSeen time.Time
}

// Stats summarizes deduplication activity
type Stats struct {
	Checked    int64 `json:"checked"`
	Duplicates int64 `json:"duplicates"`
	Active     int   `json:"active_fingerprints"`
}

// NewDeduplicator creates a deduplicator
func NewDeduplicator(config *Config, logger *logx.Logger) *Deduplicator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Deduplicator{
		config: config,
		logger: logger,
		now:    time.Now,
		recent: make(map[string]seenAlert),
	}
}

// Fingerprint identifies alerts describing the same condition
func Fingerprint(a pkg.Alert) string {
	return string(a.Category) + "|" + string(a.Severity) + "|" + strings.ToLower(strings.TrimSpace(a.Title))
}

// Filter returns the alerts that are not duplicates, preserving order
func (d *Deduplicator) Filter(alerts []pkg.Alert) []pkg.Alert {
	if d.config.Window <= 0 || len(alerts) == 0 {
		return alerts
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.expire(now)

	out := make([]pkg.Alert, 0, len(alerts))
	for _, alert := range alerts {
		d.checked++
		if d.isDuplicate(alert) {
			d.duplicates++
			d.logger.Debug("Duplicate alert suppressed", "category", alert.Category, "title", alert.Title)
			continue
		}
		d.recent[Fingerprint(alert)] = seenAlert{alert: alert, lastSeen: now}
		out = append(out, alert)
	}
	return out
}

func (d *Deduplicator) isDuplicate(alert pkg.Alert) bool {
	if _, ok := d.recent[Fingerprint(alert)]; ok {
		return true
	}
	if d.config.SimilarityThreshold <= 0 {
		return false
	}
	for _, seen := range d.recent {
		if Similarity(alert, seen.alert) >= d.config.SimilarityThreshold {
			return true
		}
	}
	return false
}

func (d *Deduplicator) expire(now time.Time) {
	cutoff := now.Add(-d.config.Window)
	removed := 0
	for fp, seen := range d.recent {
		if seen.lastSeen.Before(cutoff) {
			delete(d.recent, fp)
			removed++
		}
	}
	if removed > 0 {
		d.logger.Debug("Expired deduplication entries", "removed", removed, "remaining", len(d.recent))
	}
}

// Stats returns deduplication counters
func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Checked: d.checked, Duplicates: d.duplicates, Active: len(d.recent)}
}

// Similarity scores two alerts from 0 (unrelated) to 1 (identical).
// Alerts of different categories never match.
func Similarity(a, b pkg.Alert) float64 {
	if a.Category != b.Category {
		return 0
	}

	severityDiff := a.Severity.Rank() - b.Severity.Rank()
	if severityDiff < 0 {
		severityDiff = -severityDiff
	}
	severity := 1 - float64(severityDiff)/4
	if severity < 0 {
		severity = 0
	}

	// category, severity, title, message
	return 0.3 + 0.1*severity + 0.35*stringSimilarity(a.Title, b.Title) + 0.25*stringSimilarity(a.Message, b.Message)
}

func stringSimilarity(s1, s2 string) float64 {
	s1 = strings.ToLower(strings.TrimSpace(s1))
	s2 = strings.ToLower(strings.TrimSpace(s2))
	if s1 == s2 {
		return 1
	}
	if s1 == "" || s2 == "" {
		return 0
	}

	longest := len(s1)
	if len(s2) > longest {
		longest = len(s2)
	}
	similarity := 1 - float64(levenshtein(s1, s2))/float64(longest)
	if similarity < 0 {
		return 0
	}
	return similarity
}

func levenshtein(s1, s2 string) int {
	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}
