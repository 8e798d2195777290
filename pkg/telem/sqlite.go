package telem

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
)

// SQLiteConfig configures the persistent history database
type SQLiteConfig struct {
	DatabasePath  string `yaml:"path" json:"path"`
	RetentionDays int    `yaml:"retentionDays" json:"retention_days"`
}

// DefaultSQLiteConfig returns the default database settings
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		DatabasePath:  "/var/lib/wifiwatch/history.db",
		RetentionDays: 30,
	}
}

// SQLiteStore persists metric samples, speed tests and alerts
type SQLiteStore struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *logx.Logger
}

// NewSQLiteStore opens (and if needed creates) the history database
func NewSQLiteStore(config *SQLiteConfig, logger *logx.Logger) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	dir := filepath.Dir(config.DatabasePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serialises writers anyway
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, config: config, logger: logger}
	if err := s.initializeDatabase(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Info("History database opened",
		"path", config.DatabasePath,
		"retention_days", config.RetentionDays)

	return s, nil
}

func (s *SQLiteStore) initializeDatabase() error {
	schema := `
	CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		interface TEXT NOT NULL DEFAULT '',
		ssid TEXT NOT NULL DEFAULT '',
		bssid TEXT NOT NULL DEFAULT '',
		signal_percent REAL NOT NULL,
		signal_dbm REAL NOT NULL,
		band TEXT NOT NULL,
		channel INTEGER NOT NULL,
		rx_mbps REAL NOT NULL,
		tx_mbps REAL NOT NULL,
		channel_utilization REAL NOT NULL,
		radio_type TEXT NOT NULL DEFAULT '',
		authentication TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_ts ON metrics(ts);

	CREATE TABLE IF NOT EXISTS speed_tests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		download_mbps REAL NOT NULL,
		upload_mbps REAL NOT NULL,
		latency_ms REAL NOT NULL,
		isp TEXT NOT NULL DEFAULT '',
		server TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_speed_tests_ts ON speed_tests(ts);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		ts INTEGER NOT NULL,
		category TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

// AddMetric stores one metric sample
func (s *SQLiteStore) AddMetric(ctx context.Context, m pkg.MetricSample) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO metrics (
		ts, interface, ssid, bssid, signal_percent, signal_dbm, band, channel,
		rx_mbps, tx_mbps, channel_utilization, radio_type, authentication
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Timestamp.UnixNano(), m.Interface, m.SSID, m.BSSID, m.SignalPercent, m.SignalDBM,
		m.Band, m.Channel, m.RxSpeedMbps, m.TxSpeedMbps, m.ChannelUtilization,
		m.RadioType, m.Authentication)
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	return nil
}

// AddSpeedTest stores one speed test result
func (s *SQLiteStore) AddSpeedTest(ctx context.Context, t pkg.SpeedTestSample) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO speed_tests (ts, download_mbps, upload_mbps, latency_ms, isp, server)
	VALUES (?, ?, ?, ?, ?, ?)`,
		t.Timestamp.UnixNano(), t.DownloadMbps, t.UploadMbps, t.LatencyMS, t.ISP, t.Server)
	if err != nil {
		return fmt.Errorf("insert speed test: %w", err)
	}
	return nil
}

// AddAlerts stores alerts in one transaction. Alerts already stored are
// left untouched, acknowledgement included.
func (s *SQLiteStore) AddAlerts(ctx context.Context, alerts []pkg.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin alert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO alerts (id, ts, category, severity, title, message, acknowledged)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare alert insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range alerts {
		if _, err := stmt.ExecContext(ctx, a.ID, a.Timestamp.UnixNano(), string(a.Category),
			string(a.Severity), a.Title, a.Message, a.Acknowledged); err != nil {
			return fmt.Errorf("insert alert %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

const metricColumns = `ts, interface, ssid, bssid, signal_percent, signal_dbm, band, channel,
	rx_mbps, tx_mbps, channel_utilization, radio_type, authentication`

// RecentMetrics returns up to n samples, most recent first
func (s *SQLiteStore) RecentMetrics(ctx context.Context, n int) ([]pkg.MetricSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metricColumns+` FROM metrics ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent metrics: %w", err)
	}
	defer rows.Close()
	return scanMetrics(rows)
}

// MetricsSince returns samples newer than since, oldest first
func (s *SQLiteStore) MetricsSince(ctx context.Context, since time.Time) ([]pkg.MetricSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+metricColumns+` FROM metrics WHERE ts > ? ORDER BY ts ASC, id ASC`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query metrics since: %w", err)
	}
	defer rows.Close()
	return scanMetrics(rows)
}

func scanMetrics(rows *sql.Rows) ([]pkg.MetricSample, error) {
	var out []pkg.MetricSample
	for rows.Next() {
		var m pkg.MetricSample
		var ts int64
		if err := rows.Scan(&ts, &m.Interface, &m.SSID, &m.BSSID, &m.SignalPercent, &m.SignalDBM,
			&m.Band, &m.Channel, &m.RxSpeedMbps, &m.TxSpeedMbps, &m.ChannelUtilization,
			&m.RadioType, &m.Authentication); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		m.Timestamp = time.Unix(0, ts)
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentSpeedTests returns up to n speed tests, most recent first
func (s *SQLiteStore) RecentSpeedTests(ctx context.Context, n int) ([]pkg.SpeedTestSample, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT ts, download_mbps, upload_mbps, latency_ms, isp, server
	FROM speed_tests ORDER BY ts DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query speed tests: %w", err)
	}
	defer rows.Close()

	var out []pkg.SpeedTestSample
	for rows.Next() {
		var t pkg.SpeedTestSample
		var ts int64
		if err := rows.Scan(&ts, &t.DownloadMbps, &t.UploadMbps, &t.LatencyMS, &t.ISP, &t.Server); err != nil {
			return nil, fmt.Errorf("scan speed test: %w", err)
		}
		t.Timestamp = time.Unix(0, ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

// RecentAlerts returns up to n alerts, most recent first
func (s *SQLiteStore) RecentAlerts(ctx context.Context, n int) ([]pkg.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, ts, category, severity, title, message, acknowledged
	FROM alerts ORDER BY ts DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []pkg.Alert
	for rows.Next() {
		var a pkg.Alert
		var ts int64
		var category, severity string
		if err := rows.Scan(&a.ID, &ts, &category, &severity, &a.Title, &a.Message, &a.Acknowledged); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Timestamp = time.Unix(0, ts)
		a.Category = pkg.AlertCategory(category)
		a.Severity = pkg.Severity(severity)
		out = append(out, a)
	}
	return out, rows.Err()
}

// AcknowledgeAlert flags an alert as acknowledged
func (s *SQLiteStore) AcknowledgeAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET acknowledged = TRUE WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

// Prune deletes history older than the retention window and returns the rows removed
func (s *SQLiteStore) Prune(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -s.config.RetentionDays).UnixNano()

	var total int64
	for _, table := range []string{"metrics", "speed_tests", "alerts"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE ts < ?", cutoff)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if total > 0 {
		s.logger.Info("History retention applied",
			"deleted_rows", total,
			"retention_days", s.config.RetentionDays)
	}
	return total, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
