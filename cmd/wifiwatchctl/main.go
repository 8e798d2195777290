package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/markus-lassfolk/wifiwatch/pkg/analytics"
	"github.com/markus-lassfolk/wifiwatch/pkg/config"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
	"github.com/markus-lassfolk/wifiwatch/pkg/predictive"
	"github.com/markus-lassfolk/wifiwatch/pkg/telem"
	"github.com/markus-lassfolk/wifiwatch/pkg/wifi"
)

var (
	configPath = flag.String("config", "", "Path to YAML configuration file")
	dbPath     = flag.String("db", "", "Override history database path")
	period     = flag.Duration("period", 24*time.Hour, "Period for the stability command")
	limit      = flag.Int("limit", 20, "Number of alerts to show")
	logLevel   = flag.String("log-level", "warn", "Log level (debug|info|warn|error|trace)")
	timeout    = flag.Duration("timeout", 60*time.Second, "Operation timeout")
	version    = flag.Bool("version", false, "Show version information")
)

const (
	AppName    = "wifiwatchctl"
	AppVersion = "1.0.0"
)

const usage = `Usage: wifiwatchctl [flags] <command> [args]

Commands:
  stability       network stability over -period
  best-times      best and worst hours for downloads
  isp             ISP throttling analysis from speed tests
  predict         forecast upcoming issues
  engine          forecasting engine status
  health          health of the latest sample
  channels        live scan and channel recommendation
  alerts          recent alerts
  ack <id>        acknowledge an alert
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.Storage.History.DatabasePath = *dbPath
	}

	logger := logx.NewLogger(*logLevel, AppName)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := runCommand(ctx, cfg, logger, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, cfg *config.Config, logger *logx.Logger, args []string, out io.Writer) error {
	store, err := telem.NewSQLiteStore(cfg.Storage.History, logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	cfg.Forecast.SampleInterval = cfg.Collector.MetricInterval
	cache := predictive.NewModelCache()
	if cfg.Storage.ModelPath != "" {
		if _, err := os.Stat(cfg.Storage.ModelPath); err == nil {
			models, err := predictive.NewBoltModelStore(cfg.Storage.ModelPath, logger)
			if err != nil {
				logger.Warn("Cannot read trained models", "error", err)
			} else {
				predictive.Restore(cache, models, logger)
				models.Close()
			}
		}
	}

	selector := predictive.NewSelector(cfg.Forecast,
		predictive.NewTrendForecaster(cfg.Forecast, logger),
		predictive.NewSeriesForecaster(cfg.Forecast, cache, nil, logger),
		cache, logger)

	var channels analytics.ChannelSource
	if args[0] == "channels" {
		channels = wifi.NewScanner(logger, cfg.Collector.ScanDevices, nil)
	}

	engine := analytics.NewEngine(analytics.Dependencies{
		Source:    store,
		Channels:  channels,
		Predictor: selector,
	}, cfg.Analytics, logger)

	var result interface{}
	switch args[0] {
	case "stability":
		result = engine.GetNetworkStability(ctx, *period)
	case "best-times":
		result = orInsufficient(engine.GetBestDownloadTimes(ctx), "not enough samples across different hours")
	case "isp":
		result = orInsufficient(engine.AnalyzeISPPerformance(ctx), "at least two speed tests are required")
	case "predict":
		result = map[string]interface{}{"predictions": engine.PredictIssues(ctx)}
	case "engine":
		result = engine.GetEngineStatus(ctx)
	case "health":
		result = orInsufficient(engine.GetHealth(ctx), "no samples collected yet")
	case "channels":
		result = orInsufficient(engine.GetChannelRecommendation(ctx), "no current sample or scan available")
	case "alerts":
		alerts, err := store.RecentAlerts(ctx, *limit)
		if err != nil {
			return err
		}
		result = map[string]interface{}{"alerts": alerts}
	case "ack":
		if len(args) < 2 {
			return fmt.Errorf("ack requires an alert id")
		}
		if err := store.AcknowledgeAlert(ctx, args[1]); err != nil {
			return err
		}
		result = map[string]interface{}{"success": true, "id": args[1]}
	default:
		return fmt.Errorf("unknown command %q; commands: %s", args[0], strings.Join(commands(), ", "))
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func commands() []string {
	return []string{"stability", "best-times", "isp", "predict", "engine", "health", "channels", "alerts", "ack"}
}

func orInsufficient[T any](v *T, message string) interface{} {
	if v == nil {
		return map[string]interface{}{"insufficient_data": true, "message": message}
	}
	return v
}
