package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/markus-lassfolk/wifiwatch/pkg/analytics"
	"github.com/markus-lassfolk/wifiwatch/pkg/api"
	"github.com/markus-lassfolk/wifiwatch/pkg/collector"
	"github.com/markus-lassfolk/wifiwatch/pkg/config"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
	"github.com/markus-lassfolk/wifiwatch/pkg/metrics"
	"github.com/markus-lassfolk/wifiwatch/pkg/mqtt"
	"github.com/markus-lassfolk/wifiwatch/pkg/notifications"
	"github.com/markus-lassfolk/wifiwatch/pkg/pidfile"
	"github.com/markus-lassfolk/wifiwatch/pkg/predictive"
	"github.com/markus-lassfolk/wifiwatch/pkg/scheduler"
	"github.com/markus-lassfolk/wifiwatch/pkg/telem"
	"github.com/markus-lassfolk/wifiwatch/pkg/wifi"
)

var (
	configPath = flag.String("config", "", "Path to YAML configuration file (default "+config.DefaultPath+")")
	pidPath    = flag.String("pid-file", "/var/run/wifiwatchd.pid", "Path to PID file")
	logLevel   = flag.String("log-level", "", "Override log level (debug|info|warn|error|trace)")
	version    = flag.Bool("version", false, "Show version information")
	force      = flag.Bool("force", false, "Force start by replacing an existing PID file")
)

const (
	AppName    = "wifiwatchd"
	AppVersion = "1.0.0"
)

// history is what the daemon needs from its storage backend
type history interface {
	telem.Source
	telem.Sink
	telem.AlertStore
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger := logx.NewLoggerWithOutput(cfg.Logging.Level, AppName, cfg.Logging.JSON, os.Stderr)

	pidFile := pidfile.New(*pidPath)
	if err := pidFile.Create(*force); err != nil {
		logger.Error("Failed to create PID file", "error", err, "path", *pidPath)
		if errors.Is(err, pidfile.ErrRunning) {
			fmt.Fprintf(os.Stderr, "Use -force to override, or stop the existing instance first\n")
		}
		os.Exit(1)
	}

	code := run(cfg, logger)

	if err := pidFile.Remove(); err != nil {
		logger.Error("Failed to remove PID file", "error", err)
	}
	os.Exit(code)
}

func run(cfg *config.Config, logger *logx.Logger) int {
	logger.Info("Starting wifiwatch daemon", "version", AppVersion, "pid", os.Getpid(), "device", cfg.Collector.Device)

	store, pruner, closeStore, err := openHistory(cfg, logger)
	if err != nil {
		logger.Error("Failed to open history storage", "error", err)
		return 1
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer := metrics.New()
	if err := observer.Register(registry); err != nil {
		logger.Error("Failed to register metrics", "error", err)
		return 1
	}

	// forecasts step at the collection cadence
	cfg.Forecast.SampleInterval = cfg.Collector.MetricInterval

	cache := predictive.NewModelCache()
	var modelStore predictive.ModelStore
	if cfg.Storage.ModelPath != "" {
		boltStore, err := predictive.NewBoltModelStore(cfg.Storage.ModelPath, logger)
		if err != nil {
			logger.Warn("Model persistence disabled", "path", cfg.Storage.ModelPath, "error", err)
		} else {
			defer boltStore.Close()
			modelStore = boltStore
			predictive.Restore(cache, boltStore, logger)
		}
	}

	series := predictive.NewSeriesForecaster(cfg.Forecast, cache, modelStore, logger.WithComponent("series"))
	series.OnTraining(func(metric predictive.Metric, d time.Duration, err error) {
		observer.ObserveTraining(string(metric), d, err)
	})
	selector := predictive.NewSelector(cfg.Forecast,
		predictive.NewTrendForecaster(cfg.Forecast, logger.WithComponent("trend")),
		series, cache, logger)

	runner := timeoutRunner(cfg.Collector.CommandTimeout)
	scans := scheduler.NewScanCache(wifi.NewScanner(logger.WithComponent("scanner"), cfg.Collector.ScanDevices, runner), cfg.Collector.ScanInterval)

	engine := analytics.NewEngine(analytics.Dependencies{
		Source:    store,
		Channels:  scans,
		Predictor: selector,
		Observer:  observer,
	}, cfg.Analytics, logger.WithComponent("analytics"))

	mqttClient := mqtt.NewClient(cfg.MQTT, logger.WithComponent("mqtt"))
	if err := mqttClient.Connect(); err != nil {
		logger.Warn("MQTT unavailable, results will not be published", "error", err)
	}
	defer mqttClient.Disconnect()

	sched := scheduler.New(scheduler.Config{
		MetricInterval:     cfg.Collector.MetricInterval,
		ScanInterval:       cfg.Collector.ScanInterval,
		PredictionInterval: cfg.Collector.PredictionInterval,
		PruneInterval:      cfg.Storage.PruneInterval,
		HistoryLimit:       cfg.Analytics.PredictionSampleLimit,
	}, scheduler.Dependencies{
		Collector:   collector.NewWiFiCollector(logger.WithComponent("collector"), cfg.Collector.Device, runner),
		Scans:       scans,
		Sink:        store,
		Snapshotter: telem.NewSnapshotter(store),
		Analyzer:    engine,
		Publisher:   mqttClient,
		Dedup:       notifications.NewDeduplicator(cfg.Notifications, logger.WithComponent("dedup")),
		Pruner:      pruner,
		Observer:    observer,
	}, logger.WithComponent("scheduler"))

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(engine, store, store, api.Config{
			Address: cfg.API.Address,
			AuthKey: cfg.API.APIKey,
		}, logger.WithComponent("api"))
		apiServer.Start()
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Address, registry, logger.WithComponent("metrics"))
		metricsServer.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", "signal", sig.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			logger.Warn("API server shutdown failed", "error", err)
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}

	select {
	case <-done:
		logger.Info("Graceful shutdown completed")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded")
	}
	return 0
}

func openHistory(cfg *config.Config, logger *logx.Logger) (history, scheduler.Pruner, func(), error) {
	sqlite, err := telem.NewSQLiteStore(cfg.Storage.History, logger.WithComponent("history"))
	if err == nil {
		return sqlite, sqlite, func() { sqlite.Close() }, nil
	}
	if !cfg.Storage.MemoryFallback {
		return nil, nil, nil, err
	}

	logger.Warn("Falling back to in-memory history", "error", err)
	hours := cfg.Storage.History.RetentionDays * 24
	if hours > 24*90 {
		hours = 24 * 90
	}
	if hours < 1 {
		hours = 24
	}
	memory, err := telem.NewStore(hours, 20000)
	if err != nil {
		return nil, nil, nil, err
	}
	return memory, nil, func() {}, nil
}

func timeoutRunner(timeout time.Duration) wifi.CommandRunner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return wifi.ExecRunner(ctx, name, args...)
	}
}
