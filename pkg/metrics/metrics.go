package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
)

const namespace = "wifiwatch"

const (
	// OutcomeSuccess labels operations that completed
	OutcomeSuccess = "success"
	// OutcomeError labels operations whose collaborator failed
	OutcomeError = "error"
)

// Collectors holds the daemon's Prometheus collectors. It satisfies the
// analytics engine's observer interface.
type Collectors struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	alerts            *prometheus.CounterVec
	predictions       *prometheus.CounterVec
	activeEngine      *prometheus.GaugeVec
	trainings         *prometheus.CounterVec
	trainingDuration  prometheus.Histogram
	samples           prometheus.Counter
	signal            prometheus.Gauge
	utilization       prometheus.Gauge
	collectErrors     *prometheus.CounterVec
}

// New creates unregistered collectors
func New() *Collectors {
	return &Collectors{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Analytics operations, partitioned by operation and outcome.",
		}, []string{"operation", "outcome"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_seconds",
			Help:      "Analytics operation latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"operation"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised, partitioned by category and severity.",
		}, []string{"category", "severity"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Predictions emitted, partitioned by engine and category.",
		}, []string{"engine", "category"}),
		activeEngine: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_engine",
			Help:      "1 for the forecasting engine currently in use.",
		}, []string{"engine"}),
		trainings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_trainings_total",
			Help:      "Forecast model trainings, partitioned by metric and outcome.",
		}, []string{"metric", "outcome"}),
		trainingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_training_seconds",
			Help:      "Forecast model training time in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Link samples collected.",
		}),
		signal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_percent",
			Help:      "Signal strength of the latest sample.",
		}),
		utilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_utilization_percent",
			Help:      "Channel utilization of the latest sample.",
		}),
		collectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collect_errors_total",
			Help:      "Failed collection attempts, partitioned by source.",
		}, []string{"source"}),
	}
}

// Register attaches the collectors to reg. Collectors that are already
// registered are skipped.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.operations,
		c.operationDuration,
		c.alerts,
		c.predictions,
		c.activeEngine,
		c.trainings,
		c.trainingDuration,
		c.samples,
		c.signal,
		c.utilization,
		c.collectErrors,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveOperation records an analytics operation
func (c *Collectors) ObserveOperation(operation string, duration time.Duration, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	c.operations.WithLabelValues(operation, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	c.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveAlerts counts raised alerts
func (c *Collectors) ObserveAlerts(alerts []pkg.Alert) {
	for _, a := range alerts {
		c.alerts.WithLabelValues(string(a.Category), string(a.Severity)).Inc()
	}
}

// ObservePredictions counts emitted predictions
func (c *Collectors) ObservePredictions(predictions []pkg.Prediction) {
	for _, p := range predictions {
		c.predictions.WithLabelValues(string(p.Engine), string(p.Category)).Inc()
	}
}

// SetActiveEngine flags kind as the engine in use
func (c *Collectors) SetActiveEngine(kind pkg.EngineKind) {
	for _, k := range []pkg.EngineKind{pkg.EngineTrend, pkg.EngineSeries} {
		v := 0.0
		if k == kind {
			v = 1
		}
		c.activeEngine.WithLabelValues(string(k)).Set(v)
	}
}

// ObserveTraining records a model training attempt
func (c *Collectors) ObserveTraining(metric string, duration time.Duration, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	c.trainings.WithLabelValues(metric, outcome).Inc()
	c.trainingDuration.Observe(duration.Seconds())
}

// ObserveSample records the latest link sample
func (c *Collectors) ObserveSample(sample pkg.MetricSample) {
	c.samples.Inc()
	c.signal.Set(sample.SignalPercent)
	c.utilization.Set(sample.ChannelUtilization)
}

// ObserveCollectError counts a failed collection from source
func (c *Collectors) ObserveCollectError(source string) {
	c.collectErrors.WithLabelValues(source).Inc()
}

// Server exposes /metrics over HTTP
type Server struct {
	server *http.Server
	logger *logx.Logger
}

// NewServer creates a metrics server for gatherer on addr
func NewServer(addr string, gatherer prometheus.Gatherer, logger *logx.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background
func (s *Server) Start() {
	go func() {
		s.logger.Info("Metrics server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", "error", err)
		}
	}()
}

// Stop shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
