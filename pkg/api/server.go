package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/analytics"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
	"github.com/markus-lassfolk/wifiwatch/pkg/telem"
	"github.com/markus-lassfolk/wifiwatch/pkg/wifi"
)

// Analytics is the set of analyses exposed over HTTP
type Analytics interface {
	GetBestDownloadTimes(ctx context.Context) *analytics.BestTimeAnalysis
	AnalyzeISPPerformance(ctx context.Context) *analytics.IspAnalysis
	GetNetworkStability(ctx context.Context, period time.Duration) *analytics.NetworkStability
	GetChannelRecommendation(ctx context.Context) *wifi.ChannelRecommendation
	PredictIssues(ctx context.Context) []pkg.Prediction
	GetEngineStatus(ctx context.Context) pkg.EngineStatus
	GetHealth(ctx context.Context) *analytics.LinkHealth
	Performance() []logx.OperationStats
}

// SpeedTestSink records externally measured speed tests
type SpeedTestSink interface {
	AddSpeedTest(ctx context.Context, test pkg.SpeedTestSample) error
}

// Config holds API server configuration
type Config struct {
	Address string
	// AuthKey is optional; when set, requests need it in X-API-Key or ?auth=
	AuthKey string
}

// InsufficientData is returned with 200 when an analysis lacks history
type InsufficientData struct {
	InsufficientData bool   `json:"insufficient_data"`
	Message          string `json:"message"`
}

// Server provides the analytics over HTTP
type Server struct {
	analytics  Analytics
	alerts     telem.AlertStore
	speedTests SpeedTestSink
	config     Config
	logger     *logx.Logger
	server     *http.Server
}

// NewServer creates a new API server. speedTests may be nil, which disables ingestion.
func NewServer(a Analytics, alerts telem.AlertStore, speedTests SpeedTestSink, config Config, logger *logx.Logger) *Server {
	s := &Server{
		analytics:  a,
		alerts:     alerts,
		speedTests: speedTests,
		config:     config,
		logger:     logger,
	}
	s.server = &http.Server{
		Addr:              config.Address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	return s
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.authMiddleware)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/alerts/current", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/ack", s.handleAcknowledge).Methods(http.MethodPost)
	api.HandleFunc("/analytics/best-times", s.handleBestTimes).Methods(http.MethodGet)
	api.HandleFunc("/analytics/isp", s.handleISP).Methods(http.MethodGet)
	api.HandleFunc("/analytics/stability", s.handleStability).Methods(http.MethodGet)
	api.HandleFunc("/analytics/performance", s.handlePerformance).Methods(http.MethodGet)
	api.HandleFunc("/channels/recommendation", s.handleChannelRecommendation).Methods(http.MethodGet)
	api.HandleFunc("/predictions", s.handlePredictions).Methods(http.MethodGet)
	api.HandleFunc("/engine/status", s.handleEngineStatus).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/speedtests", s.handleSpeedTest).Methods(http.MethodPost)

	return router
}

// Start serves in the background
func (s *Server) Start() {
	s.logger.Info("Starting API server", "address", s.config.Address, "auth", s.config.AuthKey != "")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", "error", err)
		}
	}()
}

// Stop gracefully shuts down the API server
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.logger.Info("API server stopped")
	return err
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.AuthKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authKey := r.URL.Query().Get("auth")
		if authKey == "" {
			authKey = r.Header.Get("X-API-Key")
		}
		if authKey != s.config.AuthKey {
			s.logger.Warn("Invalid authentication attempt", "remote_addr", r.RemoteAddr)
			s.sendErrorResponse(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			s.sendErrorResponse(w, http.StatusBadRequest, "limit must be between 1 and 1000", err)
			return
		}
		limit = n
	}

	alerts, err := s.alerts.RecentAlerts(r.Context(), limit)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "failed to load alerts", err)
		return
	}
	if alerts == nil {
		alerts = []pkg.Alert{}
	}
	s.sendJSONResponse(w, map[string]interface{}{"alerts": alerts})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := s.alerts.AcknowledgeAlert(r.Context(), id)
	switch {
	case errors.Is(err, telem.ErrNotFound):
		s.sendErrorResponse(w, http.StatusNotFound, "alert not found", nil)
	case err != nil:
		s.sendErrorResponse(w, http.StatusInternalServerError, "failed to acknowledge alert", err)
	default:
		s.sendJSONResponse(w, map[string]interface{}{"success": true, "id": id})
	}
}

func (s *Server) handleBestTimes(w http.ResponseWriter, r *http.Request) {
	result := s.analytics.GetBestDownloadTimes(r.Context())
	if result == nil {
		s.sendInsufficient(w, "Collect at least a few hours of samples spread over three different hours of the day.")
		return
	}
	s.sendJSONResponse(w, result)
}

func (s *Server) handleISP(w http.ResponseWriter, r *http.Request) {
	result := s.analytics.AnalyzeISPPerformance(r.Context())
	if result == nil {
		s.sendInsufficient(w, "At least two speed tests are needed to analyze ISP performance.")
		return
	}
	s.sendJSONResponse(w, result)
}

func (s *Server) handleStability(w http.ResponseWriter, r *http.Request) {
	period := 24 * time.Hour
	if v := r.URL.Query().Get("period"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			s.sendErrorResponse(w, http.StatusBadRequest, "period must be a positive duration such as 24h", err)
			return
		}
		period = d
	}
	s.sendJSONResponse(w, s.analytics.GetNetworkStability(r.Context(), period))
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	s.sendJSONResponse(w, map[string]interface{}{"operations": s.analytics.Performance()})
}

func (s *Server) handleChannelRecommendation(w http.ResponseWriter, r *http.Request) {
	result := s.analytics.GetChannelRecommendation(r.Context())
	if result == nil {
		s.sendInsufficient(w, "No channel recommendation available; a current sample and a channel scan are required.")
		return
	}
	s.sendJSONResponse(w, result)
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	predictions := s.analytics.PredictIssues(r.Context())
	if predictions == nil {
		predictions = []pkg.Prediction{}
	}
	s.sendJSONResponse(w, map[string]interface{}{"predictions": predictions})
}

func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	s.sendJSONResponse(w, s.analytics.GetEngineStatus(r.Context()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	result := s.analytics.GetHealth(r.Context())
	if result == nil {
		s.sendInsufficient(w, "No samples collected yet.")
		return
	}
	s.sendJSONResponse(w, result)
}

func (s *Server) handleSpeedTest(w http.ResponseWriter, r *http.Request) {
	if s.speedTests == nil {
		s.sendErrorResponse(w, http.StatusNotImplemented, "speed test ingestion disabled", nil)
		return
	}

	var test pkg.SpeedTestSample
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&test); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "invalid speed test", err)
		return
	}
	if test.DownloadMbps < 0 || test.UploadMbps < 0 || test.LatencyMS < 0 {
		s.sendErrorResponse(w, http.StatusBadRequest, "speed test values must not be negative", nil)
		return
	}
	if test.Timestamp.IsZero() {
		test.Timestamp = time.Now()
	}

	if err := s.speedTests.AddSpeedTest(r.Context(), test); err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, "failed to store speed test", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, test)
}

func (s *Server) sendInsufficient(w http.ResponseWriter, message string) {
	s.sendJSONResponse(w, InsufficientData{InsufficientData: true, Message: message})
}

func (s *Server) sendJSONResponse(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, data)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"success": false,
		"error":   message,
	}
	if err != nil {
		response["details"] = err.Error()
	}

	s.writeJSON(w, statusCode, response)
}
