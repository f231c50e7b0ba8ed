// Package api exposes the buffer subsystem over HTTP for playback clients
// and operators.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cinefront/cinefront/internal/engine"
	"github.com/cinefront/cinefront/pkg/errors"
	"github.com/cinefront/cinefront/pkg/types"
)

// maxBodySize bounds request bodies for config and predict calls
const maxBodySize = 1 << 20

// Subsystem is the part of the engine the API serves
type Subsystem interface {
	GetFromBuffer(id string) ([]byte, bool)
	QualityTier(bandwidth int64, resolution string) int
	AdaptiveBitrate(current int64, bufferHealth float64, observedSpeed int64) int64
	SetConfig(update types.ConfigUpdate) error
	Config() types.BufferConfig
	RunPredictionCycle(ctx context.Context, ic *types.InteractionContext) []types.PredictionCandidate
	Ready() <-chan struct{}
	Stats() engine.Stats
	ResetBreakers() bool
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8080")
	Address string `yaml:"address" json:"address"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
	}
}

// Server provides HTTP endpoints over a Subsystem
type Server struct {
	subsystem Subsystem
	config    ServerConfig
	logger    *slog.Logger
	handler   http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a new API server
func NewServer(config ServerConfig, subsystem Subsystem, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		subsystem: subsystem,
		config:    config,
		logger:    logger.With("component", "api"),
	}

	mux := http.NewServeMux()

	// Playback endpoints
	mux.HandleFunc("/buffer/", s.handleBuffer)
	mux.HandleFunc("/quality/tier", s.handleQualityTier)
	mux.HandleFunc("/quality/bitrate", s.handleAdaptiveBitrate)

	// Feed and operator endpoints
	mux.HandleFunc("/predict", s.handlePredict)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/breakers/reset", s.handleResetBreakers)

	// Health endpoints
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)

	mux.HandleFunc("/info", s.handleInfo)

	// Apply middleware
	handler := s.loggingMiddleware(mux)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}
	s.handler = handler

	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in the background
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.config.ReadTimeout,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	s.mu.Lock()
	s.httpServer = server
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address of a started server
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	s.logger.Info("Shutting down API server")
	return server.Shutdown(ctx)
}

// Playback endpoint handlers

func (s *Server) handleBuffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/buffer/")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Item ID required")
		return
	}

	data, ok := s.subsystem.GetFromBuffer(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("Not buffered: %s", id))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("Failed to write buffered payload", "id", id, "error", err)
	}
}

func (s *Server) handleQualityTier(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query := r.URL.Query()
	bandwidth, err := strconv.ParseInt(query.Get("bandwidth"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "bandwidth must be an integer")
		return
	}

	resolution := query.Get("resolution")
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"bandwidth":  bandwidth,
		"resolution": resolution,
		"tier":       s.subsystem.QualityTier(bandwidth, resolution),
	})
}

func (s *Server) handleAdaptiveBitrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query := r.URL.Query()
	current, err := strconv.ParseInt(query.Get("current"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "current must be an integer")
		return
	}
	health, err := strconv.ParseFloat(query.Get("health"), 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "health must be a number")
		return
	}
	speed, err := strconv.ParseInt(query.Get("speed"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "speed must be an integer")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"current": current,
		"bitrate": s.subsystem.AdaptiveBitrate(current, health, speed),
	})
}

// Feed and operator endpoint handlers

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var ic types.InteractionContext
	if err := decodeBody(r, &ic); err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid interaction context: %v", err))
		return
	}

	scheduled := s.subsystem.RunPredictionCycle(r.Context(), &ic)
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"scheduled": scheduled,
		"count":     len(scheduled),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.respondJSON(w, http.StatusOK, s.subsystem.Config())

	case http.MethodPut, http.MethodPatch, http.MethodPost:
		var update types.ConfigUpdate
		if err := decodeBody(r, &update); err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid config update: %v", err))
			return
		}
		if err := s.subsystem.SetConfig(update); err != nil {
			status := http.StatusInternalServerError
			if errors.IsCode(err, errors.ErrCodeConfigValidation) {
				status = http.StatusUnprocessableEntity
			}
			s.respondFailure(w, status, err)
			return
		}
		s.respondJSON(w, http.StatusOK, s.subsystem.Config())

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, s.subsystem.Stats())
}

func (s *Server) handleResetBreakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.subsystem.ResetBreakers() {
		s.respondError(w, http.StatusNotFound, "No origin circuit breakers configured")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"reset":     true,
		"breakers":  s.subsystem.Stats().Breakers,
		"timestamp": time.Now(),
	})
}

// Health endpoint handlers

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// The buffer answers misses during warm-up; ready reports that
	// initialization has finished.
	ready := false
	select {
	case <-s.subsystem.Ready():
		ready = true
	default:
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"timestamp": time.Now(),
	})
}

// Info endpoint

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "cinefront prefetch",
		"timestamp": time.Now(),
		"endpoints": []string{
			"/buffer/{id}",
			"/quality/tier",
			"/quality/bitrate",
			"/predict",
			"/config",
			"/status",
			"/breakers/reset",
			"/health/live",
			"/health/ready",
			"/info",
		},
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("API request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func decodeBody(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Debug("Error encoding JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}

// respondFailure writes a structured error body when err carries one
func (s *Server) respondFailure(w http.ResponseWriter, statusCode int, err error) {
	e, ok := err.(*errors.Error)
	if !ok {
		s.respondError(w, statusCode, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, werr := io.WriteString(w, e.JSON()); werr != nil {
		s.logger.Debug("Error writing error response", "error", werr)
	}
}
