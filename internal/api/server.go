// Package api exposes the engine over HTTP and WebSocket: status and
// exposure reads, breaker controls, and a live event stream.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/atlas-desktop/decision-engine/internal/breaker"
	"github.com/atlas-desktop/decision-engine/internal/engine"
	"github.com/atlas-desktop/decision-engine/internal/notify"
	"github.com/atlas-desktop/decision-engine/pkg/types"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the HTTP/WebSocket control surface for the engine.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	clients    map[string]*Client

	engine   *engine.Engine
	notifier *notify.Notifier
	registry *prometheus.Registry
}

// NewServer creates the API server.
func NewServer(logger *zap.Logger, config *types.ServerConfig, eng *engine.Engine, notifier *notify.Notifier, registry *prometheus.Registry) *Server {
	server := &Server{
		logger:   logger.Named("api"),
		config:   config,
		router:   mux.NewRouter(),
		clients:  make(map[string]*Client),
		engine:   eng,
		notifier: notifier,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")

	s.router.HandleFunc("/api/v1/breaker", s.handleBreakerStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/breaker/force-recovery", s.handleForceRecovery).Methods("POST")
	s.router.HandleFunc("/api/v1/breaker/override", s.handleOverride).Methods("POST")
	s.router.HandleFunc("/api/v1/breaker/override", s.handleClearOverride).Methods("DELETE")

	if s.config.EnableMetrics && s.registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, client := range s.clients {
		client.Conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleBreakerStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Status().Breaker)
}

func (s *Server) handleForceRecovery(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ForceRecovery(); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Status().Breaker)
}

type overrideRequest struct {
	Level string `json:"level"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	level, ok := parseLevel(req.Level)
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown level %q", req.Level))
		return
	}
	if err := s.engine.ManualOverride(level); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.engine.Status().Breaker)
}

func (s *Server) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearOverride()
	s.writeJSON(w, http.StatusOK, s.engine.Status().Breaker)
}

func parseLevel(name string) (breaker.Level, bool) {
	switch name {
	case "CLOSED":
		return breaker.Closed, true
	case "ALERT":
		return breaker.Alert, true
	case "THROTTLE":
		return breaker.Throttle, true
	case "HALT":
		return breaker.Halt, true
	case "SHUTDOWN":
		return breaker.Shutdown, true
	default:
		return breaker.Closed, false
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
