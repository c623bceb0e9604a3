package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rzzdr/qdfp-pricer/internal/pricing"
	"github.com/rzzdr/qdfp-pricer/internal/websocket"
	"github.com/rzzdr/qdfp-pricer/pkg/metrics"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/logger"
)

// Config holds the configuration for the API server
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	// RateLimit caps pricing requests per second; zero disables it
	RateLimit float64
	RateBurst int
	CORS      CORSConfig
}

// CORSConfig lists the allowed cross-origin values
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Server represents the API server
type Server struct {
	config     Config
	router     *gin.Engine
	httpServer *http.Server
	handlers   *Handlers
	hub        *websocket.Hub
	recorder   *metrics.Recorder
	gatherer   prometheus.Gatherer
	log        *logger.Logger
}

// NewServer creates a new API server. hub, recorder and gatherer may be nil,
// which disables the websocket stream, request metrics and /metrics.
func NewServer(config Config, service *pricing.Service, hub *websocket.Hub, recorder *metrics.Recorder, gatherer prometheus.Gatherer) *Server {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 30 * time.Second
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 20 * time.Second
	}

	var broadcaster Broadcaster
	if hub != nil {
		broadcaster = hub
	}

	server := &Server{
		config:   config,
		router:   gin.New(),
		handlers: NewHandlers(service, broadcaster),
		hub:      hub,
		recorder: recorder,
		gatherer: gatherer,
		log:      logger.GetLogger("api.server"),
	}

	server.setupRoutes()
	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server
}

// Handler returns the HTTP handler of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server and blocks until it is stopped
func (s *Server) Start() error {
	s.log.Infof("Starting API server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("Stopping API server")
	return s.httpServer.Shutdown(ctx)
}
