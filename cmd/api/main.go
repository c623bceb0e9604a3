package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rzzdr/qdfp-pricer/config"
	"github.com/rzzdr/qdfp-pricer/internal/adapters"
	"github.com/rzzdr/qdfp-pricer/internal/american"
	"github.com/rzzdr/qdfp-pricer/internal/pricing"
	"github.com/rzzdr/qdfp-pricer/internal/websocket"
	"github.com/rzzdr/qdfp-pricer/pkg/api"
	"github.com/rzzdr/qdfp-pricer/pkg/metrics"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/logger"
)

var (
	configFile = flag.String("config", config.GetConfigPath(), "Path to configuration file")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.GetLogger("api.main").Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.App.LogLevel, cfg.App.Environment)
	log := logger.GetLogger("api.main")
	defer log.Sync()

	log.Infow("Starting American option pricing API", "scheme", cfg.Pricing.Scheme, "equation", cfg.Pricing.Equation)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := metrics.NewRegistry()
	recorder := metrics.NewRecorder(registry)

	opts, err := cfg.Pricing.EngineOptions()
	if err != nil {
		log.Fatalf("Invalid pricing configuration: %v", err)
	}
	opts = append(opts, american.WithRecorder(adapters.NewMetricsAdapter(recorder)))

	engine, err := american.NewEngine(opts...)
	if err != nil {
		log.Fatalf("Failed to create pricing engine: %v", err)
	}

	service := pricing.NewService(cfg.Pricing.ServiceConfig(), engine, recorder)

	hub := websocket.NewHub(service, recorder)
	go hub.Run(ctx)

	server := api.NewServer(
		api.Config{
			Host:           cfg.API.Host,
			Port:           cfg.API.Port,
			ReadTimeout:    cfg.API.ReadTimeout,
			WriteTimeout:   cfg.API.WriteTimeout,
			RequestTimeout: cfg.API.RequestTimeout,
			RateLimit:      cfg.API.RateLimit,
			RateBurst:      cfg.API.RateBurst,
			CORS: api.CORSConfig{
				AllowedOrigins: cfg.API.CORS.AllowedOrigins,
				AllowedMethods: cfg.API.CORS.AllowedMethods,
				AllowedHeaders: cfg.API.CORS.AllowedHeaders,
			},
		},
		service,
		hub,
		recorder,
		registry,
	)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	var promServer *metrics.PrometheusServer
	if cfg.Metrics.Prometheus.Enabled {
		promServer = metrics.NewPrometheusServer(cfg.Metrics.Prometheus.Port, registry)
		go func() {
			if err := promServer.Start(); err != nil {
				log.Errorf("Prometheus server failed: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Infof("Received signal %v, initiating shutdown", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Errorf("API server shutdown error: %v", err)
	}
	if promServer != nil {
		if err := promServer.Stop(shutdownCtx); err != nil {
			log.Errorf("Prometheus server shutdown error: %v", err)
		}
	}
	cancel()

	log.Info("Shutdown complete")
}
