package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rzzdr/qdfp-pricer/config"
	"github.com/rzzdr/qdfp-pricer/internal/adapters"
	"github.com/rzzdr/qdfp-pricer/internal/american"
	"github.com/rzzdr/qdfp-pricer/internal/kafka"
	"github.com/rzzdr/qdfp-pricer/internal/pricing"
	"github.com/rzzdr/qdfp-pricer/internal/processor"
	"github.com/rzzdr/qdfp-pricer/internal/websocket"
	"github.com/rzzdr/qdfp-pricer/pkg/metrics"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/logger"
)

var (
	configFile  = flag.String("config", config.GetConfigPath(), "Path to configuration file")
	createTopic = flag.Bool("create-topics", false, "Create the request and result topics before consuming")
	partitions  = flag.Int("partitions", 3, "Partitions of topics created with -create-topics")
	wsAddr      = flag.String("ws-addr", "", "Serve published results over a websocket on this address")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.GetLogger("processor.main").Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.App.LogLevel, cfg.App.Environment)
	log := logger.GetLogger("processor.main")
	defer log.Sync()

	log.Infow("Starting American option pricing processor",
		"brokers", cfg.Kafka.Brokers,
		"requests", cfg.Kafka.Topics.Requests,
		"results", cfg.Kafka.Topics.Results,
	)

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

	kafkaClient, err := kafka.NewClient(cfg.Kafka.ClientConfig())
	if err != nil {
		log.Fatalf("Failed to create Kafka client: %v", err)
	}

	if *createTopic {
		topicCtx, topicCancel := context.WithTimeout(ctx, 30*time.Second)
		for _, topic := range []string{cfg.Kafka.Topics.Requests, cfg.Kafka.Topics.Results} {
			if err := kafkaClient.EnsureTopicExists(topicCtx, topic, *partitions, 1); err != nil {
				log.Fatalf("Failed to create topic %s: %v", topic, err)
			}
		}
		topicCancel()
	}

	consumer, err := kafkaClient.NewConsumer(cfg.Kafka.Topics.Requests)
	if err != nil {
		log.Fatalf("Failed to create Kafka consumer: %v", err)
	}
	consumer.WithLagRecorder(recorder)

	producer, err := kafkaClient.NewProducer(cfg.Kafka.Topics.Results)
	if err != nil {
		log.Fatalf("Failed to create Kafka producer: %v", err)
	}

	proc := processor.NewProcessor(
		cfg.Kafka.ProcessorConfig(),
		consumer,
		producer,
		service,
		recorder,
	)

	var wsServer *http.Server
	if *wsAddr != "" {
		hub := websocket.NewHub(service, recorder)
		go hub.Run(ctx)
		proc.SetBroadcaster(hub)

		mux := http.NewServeMux()
		mux.HandleFunc("/ws/results", hub.HandleWebSocket)
		wsServer = &http.Server{Addr: *wsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			log.Infof("Streaming results on ws://%s/ws/results", *wsAddr)
			if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("Websocket server failed: %v", err)
			}
		}()
	}

	if err := proc.Start(ctx); err != nil {
		log.Fatalf("Failed to start processor: %v", err)
	}

	var promServer *metrics.PrometheusServer
	if cfg.Metrics.Prometheus.Enabled {
		promServer = metrics.NewPrometheusServer(cfg.Metrics.Prometheus.Port, registry)
		go func() {
			if err := promServer.Start(); err != nil {
				log.Errorf("Prometheus server failed: %v", err)
			}
		}()
	}

	log.Info("Processor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Infof("Received signal %v, initiating shutdown", sig)

	if err := proc.Stop(); err != nil {
		log.Errorf("Processor shutdown error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if wsServer != nil {
		if err := wsServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Websocket server shutdown error: %v", err)
		}
	}
	if promServer != nil {
		if err := promServer.Stop(shutdownCtx); err != nil {
			log.Errorf("Prometheus server shutdown error: %v", err)
		}
	}

	if err := kafkaClient.Close(); err != nil {
		log.Errorf("Kafka client shutdown error: %v", err)
	}

	log.Info("Shutdown complete")
}
