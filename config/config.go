package config

import (
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rzzdr/qdfp-pricer/internal/american"
	"github.com/rzzdr/qdfp-pricer/internal/kafka"
	"github.com/rzzdr/qdfp-pricer/internal/numeric"
	"github.com/rzzdr/qdfp-pricer/internal/pricing"
	"github.com/rzzdr/qdfp-pricer/internal/processor"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
)

// Config for the whole application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	API     APIConfig     `mapstructure:"api"`
	Pricing PricingConfig `mapstructure:"pricing"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// General application configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// Configuration for the API server
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	// RateLimit is the sustained requests per second; zero disables limiting
	RateLimit float64    `mapstructure:"rate_limit"`
	RateBurst int        `mapstructure:"rate_burst"`
	CORS      CORSConfig `mapstructure:"cors"`
}

// CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// Configuration for the pricing engine
type PricingConfig struct {
	// Scheme is fast, accurate, high_precision or custom
	Scheme string `mapstructure:"scheme"`
	// Equation is auto, A or B
	Equation     string             `mapstructure:"equation"`
	Workers      int                `mapstructure:"workers"`
	BatchWorkers int                `mapstructure:"batch_workers"`
	MaxBatchSize int                `mapstructure:"max_batch_size"`
	Custom       CustomSchemeConfig `mapstructure:"custom"`
	QdPlus       QdPlusConfig       `mapstructure:"qdplus"`
}

// Discretization used when the scheme is custom. A positive tolerance selects
// adaptive Gauss-Lobatto, otherwise Gauss-Legendre of the given order is used.
type CustomSchemeConfig struct {
	Nodes               int     `mapstructure:"nodes"`
	JacobiNewtonSteps   int     `mapstructure:"jacobi_newton_steps"`
	RichardsonSteps     int     `mapstructure:"richardson_steps"`
	FixedPointOrder     int     `mapstructure:"fixed_point_order"`
	FixedPointTolerance float64 `mapstructure:"fixed_point_tolerance"`
	PremiumOrder        int     `mapstructure:"premium_order"`
	PremiumTolerance    float64 `mapstructure:"premium_tolerance"`
	MaxEvaluations      int     `mapstructure:"max_evaluations"`
}

// QD+ boundary solver configuration
type QdPlusConfig struct {
	Solver        string  `mapstructure:"solver"`
	Tolerance     float64 `mapstructure:"tolerance"`
	MaxIterations int     `mapstructure:"max_iterations"`
	Nodes         int     `mapstructure:"nodes"`
}

// Configuration for Kafka
type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	StartOffset    string        `mapstructure:"start_offset"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks   string        `mapstructure:"required_acks"`
	Timeout        time.Duration `mapstructure:"timeout"`
	// HandlerRetryBackoff is the pause before a failed request is processed again
	HandlerRetryBackoff time.Duration     `mapstructure:"handler_retry_backoff"`
	Topics              KafkaTopicsConfig `mapstructure:"topics"`
	Publish             PublishConfig     `mapstructure:"publish"`
}

// Result publishing retry configuration
type PublishConfig struct {
	// BreakerFailures consecutive failures open the publish breaker; zero disables retries
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
}

// Kafka topics configuration
type KafkaTopicsConfig struct {
	Requests string `mapstructure:"requests"`
	Results  string `mapstructure:"results"`
}

// Configuration for metrics
type MetricsConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// Configuration for Prometheus metrics
type PrometheusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Load reads the configuration from path, when it exists, and from QDFP_*
// environment variables
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("QDFP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "qdfp-pricer")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.shutdown_timeout", "30s")
	v.SetDefault("api.request_timeout", "20s")
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("api.rate_burst", 100)
	v.SetDefault("api.cors.allowed_origins", []string{"*"})
	v.SetDefault("api.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("api.cors.allowed_headers", []string{"Authorization", "Content-Type"})

	// Pricing defaults
	v.SetDefault("pricing.scheme", "accurate")
	v.SetDefault("pricing.equation", "auto")
	v.SetDefault("pricing.workers", 1)
	v.SetDefault("pricing.batch_workers", 4)
	v.SetDefault("pricing.max_batch_size", 1000)
	v.SetDefault("pricing.custom.nodes", 14)
	v.SetDefault("pricing.custom.jacobi_newton_steps", 1)
	v.SetDefault("pricing.custom.richardson_steps", 4)
	v.SetDefault("pricing.custom.fixed_point_order", 25)
	v.SetDefault("pricing.custom.fixed_point_tolerance", 0.0)
	v.SetDefault("pricing.custom.premium_order", 0)
	v.SetDefault("pricing.custom.premium_tolerance", 1e-9)
	v.SetDefault("pricing.custom.max_evaluations", 100000)
	v.SetDefault("pricing.qdplus.solver", "halley")
	v.SetDefault("pricing.qdplus.tolerance", 1e-8)
	v.SetDefault("pricing.qdplus.max_iterations", 10)
	v.SetDefault("pricing.qdplus.nodes", 8)

	// Kafka defaults
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.group_id", "qdfp-pricer")
	v.SetDefault("kafka.start_offset", "earliest")
	v.SetDefault("kafka.commit_interval", "0s")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")
	v.SetDefault("kafka.required_acks", "all")
	v.SetDefault("kafka.timeout", "10s")
	v.SetDefault("kafka.handler_retry_backoff", "1s")
	v.SetDefault("kafka.topics.requests", "pricing.requests")
	v.SetDefault("kafka.topics.results", "pricing.results")
	v.SetDefault("kafka.publish.breaker_failures", 5)
	v.SetDefault("kafka.publish.breaker_cooldown", "5s")
	v.SetDefault("kafka.publish.retry_backoff", "250ms")

	// Metrics defaults
	v.SetDefault("metrics.prometheus.enabled", true)
	v.SetDefault("metrics.prometheus.port", 9090)
}

// GetConfigPath returns QDFP_CONFIG_PATH or the default location
func GetConfigPath() string {
	configPath := os.Getenv("QDFP_CONFIG_PATH")
	if configPath != "" {
		return configPath
	}

	return "./config/config.yaml"
}

// EngineOptions converts the pricing configuration to engine options
func (c PricingConfig) EngineOptions() ([]american.Option, error) {
	scheme, err := c.scheme()
	if err != nil {
		return nil, err
	}

	equation, err := american.ParseEquation(c.Equation)
	if err != nil {
		return nil, err
	}

	solver, err := american.ParseSolver(c.QdPlus.Solver)
	if err != nil {
		return nil, err
	}

	return []american.Option{
		american.WithScheme(scheme),
		american.WithEquation(equation),
		american.WithWorkers(c.Workers),
		american.WithQdPlus(american.QdPlusConfig{
			Solver:        solver,
			Tolerance:     c.QdPlus.Tolerance,
			MaxIterations: c.QdPlus.MaxIterations,
			Nodes:         c.QdPlus.Nodes,
		}),
	}, nil
}

// ServiceConfig returns the pricing service configuration
func (c PricingConfig) ServiceConfig() pricing.ServiceConfig {
	return pricing.ServiceConfig{
		BatchWorkers: c.BatchWorkers,
		MaxBatchSize: c.MaxBatchSize,
	}
}

func (c PricingConfig) scheme() (american.Scheme, error) {
	if !strings.EqualFold(strings.TrimSpace(c.Scheme), "custom") {
		return american.ParseScheme(c.Scheme)
	}

	cs := c.Custom
	fixedPoint, err := integrator(cs.FixedPointOrder, cs.FixedPointTolerance, cs.MaxEvaluations)
	if err != nil {
		return american.Scheme{}, errors.Wrap(err, "fixed-point integrator")
	}
	premium, err := integrator(cs.PremiumOrder, cs.PremiumTolerance, cs.MaxEvaluations)
	if err != nil {
		return american.Scheme{}, errors.Wrap(err, "premium integrator")
	}
	return american.NewScheme("custom", cs.Nodes, cs.JacobiNewtonSteps, cs.RichardsonSteps, fixedPoint, premium)
}

func integrator(order int, tolerance float64, maxEvaluations int) (numeric.Integrator, error) {
	if tolerance > 0 {
		return numeric.NewGaussLobatto(maxEvaluations, tolerance, 0)
	}
	return numeric.NewGaussLegendre(order)
}

// ClientConfig returns the kafka client configuration
func (c KafkaConfig) ClientConfig() *kafka.Config {
	return &kafka.Config{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		StartOffset:    c.StartOffset,
		CommitInterval: c.CommitInterval,
		BatchSize:      c.BatchSize,
		BatchTimeout:   c.BatchTimeout,
		DefaultTimeout: c.Timeout,
		RequiredAcks:   c.RequiredAcks,
		RetryBackoff:   c.HandlerRetryBackoff,
	}
}

// ProcessorConfig builds the request processor configuration
func (c KafkaConfig) ProcessorConfig() processor.ProcessorConfig {
	return processor.ProcessorConfig{
		RequestTopic:    c.Topics.Requests,
		ResultTopic:     c.Topics.Results,
		PublishFailures: uint32(max(c.Publish.BreakerFailures, 0)),
		PublishCooldown: c.Publish.BreakerCooldown,
		RetryBackoff:    c.Publish.RetryBackoff,
	}
}
