package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzzdr/qdfp-pricer/internal/american"
	"github.com/rzzdr/qdfp-pricer/pkg/utils/errors"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "qdfp-pricer", cfg.App.Name)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, 30*time.Second, cfg.API.ShutdownTimeout)
	assert.Equal(t, "accurate", cfg.Pricing.Scheme)
	assert.Equal(t, 1e-8, cfg.Pricing.QdPlus.Tolerance)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "pricing.requests", cfg.Kafka.Topics.Requests)
	assert.Equal(t, 10*time.Millisecond, cfg.Kafka.BatchTimeout)
	assert.True(t, cfg.Metrics.Prometheus.Enabled)
	assert.Zero(t, cfg.API.RateLimit)
	assert.Equal(t, 100, cfg.API.RateBurst)
}

func TestLoadRepositoryConfig(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, []string{"GET", "POST", "OPTIONS"}, cfg.API.CORS.AllowedMethods)
	assert.Equal(t, 14, cfg.Pricing.Custom.Nodes)

	opts, err := cfg.Pricing.EngineOptions()
	require.NoError(t, err)
	e, err := american.NewEngine(opts...)
	require.NoError(t, err)
	assert.Equal(t, "accurate", e.Scheme().Name)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  log_level: debug
pricing:
  scheme: fast
  equation: B
  qdplus:
    solver: super_halley
kafka:
  topics:
    results: custom.results
`), 0o600))

	t.Setenv("QDFP_API_PORT", "9999")
	t.Setenv("QDFP_PRICING_WORKERS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 9999, cfg.API.Port)
	assert.Equal(t, 3, cfg.Pricing.Workers)
	assert.Equal(t, "custom.results", cfg.Kafka.Topics.Results)
	assert.Equal(t, "pricing.requests", cfg.Kafka.Topics.Requests)

	opts, err := cfg.Pricing.EngineOptions()
	require.NoError(t, err)
	e, err := american.NewEngine(opts...)
	require.NoError(t, err)
	assert.Equal(t, "fast", e.Scheme().Name)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pricing: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestCustomScheme(t *testing.T) {
	c := PricingConfig{
		Scheme:   "custom",
		Equation: "auto",
		Workers:  2,
		Custom: CustomSchemeConfig{
			Nodes: 10, JacobiNewtonSteps: 1, RichardsonSteps: 2,
			FixedPointOrder: 12, PremiumTolerance: 1e-9, MaxEvaluations: 5000,
		},
		QdPlus: QdPlusConfig{Solver: "halley", Tolerance: 1e-8, MaxIterations: 10, Nodes: 8},
	}

	s, err := c.scheme()
	require.NoError(t, err)
	assert.Equal(t, "custom", s.Name)
	assert.Equal(t, 10, s.Nodes)

	opts, err := c.EngineOptions()
	require.NoError(t, err)
	_, err = american.NewEngine(opts...)
	require.NoError(t, err)

	c.Custom.FixedPointOrder = 0
	_, err = c.scheme()
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
}

func TestEngineOptionsRejectUnknownNames(t *testing.T) {
	base := PricingConfig{Scheme: "fast", Equation: "auto", QdPlus: QdPlusConfig{Solver: "halley"}}

	bad := base
	bad.Scheme = "fastest"
	_, err := bad.EngineOptions()
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))

	bad = base
	bad.Equation = "C"
	_, err = bad.EngineOptions()
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))

	bad = base
	bad.QdPlus.Solver = "newton"
	_, err = bad.EngineOptions()
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidInput))
}

func TestKafkaClientConfig(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	kc := cfg.Kafka.ClientConfig()
	assert.Equal(t, cfg.Kafka.Brokers, kc.Brokers)
	assert.Equal(t, "qdfp-pricer", kc.GroupID)
	assert.Equal(t, 10*time.Second, kc.DefaultTimeout)
	assert.Equal(t, time.Second, kc.RetryBackoff)

	sc := cfg.Pricing.ServiceConfig()
	assert.Equal(t, 4, sc.BatchWorkers)

	pc := cfg.Kafka.ProcessorConfig()
	assert.Equal(t, "pricing.requests", pc.RequestTopic)
	assert.Equal(t, "pricing.results", pc.ResultTopic)
	assert.Equal(t, uint32(5), pc.PublishFailures)
	assert.Equal(t, 5*time.Second, pc.PublishCooldown)
	assert.Equal(t, 250*time.Millisecond, pc.RetryBackoff)
}
