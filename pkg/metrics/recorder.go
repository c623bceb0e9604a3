package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder handles metrics recording and exposure
type Recorder struct {
	// API metrics
	apiRequestCounter   *prometheus.CounterVec
	apiLatencyHistogram *prometheus.HistogramVec

	// Pricing metrics
	pricingCounter      *prometheus.CounterVec
	pricingLatency      *prometheus.HistogramVec
	fallbackCounter     *prometheus.CounterVec
	solverFallbacks     prometheus.Counter
	recoveredNodes      prometheus.Counter
	divergenceCounter   prometheus.Counter
	pricingErrorCounter *prometheus.CounterVec

	// Streaming metrics
	kafkaMessageCounter *prometheus.CounterVec
	kafkaLagGauge       *prometheus.GaugeVec
	wsClientsGauge      prometheus.Gauge
}

// NewRecorder creates a recorder whose metrics are registered with reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		// API metrics
		apiRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qdfp_api_requests_total",
				Help: "The total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		apiLatencyHistogram: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qdfp_api_latency_seconds",
				Help:    "API request latency distribution",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15), // From 0.1ms to ~1.6s
			},
			[]string{"method", "path"},
		),

		// Pricing metrics
		pricingCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qdfp_pricings_total",
				Help: "The total number of priced options by method and equation",
			},
			[]string{"method", "equation"},
		),
		pricingLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "qdfp_pricing_latency_seconds",
				Help:    "Single option pricing latency distribution",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16), // From 10µs to ~0.3s
			},
			[]string{"method"},
		),
		fallbackCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qdfp_fallbacks_total",
				Help: "Pricing stages that failed and passed to the next fallback",
			},
			[]string{"from"},
		),
		solverFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "qdfp_qdplus_brent_fallbacks_total",
				Help: "QD+ boundary nodes that needed the bracketed Brent search",
			},
		),
		recoveredNodes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "qdfp_recovered_nodes_total",
				Help: "Fixed-point node updates replaced by the previous iterate",
			},
		),
		divergenceCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "qdfp_divergences_total",
				Help: "Fixed-point iterations stopped by the divergence guard",
			},
		),
		pricingErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qdfp_pricing_errors_total",
				Help: "Pricing requests rejected or failed by error type",
			},
			[]string{"type"},
		),

		// Streaming metrics
		kafkaMessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "qdfp_kafka_messages_total",
				Help: "Kafka messages handled by topic and outcome",
			},
			[]string{"topic", "outcome"},
		),
		kafkaLagGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "qdfp_kafka_consumer_lag",
				Help: "Kafka consumer lag (messages)",
			},
			[]string{"topic", "group_id"},
		),
		wsClientsGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "qdfp_websocket_clients",
				Help: "Number of connected websocket clients",
			},
		),
	}
}

// RecordAPIRequest records metrics for an API request
func (r *Recorder) RecordAPIRequest(method, path string, status int, latency time.Duration) {
	r.apiRequestCounter.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.apiLatencyHistogram.WithLabelValues(method, path).Observe(latency.Seconds())
}

// RecordPricing records one priced option
func (r *Recorder) RecordPricing(method, equation string, latency time.Duration) {
	r.pricingCounter.WithLabelValues(method, equation).Inc()
	r.pricingLatency.WithLabelValues(method).Observe(latency.Seconds())
}

// RecordFallback records a pricing stage that did not produce a price
func (r *Recorder) RecordFallback(from string) {
	r.fallbackCounter.WithLabelValues(from).Inc()
}

// RecordSolverFallbacks adds QD+ nodes that were solved by Brent
func (r *Recorder) RecordSolverFallbacks(count int) {
	if count > 0 {
		r.solverFallbacks.Add(float64(count))
	}
}

// RecordRecoveredNodes adds fixed-point nodes that kept their previous value
func (r *Recorder) RecordRecoveredNodes(count int) {
	if count > 0 {
		r.recoveredNodes.Add(float64(count))
	}
}

// RecordDivergence records a stopped iteration
func (r *Recorder) RecordDivergence() {
	r.divergenceCounter.Inc()
}

// RecordPricingError records a failed pricing request
func (r *Recorder) RecordPricingError(errType string) {
	r.pricingErrorCounter.WithLabelValues(errType).Inc()
}

// RecordKafkaMessage records a consumed or produced message
func (r *Recorder) RecordKafkaMessage(topic, outcome string) {
	r.kafkaMessageCounter.WithLabelValues(topic, outcome).Inc()
}

// RecordKafkaLag records the current consumer lag for a topic
func (r *Recorder) RecordKafkaLag(topic, groupID string, lag int64) {
	r.kafkaLagGauge.WithLabelValues(topic, groupID).Set(float64(lag))
}

// RecordWebsocketClients records the number of connected websocket clients
func (r *Recorder) RecordWebsocketClients(count int) {
	r.wsClientsGauge.Set(float64(count))
}
