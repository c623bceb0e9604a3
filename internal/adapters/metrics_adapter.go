package adapters

import (
	"time"

	"github.com/rzzdr/qdfp-pricer/internal/american"
	"github.com/rzzdr/qdfp-pricer/pkg/metrics"
)

// MetricsAdapter adapts *metrics.Recorder to satisfy the MetricsRecorder interface
// that the pricing engine expects
type MetricsAdapter struct {
	recorder *metrics.Recorder
}

var _ american.MetricsRecorder = (*MetricsAdapter)(nil) // Ensure MetricsAdapter implements american.MetricsRecorder

// NewMetricsAdapter creates a new MetricsAdapter
func NewMetricsAdapter(recorder *metrics.Recorder) *MetricsAdapter {
	return &MetricsAdapter{
		recorder: recorder,
	}
}

// RecordPricing implements american.MetricsRecorder interface
func (a *MetricsAdapter) RecordPricing(method american.Method, equation american.Equation, latency time.Duration) {
	if a.recorder != nil {
		a.recorder.RecordPricing(string(method), equation.String(), latency)
	}
}

// RecordFallback implements american.MetricsRecorder interface
func (a *MetricsAdapter) RecordFallback(from american.Method) {
	if a.recorder != nil {
		a.recorder.RecordFallback(string(from))
	}
}

// RecordSolverFallbacks implements american.MetricsRecorder interface
func (a *MetricsAdapter) RecordSolverFallbacks(count int) {
	if a.recorder != nil {
		a.recorder.RecordSolverFallbacks(count)
	}
}

// RecordRecoveredNodes implements american.MetricsRecorder interface
func (a *MetricsAdapter) RecordRecoveredNodes(count int) {
	if a.recorder != nil {
		a.recorder.RecordRecoveredNodes(count)
	}
}

// RecordDivergence implements american.MetricsRecorder interface
func (a *MetricsAdapter) RecordDivergence() {
	if a.recorder != nil {
		a.recorder.RecordDivergence()
	}
}
