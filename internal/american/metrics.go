package american

import "time"

// MetricsRecorder receives pricing telemetry. Implementations must be safe for
// concurrent use.
type MetricsRecorder interface {
	RecordPricing(method Method, equation Equation, latency time.Duration)
	RecordFallback(from Method)
	RecordSolverFallbacks(count int)
	RecordRecoveredNodes(count int)
	RecordDivergence()
}

type noopRecorder struct{}

func (noopRecorder) RecordPricing(Method, Equation, time.Duration) {}
func (noopRecorder) RecordFallback(Method)                         {}
func (noopRecorder) RecordSolverFallbacks(int)                     {}
func (noopRecorder) RecordRecoveredNodes(int)                      {}
func (noopRecorder) RecordDivergence()                             {}
