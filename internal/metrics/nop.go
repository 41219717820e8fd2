package metrics

import "github.com/arloliu/pullsub/types"

// NopMetrics implements types.MetricsCollector with no-op methods.
//
// This is the default when no collector is injected, eliminating nil
// checks throughout the codebase.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordStateTransition is a no-op.
func (m *NopMetrics) RecordStateTransition(_, _ types.State) {}

// RecordDeadlineUpdate is a no-op.
func (m *NopMetrics) RecordDeadlineUpdate(_ int) {}

// RecordAdaptationTick is a no-op.
func (m *NopMetrics) RecordAdaptationTick(_ int) {}

// RecordConnectionStart is a no-op.
func (m *NopMetrics) RecordConnectionStart(_ bool) {}

// RecordConnectionFailure is a no-op.
func (m *NopMetrics) RecordConnectionFailure() {}

// RecordMessage is a no-op.
func (m *NopMetrics) RecordMessage(_ int) {}

// RecordAckLatency is a no-op.
func (m *NopMetrics) RecordAckLatency(_ float64) {}

// RecordExtension is a no-op.
func (m *NopMetrics) RecordExtension() {}

// RecordOutstanding is a no-op.
func (m *NopMetrics) RecordOutstanding(_, _ int64) {}
