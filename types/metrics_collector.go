package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods are called from internal goroutines and must be thread-safe.
//
// This interface composes smaller, domain-focused interfaces for better modularity.
type MetricsCollector interface {
	SubscriberMetrics
	ConnectionMetrics
	FlowMetrics
}

// SubscriberMetrics defines metrics for group-level operations.
type SubscriberMetrics interface {
	// RecordStateTransition records a subscriber group state transition.
	RecordStateTransition(from, to State)

	// RecordDeadlineUpdate records a new stream ack deadline pushed to connections.
	RecordDeadlineUpdate(seconds int)

	// RecordAdaptationTick records one run of the deadline adaptation loop.
	//
	// Parameters:
	//   - percentileSeconds: The observed tail latency in seconds (0 when no samples existed)
	RecordAdaptationTick(percentileSeconds int)
}

// ConnectionMetrics defines metrics for individual stream connections.
type ConnectionMetrics interface {
	// RecordConnectionStart records the outcome of a connection start attempt.
	RecordConnectionStart(success bool)

	// RecordConnectionFailure records a fatal connection failure.
	RecordConnectionFailure()

	// RecordMessage records receipt of one message of the given size.
	RecordMessage(bytes int)

	// RecordAckLatency records the time from delivery to acknowledgment.
	RecordAckLatency(seconds float64)

	// RecordExtension records one ack-deadline extension of an in-flight message.
	RecordExtension()
}

// FlowMetrics defines metrics for the shared flow controller.
type FlowMetrics interface {
	// RecordOutstanding sets the current aggregate unacknowledged load (gauge).
	RecordOutstanding(messages, bytes int64)
}
