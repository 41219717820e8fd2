// Package distribution provides the bounded latency histogram backing the
// subscriber group's ack-deadline adaptation loop.
//
// The loop sets the stream ack deadline from a high percentile of observed
// ack latencies rather than a mean, biasing toward avoiding premature
// redelivery of slow-but-legitimate acknowledgments.
package distribution
