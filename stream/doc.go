// Package stream implements the JetStream-backed stream connections owned
// by a subscriber group.
//
// A Connection wraps one explicit-ack pull consumer channel: it fetches
// messages in batches, reserves shared flow-control capacity before
// dispatching each message to the Receiver, periodically extends the ack
// deadline of in-flight messages, and records ack latencies into the
// group's shared distribution. The group updates the deadline through
// UpdateDeadline; the connection applies it both to its extension schedule
// and to the durable consumer's AckWait on the broker.
//
// Transport retry with jittered backoff is internal to the connection; a
// fatal failure (consecutive errors beyond the retry budget) is reported
// once over the Failed channel and triggers group-wide teardown.
package stream
