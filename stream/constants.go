package stream

import "time"

// Default configuration values for stream connections.
const (
	// DefaultBatchSize is the default number of messages to fetch per pull request.
	DefaultBatchSize = 16

	// DefaultFetchTimeout is the default maximum duration to wait for messages.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultMaxDeliver is the default maximum delivery attempts per message.
	DefaultMaxDeliver = 5

	// DefaultMaxRetries is the maximum number of consecutive transport
	// errors tolerated before a connection is declared failed.
	DefaultMaxRetries = 5

	// DefaultRetryBackoff is the base delay between transport retry attempts.
	DefaultRetryBackoff = 100 * time.Millisecond

	// DefaultRetryBackoffCap bounds the jittered retry delay.
	DefaultRetryBackoffCap = 5 * time.Second

	// DefaultInactiveThreshold is the default inactive consumer cleanup threshold.
	DefaultInactiveThreshold = 24 * time.Hour

	// deadlineApplyTimeout bounds the asynchronous consumer update issued
	// by UpdateDeadline.
	deadlineApplyTimeout = 10 * time.Second
)
