package types

import (
	"context"
	"time"

	"github.com/arloliu/pullsub/distribution"
	"github.com/arloliu/pullsub/flowcontrol"
)

// FailureEvent describes a fatal failure of a single stream connection.
//
// Exactly one event is emitted per connection over its Failed channel when
// it enters ConnStateFailed. The subscriber group is the sole consumer.
type FailureEvent struct {
	// ConnectionID identifies the failed connection.
	ConnectionID string

	// Cause is the fatal error that terminated the connection.
	Cause error

	// At is the time the connection entered the failed state.
	At time.Time
}

// StreamConnection is one long-lived streaming channel to the broker.
//
// The subscriber group owns N StreamConnections sharing one flow controller
// and one latency distribution. The group dispatches Start, Stop and
// UpdateDeadline concurrently across connections and never serializes
// per-connection work.
//
// Implementations must guarantee:
//   - Start blocks until the connection is running or has failed, and
//     returns the failure cause in the latter case.
//   - Stop on an already-failed connection is a no-op returning nil.
//   - Exactly one FailureEvent is ever sent on the Failed channel.
type StreamConnection interface {
	// ID returns a stable identifier for logging and failure attribution.
	ID() string

	// Start establishes the transport and begins pulling messages.
	// It returns once the connection is running, or the cause once it
	// has transitioned to ConnStateFailed.
	Start(ctx context.Context) error

	// Stop requests a graceful drain and blocks until complete or ctx
	// expires. Calling Stop on a failed connection returns nil.
	Stop(ctx context.Context) error

	// UpdateDeadline asynchronously informs the connection of a new ack
	// deadline in seconds, used for subsequent extend operations on
	// in-flight messages. No acknowledgment is provided.
	UpdateDeadline(seconds int)

	// Failed returns the single-listener failure side-channel. The channel
	// is buffered; the send never blocks the connection.
	Failed() <-chan FailureEvent

	// State returns the current connection state.
	State() ConnState
}

// Shared carries the group-owned resources every connection borrows.
//
// Connections hold non-owning references: the group creates and retains
// ownership of the flow controller and the latency distribution.
type Shared struct {
	// Flow gates admission of new messages across all connections.
	Flow *flowcontrol.Load

	// Latency accumulates observed ack latencies in whole seconds.
	Latency *distribution.Distribution

	// DeadlineSeconds is the initial ack deadline for the connection.
	DeadlineSeconds int

	// PaddingSeconds is subtracted from the deadline when scheduling
	// extend operations, so extensions land before expiry.
	PaddingSeconds int
}

// ConnectionFactory produces the stream connections a subscriber group owns.
//
// The group calls NewConnection once per configured connection during
// construction. Implementations typically close over transport settings
// (broker URL, credentials, receiver callback) and use Shared for the
// group-owned resources.
type ConnectionFactory interface {
	// NewConnection creates the index-th connection of the group.
	NewConnection(index int, shared Shared) (StreamConnection, error)
}

// ConnectionFactoryFunc is a function adapter for ConnectionFactory.
type ConnectionFactoryFunc func(index int, shared Shared) (StreamConnection, error)

// NewConnection implements ConnectionFactory.
func (f ConnectionFactoryFunc) NewConnection(index int, shared Shared) (StreamConnection, error) {
	return f(index, shared)
}
