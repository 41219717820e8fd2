package stream

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"
)

// Receiver consumes delivered messages.
//
// The connection calls Receive once per message, concurrently across
// in-flight messages. While Receive runs, the connection periodically
// extends the broker-side ack deadline so slow receivers do not trigger
// premature redelivery.
//
// Disposition is driven by the return value: nil acknowledges the message
// and records its ack latency; a non-nil error negatively acknowledges it,
// leaving redelivery to the broker. Receivers should be idempotent, since
// redelivery can still occur after a missed deadline or transport failure.
type Receiver interface {
	// Receive processes one message. The ctx is cancelled when the owning
	// connection stops or fails.
	Receive(ctx context.Context, msg jetstream.Msg) error
}

// ReceiverFunc is a function adapter for Receiver.
type ReceiverFunc func(ctx context.Context, msg jetstream.Msg) error

// Receive implements Receiver.
func (f ReceiverFunc) Receive(ctx context.Context, msg jetstream.Msg) error {
	return f(ctx, msg)
}
