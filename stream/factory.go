package stream

import (
	"github.com/arloliu/pullsub/types"
)

// Factory builds the JetStream-backed stream connections of a subscriber
// group. Every connection it produces pulls from the same shared durable
// consumer over its own transport handle, sharing the group's flow
// controller and latency distribution.
type Factory struct {
	cfg      Config
	provider ChannelProvider
	receiver Receiver
}

// Compile-time assertion that Factory implements ConnectionFactory.
var _ types.ConnectionFactory = (*Factory)(nil)

// NewFactory creates a connection factory for the given subscription.
//
// Parameters:
//   - cfg: Stream configuration; Stream and Subscription are required
//   - provider: Supplies one transport handle per connection
//   - receiver: Callback invoked for every delivered message
//
// Returns:
//   - *Factory: Initialized factory with defaults applied
//   - error: Configuration error
//
// Example:
//
//	factory, err := stream.NewFactory(stream.Config{
//	    Stream:       "EVENTS",
//	    Subscription: "billing-worker",
//	}, &stream.DialProvider{URL: nats.DefaultURL}, stream.ReceiverFunc(handle))
func NewFactory(cfg Config, provider ChannelProvider, receiver Receiver) (*Factory, error) {
	if provider == nil {
		return nil, ErrProviderRequired
	}
	if receiver == nil {
		return nil, ErrReceiverRequired
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &Factory{cfg: cfg, provider: provider, receiver: receiver}, nil
}

// NewConnection implements types.ConnectionFactory.
func (f *Factory) NewConnection(_ int, shared types.Shared) (types.StreamConnection, error) {
	return newConnection(f.cfg, f.provider, f.receiver, shared), nil
}
