package stream

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// ChannelProvider supplies per-connection transport handles.
//
// The factory requests one channel per stream connection, so each
// connection pulls over its own socket. The connection takes ownership of
// the returned handle and drains or closes it on shutdown.
type ChannelProvider interface {
	// Channel produces a new, usable transport handle.
	Channel(ctx context.Context) (*nats.Conn, error)
}

// DialProvider is the default ChannelProvider: it dials the configured URL
// once per connection, applying any extra client options (credentials,
// TLS, reconnect tuning).
type DialProvider struct {
	// URL is the broker address. Empty means nats.DefaultURL.
	URL string

	// Options are applied to every dialed connection.
	Options []nats.Option
}

// Channel dials a new connection to the broker.
func (p *DialProvider) Channel(_ context.Context) (*nats.Conn, error) {
	url := p.URL
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, p.Options...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	return nc, nil
}
