package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/pullsub/distribution"
	"github.com/arloliu/pullsub/flowcontrol"
	pullsubtest "github.com/arloliu/pullsub/testing"
	"github.com/arloliu/pullsub/types"
)

type providerFunc func(ctx context.Context) (*nats.Conn, error)

func (f providerFunc) Channel(ctx context.Context) (*nats.Conn, error) { return f(ctx) }

func testShared() types.Shared {
	return types.Shared{
		Flow:            flowcontrol.New(0, 0, false),
		Latency:         distribution.New(600),
		DeadlineSeconds: 10,
		PaddingSeconds:  0,
	}
}

func testStreamConfig() Config {
	return Config{
		Stream:       "EVENTS",
		Subscription: "worker",
		BatchSize:    4,
		FetchTimeout: time.Second,
	}
}

func TestConnection_PullAndAck(t *testing.T) {
	_, nc := pullsubtest.StartEmbeddedNATS(t)
	pullsubtest.CreateStream(t, nc, "EVENTS", "events.>")
	pullsubtest.PublishMessages(t, nc, "events.created", 10)

	var received atomic.Int32
	receiver := ReceiverFunc(func(_ context.Context, _ jetstream.Msg) error {
		received.Add(1)
		return nil
	})

	shared := testShared()
	cfg := testStreamConfig()
	factory, err := NewFactory(cfg, &DialProvider{URL: nc.ConnectedUrl()}, receiver)
	require.NoError(t, err)

	conn, err := factory.NewConnection(0, shared)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, conn.Start(ctx))
	require.Equal(t, types.ConnStateRunning, conn.State())

	require.Eventually(t, func() bool {
		return received.Load() == 10
	}, 10*time.Second, 20*time.Millisecond)

	// Acked messages recorded their latency into the shared distribution.
	require.Eventually(t, func() bool {
		return shared.Latency.Count() == 10
	}, 5*time.Second, 20*time.Millisecond)

	// All capacity was released once the messages settled.
	require.Eventually(t, func() bool {
		return shared.Flow.OutstandingMessages() == 0 && shared.Flow.OutstandingBytes() == 0
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, conn.Stop(ctx))
	require.Equal(t, types.ConnStateStopped, conn.State())
}

func TestConnection_SharedConsumerLoadBalances(t *testing.T) {
	_, nc := pullsubtest.StartEmbeddedNATS(t)
	pullsubtest.CreateStream(t, nc, "EVENTS", "events.>")
	pullsubtest.PublishMessages(t, nc, "events.created", 40)

	var received atomic.Int32
	receiver := ReceiverFunc(func(_ context.Context, _ jetstream.Msg) error {
		received.Add(1)
		return nil
	})

	shared := testShared()
	cfg := testStreamConfig()
	factory, err := NewFactory(cfg, &DialProvider{URL: nc.ConnectedUrl()}, receiver)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conns := make([]types.StreamConnection, 3)
	for i := range conns {
		conn, err := factory.NewConnection(i, shared)
		require.NoError(t, err)
		require.NoError(t, conn.Start(ctx))
		conns[i] = conn
	}

	// Three connections pulling one shared durable consumer: every message
	// is delivered exactly once across the group.
	require.Eventually(t, func() bool {
		return received.Load() == 40
	}, 10*time.Second, 20*time.Millisecond)

	for _, conn := range conns {
		require.NoError(t, conn.Stop(ctx))
	}
}

func TestConnection_ReceiverErrorTriggersRedelivery(t *testing.T) {
	_, nc := pullsubtest.StartEmbeddedNATS(t)
	pullsubtest.CreateStream(t, nc, "EVENTS", "events.>")
	pullsubtest.PublishMessages(t, nc, "events.created", 1)

	var attempts atomic.Int32
	receiver := ReceiverFunc(func(_ context.Context, _ jetstream.Msg) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient receiver error")
		}
		return nil
	})

	shared := testShared()
	cfg := testStreamConfig()
	factory, err := NewFactory(cfg, &DialProvider{URL: nc.ConnectedUrl()}, receiver)
	require.NoError(t, err)

	conn, err := factory.NewConnection(0, shared)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	require.NoError(t, conn.Start(ctx))
	defer func() { require.NoError(t, conn.Stop(ctx)) }()

	// The nak'd message comes back and succeeds on the second attempt.
	require.Eventually(t, func() bool {
		return attempts.Load() >= 2
	}, 10*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return shared.Latency.Count() == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestConnection_UpdateDeadlineAppliesToConsumer(t *testing.T) {
	_, nc := pullsubtest.StartEmbeddedNATS(t)
	pullsubtest.CreateStream(t, nc, "EVENTS", "events.>")

	receiver := ReceiverFunc(func(context.Context, jetstream.Msg) error { return nil })
	cfg := testStreamConfig()
	factory, err := NewFactory(cfg, &DialProvider{URL: nc.ConnectedUrl()}, receiver)
	require.NoError(t, err)

	conn, err := factory.NewConnection(0, testShared())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, conn.Start(ctx))
	defer func() { require.NoError(t, conn.Stop(ctx)) }()

	streamConn := conn.(*Connection)
	streamConn.UpdateDeadline(120)

	js, err := jetstream.New(nc)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		cons, err := js.Consumer(ctx, "EVENTS", "worker")
		if err != nil {
			return false
		}
		info, err := cons.Info(ctx)
		if err != nil {
			return false
		}
		return info.Config.AckWait == 120*time.Second
	}, 10*time.Second, 50*time.Millisecond)
}

func TestConnection_StartFailsOnProviderError(t *testing.T) {
	dialErr := errors.New("broker unreachable")
	provider := providerFunc(func(context.Context) (*nats.Conn, error) {
		return nil, dialErr
	})

	receiver := ReceiverFunc(func(context.Context, jetstream.Msg) error { return nil })
	factory, err := NewFactory(testStreamConfig(), provider, receiver)
	require.NoError(t, err)

	conn, err := factory.NewConnection(0, testShared())
	require.NoError(t, err)

	err = conn.Start(context.Background())
	require.ErrorIs(t, err, dialErr)
	require.Equal(t, types.ConnStateFailed, conn.State())

	// Exactly one failure event is emitted.
	select {
	case ev := <-conn.Failed():
		require.ErrorIs(t, ev.Cause, dialErr)
		require.Equal(t, conn.ID(), ev.ConnectionID)
	case <-time.After(time.Second):
		t.Fatal("expected a failure event")
	}

	// Stop on a failed connection is a no-op success.
	require.NoError(t, conn.Stop(context.Background()))
	require.Equal(t, types.ConnStateFailed, conn.State())
}

func TestConnection_StartFailsOnMissingStream(t *testing.T) {
	_, nc := pullsubtest.StartEmbeddedNATS(t)

	receiver := ReceiverFunc(func(context.Context, jetstream.Msg) error { return nil })
	cfg := testStreamConfig()
	cfg.Stream = "NO_SUCH_STREAM"
	cfg.MaxRetries = 1
	cfg.RetryBackoff = 10 * time.Millisecond
	cfg.RetryBackoffCap = 20 * time.Millisecond

	factory, err := NewFactory(cfg, &DialProvider{URL: nc.ConnectedUrl()}, receiver)
	require.NoError(t, err)

	conn, err := factory.NewConnection(0, testShared())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.Error(t, conn.Start(ctx))
	require.Equal(t, types.ConnStateFailed, conn.State())
}

func TestConnection_StopBeforeStart(t *testing.T) {
	receiver := ReceiverFunc(func(context.Context, jetstream.Msg) error { return nil })
	provider := providerFunc(func(context.Context) (*nats.Conn, error) {
		return nil, errors.New("unused")
	})

	factory, err := NewFactory(testStreamConfig(), provider, receiver)
	require.NoError(t, err)

	conn, err := factory.NewConnection(0, testShared())
	require.NoError(t, err)

	require.NoError(t, conn.Stop(context.Background()))
	require.Equal(t, types.ConnStateStopped, conn.State())

	require.ErrorIs(t, conn.Start(context.Background()), ErrAlreadyStarted)
}

func TestConnection_DoubleStart(t *testing.T) {
	_, nc := pullsubtest.StartEmbeddedNATS(t)
	pullsubtest.CreateStream(t, nc, "EVENTS", "events.>")

	receiver := ReceiverFunc(func(context.Context, jetstream.Msg) error { return nil })
	factory, err := NewFactory(testStreamConfig(), &DialProvider{URL: nc.ConnectedUrl()}, receiver)
	require.NoError(t, err)

	conn, err := factory.NewConnection(0, testShared())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, conn.Start(ctx))
	require.ErrorIs(t, conn.Start(ctx), ErrAlreadyStarted)
	require.NoError(t, conn.Stop(ctx))
}
