package stream

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/pullsub/distribution"
	"github.com/arloliu/pullsub/flowcontrol"
	"github.com/arloliu/pullsub/types"
)

// Connection is one physical pull channel of a subscriber group.
//
// Every connection of a group pulls from the same shared durable consumer,
// so the broker load-balances messages across connections. Each connection
// owns its transport handle, reserves flow-control capacity before
// dispatching a message, extends the ack deadline of in-flight messages,
// and records observed ack latencies into the group's shared distribution.
type Connection struct {
	id       string
	cfg      Config
	provider ChannelProvider
	receiver Receiver
	logger   types.Logger
	metrics  types.MetricsCollector

	flow    *flowcontrol.Load
	latency *distribution.Distribution

	deadlineSeconds atomic.Int64
	paddingSeconds  int

	state atomic.Int32

	mu       sync.Mutex
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	failOnce sync.Once
	failedCh chan types.FailureEvent

	rng *rand.Rand
}

// Compile-time assertion that Connection implements StreamConnection.
var _ types.StreamConnection = (*Connection)(nil)

func newConnection(cfg Config, provider ChannelProvider, receiver Receiver, shared types.Shared) *Connection {
	c := &Connection{
		id:             uuid.NewString(),
		cfg:            cfg,
		provider:       provider,
		receiver:       receiver,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		flow:           shared.Flow,
		latency:        shared.Latency,
		paddingSeconds: shared.PaddingSeconds,
		failedCh:       make(chan types.FailureEvent, 1),
		rng:            newRetryRNG(cfg.RetrySeed),
	}
	c.deadlineSeconds.Store(int64(shared.DeadlineSeconds))
	c.state.Store(int32(types.ConnStateCreated))

	return c
}

// ID returns the connection's stable identifier.
func (c *Connection) ID() string { return c.id }

// State returns the current connection state.
func (c *Connection) State() types.ConnState {
	return types.ConnState(c.state.Load())
}

// Failed returns the single-listener failure side-channel.
func (c *Connection) Failed() <-chan types.FailureEvent {
	return c.failedCh
}

// Start provisions the transport, ensures the shared durable consumer
// exists, and launches the pull loop. It returns once the connection is
// running, or the cause if establishing the transport failed; in that case
// the connection is left in the failed state.
func (c *Connection) Start(ctx context.Context) error {
	if !c.transition(types.ConnStateCreated, types.ConnStateStarting) {
		return ErrAlreadyStarted
	}

	nc, err := c.provider.Channel(ctx)
	if err != nil {
		err = fmt.Errorf("failed to provision channel: %w", err)
		c.fail(err)
		c.metrics.RecordConnectionStart(false)

		return err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		err = fmt.Errorf("failed to create jetstream context: %w", err)
		c.fail(err)
		c.metrics.RecordConnectionStart(false)

		return err
	}

	c.mu.Lock()
	c.nc = nc
	c.js = js
	c.mu.Unlock()

	cons, err := c.ensureConsumer(ctx, int(c.deadlineSeconds.Load()))
	if err != nil {
		nc.Close()
		c.fail(err)
		c.metrics.RecordConnectionStart(false)

		return err
	}

	c.mu.Lock()
	c.consumer = cons
	// Pull loop lifetime is decoupled from the caller's ctx; cancellation
	// happens via Stop or fail.
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(c.ctx)

	c.transition(types.ConnStateStarting, types.ConnStateRunning)
	c.metrics.RecordConnectionStart(true)
	c.logger.Debug("stream connection running",
		"connection_id", c.id,
		"subscription", c.cfg.Subscription,
	)

	return nil
}

// Stop requests a graceful drain and blocks until in-flight messages are
// settled or ctx expires. Stopping an already-failed connection is a no-op
// returning nil.
func (c *Connection) Stop(ctx context.Context) error {
	// A concurrent Start settles into Running or Failed; wait it out so the
	// drain below sees a stable state.
	for c.State() == types.ConnStateStarting {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	switch c.State() {
	case types.ConnStateFailed, types.ConnStateStopped:
		return nil
	case types.ConnStateCreated:
		c.transition(types.ConnStateCreated, types.ConnStateStopped)
		return nil
	default:
	}

	if !c.transition(types.ConnStateRunning, types.ConnStateStopping) {
		// Lost the race against a concurrent Stop or a failure; both are
		// fine to report as complete.
		return nil
	}

	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("stream connection stop timed out", "connection_id", c.id)
		return ctx.Err()
	}

	c.mu.Lock()
	nc := c.nc
	c.nc = nil
	c.mu.Unlock()
	if nc != nil {
		if err := nc.Drain(); err != nil {
			c.logger.Warn("failed to drain transport", "connection_id", c.id, "error", err)
		}
	}

	c.transition(types.ConnStateStopping, types.ConnStateStopped)
	c.logger.Debug("stream connection stopped", "connection_id", c.id)

	return nil
}

// UpdateDeadline asynchronously applies a new ack deadline in seconds.
//
// The value is used immediately for scheduling extend operations on
// in-flight messages, and the shared durable consumer's AckWait is updated
// in the background so the broker honors the new deadline for future
// deliveries. No acknowledgment is provided; a failed apply is logged and
// retried implicitly on the next update.
func (c *Connection) UpdateDeadline(seconds int) {
	if seconds <= 0 {
		return
	}
	if old := c.deadlineSeconds.Swap(int64(seconds)); old == int64(seconds) {
		return
	}
	if c.State() != types.ConnStateRunning {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deadlineApplyTimeout)
		defer cancel()
		if _, err := c.ensureConsumer(ctx, seconds); err != nil {
			c.logger.Warn("failed to apply new ack deadline",
				"connection_id", c.id,
				"deadline_seconds", seconds,
				"error", err,
			)
		}
	}()
}

// ensureConsumer creates or updates the group's shared durable consumer
// with the given ack deadline, retrying transient failures with jittered
// backoff.
func (c *Connection) ensureConsumer(ctx context.Context, deadlineSeconds int) (jetstream.Consumer, error) {
	c.mu.Lock()
	js := c.js
	c.mu.Unlock()
	if js == nil {
		return nil, errors.New("jetstream context not initialized")
	}

	durable := sanitizeConsumerName(c.cfg.Subscription)
	consCfg := jetstream.ConsumerConfig{
		Name:              durable,
		Durable:           durable,
		AckPolicy:         jetstream.AckExplicitPolicy,
		AckWait:           time.Duration(deadlineSeconds) * time.Second,
		MaxDeliver:        c.cfg.MaxDeliver,
		FilterSubjects:    c.cfg.FilterSubjects,
		InactiveThreshold: c.cfg.InactiveThreshold,
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		cons, err := js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, consCfg)
		if err == nil {
			return cons, nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(jitterBackoff(attempt, c.cfg.RetryBackoff, c.cfg.RetryBackoffCap, c.rng)):
		}
	}

	return nil, fmt.Errorf("failed to ensure consumer %s after %d attempts: %w",
		durable, c.cfg.MaxRetries+1, lastErr)
}

// run is the pull loop: it keeps a message iterator open against the
// shared durable consumer and hands each message to dispatch. Consecutive
// transport errors beyond MaxRetries are fatal and fail the connection.
func (c *Connection) run(ctx context.Context) {
	defer c.wg.Done()

	consecutive := 0
	for {
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		cons := c.consumer
		c.mu.Unlock()

		iter, err := cons.Messages(
			jetstream.PullMaxMessages(c.cfg.BatchSize),
			jetstream.PullExpiry(c.cfg.FetchTimeout),
			jetstream.PullHeartbeat(c.cfg.FetchTimeout/2),
		)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			consecutive++
			if consecutive > c.cfg.MaxRetries {
				c.fail(fmt.Errorf("failed to create message iterator: %w", err))
				return
			}
			c.logger.Warn("failed to create message iterator, retrying",
				"connection_id", c.id, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitterBackoff(consecutive, c.cfg.RetryBackoff, c.cfg.RetryBackoffCap, c.rng)):
			}

			continue
		}

		if c.pull(ctx, iter, &consecutive) {
			return
		}
	}
}

// pull drains one iterator until it errors or the connection stops.
// It reports true when the pull loop should exit.
func (c *Connection) pull(ctx context.Context, iter jetstream.MessagesContext, consecutive *int) bool {
	stopIter := context.AfterFunc(ctx, iter.Stop)
	defer stopIter()

	for {
		msg, err := iter.Next()
		if err != nil {
			iter.Stop()
			if ctx.Err() != nil {
				return true
			}

			switch {
			case errors.Is(err, jetstream.ErrMsgIteratorClosed),
				errors.Is(err, jetstream.ErrNoHeartbeat):
				// Transient: recreate the iterator.
				c.logger.Debug("message iterator interrupted, recreating",
					"connection_id", c.id, "error", err)
				return false
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return true
			default:
				*consecutive++
				if *consecutive > c.cfg.MaxRetries {
					c.fail(fmt.Errorf("message iterator error: %w", err))
					return true
				}
				c.logger.Warn("message iterator error, retrying",
					"connection_id", c.id, "error", err)
				select {
				case <-ctx.Done():
					return true
				case <-time.After(jitterBackoff(*consecutive, c.cfg.RetryBackoff, c.cfg.RetryBackoffCap, c.rng)):
				}

				return false
			}
		}

		*consecutive = 0

		size := len(msg.Data())
		if err := c.flow.Reserve(ctx, size); err != nil {
			// Shutdown while blocked, or fail-fast rejection: hand the
			// message back to the broker for redelivery.
			_ = msg.Nak()
			if ctx.Err() != nil {
				return true
			}

			continue
		}

		c.metrics.RecordMessage(size)
		c.metrics.RecordOutstanding(c.flow.OutstandingMessages(), c.flow.OutstandingBytes())

		c.wg.Add(1)
		go c.dispatch(ctx, msg, size)
	}
}

// dispatch delivers one message to the receiver, keeping its ack deadline
// extended while the receiver runs, then settles it and releases the
// flow-control capacity.
func (c *Connection) dispatch(ctx context.Context, msg jetstream.Msg, size int) {
	defer c.wg.Done()
	defer c.flow.Release(size)

	received := time.Now()

	// Extension continues during a graceful drain, so in-flight receivers
	// keep their deadline until they settle.
	extendCtx, cancelExtend := context.WithCancel(context.Background())
	defer cancelExtend()
	c.wg.Add(1)
	go c.keepAlive(extendCtx, msg)

	if err := c.receiver.Receive(ctx, msg); err != nil {
		cancelExtend()
		c.logger.Warn("receiver rejected message", "connection_id", c.id, "error", err)
		_ = msg.Nak()

		return
	}

	cancelExtend()
	if err := msg.Ack(); err != nil {
		c.logger.Warn("failed to ack message", "connection_id", c.id, "error", err)

		return
	}

	elapsed := time.Since(received)
	c.latency.Record(int(elapsed / time.Second))
	c.metrics.RecordAckLatency(elapsed.Seconds())
}

// keepAlive periodically extends the ack deadline of an in-flight message
// until the dispatch settles it. The interval tracks the current deadline
// minus the configured padding, so each extension lands before expiry.
func (c *Connection) keepAlive(ctx context.Context, msg jetstream.Msg) {
	defer c.wg.Done()

	for {
		timer := time.NewTimer(c.extendInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := msg.InProgress(); err != nil {
				c.logger.Debug("failed to extend ack deadline",
					"connection_id", c.id, "error", err)
				return
			}
			c.metrics.RecordExtension()
		}
	}
}

func (c *Connection) extendInterval() time.Duration {
	s := int(c.deadlineSeconds.Load()) - c.paddingSeconds
	if s < 1 {
		s = 1
	}

	return time.Duration(s) * time.Second
}

// fail moves the connection to the failed state and emits the single
// failure event. Failures occurring after a stop began are swallowed.
func (c *Connection) fail(cause error) {
	if !c.transition(types.ConnStateStarting, types.ConnStateFailed) &&
		!c.transition(types.ConnStateRunning, types.ConnStateFailed) {
		return
	}

	c.metrics.RecordConnectionFailure()
	c.logger.Error("stream connection failed", "connection_id", c.id, "error", cause)

	c.mu.Lock()
	cancel := c.cancel
	nc := c.nc
	c.nc = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if nc != nil {
		nc.Close()
	}

	c.failOnce.Do(func() {
		c.failedCh <- types.FailureEvent{ConnectionID: c.id, Cause: cause, At: time.Now()}
	})
}

// transition performs a compare-and-set state change.
func (c *Connection) transition(from, to types.ConnState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// sanitizeConsumerName replaces characters NATS rejects in consumer names
// (whitespace, '.', '*', '>', path separators, non-printable) with '_'.
func sanitizeConsumerName(name string) string {
	var result strings.Builder
	result.Grow(len(name))

	for _, r := range name {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' ||
			r == '.' || r == '*' || r == '>' ||
			r == '/' || r == '\\' ||
			r < 32 || r == 127 {
			result.WriteRune('_')
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}
