package pullsub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/pullsub/distribution"
	"github.com/arloliu/pullsub/flowcontrol"
	"github.com/arloliu/pullsub/internal/hooks"
	"github.com/arloliu/pullsub/internal/logging"
	"github.com/arloliu/pullsub/internal/metrics"
	"github.com/arloliu/pullsub/types"
)

// Subscriber is a flow-controlled, multi-connection subscriber group for a
// pull-based subscription.
//
// It owns N stream connections sharing one flow controller and one latency
// distribution, orchestrates their startup and shutdown barriers, runs the
// periodic ack-deadline adaptation loop, and aggregates failure: a fatal
// failure of any one connection tears down all siblings and fails the
// group.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - State transitions are atomic
//
// Lifecycle:
//   - Create with New()
//   - Call Start() to establish all connections and begin pulling
//   - Call Stop() for graceful shutdown
type Subscriber struct {
	cfg     Config
	factory types.ConnectionFactory

	// Optional dependencies
	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger

	// Shared resources owned by the group
	flow    *flowcontrol.Load
	latency *distribution.Distribution
	conns   []types.StreamConnection

	paddingSeconds  int
	deadlineSeconds atomic.Int64

	// State management
	state    atomic.Int32 // State
	failing  atomic.Bool  // single-execution gate for the failure cascade
	failures *xsync.Map[string, error]

	// Lifecycle management
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	failCause error // guarded by mu, written once by the failure cascade
}

// New creates a new Subscriber for the configured subscription.
//
// The factory is called once per configured connection; every connection
// receives a non-owning reference to the group's flow controller and
// latency distribution, plus the initial ack deadline:
//
//	clamp(max(InitialDeadlineSeconds, paddingSeconds), MinDeadlineSeconds, MaxDeadlineSeconds)
//
// Parameters:
//   - cfg: Runtime configuration
//   - factory: Produces the group's stream connections (see stream.NewFactory)
//   - opts: Optional configuration (hooks, metrics, logger)
//
// Returns a concrete *Subscriber following the "accept interfaces, return
// structs" principle.
func New(cfg *Config, factory types.ConnectionFactory, opts ...Option) (*Subscriber, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	if factory == nil {
		return nil, ErrFactoryRequired
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &subscriberOptions{}
	for _, opt := range opts {
		opt(options)
	}

	// Provide safe defaults for optional dependencies to avoid nil checks everywhere
	metricsCollector := options.metrics
	if metricsCollector == nil {
		metricsCollector = metrics.NewNop()
	}

	loggerInstance := options.logger
	if loggerInstance == nil {
		loggerInstance = logging.NewNop()
	}

	hooksInstance := options.hooks
	if hooksInstance == nil {
		nopHooks := hooks.NewNop()
		hooksInstance = &nopHooks
	}

	s := &Subscriber{
		cfg:            *cfg,
		factory:        factory,
		hooks:          hooksInstance,
		metrics:        metricsCollector,
		logger:         loggerInstance,
		flow:           flowcontrol.New(cfg.MaxOutstandingMessages, cfg.MaxOutstandingBytes, cfg.FlowControlFailFast),
		latency:        distribution.New(MaxDeadlineSeconds),
		paddingSeconds: int(cfg.AckExpirationPadding / time.Second),
		failures:       xsync.NewMap[string, error](),
	}
	s.state.Store(int32(StateNotStarted))
	s.deadlineSeconds.Store(int64(clampDeadline(max(InitialDeadlineSeconds, s.paddingSeconds))))

	shared := types.Shared{
		Flow:            s.flow,
		Latency:         s.latency,
		DeadlineSeconds: s.DeadlineSeconds(),
		PaddingSeconds:  s.paddingSeconds,
	}
	s.conns = make([]types.StreamConnection, cfg.ConnectionCount)
	for i := range s.conns {
		conn, err := factory.NewConnection(i, shared)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection %d: %w", i, err)
		}
		s.conns[i] = conn
	}

	return s, nil
}

// Start establishes all stream connections and begins pulling.
//
// Start issues start to every connection concurrently and blocks on a
// counting barrier until each one reports running or failed. Any
// connection failure aborts startup: the group tears down all siblings,
// transitions to StateFailed and returns the triggering cause. Expiry of
// ctx while waiting on the barrier is fatal and returns
// ErrStartInterrupted; it is not retried.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()

		return ErrAlreadyStarted
	}
	// Group lifetime is decoupled from the caller's startup context.
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	s.transitionState(StateNotStarted, StateStarting)
	s.logger.Debug("starting subscriber group",
		"subscription", s.cfg.Subscription,
		"connections", len(s.conns),
	)

	// Counting barrier of size C: every connection reports running or failed.
	results := make(chan error, len(s.conns))
	for _, conn := range s.conns {
		go func(c types.StreamConnection) {
			results <- c.Start(ctx)
		}(conn)
	}

	var startErr error
	for range s.conns {
		select {
		case err := <-results:
			if err != nil && startErr == nil {
				startErr = err
			}
		case <-ctx.Done():
			err := fmt.Errorf("%w: %w", ErrStartInterrupted, ctx.Err())
			s.beginFailure(types.FailureEvent{Cause: err, At: time.Now()})

			return err
		}
	}

	if startErr != nil {
		s.beginFailure(types.FailureEvent{Cause: startErr, At: time.Now()})

		return startErr
	}

	// Every connection is running: attach the failure listeners, then the
	// periodic adaptation task (first run after one full period).
	for _, conn := range s.conns {
		s.wg.Add(1)
		go s.watchConnection(conn)
	}

	s.wg.Add(1)
	go s.adaptDeadlineLoop(s.ctx)

	s.transitionState(StateStarting, StateRunning)
	s.logger.Info("subscriber group running",
		"subscription", s.cfg.Subscription,
		"connections", len(s.conns),
		"deadline_seconds", s.DeadlineSeconds(),
	)

	return nil
}

// Stop gracefully shuts down the subscriber group.
//
// Stop cancels the adaptation loop, issues stop to every connection
// concurrently and blocks on a counting barrier for completion. A
// connection already in the failed state counts as immediately complete.
// Expiry of ctx while waiting is fatal and returns ErrStopInterrupted.
//
// Stop may also be called on a group in StateFailed to wait for teardown
// resources; the group then remains in StateFailed.
func (s *Subscriber) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()

		return ErrNotStarted
	}

	currentState := s.State()
	if currentState == StateStopping || currentState == StateTerminated {
		s.mu.Unlock()

		return ErrNotStarted
	}

	if currentState != StateFailed {
		s.transitionState(currentState, StateStopping)
	}
	s.cancel()
	s.mu.Unlock()

	if err := s.stopAllConnections(ctx); err != nil {
		return err
	}

	// Wait for the failure listeners and the adaptation loop to exit.
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Error("shutdown interrupted, some goroutines may still be running",
			"subscription", s.cfg.Subscription)

		return fmt.Errorf("%w: %w", ErrStopInterrupted, ctx.Err())
	}

	if currentState != StateFailed {
		s.transitionState(StateStopping, StateTerminated)
	}
	s.logger.Info("subscriber group stopped", "subscription", s.cfg.Subscription)

	return nil
}

// Subscription returns the subscription identity.
func (s *Subscriber) Subscription() string {
	return s.cfg.Subscription
}

// State returns the current group state.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

// DeadlineSeconds returns the current stream ack deadline in seconds.
func (s *Subscriber) DeadlineSeconds() int {
	return int(s.deadlineSeconds.Load())
}

// AckExpirationPadding returns the configured ack-expiration padding.
func (s *Subscriber) AckExpirationPadding() time.Duration {
	return s.cfg.AckExpirationPadding
}

// MaxOutstandingMessages returns the configured message bound (0 = unbounded).
func (s *Subscriber) MaxOutstandingMessages() int64 {
	return s.cfg.MaxOutstandingMessages
}

// MaxOutstandingBytes returns the configured byte bound (0 = unbounded).
func (s *Subscriber) MaxOutstandingBytes() int64 {
	return s.cfg.MaxOutstandingBytes
}

// FailureCause returns the error that failed the group, or nil while the
// group has not failed. Callers must not assume any connection is still
// delivering messages once StateFailed is observed.
func (s *Subscriber) FailureCause() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.failCause
}

// WaitState waits for the subscriber to reach the expected state within the
// timeout. The returned channel receives exactly one value: nil if the
// state is reached, context.DeadlineExceeded otherwise. Useful for tests
// and synchronization scenarios.
func (s *Subscriber) WaitState(expectedState State, timeout time.Duration) <-chan error {
	ch := make(chan error, 1)

	go func() {
		defer close(ch)

		if s.State() == expectedState {
			ch <- nil
			return
		}

		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()

		timeoutTimer := time.NewTimer(timeout)
		defer timeoutTimer.Stop()

		for {
			select {
			case <-ticker.C:
				if s.State() == expectedState {
					ch <- nil
					return
				}
			case <-timeoutTimer.C:
				ch <- context.DeadlineExceeded
				return
			}
		}
	}()

	return ch
}

// watchConnection consumes a connection's failure side-channel and triggers
// the group-wide failure cascade.
func (s *Subscriber) watchConnection(conn types.StreamConnection) {
	defer s.wg.Done()

	select {
	case <-s.ctx.Done():
		return
	case ev := <-conn.Failed():
		s.failures.Store(ev.ConnectionID, ev.Cause)
		s.logger.Error("stream connection failed",
			"subscription", s.cfg.Subscription,
			"connection_id", ev.ConnectionID,
			"error", ev.Cause,
		)

		if s.hooks.OnConnectionFailed != nil {
			go func() {
				if err := s.hooks.OnConnectionFailed(s.ctx, ev); err != nil {
					s.logger.Error("connection failure hook error", "error", err)
				}
			}()
		}

		s.beginFailure(ev)
	}
}

// beginFailure runs the fail-fast cascade: stop every sibling connection
// and move the group to StateFailed.
//
// The failing gate guarantees at most one teardown sequence is ever in
// flight per group instance, even when multiple connections fail
// concurrently. Failures surfacing after a graceful stop began are
// swallowed.
func (s *Subscriber) beginFailure(ev types.FailureEvent) {
	if !s.failing.CompareAndSwap(false, true) {
		return
	}

	currentState := s.State()
	if currentState == StateStopping || currentState.Terminal() {
		return
	}

	s.mu.Lock()
	s.failCause = ev.Cause
	s.mu.Unlock()

	s.cancel()

	// Teardown must finish even though the group context is cancelled.
	if err := s.stopAllConnections(context.Background()); err != nil {
		s.logger.Error("failure cascade teardown error", "error", err)
	}

	s.transitionState(currentState, StateFailed)
	s.logger.Error("subscriber group failed",
		"subscription", s.cfg.Subscription,
		"error", ev.Cause,
	)
}

// stopAllConnections issues stop to all connections concurrently and
// blocks on a counting barrier of size C. Connections already in a
// terminal state complete immediately; their stop is a no-op success.
func (s *Subscriber) stopAllConnections(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, conn := range s.conns {
		wg.Add(1)
		go func(c types.StreamConnection) {
			defer wg.Done()
			if err := c.Stop(ctx); err != nil {
				// Partial failures during stop are logged, not propagated.
				s.logger.Warn("failed to stop connection",
					"connection_id", c.ID(),
					"error", err,
				)
			}
		}(conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStopInterrupted, ctx.Err())
	}
}

// adaptDeadlineLoop runs the periodic deadline adaptation while the group
// is running. The first tick fires after one full period.
func (s *Subscriber) adaptDeadlineLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.DeadlineUpdatePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.adaptOnce()
		}
	}
}

// adaptOnce performs one deadline adaptation tick.
//
// It reads the tail latency from the shared distribution and, when samples
// exist, tracks it directly:
//
//	candidate = clamp(max(latency, paddingSeconds), MinDeadlineSeconds, MaxDeadlineSeconds)
//
// A changed candidate is stored and pushed to every connection; within one
// tick all connections receive the same value. This is a monotone-reactive
// control loop with no smoothing beyond the fixed bounds and period.
func (s *Subscriber) adaptOnce() {
	latency := s.latency.Percentile(deadlinePercentile)
	s.metrics.RecordAdaptationTick(latency)
	if latency == 0 {
		// No samples yet.
		return
	}

	candidate := clampDeadline(max(latency, s.paddingSeconds))
	old := s.DeadlineSeconds()
	if candidate == old {
		return
	}

	s.deadlineSeconds.Store(int64(candidate))
	s.logger.Debug("updating stream ack deadline",
		"subscription", s.cfg.Subscription,
		"old_seconds", old,
		"new_seconds", candidate,
		"tail_latency_seconds", latency,
	)
	s.metrics.RecordDeadlineUpdate(candidate)

	// UpdateDeadline is asynchronous on every connection; no ordering is
	// guaranteed across connections.
	for _, conn := range s.conns {
		conn.UpdateDeadline(candidate)
	}

	if s.hooks.OnDeadlineChanged != nil {
		go func() {
			if err := s.hooks.OnDeadlineChanged(s.ctx, old, candidate); err != nil {
				s.logger.Error("deadline change hook error", "error", err)
			}
		}()
	}
}

// transitionState transitions to a new state and triggers hooks.
func (s *Subscriber) transitionState(from, to State) {
	if !isValidTransition(from, to) {
		s.logger.Error("invalid state transition attempted",
			"from", from.String(),
			"to", to.String(),
		)

		return
	}

	s.state.Store(int32(to)) //nolint:gosec // State values are controlled enum

	s.logger.Info("state transition",
		"subscription", s.cfg.Subscription,
		"from", from.String(),
		"to", to.String(),
	)

	if s.hooks.OnStateChanged != nil {
		go func() {
			if err := s.hooks.OnStateChanged(s.ctx, from, to); err != nil {
				s.logger.Error("state change hook error", "from", from, "to", to, "error", err)
			}
		}()
	}

	s.metrics.RecordStateTransition(from, to)
}

// isValidTransition validates that a state transition is allowed.
func isValidTransition(from, to State) bool {
	validTransitions := map[State][]State{
		StateNotStarted: {StateStarting},
		StateStarting:   {StateRunning, StateStopping, StateFailed},
		StateRunning:    {StateStopping, StateFailed},
		StateStopping:   {StateTerminated},
		StateTerminated: {}, // Terminal
		StateFailed:     {}, // Terminal
	}

	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

// clampDeadline clamps a candidate deadline into the configured bounds.
func clampDeadline(seconds int) int {
	if seconds < MinDeadlineSeconds {
		return MinDeadlineSeconds
	}
	if seconds > MaxDeadlineSeconds {
		return MaxDeadlineSeconds
	}

	return seconds
}
