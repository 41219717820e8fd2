package pullsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/pullsub/types"
)

// mockConnection is a controllable StreamConnection for group tests.
type mockConnection struct {
	id       string
	startErr error
	startDur time.Duration

	state    atomic.Int32
	failedCh chan types.FailureEvent
	failOnce sync.Once

	mu        sync.Mutex
	deadlines []int
	stops     int
}

func newMockConnection(id string) *mockConnection {
	m := &mockConnection{
		id:       id,
		failedCh: make(chan types.FailureEvent, 1),
	}
	m.state.Store(int32(ConnStateCreated))

	return m
}

func (m *mockConnection) ID() string { return m.id }

func (m *mockConnection) Start(ctx context.Context) error {
	m.state.Store(int32(ConnStateStarting))
	if m.startDur > 0 {
		select {
		case <-time.After(m.startDur):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.startErr != nil {
		m.state.Store(int32(ConnStateFailed))
		return m.startErr
	}
	m.state.Store(int32(ConnStateRunning))

	return nil
}

func (m *mockConnection) Stop(_ context.Context) error {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()

	if m.State() == ConnStateFailed {
		return nil
	}
	m.state.Store(int32(ConnStateStopped))

	return nil
}

func (m *mockConnection) UpdateDeadline(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines = append(m.deadlines, seconds)
}

func (m *mockConnection) Failed() <-chan types.FailureEvent { return m.failedCh }

func (m *mockConnection) State() types.ConnState { return types.ConnState(m.state.Load()) }

// fail injects a fatal failure, mirroring what a real connection does.
func (m *mockConnection) fail(cause error) {
	m.failOnce.Do(func() {
		m.state.Store(int32(ConnStateFailed))
		m.failedCh <- types.FailureEvent{ConnectionID: m.id, Cause: cause, At: time.Now()}
	})
}

func (m *mockConnection) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stops
}

func (m *mockConnection) lastDeadline() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.deadlines) == 0 {
		return 0, false
	}

	return m.deadlines[len(m.deadlines)-1], true
}

// mockFactory records the connections it hands out.
type mockFactory struct {
	mu    sync.Mutex
	conns []*mockConnection
	build func(index int) *mockConnection
}

func newMockFactory(build func(index int) *mockConnection) *mockFactory {
	return &mockFactory{build: build}
}

func (f *mockFactory) NewConnection(index int, _ types.Shared) (types.StreamConnection, error) {
	conn := f.build(index)

	f.mu.Lock()
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	return conn, nil
}

func testConfig(connections int) *Config {
	return &Config{
		Subscription:    "test-subscription",
		ConnectionCount: connections,
	}
}

func TestNew_Validation(t *testing.T) {
	factory := newMockFactory(func(int) *mockConnection { return newMockConnection("c") })

	_, err := New(nil, factory)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(testConfig(2), nil)
	require.ErrorIs(t, err, ErrFactoryRequired)

	_, err = New(&Config{}, factory)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_CreatesConfiguredConnections(t *testing.T) {
	factory := newMockFactory(func(i int) *mockConnection {
		return newMockConnection(string(rune('a' + i)))
	})

	sub, err := New(testConfig(3), factory)
	require.NoError(t, err)
	require.Len(t, factory.conns, 3)
	require.Equal(t, StateNotStarted, sub.State())
	require.Equal(t, InitialDeadlineSeconds, sub.DeadlineSeconds())
}

func TestNew_PaddingFloorsInitialDeadline(t *testing.T) {
	factory := newMockFactory(func(int) *mockConnection { return newMockConnection("c") })

	cfg := testConfig(1)
	cfg.AckExpirationPadding = 30 * time.Second

	sub, err := New(cfg, factory)
	require.NoError(t, err)
	require.Equal(t, 30, sub.DeadlineSeconds())
}

func TestSubscriber_StartStop(t *testing.T) {
	defer leaktest.Check(t)()

	factory := newMockFactory(func(int) *mockConnection { return newMockConnection("c") })

	sub, err := New(testConfig(4), factory)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sub.Start(ctx))
	require.Equal(t, StateRunning, sub.State())
	for _, conn := range factory.conns {
		require.Equal(t, ConnStateRunning, conn.State())
	}

	require.ErrorIs(t, sub.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, sub.Stop(ctx))
	require.Equal(t, StateTerminated, sub.State())
	for _, conn := range factory.conns {
		require.Equal(t, 1, conn.stopCount())
	}
}

func TestSubscriber_StopBeforeStart(t *testing.T) {
	factory := newMockFactory(func(int) *mockConnection { return newMockConnection("c") })

	sub, err := New(testConfig(1), factory)
	require.NoError(t, err)
	require.ErrorIs(t, sub.Stop(context.Background()), ErrNotStarted)
}

func TestSubscriber_StartFailureTearsDownSiblings(t *testing.T) {
	defer leaktest.Check(t)()

	startFailure := errors.New("broker unreachable")
	factory := newMockFactory(func(i int) *mockConnection {
		conn := newMockConnection(string(rune('a' + i)))
		if i == 1 {
			conn.startErr = startFailure
		}
		return conn
	})

	sub, err := New(testConfig(3), factory)
	require.NoError(t, err)

	err = sub.Start(context.Background())
	require.ErrorIs(t, err, startFailure)
	require.Equal(t, StateFailed, sub.State())
	require.ErrorIs(t, sub.FailureCause(), startFailure)

	// Every sibling received a stop during the cascade.
	for _, conn := range factory.conns {
		require.Equal(t, 1, conn.stopCount())
	}
}

func TestSubscriber_StartInterrupted(t *testing.T) {
	defer leaktest.Check(t)()

	factory := newMockFactory(func(int) *mockConnection {
		conn := newMockConnection("slow")
		conn.startDur = time.Minute
		return conn
	})

	sub, err := New(testConfig(2), factory)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = sub.Start(ctx)
	require.ErrorIs(t, err, ErrStartInterrupted)
	require.Equal(t, StateFailed, sub.State())
}

func TestSubscriber_RuntimeFailureCascades(t *testing.T) {
	defer leaktest.Check(t)()

	factory := newMockFactory(func(i int) *mockConnection {
		return newMockConnection(string(rune('a' + i)))
	})

	var failedEvents atomic.Int32
	hooks := &Hooks{
		OnConnectionFailed: func(_ context.Context, _ types.FailureEvent) error {
			failedEvents.Add(1)
			return nil
		},
	}

	sub, err := New(testConfig(3), factory, WithHooks(hooks))
	require.NoError(t, err)
	require.NoError(t, sub.Start(context.Background()))

	cause := errors.New("stream deleted")
	factory.conns[2].fail(cause)

	require.NoError(t, <-sub.WaitState(StateFailed, 5*time.Second))
	require.ErrorIs(t, sub.FailureCause(), cause)

	// The healthy siblings were stopped by the cascade.
	require.Equal(t, 1, factory.conns[0].stopCount())
	require.Equal(t, 1, factory.conns[1].stopCount())

	// Stop on a failed group waits for teardown and stays failed.
	require.NoError(t, sub.Stop(context.Background()))
	require.Equal(t, StateFailed, sub.State())
}

func TestSubscriber_ConcurrentFailuresSingleCascade(t *testing.T) {
	defer leaktest.Check(t)()

	factory := newMockFactory(func(i int) *mockConnection {
		return newMockConnection(string(rune('a' + i)))
	})

	sub, err := New(testConfig(4), factory)
	require.NoError(t, err)
	require.NoError(t, sub.Start(context.Background()))

	for i, conn := range factory.conns {
		go conn.fail(errors.New("boom " + string(rune('a'+i))))
	}

	require.NoError(t, <-sub.WaitState(StateFailed, 5*time.Second))
	require.Error(t, sub.FailureCause())
	require.NoError(t, sub.Stop(context.Background()))
}

func TestSubscriber_StopWithFailedConnection(t *testing.T) {
	defer leaktest.Check(t)()

	factory := newMockFactory(func(i int) *mockConnection {
		return newMockConnection(string(rune('a' + i)))
	})

	sub, err := New(testConfig(2), factory)
	require.NoError(t, err)
	require.NoError(t, sub.Start(context.Background()))

	// Force one connection into the failed state without surfacing the
	// event, simulating a failure racing a graceful stop. Stop must still
	// complete: stop on a failed connection is a no-op success.
	factory.conns[0].state.Store(int32(ConnStateFailed))

	require.NoError(t, sub.Stop(context.Background()))
	require.Equal(t, StateTerminated, sub.State())
}

func TestSubscriber_AdaptOnce(t *testing.T) {
	factory := newMockFactory(func(i int) *mockConnection {
		return newMockConnection(string(rune('a' + i)))
	})

	sub, err := New(testConfig(2), factory)
	require.NoError(t, err)

	// No samples: the deadline is untouched.
	sub.adaptOnce()
	require.Equal(t, InitialDeadlineSeconds, sub.DeadlineSeconds())

	// Tail latency above the current deadline raises it.
	for range 999 {
		sub.latency.Record(1)
	}
	sub.latency.Record(45)
	sub.latency.Record(45)
	sub.adaptOnce()
	require.Equal(t, 45, sub.DeadlineSeconds())
	for _, conn := range factory.conns {
		last, ok := conn.lastDeadline()
		require.True(t, ok)
		require.Equal(t, 45, last)
	}

	// Unchanged candidate is not re-pushed.
	sub.adaptOnce()
	for _, conn := range factory.conns {
		conn.mu.Lock()
		require.Len(t, conn.deadlines, 1)
		conn.mu.Unlock()
	}
}

func TestSubscriber_AdaptOnceClampsToBounds(t *testing.T) {
	factory := newMockFactory(func(int) *mockConnection { return newMockConnection("c") })

	sub, err := New(testConfig(1), factory)
	require.NoError(t, err)

	// Fast acks: candidate clamps up to the minimum.
	sub.latency.Record(1)
	sub.adaptOnce()
	require.Equal(t, MinDeadlineSeconds, sub.DeadlineSeconds())

	// The distribution clamps oversized samples, so the deadline never
	// exceeds the maximum either.
	sub.latency.Record(10_000)
	sub.adaptOnce()
	require.Equal(t, MaxDeadlineSeconds, sub.DeadlineSeconds())
}

func TestSubscriber_AdaptOncePaddingFloor(t *testing.T) {
	factory := newMockFactory(func(int) *mockConnection { return newMockConnection("c") })

	cfg := testConfig(1)
	cfg.AckExpirationPadding = 25 * time.Second

	sub, err := New(cfg, factory)
	require.NoError(t, err)
	require.Equal(t, 25, sub.DeadlineSeconds())

	// Tail latency below the padding: the padding wins.
	sub.latency.Record(12)
	sub.adaptOnce()
	require.Equal(t, 25, sub.DeadlineSeconds())
}

func TestSubscriber_DeadlineChangeHook(t *testing.T) {
	factory := newMockFactory(func(int) *mockConnection { return newMockConnection("c") })

	type change struct{ old, new int }
	changes := make(chan change, 1)
	hooks := &Hooks{
		OnDeadlineChanged: func(_ context.Context, oldSeconds, newSeconds int) error {
			changes <- change{oldSeconds, newSeconds}
			return nil
		},
	}

	sub, err := New(testConfig(1), factory, WithHooks(hooks))
	require.NoError(t, err)

	sub.latency.Record(120)
	sub.adaptOnce()

	select {
	case c := <-changes:
		require.Equal(t, InitialDeadlineSeconds, c.old)
		require.Equal(t, 120, c.new)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for deadline change hook")
	}
}

func TestSubscriber_AdaptationLoopFiresPeriodically(t *testing.T) {
	defer leaktest.Check(t)()

	factory := newMockFactory(func(int) *mockConnection { return newMockConnection("c") })

	cfg := testConfig(1)
	cfg.DeadlineUpdatePeriod = 20 * time.Millisecond

	sub, err := New(cfg, factory)
	require.NoError(t, err)
	require.NoError(t, sub.Start(context.Background()))
	defer func() { require.NoError(t, sub.Stop(context.Background())) }()

	sub.latency.Record(90)

	require.Eventually(t, func() bool {
		return sub.DeadlineSeconds() == 90
	}, 5*time.Second, 10*time.Millisecond)

	last, ok := factory.conns[0].lastDeadline()
	require.True(t, ok)
	require.Equal(t, 90, last)
}

func TestSubscriber_Accessors(t *testing.T) {
	factory := newMockFactory(func(int) *mockConnection { return newMockConnection("c") })

	cfg := testConfig(1)
	cfg.MaxOutstandingMessages = 100
	cfg.MaxOutstandingBytes = 1 << 20
	cfg.AckExpirationPadding = 5 * time.Second

	sub, err := New(cfg, factory)
	require.NoError(t, err)
	require.Equal(t, "test-subscription", sub.Subscription())
	require.Equal(t, int64(100), sub.MaxOutstandingMessages())
	require.Equal(t, int64(1<<20), sub.MaxOutstandingBytes())
	require.Equal(t, 5*time.Second, sub.AckExpirationPadding())
	require.NoError(t, sub.FailureCause())
}

func TestIsValidTransition(t *testing.T) {
	require.True(t, isValidTransition(StateNotStarted, StateStarting))
	require.True(t, isValidTransition(StateStarting, StateRunning))
	require.True(t, isValidTransition(StateStarting, StateFailed))
	require.True(t, isValidTransition(StateRunning, StateStopping))
	require.True(t, isValidTransition(StateRunning, StateFailed))
	require.True(t, isValidTransition(StateStopping, StateTerminated))

	require.False(t, isValidTransition(StateTerminated, StateStarting))
	require.False(t, isValidTransition(StateFailed, StateRunning))
	require.False(t, isValidTransition(StateNotStarted, StateRunning))
}
