package types

import "context"

// Hooks defines callbacks for subscriber lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// to avoid blocking the state machine. Hooks receive the group's lifecycle
// context, which is cancelled during shutdown.
//
// Hook execution behavior:
//   - Hooks run concurrently and may not complete before Stop() returns
//   - Hook errors are logged but don't fail subscriber operations
//
// Implementations should complete quickly, respect context cancellation,
// and be idempotent.
type Hooks struct {
	// OnStateChanged is called when the group state transitions.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnDeadlineChanged is called when the adaptation loop pushes a new
	// ack deadline to the connections.
	OnDeadlineChanged func(ctx context.Context, oldSeconds, newSeconds int) error

	// OnConnectionFailed is called when any connection enters the failed
	// state, before group-wide teardown completes.
	OnConnectionFailed func(ctx context.Context, ev FailureEvent) error
}
