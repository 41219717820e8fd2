package types

// State represents the subscriber group lifecycle state.
//
// States follow a defined progression during normal operation:
//
//	StateNotStarted → StateStarting → StateRunning → StateStopping → StateTerminated
//
// A fatal connection failure moves the group to StateFailed, which is
// terminal; StateTerminated is the normal terminal state.
type State int

const (
	// StateNotStarted is the initial state before Start is called.
	StateNotStarted State = iota

	// StateStarting indicates connections are being established.
	StateStarting

	// StateRunning indicates normal operation with all connections pulling.
	StateRunning

	// StateStopping indicates graceful shutdown is in progress.
	StateStopping

	// StateTerminated indicates the group stopped cleanly. Terminal.
	StateTerminated

	// StateFailed indicates a fatal connection failure tore the group down. Terminal.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NotStarted"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateTerminated:
		return "Terminated"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the group state is terminal.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateFailed
}

// ConnState represents the lifecycle state of a single stream connection.
//
// Normal progression:
//
//	ConnStateCreated → ConnStateStarting → ConnStateRunning → ConnStateStopping → ConnStateStopped
//
// ConnStateFailed is terminal and triggers group-wide teardown.
type ConnState int

const (
	// ConnStateCreated is the initial state before Start is called.
	ConnStateCreated ConnState = iota

	// ConnStateStarting indicates the transport is being established.
	ConnStateStarting

	// ConnStateRunning indicates the connection is pulling messages.
	ConnStateRunning

	// ConnStateStopping indicates a graceful drain is in progress.
	ConnStateStopping

	// ConnStateStopped indicates the connection drained cleanly. Terminal.
	ConnStateStopped

	// ConnStateFailed indicates a fatal transport or protocol error. Terminal.
	ConnStateFailed
)

// String returns the string representation of the connection state.
func (s ConnState) String() string {
	switch s {
	case ConnStateCreated:
		return "Created"
	case ConnStateStarting:
		return "Starting"
	case ConnStateRunning:
		return "Running"
	case ConnStateStopping:
		return "Stopping"
	case ConnStateStopped:
		return "Stopped"
	case ConnStateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the connection state is terminal.
func (s ConnState) Terminal() bool {
	return s == ConnStateStopped || s == ConnStateFailed
}
