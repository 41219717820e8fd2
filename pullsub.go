package pullsub

import "github.com/arloliu/pullsub/types"

// Re-export types from the types package.
//
// This file provides a stable public API for the library's core types and
// interfaces via type aliases. Internal packages depend on `types` without
// importing the root package, while users get the convenient pullsub.State,
// pullsub.Logger, etc.
type (
	State        = types.State
	ConnState    = types.ConnState
	FailureEvent = types.FailureEvent
	Shared       = types.Shared
)

// Re-export interfaces from the types package for convenience.
type (
	StreamConnection  = types.StreamConnection
	ConnectionFactory = types.ConnectionFactory
	MetricsCollector  = types.MetricsCollector
	Logger            = types.Logger
	Hooks             = types.Hooks
)

// Re-export group state constants.
const (
	StateNotStarted = types.StateNotStarted
	StateStarting   = types.StateStarting
	StateRunning    = types.StateRunning
	StateStopping   = types.StateStopping
	StateTerminated = types.StateTerminated
	StateFailed     = types.StateFailed
)

// Re-export connection state constants.
const (
	ConnStateCreated  = types.ConnStateCreated
	ConnStateStarting = types.ConnStateStarting
	ConnStateRunning  = types.ConnStateRunning
	ConnStateStopping = types.ConnStateStopping
	ConnStateStopped  = types.ConnStateStopped
	ConnStateFailed   = types.ConnStateFailed
)
