package pullsub

import "errors"

// Sentinel errors returned by the Subscriber.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrFactoryRequired is returned when the connection factory is nil.
	ErrFactoryRequired = errors.New("connection factory is required")

	// ErrAlreadyStarted is returned when Start is called on an already running subscriber.
	ErrAlreadyStarted = errors.New("subscriber already started")

	// ErrNotStarted is returned when Stop is called on a subscriber that hasn't been started.
	ErrNotStarted = errors.New("subscriber not started")

	// ErrStartInterrupted is returned when the caller's context expires
	// while waiting on the start barrier. Startup is aborted, not retried.
	ErrStartInterrupted = errors.New("interrupted while waiting for connections to start")

	// ErrStopInterrupted is returned when the caller's context expires
	// while waiting on the stop barrier.
	ErrStopInterrupted = errors.New("interrupted while waiting for connections to stop")
)
