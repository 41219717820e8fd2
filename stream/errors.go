package stream

import "errors"

// Sentinel errors returned by stream connections and factories.
var (
	// ErrProviderRequired is returned when no channel provider is supplied.
	ErrProviderRequired = errors.New("channel provider is required")

	// ErrReceiverRequired is returned when no receiver is supplied.
	ErrReceiverRequired = errors.New("receiver is required")

	// ErrStreamRequired is returned when the stream name is empty.
	ErrStreamRequired = errors.New("stream name is required")

	// ErrSubscriptionRequired is returned when the subscription name is empty.
	ErrSubscriptionRequired = errors.New("subscription name is required")

	// ErrAlreadyStarted is returned when Start is called more than once.
	ErrAlreadyStarted = errors.New("stream connection already started")
)
