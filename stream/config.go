package stream

import (
	"time"

	"github.com/arloliu/pullsub/internal/logging"
	"github.com/arloliu/pullsub/internal/metrics"
	"github.com/arloliu/pullsub/types"
)

// Config configures the JetStream-backed stream connections of a group.
//
// Required fields:
//   - Stream
//   - Subscription
//
// Optional tuning fields are documented inline below. Zero values are
// replaced by package defaults via applyDefaults().
type Config struct {
	// Stream is the JetStream stream the subscription draws from.
	Stream string

	// Subscription names the broker resource: the shared durable consumer
	// every connection of the group pulls from.
	Subscription string

	// FilterSubjects optionally narrows the subscription to a subject set.
	FilterSubjects []string

	// BatchSize is the number of messages requested per pull.
	BatchSize int

	// FetchTimeout is the maximum wait per pull request.
	FetchTimeout time.Duration

	// MaxDeliver caps delivery attempts per message.
	MaxDeliver int

	// InactiveThreshold is how long the broker keeps the durable consumer
	// after the last connection disappears.
	InactiveThreshold time.Duration

	// MaxRetries is the number of consecutive transport errors tolerated
	// before the connection is declared failed.
	MaxRetries int

	// RetryBackoff is the base delay between transport retries; the actual
	// delay is jittered and capped at RetryBackoffCap.
	RetryBackoff    time.Duration
	RetryBackoffCap time.Duration

	// RetrySeed makes backoff jitter deterministic when non-zero. Used in tests.
	RetrySeed int64

	// Logger receives connection lifecycle and transport events. Defaults
	// to a no-op logger.
	Logger types.Logger

	// Metrics receives connection metrics. Defaults to a no-op collector.
	Metrics types.MetricsCollector
}

// applyDefaults fills unset optional fields with package defaults.
func (cfg *Config) applyDefaults() {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = DefaultMaxDeliver
	}
	if cfg.InactiveThreshold <= 0 {
		cfg.InactiveThreshold = DefaultInactiveThreshold
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.RetryBackoffCap <= 0 {
		cfg.RetryBackoffCap = DefaultRetryBackoffCap
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
}

// validate checks required fields.
func (cfg *Config) validate() error {
	if cfg.Stream == "" {
		return ErrStreamRequired
	}
	if cfg.Subscription == "" {
		return ErrSubscriptionRequired
	}

	return nil
}
