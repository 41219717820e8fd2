package pullsub

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Stream ack deadline bounds. The adaptation loop clamps every candidate
// deadline into [MinDeadlineSeconds, MaxDeadlineSeconds].
const (
	// InitialDeadlineSeconds seeds the stream ack deadline before any
	// latency samples exist.
	InitialDeadlineSeconds = 10

	// MinDeadlineSeconds is the lowest deadline the adaptation loop will set.
	MinDeadlineSeconds = 10

	// MaxDeadlineSeconds is the highest deadline the adaptation loop will
	// set, and the upper bound of the latency distribution.
	MaxDeadlineSeconds = 600

	// DefaultDeadlineUpdatePeriod is how often the adaptation loop runs.
	DefaultDeadlineUpdatePeriod = time.Minute

	// DefaultConnectionsPerCore scales the default connection count with
	// available parallelism.
	DefaultConnectionsPerCore = 2

	// deadlinePercentile is the order statistic of observed ack latencies
	// the adaptation loop tracks. A high percentile biases toward avoiding
	// premature redelivery of slow-but-legitimate acknowledgments.
	deadlinePercentile = 99.9
)

// Config is the configuration for the Subscriber.
//
// All duration fields accept standard Go duration strings like "30s", "5m".
type Config struct {
	// Subscription is the opaque name of the broker resource the group
	// consumes. Required, immutable for the group's lifetime.
	Subscription string `yaml:"subscription" env:"PULLSUB_SUBSCRIPTION,required"`

	// MaxOutstandingMessages bounds the aggregate unacknowledged message
	// count across all connections. 0 means unbounded.
	MaxOutstandingMessages int64 `yaml:"maxOutstandingMessages" env:"PULLSUB_MAX_OUTSTANDING_MESSAGES,default=0"`

	// MaxOutstandingBytes bounds the aggregate unacknowledged byte size
	// across all connections. 0 means unbounded.
	MaxOutstandingBytes int64 `yaml:"maxOutstandingBytes" env:"PULLSUB_MAX_OUTSTANDING_BYTES,default=0"`

	// FlowControlFailFast makes flow-control admission fail immediately
	// with flowcontrol.ErrResourceExhausted instead of blocking until
	// capacity frees (the default).
	FlowControlFailFast bool `yaml:"flowControlFailFast" env:"PULLSUB_FLOW_CONTROL_FAIL_FAST,default=false"`

	// AckExpirationPadding is the safety margin applied to ack deadlines:
	// it floors the adapted deadline and advances extend operations so
	// they land before expiry. Must be >= 0.
	AckExpirationPadding time.Duration `yaml:"ackExpirationPadding" env:"PULLSUB_ACK_EXPIRATION_PADDING,default=0s"`

	// ConnectionCount is the number of independent stream connections the
	// group maintains. Defaults to DefaultConnectionsPerCore times the
	// available parallelism.
	ConnectionCount int `yaml:"connectionCount" env:"PULLSUB_CONNECTION_COUNT,default=0"`

	// DeadlineUpdatePeriod is the interval of the deadline adaptation
	// loop. Defaults to DefaultDeadlineUpdatePeriod.
	DeadlineUpdatePeriod time.Duration `yaml:"deadlineUpdatePeriod" env:"PULLSUB_DEADLINE_UPDATE_PERIOD,default=0s"`
}

// SetDefaults fills in missing configuration values with defaults.
func SetDefaults(cfg *Config) {
	if cfg.ConnectionCount <= 0 {
		cfg.ConnectionCount = max(1, runtime.GOMAXPROCS(0)) * DefaultConnectionsPerCore
	}
	if cfg.DeadlineUpdatePeriod <= 0 {
		cfg.DeadlineUpdatePeriod = DefaultDeadlineUpdatePeriod
	}
}

// Validate checks the configuration for correctness.
func (cfg *Config) Validate() error {
	if cfg.Subscription == "" {
		return fmt.Errorf("%w: subscription is required", ErrInvalidConfig)
	}
	if cfg.MaxOutstandingMessages < 0 {
		return fmt.Errorf("%w: maxOutstandingMessages must be >= 0", ErrInvalidConfig)
	}
	if cfg.MaxOutstandingBytes < 0 {
		return fmt.Errorf("%w: maxOutstandingBytes must be >= 0", ErrInvalidConfig)
	}
	if cfg.AckExpirationPadding < 0 {
		return fmt.Errorf("%w: ackExpirationPadding must be >= 0", ErrInvalidConfig)
	}
	if cfg.ConnectionCount < 0 {
		return fmt.Errorf("%w: connectionCount must be >= 0", ErrInvalidConfig)
	}

	return nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &cfg, nil
}

// ConfigFromEnv builds a configuration from PULLSUB_* environment variables.
func ConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config from environment: %w", err)
	}

	return &cfg, nil
}
