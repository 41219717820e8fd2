package pullsub

// Option configures a Subscriber with optional dependencies.
type Option func(*subscriberOptions)

// subscriberOptions holds optional Subscriber configuration.
type subscriberOptions struct {
	hooks   *Hooks
	metrics MetricsCollector
	logger  Logger
}

// WithHooks sets lifecycle event hooks.
//
// Example:
//
//	hooks := &pullsub.Hooks{
//	    OnDeadlineChanged: func(ctx context.Context, old, new int) error {
//	        log.Printf("ack deadline %ds -> %ds", old, new)
//	        return nil
//	    },
//	}
//	sub, err := pullsub.New(&cfg, factory, pullsub.WithHooks(hooks))
func WithHooks(hooks *Hooks) Option {
	return func(o *subscriberOptions) {
		o.hooks = hooks
	}
}

// WithMetrics sets a metrics collector.
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *subscriberOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger (compatible with zap.SugaredLogger).
func WithLogger(logger Logger) Option {
	return func(o *subscriberOptions) {
		o.logger = logger
	}
}
