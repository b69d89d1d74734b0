package core

// Option configures a transaction.
type Option func(*options)

type options struct {
	logger         Logger
	metrics        *Metrics
	stateListener  StateUpdateListener
	changeListener RelationChangeListener
}

func defaultOptions() options {
	return options{
		logger:         noopLogger{},
		stateListener:  noopListener{},
		changeListener: noopListener{},
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. A *slog.Logger can be passed directly.
func WithLogger(l Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records engine activity in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithStateUpdateListener registers l for changed-state flips of virtual
// end-points.
func WithStateUpdateListener(l StateUpdateListener) Option {
	return func(o *options) {
		if l != nil {
			o.stateListener = l
		}
	}
}

// WithRelationChangeListener registers l for relation modifications.
func WithRelationChangeListener(l RelationChangeListener) Option {
	return func(o *options) {
		if l != nil {
			o.changeListener = l
		}
	}
}
