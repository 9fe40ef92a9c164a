package automation

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Runtime.
type Option func(*Runtime) error

// Storer is the minimal store interface held by the Runtime.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Runtime is the central coordinator for the workflow automation system.
// It holds configuration, the logger, and the persistence backend. The
// engine package wires the registries, executor, and scheduler on top of
// a Runtime; see engine.Build.
type Runtime struct {
	config Config
	logger *slog.Logger
	store  Storer
}

// New creates a new Runtime with the given options.
func New(opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger { return rt.logger }

// Store returns the runtime's store.
func (rt *Runtime) Store() Storer { return rt.store }

// Config returns a copy of the runtime's configuration.
func (rt *Runtime) Config() Config { return rt.config }

// Close releases the runtime's persistence backend.
func (rt *Runtime) Close() error {
	if rt.store != nil {
		return rt.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrently executing runs.
func WithConcurrency(n int) Option {
	return func(rt *Runtime) error {
		rt.config.Concurrency = n
		return nil
	}
}

// WithActionTimeout bounds each action handler invocation. Zero disables
// the per-call deadline.
func WithActionTimeout(d time.Duration) Option {
	return func(rt *Runtime) error {
		rt.config.ActionTimeout = d
		return nil
	}
}

// WithLogger sets the structured logger for the runtime.
func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) error {
		rt.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the runtime.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(rt *Runtime) error {
		rt.store = s
		return nil
	}
}

// WithConfig replaces the runtime's configuration wholesale.
func WithConfig(cfg Config) Option {
	return func(rt *Runtime) error {
		rt.config = cfg
		return nil
	}
}
