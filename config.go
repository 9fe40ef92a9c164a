package automation

import "time"

// Config holds configuration for the Runtime.
type Config struct {
	// Concurrency is the maximum number of runs executing concurrently.
	Concurrency int

	// AwaitPollInterval is how often AwaitRun re-checks the run store
	// between completion notifications.
	AwaitPollInterval time.Duration

	// DefaultAwaitTimeout bounds AwaitRun when the caller passes no
	// explicit timeout.
	DefaultAwaitTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight runs
	// during graceful shutdown.
	ShutdownTimeout time.Duration

	// ActionTimeout bounds each action handler invocation. Zero disables
	// the per-call deadline.
	ActionTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:         10,
		AwaitPollInterval:   25 * time.Millisecond,
		DefaultAwaitTimeout: 30 * time.Second,
		ShutdownTimeout:     30 * time.Second,
		ActionTimeout:       time.Minute,
	}
}
