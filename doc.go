// Package automation provides a tenant-scoped workflow automation runtime.
// It accepts business events, matches them against declaratively defined
// workflow bundles, and executes each match as an auditable run composed of
// steps: actions, decisions, try/catch recovery, forEach iteration,
// subworkflow calls, and returns.
//
// Automation is designed as a library, not a service. Import it, configure
// a store, register side-effect actions, import workflow bundles, and
// submit events.
//
// # Quick Start
//
//	rt, err := automation.New(
//	    automation.WithStore(pgStore),
//	    automation.WithConcurrency(16),
//	)
//
// # Architecture
//
// Automation follows a composable store pattern where each subsystem
// (workflow, event, idem, dlq, trigger) defines its own store interface.
// A single backend implements all of them.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package automation
