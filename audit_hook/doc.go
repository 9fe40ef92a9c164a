// Package audithook is an automation extension that bridges run
// lifecycle events to an immutable audit trail backend.
//
// Every run, step, and dead-letter lifecycle hook emits a structured
// audit event through the [Recorder] interface. The extension assigns
// severity levels (info for normal operations, warning for recoverable
// step failures, critical for terminal failures) and rich metadata
// (workflow key, correlation key, elapsed time, errors).
//
// # Usage
//
//	eng, err := engine.Build(rt,
//	    engine.WithExtension(audithook.New(recorder)),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionRunFailed,
//	        audithook.ActionDLQPushed,
//	    ),
//	)
package audithook
