package automation

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("automation: no store configured")
	ErrStoreClosed     = errors.New("automation: store closed")
	ErrMigrationFailed = errors.New("automation: migration failed")

	// Not found errors.
	ErrDefinitionNotFound = errors.New("automation: workflow definition not found")
	ErrRunNotFound        = errors.New("automation: run not found")
	ErrStepNotFound       = errors.New("automation: step not found")
	ErrEventNotFound      = errors.New("automation: event not found")
	ErrClaimNotFound      = errors.New("automation: idempotency claim not found")
	ErrDLQNotFound        = errors.New("automation: dlq entry not found")
	ErrTriggerNotFound    = errors.New("automation: trigger entry not found")
	ErrActionNotFound     = errors.New("automation: no action registered")

	// Conflict errors.
	ErrVersionConflict  = errors.New("automation: workflow version already exists")
	ErrDuplicateRun     = errors.New("automation: duplicate run for correlation key")
	ErrDuplicateTrigger = errors.New("automation: duplicate trigger entry")

	// State errors.
	ErrInvalidState = errors.New("automation: invalid state transition")

	// Await errors.
	ErrAwaitTimeout = errors.New("automation: timed out waiting for run")

	// ErrInfrastructure tags run failures caused by the runtime's own
	// dependencies (store unavailable, etc.) as opposed to business-logic
	// step failures. Check with errors.Is on a failed run's error chain.
	ErrInfrastructure = errors.New("automation: infrastructure fault")
)
