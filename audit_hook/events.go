package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionRunStarted    = "run.started"
	ActionRunCompleted  = "run.completed"
	ActionRunFailed     = "run.failed"
	ActionStepCompleted = "run.step_completed"
	ActionStepFailed    = "run.step_failed"
	ActionDLQPushed     = "run.dead_lettered"
)

// Audit event categories group related actions.
const (
	CategoryRun = "automation.run"
	CategoryDLQ = "automation.dlq"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceRun  = "workflow_run"
	ResourceStep = "run_step"
	ResourceDLQ  = "dlq_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionRunStarted,
		ActionRunCompleted,
		ActionRunFailed,
		ActionStepCompleted,
		ActionStepFailed,
		ActionDLQPushed,
	}
}
