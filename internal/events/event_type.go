package events

// EventType identifies the kind of event flowing through the Manager.
type EventType string

const (
	PositionOpened      EventType = "position.opened"
	PositionActivated   EventType = "position.activated"
	PositionClosed      EventType = "position.closed"
	PositionCancelled   EventType = "position.cancelled"
	OrderPlaced         EventType = "order.placed"
	OrderFilled         EventType = "order.filled"
	OrderCancelled      EventType = "order.cancelled"
	OrderReplaced       EventType = "order.replaced"
	DriftDetected       EventType = "drift.detected"
	DriftCorrected      EventType = "drift.corrected"
	WorkflowStepStarted EventType = "workflow.step_started"
	WorkflowStepDone    EventType = "workflow.step_completed"
	WorkflowStepFailed  EventType = "workflow.step_failed"
	KillSwitchToggled   EventType = "account.kill_switch_toggled"
	SnapshotRefreshed   EventType = "snapshot.refreshed"
	ErrorOccurred       EventType = "error.occurred"
	JobStarted          EventType = "job.started"
	JobProgress         EventType = "job.progress"
	JobCompleted        EventType = "job.completed"
	JobFailed           EventType = "job.failed"
)
