package domain

import "time"

// Action types recorded against a workflow.
const (
	ActionCreated        = "CREATED"
	ActionActivated      = "ACTIVATED"
	ActionTasksCreated   = "TASKS_CREATED"
	ActionTaskTransition = "TASK_TRANSITION"
	ActionStepAdvanced   = "STEP_ADVANCED"
	ActionStaleEvent     = "STALE_EVENT"
	ActionLockFailed     = "LOCK_FAILED"
	ActionRejectCascade  = "REJECT_CASCADE"
	ActionCancelled      = "CANCELLED"
	ActionCompleted      = "COMPLETED"
)

// WorkflowAction is one immutable audit record for a workflow.
type WorkflowAction struct {
	ID         int64
	WorkflowID int64
	Actor      string
	Type       string
	Name       string
	Text       string
	DateTime   time.Time
}
