package domain

import (
	"database/sql"
	"time"
)

// TaskStatus is the lifecycle state of a single approval task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusRejected   TaskStatus = "rejected"
)

func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusRejected
}

func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether the task state machine permits moving
// from s to next. Authorization is checked separately by the engine.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case TaskStatusInProgress:
		return s == TaskStatusPending
	case TaskStatusPending:
		return s == TaskStatusInProgress
	case TaskStatusCompleted:
		return s == TaskStatusInProgress
	case TaskStatusRejected:
		return true
	}
	return false
}

// Task is one unit of assignable work instantiated from a step. Title,
// description and assignee are copied from the step definition at
// instantiation time so later draft edits cannot alter in-flight work.
// Tasks reference their workflow by id only and are never deleted; they
// double as the audit history of who approved what.
type Task struct {
	ID          int64
	WorkflowID  int64
	StepOrder   int
	Title       string
	Description string
	Assignee    string
	Status      TaskStatus
	DueDate     sql.NullTime
	CompletedAt sql.NullTime
	Created     time.Time
	Modified    time.Time
}
