package domain

import (
	"database/sql"
	"time"
)

// WorkflowStatus is the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"
	WorkflowStatusActive    WorkflowStatus = "active"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// IsTerminal reports whether no further workflow mutation is permitted.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowStatusCompleted || s == WorkflowStatusCancelled
}

func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusCompleted, WorkflowStatusCancelled:
		return true
	}
	return false
}

// Workflow is an ordered approval process. Steps are loaded alongside the
// row and are immutable once the workflow leaves draft.
type Workflow struct {
	ID               int64
	Name             string
	Description      string
	Status           WorkflowStatus
	CurrentStepOrder sql.NullInt64
	CreatedBy        string
	Created          time.Time
	Modified         time.Time
	Steps            []StepDefinition
}

// StepAt returns the step definition with the given order, or nil if the
// order is out of range. Orders are contiguous from 1 so this is a simple
// index, but it still verifies the invariant on the loaded slice.
func (w *Workflow) StepAt(order int) *StepDefinition {
	if order < 1 || order > len(w.Steps) {
		return nil
	}
	step := &w.Steps[order-1]
	if step.StepOrder != order {
		return nil
	}
	return step
}

// LastStepOrder returns the order of the final step, 0 for no steps.
func (w *Workflow) LastStepOrder() int {
	if len(w.Steps) == 0 {
		return 0
	}
	return w.Steps[len(w.Steps)-1].StepOrder
}
