package engine

import (
	"database/sql"
	"time"

	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"
)

// InstantiateTasks derives the tasks for one step of an activated
// workflow: exactly RequiredApprovals pending tasks, each an independent
// approval slot carrying a copy of the step's title, description and
// assignee. Copies keep in-flight tasks stable if a draft template is
// ever edited, and one task per slot keeps approval counting a row count
// rather than a racy shared counter.
//
// An out-of-range order means the contiguity invariant was broken after
// activation; that is an internal-consistency bug, not a caller error.
func InstantiateTasks(wf *domain.Workflow, stepOrder int, now time.Time) ([]domain.Task, error) {
	step := wf.StepAt(stepOrder)
	if step == nil {
		return nil, ErrStepNotFound
	}

	var dueDate sql.NullTime
	if step.DueInDays.Valid {
		dueDate = sql.NullTime{Time: now.AddDate(0, 0, int(step.DueInDays.Int64)), Valid: true}
	}

	tasks := make([]domain.Task, 0, step.RequiredApprovals)
	for i := 0; i < step.RequiredApprovals; i++ {
		tasks = append(tasks, domain.Task{
			WorkflowID:  wf.ID,
			StepOrder:   stepOrder,
			Title:       step.Name,
			Description: step.Description,
			Assignee:    step.Assignee,
			Status:      domain.TaskStatusPending,
			DueDate:     dueDate,
			Created:     now,
			Modified:    now,
		})
	}
	return tasks, nil
}
