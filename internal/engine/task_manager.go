package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"
)

// TaskManager is the state machine governing task transitions. It checks
// the acting user's rights, applies the status change, and feeds terminal
// outcomes into the workflow progression decision, all within the owning
// workflow's serialized scope.
type TaskManager struct {
	wm       *WorkflowManager
	userRepo UserRepo
}

func NewTaskManager(wm *WorkflowManager, userRepo UserRepo) *TaskManager {
	return &TaskManager{wm: wm, userRepo: userRepo}
}

// Transition moves a task to newStatus on behalf of actor.
//
// Allowed moves: pending->in_progress and in_progress->completed by the
// assignee, in_progress->pending (un-start, no downstream effect), and
// any non-terminal state->rejected by the assignee or an administrator.
// Completed and rejected are terminal. A terminal outcome synchronously
// drives the owning workflow's progression inside the same transaction.
func (tm *TaskManager) Transition(ctx context.Context, taskID int64, newStatus domain.TaskStatus, actor string) (*domain.Task, error) {
	if !newStatus.IsValid() {
		return nil, ErrInvalidState
	}

	task, err := tm.loadTask(taskID)
	if err != nil {
		return nil, err
	}
	if err := tm.authorize(task, newStatus, actor); err != nil {
		return nil, err
	}
	if !task.Status.CanTransitionTo(newStatus) {
		return nil, ErrInvalidState
	}

	if !newStatus.IsTerminal() {
		return tm.transitionLocal(ctx, task, newStatus, actor)
	}
	return tm.transitionTerminal(ctx, task, newStatus, actor)
}

// Get returns a single task.
func (tm *TaskManager) Get(ctx context.Context, taskID int64) (*domain.Task, error) {
	return tm.loadTask(taskID)
}

// ListTasksForAssignee returns all tasks assigned to the given actor,
// newest first, terminal ones included (they are the actor's history).
func (tm *TaskManager) ListTasksForAssignee(ctx context.Context, assignee string) ([]domain.Task, error) {
	return tm.wm.repos.Tasks.FindByAssignee(assignee)
}

func (tm *TaskManager) loadTask(taskID int64) (*domain.Task, error) {
	task, err := tm.wm.repos.Tasks.FindByID(taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// authorize enforces ownership: only the assignee may work a task, and
// only the assignee or an administrator may reject one.
func (tm *TaskManager) authorize(task *domain.Task, newStatus domain.TaskStatus, actor string) error {
	if actor == task.Assignee {
		return nil
	}
	if newStatus == domain.TaskStatusRejected && tm.isAdmin(actor) {
		return nil
	}
	return ErrForbidden
}

func (tm *TaskManager) isAdmin(actor string) bool {
	if tm.userRepo == nil {
		return false
	}
	user, err := tm.userRepo.FindByUsername(actor)
	if err != nil || user == nil {
		return false
	}
	return user.IsAdmin()
}

// transitionLocal handles pending<->in_progress. These moves never change
// the workflow, so they skip the workflow lock; the status-guarded update
// still protects against racing writers.
func (tm *TaskManager) transitionLocal(ctx context.Context, task *domain.Task, newStatus domain.TaskStatus, actor string) (*domain.Task, error) {
	from := task.Status
	ok, err := tm.wm.repos.Tasks.UpdateStatusFrom(task.ID, from, newStatus)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidState
	}
	_, _ = tm.wm.repos.Actions.Save(&domain.WorkflowAction{
		WorkflowID: task.WorkflowID, Actor: actor, Type: domain.ActionTaskTransition, Name: string(newStatus),
		Text: fmt.Sprintf("Task %d: %s -> %s", task.ID, from, newStatus), DateTime: tm.wm.clock.Now().UTC(),
	})
	slog.InfoContext(ctx, "Task transitioned", "task_id", task.ID, "workflow_id", task.WorkflowID, "from", string(from), "to", string(newStatus), "actor", actor)

	task.Status = newStatus
	task.Modified = tm.wm.clock.Now().UTC()
	return task, nil
}

// transitionTerminal handles completed and rejected. The task write, the
// audit record and the progression decision commit as one unit under the
// owning workflow's lock, so two concurrent approvals can never both see
// the threshold reached and double-advance the step.
func (tm *TaskManager) transitionTerminal(ctx context.Context, task *domain.Task, newStatus domain.TaskStatus, actor string) (*domain.Task, error) {
	from := task.Status
	var out *progressOutcome
	var snapshot *domain.Workflow

	err := tm.wm.withWorkflowLock(ctx, task.WorkflowID, func(repos Repos, wf *domain.Workflow) error {
		ok, err := repos.Tasks.UpdateStatusFrom(task.ID, from, newStatus)
		if err != nil {
			return err
		}
		if !ok {
			// Someone else moved the task first (e.g. a rejection cascade).
			return ErrInvalidState
		}
		_, _ = repos.Actions.Save(&domain.WorkflowAction{
			WorkflowID: task.WorkflowID, Actor: actor, Type: domain.ActionTaskTransition, Name: string(newStatus),
			Text: fmt.Sprintf("Task %d: %s -> %s", task.ID, from, newStatus), DateTime: tm.wm.clock.Now().UTC(),
		})
		out, err = tm.wm.progress(ctx, repos, wf, task, newStatus, actor)
		if err != nil {
			return err
		}
		snapshot = wf
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Task transitioned", "task_id", task.ID, "workflow_id", task.WorkflowID, "from", string(from), "to", string(newStatus), "actor", actor)
	tm.wm.notifyOutcome(ctx, snapshot, out)

	task.Status = newStatus
	now := tm.wm.clock.Now().UTC()
	task.Modified = now
	if newStatus == domain.TaskStatusCompleted {
		task.CompletedAt = sql.NullTime{Time: now, Valid: true}
	}
	return task, nil
}
