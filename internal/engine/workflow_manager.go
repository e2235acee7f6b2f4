package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neokatalyst/approvalflow/pkg/approvalflow/core"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"
)

// maxLockAttempts bounds the optimistic-lock retry loop before the caller
// gets ErrWorkflowBusy.
const maxLockAttempts = 5

// errLockLost signals a lost optimistic-lock claim inside a transaction;
// the unit is retried with a fresh workflow snapshot.
var errLockLost = errors.New("workflow lock lost")

// WorkflowManager owns workflow definitions and drives progression: it
// creates drafts, activates and cancels workflows, and decides after each
// terminal task event whether the owning workflow advances, stalls or
// finalizes. All decisions for one workflow are serialized through the
// per-workflow optimistic lock and run inside a single transaction.
type WorkflowManager struct {
	db       *sql.DB
	repos    Repos
	txRepos  func(tx *sql.Tx) Repos
	notifier Notifier
	clock    core.Clock
}

// WorkflowDetail is a read snapshot of a workflow with its task set.
type WorkflowDetail struct {
	Workflow domain.Workflow
	Tasks    []domain.Task
}

// progressOutcome reports what a progression decision changed, so
// notifications can be emitted after the transaction commits.
type progressOutcome struct {
	advancedTo int
	newTasks   []domain.Task
	finalized  domain.WorkflowStatus
}

// NewWorkflowManager wires the manager. txRepos rebinds the repositories
// to a transaction; a nil db runs each unit directly against the base
// repositories, which is how the in-memory test stores are used.
func NewWorkflowManager(db *sql.DB, repos Repos, txRepos func(tx *sql.Tx) Repos, notifier Notifier, clock core.Clock) *WorkflowManager {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &WorkflowManager{
		db:       db,
		repos:    repos,
		txRepos:  txRepos,
		notifier: notifier,
		clock:    clock,
	}
}

// CreateDraft validates the step templates and persists a new draft
// workflow together with its steps. Nothing is written when validation
// fails.
func (wm *WorkflowManager) CreateDraft(ctx context.Context, name string, description string, steps []domain.StepDefinition, actor string) (*domain.Workflow, error) {
	if err := validateSteps(steps); err != nil {
		return nil, err
	}

	now := wm.clock.Now().UTC()
	wf := &domain.Workflow{
		Name:        name,
		Description: description,
		Status:      domain.WorkflowStatusDraft,
		CreatedBy:   actor,
		Created:     now,
		Modified:    now,
	}

	err := wm.inTx(ctx, func(repos Repos) error {
		if _, err := repos.Workflows.Save(wf); err != nil {
			return err
		}
		for i := range steps {
			steps[i].WorkflowID = wf.ID
			if _, err := repos.Steps.Save(&steps[i]); err != nil {
				return err
			}
		}
		_, _ = repos.Actions.Save(&domain.WorkflowAction{
			WorkflowID: wf.ID, Actor: actor, Type: domain.ActionCreated, Name: string(domain.WorkflowStatusDraft),
			Text: fmt.Sprintf("Draft created with %d steps", len(steps)), DateTime: now,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Created draft workflow", "workflow_id", wf.ID, "name", name, "steps", len(steps))
	wf.Steps = steps
	return wf, nil
}

// validateSteps enforces the order-contiguity invariant: orders form a
// strictly increasing sequence 1..n, each step names an assignee and
// needs at least one approval.
func validateSteps(steps []domain.StepDefinition) error {
	if len(steps) == 0 {
		return ErrEmptySteps
	}
	for i := range steps {
		if steps[i].StepOrder != i+1 {
			return ErrInvalidStepSequence
		}
		if steps[i].Name == "" || steps[i].Assignee == "" || steps[i].RequiredApprovals < 1 {
			return ErrInvalidStepDefinition
		}
	}
	return nil
}

// Activate moves a draft workflow to active, points it at step 1 and
// instantiates that step's tasks. Later steps get their tasks lazily as
// the workflow advances.
func (wm *WorkflowManager) Activate(ctx context.Context, id int64, actor string) (*domain.Workflow, error) {
	var created []domain.Task
	var snapshot *domain.Workflow

	err := wm.withWorkflowLock(ctx, id, func(repos Repos, wf *domain.Workflow) error {
		if wf.Status != domain.WorkflowStatusDraft {
			return ErrInvalidState
		}
		now := wm.clock.Now().UTC()
		tasks, err := InstantiateTasks(wf, 1, now)
		if err != nil {
			return err
		}
		if err := repos.Workflows.UpdateStatusAndStep(wf.ID, domain.WorkflowStatusActive, 1); err != nil {
			return err
		}
		for i := range tasks {
			if _, err := repos.Tasks.Save(&tasks[i]); err != nil {
				return err
			}
		}
		_, _ = repos.Actions.Save(&domain.WorkflowAction{
			WorkflowID: wf.ID, Actor: actor, Type: domain.ActionActivated, Name: string(domain.WorkflowStatusActive),
			Text: "Workflow activated at step 1", DateTime: now,
		})
		_, _ = repos.Actions.Save(&domain.WorkflowAction{
			WorkflowID: wf.ID, Actor: actor, Type: domain.ActionTasksCreated, Name: "step 1",
			Text: fmt.Sprintf("Created %d tasks for step 1", len(tasks)), DateTime: now,
		})
		created = tasks
		wf.Status = domain.WorkflowStatusActive
		wf.CurrentStepOrder = sql.NullInt64{Int64: 1, Valid: true}
		snapshot = wf
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Activated workflow", "workflow_id", id, "tasks", len(created))
	wm.notifier.TasksAssigned(ctx, snapshot, 1, created)
	return snapshot, nil
}

// Cancel terminates a draft or active workflow and rejects all its
// outstanding tasks so no dangling actionable work survives. Cancelling
// an already-cancelled workflow is an idempotent no-op.
func (wm *WorkflowManager) Cancel(ctx context.Context, id int64, actor string) (*domain.Workflow, error) {
	var snapshot *domain.Workflow
	alreadyCancelled := false

	err := wm.withWorkflowLock(ctx, id, func(repos Repos, wf *domain.Workflow) error {
		if wf.Status == domain.WorkflowStatusCancelled {
			alreadyCancelled = true
			snapshot = wf
			return nil
		}
		if wf.Status == domain.WorkflowStatusCompleted {
			return ErrInvalidState
		}
		now := wm.clock.Now().UTC()
		rejected, err := repos.Tasks.RejectOutstanding(wf.ID)
		if err != nil {
			return err
		}
		if err := repos.Workflows.UpdateStatus(wf.ID, domain.WorkflowStatusCancelled); err != nil {
			return err
		}
		if rejected > 0 {
			_, _ = repos.Actions.Save(&domain.WorkflowAction{
				WorkflowID: wf.ID, Actor: actor, Type: domain.ActionRejectCascade, Name: string(domain.TaskStatusRejected),
				Text: fmt.Sprintf("Rejected %d outstanding tasks", rejected), DateTime: now,
			})
		}
		_, _ = repos.Actions.Save(&domain.WorkflowAction{
			WorkflowID: wf.ID, Actor: actor, Type: domain.ActionCancelled, Name: string(domain.WorkflowStatusCancelled),
			Text: "Workflow cancelled", DateTime: now,
		})
		wf.Status = domain.WorkflowStatusCancelled
		snapshot = wf
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !alreadyCancelled {
		slog.InfoContext(ctx, "Cancelled workflow", "workflow_id", id, "actor", actor)
		wm.notifier.WorkflowFinalized(ctx, snapshot, domain.WorkflowStatusCancelled)
	}
	return snapshot, nil
}

// Get returns a read snapshot: the workflow, its steps and all its tasks.
func (wm *WorkflowManager) Get(ctx context.Context, id int64) (*WorkflowDetail, error) {
	wf, err := wm.loadWorkflow(id)
	if err != nil {
		return nil, err
	}
	tasks, err := wm.repos.Tasks.FindByWorkflowID(id)
	if err != nil {
		return nil, err
	}
	return &WorkflowDetail{Workflow: *wf, Tasks: tasks}, nil
}

// ListWorkflows returns recent workflows with their steps.
func (wm *WorkflowManager) ListWorkflows(ctx context.Context, limit int) ([]domain.Workflow, error) {
	workflows, err := wm.repos.Workflows.FindAll(limit)
	if err != nil {
		return nil, err
	}
	for i := range workflows {
		steps, err := wm.repos.Steps.FindByWorkflowID(workflows[i].ID)
		if err != nil {
			return nil, err
		}
		workflows[i].Steps = steps
	}
	return workflows, nil
}

// ListActions exposes the audit trail for a workflow.
func (wm *WorkflowManager) ListActions(ctx context.Context, workflowID int64) (*[]domain.WorkflowAction, error) {
	return wm.repos.Actions.FindAllByWorkflowID(workflowID)
}

// progress applies one terminal task event to the owning workflow. It
// must run with the workflow lock held, inside the same transaction as
// the task write that produced the event.
func (wm *WorkflowManager) progress(ctx context.Context, repos Repos, wf *domain.Workflow, task *domain.Task, outcome domain.TaskStatus, actor string) (*progressOutcome, error) {
	out := &progressOutcome{}
	now := wm.clock.Now().UTC()

	if wf.Status != domain.WorkflowStatusActive ||
		!wf.CurrentStepOrder.Valid || int(wf.CurrentStepOrder.Int64) != task.StepOrder {
		// Straggler from a step already left behind: keep the task write
		// as history, never re-trigger progression.
		_, _ = repos.Actions.Save(&domain.WorkflowAction{
			WorkflowID: wf.ID, Actor: actor, Type: domain.ActionStaleEvent, Name: string(outcome),
			Text: fmt.Sprintf("Ignored stale event for step %d (task %d)", task.StepOrder, task.ID), DateTime: now,
		})
		return out, nil
	}

	if outcome == domain.TaskStatusRejected {
		// Single rejection rejects the step: there is no retry mechanism,
		// so the workflow fails fast.
		rejected, err := repos.Tasks.RejectOutstanding(wf.ID)
		if err != nil {
			return nil, err
		}
		if err := repos.Workflows.UpdateStatus(wf.ID, domain.WorkflowStatusCancelled); err != nil {
			return nil, err
		}
		if rejected > 0 {
			_, _ = repos.Actions.Save(&domain.WorkflowAction{
				WorkflowID: wf.ID, Actor: actor, Type: domain.ActionRejectCascade, Name: string(domain.TaskStatusRejected),
				Text: fmt.Sprintf("Task %d rejected; rejected %d sibling tasks", task.ID, rejected), DateTime: now,
			})
		}
		_, _ = repos.Actions.Save(&domain.WorkflowAction{
			WorkflowID: wf.ID, Actor: actor, Type: domain.ActionCancelled, Name: string(domain.WorkflowStatusCancelled),
			Text: fmt.Sprintf("Workflow cancelled by rejection of task %d", task.ID), DateTime: now,
		})
		out.finalized = domain.WorkflowStatusCancelled
		return out, nil
	}

	step := wf.StepAt(task.StepOrder)
	if step == nil {
		slog.ErrorContext(ctx, "Step definition missing for current step", "workflow_id", wf.ID, "step_order", task.StepOrder)
		return nil, ErrStepNotFound
	}

	completed, err := repos.Tasks.CountCompleted(wf.ID, task.StepOrder)
	if err != nil {
		return nil, err
	}
	if completed < step.RequiredApprovals {
		// Step still pending more approvals.
		return out, nil
	}

	if task.StepOrder == wf.LastStepOrder() {
		// Pointer stays at the last step so history is preserved.
		if err := repos.Workflows.UpdateStatus(wf.ID, domain.WorkflowStatusCompleted); err != nil {
			return nil, err
		}
		_, _ = repos.Actions.Save(&domain.WorkflowAction{
			WorkflowID: wf.ID, Actor: actor, Type: domain.ActionCompleted, Name: string(domain.WorkflowStatusCompleted),
			Text: "All steps approved, workflow completed", DateTime: now,
		})
		out.finalized = domain.WorkflowStatusCompleted
		return out, nil
	}

	next := task.StepOrder + 1
	tasks, err := InstantiateTasks(wf, next, now)
	if err != nil {
		return nil, err
	}
	if err := repos.Workflows.SetCurrentStep(wf.ID, next); err != nil {
		return nil, err
	}
	for i := range tasks {
		if _, err := repos.Tasks.Save(&tasks[i]); err != nil {
			return nil, err
		}
	}
	_, _ = repos.Actions.Save(&domain.WorkflowAction{
		WorkflowID: wf.ID, Actor: actor, Type: domain.ActionStepAdvanced, Name: fmt.Sprintf("step %d", next),
		Text: fmt.Sprintf("Step %d satisfied, advanced to step %d", task.StepOrder, next), DateTime: now,
	})
	_, _ = repos.Actions.Save(&domain.WorkflowAction{
		WorkflowID: wf.ID, Actor: actor, Type: domain.ActionTasksCreated, Name: fmt.Sprintf("step %d", next),
		Text: fmt.Sprintf("Created %d tasks for step %d", len(tasks), next), DateTime: now,
	})
	out.advancedTo = next
	out.newTasks = tasks
	return out, nil
}

// notifyOutcome emits post-commit notifications for a progression result.
func (wm *WorkflowManager) notifyOutcome(ctx context.Context, wf *domain.Workflow, out *progressOutcome) {
	if out == nil {
		return
	}
	if out.advancedTo > 0 {
		wm.notifier.TasksAssigned(ctx, wf, out.advancedTo, out.newTasks)
	}
	if out.finalized != "" {
		wm.notifier.WorkflowFinalized(ctx, wf, out.finalized)
	}
}

// loadWorkflow reads a workflow with its steps, mapping missing rows to
// ErrNotFound.
func (wm *WorkflowManager) loadWorkflow(id int64) (*domain.Workflow, error) {
	wf, err := wm.repos.Workflows.FindByID(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	steps, err := wm.repos.Steps.FindByWorkflowID(id)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return wf, nil
}

// withWorkflowLock serializes a unit of work against one workflow. Each
// attempt reads a fresh snapshot, then runs fn inside one transaction
// whose first write claims the optimistic lock. Every status change bumps
// the modified column, so a successful claim proves the snapshot fn
// validated is still current. A lost claim retries; exhaustion surfaces
// ErrWorkflowBusy.
func (wm *WorkflowManager) withWorkflowLock(ctx context.Context, id int64, fn func(repos Repos, wf *domain.Workflow) error) error {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		wf, err := wm.loadWorkflow(id)
		if err != nil {
			return err
		}
		err = wm.inTx(ctx, func(repos Repos) error {
			if !repos.Workflows.LockByModified(wf.ID, wf.Modified) {
				return errLockLost
			}
			return fn(repos, wf)
		})
		if errors.Is(err, errLockLost) {
			wm.clock.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
			continue
		}
		return err
	}
	// Best effort: the audit write itself runs outside any lock.
	_, _ = wm.repos.Actions.Save(&domain.WorkflowAction{
		WorkflowID: id, Actor: "engine", Type: domain.ActionLockFailed, Name: "lock_exhausted",
		Text: fmt.Sprintf("Gave up after %d lock attempts", maxLockAttempts), DateTime: wm.clock.Now().UTC(),
	})
	slog.Warn("Workflow lock exhausted", "workflow_id", id, "attempts", maxLockAttempts)
	return ErrWorkflowBusy
}

// inTx runs fn as one atomic write-set. With no database configured the
// unit runs directly against the base repositories (in-memory stores in
// tests serialize their own writes).
func (wm *WorkflowManager) inTx(ctx context.Context, fn func(repos Repos) error) error {
	if wm.db == nil {
		return fn(wm.repos)
	}
	tx, err := wm.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(wm.txRepos(tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
