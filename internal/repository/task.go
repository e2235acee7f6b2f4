package repository

import (
	"database/sql"
	"strings"

	"github.com/neokatalyst/approvalflow/pkg/approvalflow/core"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"
)

// TaskRepository persists approval tasks. Tasks are never deleted; the
// row set is the approval history of its workflow.
type TaskRepository struct {
	db    dbtx
	clock core.Clock
}

const taskColumns = ` id, workflow_id, step_order, title, description, assignee, status, due_date, completed_at, created, modified `

func NewTaskRepository(db *sql.DB, clock core.Clock) *TaskRepository {
	return &TaskRepository{db: db, clock: clock}
}

func (r *TaskRepository) WithTx(tx *sql.Tx) *TaskRepository {
	return &TaskRepository{db: tx, clock: r.clock}
}

func (r *TaskRepository) Save(t *domain.Task) (int64, error) {
	vals := []interface{}{
		t.WorkflowID, t.StepOrder, t.Title, t.Description, t.Assignee, string(t.Status),
		formatDateInDatabaseNull(t.DueDate), formatDateInDatabaseNull(t.CompletedAt),
		formatDateInDatabase(t.Created), formatDateInDatabase(t.Modified),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO tasks (
		workflow_id, step_order, title, description, assignee, status,
		due_date, completed_at, created, modified
	) VALUES (` + strings.Join(pps, ", ") + `)`

	id, err := insertReturningID(r.db, base, vals...)
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

func (r *TaskRepository) FindByID(id int64) (*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks WHERE id = ` + placeholder(1) + `
	`
	var t domain.Task
	var status string
	err := r.db.QueryRow(query, id).Scan(
		&t.ID,
		&t.WorkflowID,
		&t.StepOrder,
		&t.Title,
		&t.Description,
		&t.Assignee,
		&status,
		&t.DueDate,
		&t.CompletedAt,
		&t.Created,
		&t.Modified,
	)
	if err != nil {
		return nil, err
	}
	t.Status = domain.TaskStatus(status)
	return &t, nil
}

func (r *TaskRepository) scanTasks(rows *sql.Rows) ([]domain.Task, error) {
	defer rows.Close()
	var tasks []domain.Task
	for rows.Next() {
		var t domain.Task
		var status string
		if err := rows.Scan(
			&t.ID,
			&t.WorkflowID,
			&t.StepOrder,
			&t.Title,
			&t.Description,
			&t.Assignee,
			&status,
			&t.DueDate,
			&t.CompletedAt,
			&t.Created,
			&t.Modified,
		); err != nil {
			return nil, err
		}
		t.Status = domain.TaskStatus(status)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// FindByAssignee returns all tasks for the assignee, newest first.
func (r *TaskRepository) FindByAssignee(assignee string) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE assignee = ` + placeholder(1) + `
		ORDER BY id DESC
	`
	rows, err := r.db.Query(query, assignee)
	if err != nil {
		return nil, err
	}
	return r.scanTasks(rows)
}

func (r *TaskRepository) FindByWorkflowID(workflowID int64) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE workflow_id = ` + placeholder(1) + `
		ORDER BY step_order ASC, id ASC
	`
	rows, err := r.db.Query(query, workflowID)
	if err != nil {
		return nil, err
	}
	return r.scanTasks(rows)
}

func (r *TaskRepository) FindByWorkflowAndStep(workflowID int64, stepOrder int) ([]domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE workflow_id = ` + placeholder(1) + ` AND step_order = ` + placeholder(2) + `
		ORDER BY id ASC
	`
	rows, err := r.db.Query(query, workflowID, stepOrder)
	if err != nil {
		return nil, err
	}
	return r.scanTasks(rows)
}

// CountCompleted recomputes the approval aggregate for a step. Progression
// decisions count completed rows instead of incrementing a shared counter
// so concurrent approvals on sibling tasks cannot corrupt the tally.
func (r *TaskRepository) CountCompleted(workflowID int64, stepOrder int) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM tasks
		WHERE workflow_id = ` + placeholder(1) + `
		  AND step_order = ` + placeholder(2) + `
		  AND status = '` + string(domain.TaskStatusCompleted) + `'
	`
	var count int
	err := r.db.QueryRow(query, workflowID, stepOrder).Scan(&count)
	return count, err
}

// UpdateStatusFrom writes a task's new status guarded by its expected
// current status, touching modified and stamping completed_at when the
// task reaches completed. Returns false when the task was no longer in
// the expected status, meaning a concurrent writer got there first.
func (r *TaskRepository) UpdateStatusFrom(id int64, from, to domain.TaskStatus) (bool, error) {
	completedAt := "completed_at"
	if to == domain.TaskStatusCompleted {
		completedAt = nowFunc(r.clock)
	}
	query := `
		UPDATE tasks
		SET status = ` + placeholder(1) + `, completed_at = ` + completedAt + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + ` AND status = ` + placeholder(3) + `
	`
	result, err := r.db.Exec(query, string(to), id, string(from))
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

// RejectOutstanding bulk-marks every non-terminal task of a workflow as
// rejected. Used by cancellation and the rejection cascade; it is a
// one-way write that never feeds back into progression.
func (r *TaskRepository) RejectOutstanding(workflowID int64) (int64, error) {
	query := `
		UPDATE tasks
		SET status = '` + string(domain.TaskStatusRejected) + `', modified = ` + nowFunc(r.clock) + `
		WHERE workflow_id = ` + placeholder(1) + `
		  AND status IN ('` + string(domain.TaskStatusPending) + `', '` + string(domain.TaskStatusInProgress) + `')
	`
	result, err := r.db.Exec(query, workflowID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
