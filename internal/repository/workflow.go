package repository

import (
	"database/sql"
	"strings"
	"time"

	"github.com/neokatalyst/approvalflow/pkg/approvalflow/core"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"
)

// WorkflowRepository provides persistence for workflow rows. The modified
// column doubles as an optimistic lock token: every mutation bumps it and
// LockByModified only succeeds against the expected value.
type WorkflowRepository struct {
	db    dbtx
	clock core.Clock
}

const workflowColumns = ` id, name, description, status, current_step_order, created_by, created, modified `

func NewWorkflowRepository(db *sql.DB, clock core.Clock) *WorkflowRepository {
	return &WorkflowRepository{db: db, clock: clock}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *WorkflowRepository) WithTx(tx *sql.Tx) *WorkflowRepository {
	return &WorkflowRepository{db: tx, clock: r.clock}
}

func (r *WorkflowRepository) Save(wf *domain.Workflow) (int64, error) {
	vals := []interface{}{
		wf.Name, wf.Description, string(wf.Status), wf.CurrentStepOrder, wf.CreatedBy,
		formatDateInDatabase(wf.Created), formatDateInDatabase(wf.Modified),
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO workflows (
		name, description, status, current_step_order, created_by, created, modified
	) VALUES (` + strings.Join(pps, ", ") + `)`

	id, err := insertReturningID(r.db, base, vals...)
	if err != nil {
		return 0, err
	}
	wf.ID = id
	return id, nil
}

func (r *WorkflowRepository) FindByID(id int64) (*domain.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows WHERE id = ` + placeholder(1) + `
	`
	var wf domain.Workflow
	var status string
	err := r.db.QueryRow(query, id).Scan(
		&wf.ID,
		&wf.Name,
		&wf.Description,
		&status,
		&wf.CurrentStepOrder,
		&wf.CreatedBy,
		&wf.Created,
		&wf.Modified,
	)
	if err != nil {
		return nil, err
	}
	wf.Status = domain.WorkflowStatus(status)
	return &wf, nil
}

// FindAll returns workflows ordered newest-first.
func (r *WorkflowRepository) FindAll(limit int) ([]domain.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		ORDER BY id DESC
		LIMIT ` + placeholder(1) + `
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		var wf domain.Workflow
		var status string
		if err := rows.Scan(
			&wf.ID,
			&wf.Name,
			&wf.Description,
			&status,
			&wf.CurrentStepOrder,
			&wf.CreatedBy,
			&wf.Created,
			&wf.Modified,
		); err != nil {
			return nil, err
		}
		wf.Status = domain.WorkflowStatus(status)
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// LockByModified acquires the per-workflow serialization lock by bumping
// modified, guarded by its expected current value. Returns false when
// another caller got there first; the caller must re-read and retry.
func (r *WorkflowRepository) LockByModified(id int64, modified time.Time) bool {
	query := `
		UPDATE workflows
		SET modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + ` AND modified = ` + placeholder(2) + `
	`
	result, err := r.db.Exec(query, id, formatDateInDatabase(modified))
	if err != nil {
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

func (r *WorkflowRepository) UpdateStatus(id int64, status domain.WorkflowStatus) error {
	query := `
		UPDATE workflows
		SET status = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, string(status), id)
	return err
}

// SetCurrentStep moves the step pointer. A zero order stores NULL, used
// only for drafts.
func (r *WorkflowRepository) SetCurrentStep(id int64, order int) error {
	var orderVal interface{}
	if order > 0 {
		orderVal = order
	}
	query := `
		UPDATE workflows
		SET current_step_order = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, orderVal, id)
	return err
}

// UpdateStatusAndStep sets status and pointer in one statement so an
// advance or finalization is a single write on the workflow row.
func (r *WorkflowRepository) UpdateStatusAndStep(id int64, status domain.WorkflowStatus, order int) error {
	var orderVal interface{}
	if order > 0 {
		orderVal = order
	}
	query := `
		UPDATE workflows
		SET status = ` + placeholder(1) + `, current_step_order = ` + placeholder(2) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(3) + `
	`
	_, err := r.db.Exec(query, string(status), orderVal, id)
	return err
}
