package repository

import (
	"database/sql"
	"strings"

	"github.com/neokatalyst/approvalflow/pkg/approvalflow/core"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"
)

// StepRepository persists the step templates that compose a workflow
// definition. Steps are written once at draft creation and only read
// afterwards; there is deliberately no update method.
type StepRepository struct {
	db    dbtx
	clock core.Clock
}

func NewStepRepository(db *sql.DB, clock core.Clock) *StepRepository {
	return &StepRepository{db: db, clock: clock}
}

func (r *StepRepository) WithTx(tx *sql.Tx) *StepRepository {
	return &StepRepository{db: tx, clock: r.clock}
}

func (r *StepRepository) Save(step *domain.StepDefinition) (int64, error) {
	vals := []interface{}{
		step.WorkflowID, step.StepOrder, step.Name, step.Description,
		step.Assignee, step.RequiredApprovals, step.DueInDays,
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO workflow_steps (
		workflow_id, step_order, name, description, assignee, required_approvals, due_in_days
	) VALUES (` + strings.Join(pps, ", ") + `)`

	id, err := insertReturningID(r.db, base, vals...)
	if err != nil {
		return 0, err
	}
	step.ID = id
	return id, nil
}

// FindByWorkflowID returns the workflow's steps in execution order.
func (r *StepRepository) FindByWorkflowID(workflowID int64) ([]domain.StepDefinition, error) {
	query := `
		SELECT id, workflow_id, step_order, name, description, assignee, required_approvals, due_in_days
		FROM workflow_steps
		WHERE workflow_id = ` + placeholder(1) + `
		ORDER BY step_order ASC
	`
	rows, err := r.db.Query(query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.StepDefinition
	for rows.Next() {
		var s domain.StepDefinition
		if err := rows.Scan(
			&s.ID,
			&s.WorkflowID,
			&s.StepOrder,
			&s.Name,
			&s.Description,
			&s.Assignee,
			&s.RequiredApprovals,
			&s.DueInDays,
		); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}
