package repository

import (
	"database/sql"
	"log/slog"

	"github.com/neokatalyst/approvalflow/pkg/approvalflow/core"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"
)

// WorkflowActionRepository provides methods to persist and query workflow action records.
type WorkflowActionRepository struct {
	db    dbtx
	clock core.Clock
}

func NewWorkflowActionRepository(db *sql.DB, clock core.Clock) *WorkflowActionRepository {
	return &WorkflowActionRepository{db: db, clock: clock}
}

func (r *WorkflowActionRepository) WithTx(tx *sql.Tx) *WorkflowActionRepository {
	return &WorkflowActionRepository{db: tx, clock: r.clock}
}

// Save inserts a new workflow action and returns its ID.
func (r *WorkflowActionRepository) Save(a *domain.WorkflowAction) (int64, error) {
	base := `
		INSERT INTO workflow_actions (
			workflow_id, actor, type, name, text, date_time
		) VALUES (
			` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `, ` + placeholder(5) + `, ` + placeholder(6) + `
		)`

	id, err := insertReturningID(r.db, base,
		a.WorkflowID,
		a.Actor,
		a.Type,
		a.Name,
		a.Text,
		formatDateInDatabase(a.DateTime),
	)
	if err != nil {
		slog.Error("Failed to save workflow action", "error", err)
		return 0, err
	}
	a.ID = id
	return id, nil
}

// FindAllByWorkflowID returns all actions for a specific workflow, newest first.
func (r *WorkflowActionRepository) FindAllByWorkflowID(workflowID int64) (*[]domain.WorkflowAction, error) {
	query := `
		SELECT id, workflow_id, actor, type, name, text, date_time
		FROM workflow_actions
		WHERE workflow_id = ` + placeholder(1) + `
		ORDER BY id DESC
	`
	rows, err := r.db.Query(query, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []domain.WorkflowAction
	for rows.Next() {
		var a domain.WorkflowAction
		if err := rows.Scan(
			&a.ID,
			&a.WorkflowID,
			&a.Actor,
			&a.Type,
			&a.Name,
			&a.Text,
			&a.DateTime,
		); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return &actions, rows.Err()
}
