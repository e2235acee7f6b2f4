package engine

import (
	"database/sql"
	"time"

	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"
)

// WorkflowRepo defines the interface for workflow persistence, matching repository.WorkflowRepository.
type WorkflowRepo interface {
	Save(wf *domain.Workflow) (int64, error)
	FindByID(id int64) (*domain.Workflow, error)
	FindAll(limit int) ([]domain.Workflow, error)
	LockByModified(id int64, modified time.Time) bool
	UpdateStatus(id int64, status domain.WorkflowStatus) error
	SetCurrentStep(id int64, order int) error
	UpdateStatusAndStep(id int64, status domain.WorkflowStatus, order int) error
}

// StepRepo defines the interface for step template persistence.
type StepRepo interface {
	Save(step *domain.StepDefinition) (int64, error)
	FindByWorkflowID(workflowID int64) ([]domain.StepDefinition, error)
}

// TaskRepo defines the interface for task persistence.
type TaskRepo interface {
	Save(t *domain.Task) (int64, error)
	FindByID(id int64) (*domain.Task, error)
	FindByAssignee(assignee string) ([]domain.Task, error)
	FindByWorkflowID(workflowID int64) ([]domain.Task, error)
	FindByWorkflowAndStep(workflowID int64, stepOrder int) ([]domain.Task, error)
	CountCompleted(workflowID int64, stepOrder int) (int, error)
	UpdateStatusFrom(id int64, from, to domain.TaskStatus) (bool, error)
	RejectOutstanding(workflowID int64) (int64, error)
}

// WorkflowActionRepo defines the interface for workflow action persistence.
type WorkflowActionRepo interface {
	Save(a *domain.WorkflowAction) (int64, error)
	FindAllByWorkflowID(workflowID int64) (*[]domain.WorkflowAction, error)
}

// UserRepo defines the interface for user persistence.
type UserRepo interface {
	FindBySessionID(sessionID string, now time.Time) (*domain.User, error)
	FindByApiKey(apiKey string) (*domain.User, error)
	FindAll() (*[]domain.User, error)
	Save(user *domain.User) (int64, error)
	FindById(id int64) (*domain.User, error)
	DeleteById(id int64) error
	FindByUsername(username string) (*domain.User, error)
	UpdateSession(userID int64, sessionID string, expiry time.Time) error
	ClearSessionBySessionID(sessionID string) error
	UpdateUser(id int64, username string, apiKey sql.NullString, admin sql.NullBool, enabled sql.NullBool) error
}

// Repos bundles the repositories one serialized engine unit writes through.
type Repos struct {
	Workflows WorkflowRepo
	Steps     StepRepo
	Tasks     TaskRepo
	Actions   WorkflowActionRepo
}
