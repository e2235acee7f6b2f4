package domain

import "database/sql"

// StepDefinition is one ordered stage of a workflow. A step is satisfied
// once RequiredApprovals of its tasks reach completed.
type StepDefinition struct {
	ID                int64
	WorkflowID        int64
	StepOrder         int
	Name              string
	Description       string
	Assignee          string
	RequiredApprovals int
	DueInDays         sql.NullInt64
}
