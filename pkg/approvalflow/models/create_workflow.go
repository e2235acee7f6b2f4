package models

// StepRequest is one step template inside a create-workflow payload.
type StepRequest struct {
	Order             int    `json:"order"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	Assignee          string `json:"assignee"`
	RequiredApprovals int    `json:"requiredApprovals"`
	// DueInDays, when set, stamps a due date that many days from task
	// instantiation onto every task of the step.
	DueInDays *int `json:"dueInDays,omitempty"`
}

// CreateWorkflowRequest is the payload for creating a draft workflow.
type CreateWorkflowRequest struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Steps       []StepRequest `json:"steps"`
}

// CreateWorkflowResponse is returned on successful creation.
type CreateWorkflowResponse struct {
	ID int64 `json:"id"`
}
