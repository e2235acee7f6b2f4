package models

import "time"

// StepApiResponse represents one step template in API responses.
type StepApiResponse struct {
	Order             int    `json:"order"`
	Name              string `json:"name"`
	Description       string `json:"description,omitempty"`
	Assignee          string `json:"assignee"`
	RequiredApprovals int    `json:"requiredApprovals"`
	DueInDays         int    `json:"dueInDays,omitempty"`
}

// WorkflowApiResponse represents the API response for a workflow.
type WorkflowApiResponse struct {
	ID               int64             `json:"id"`
	Name             string            `json:"name"`
	Description      string            `json:"description,omitempty"`
	Status           string            `json:"status"`
	CurrentStepOrder int               `json:"currentStepOrder,omitempty"`
	CreatedBy        string            `json:"createdBy"`
	Created          time.Time         `json:"created"`
	Modified         time.Time         `json:"modified"`
	Steps            []StepApiResponse `json:"steps"`
}

// TaskApiResponse represents the API response for a task.
type TaskApiResponse struct {
	ID          int64      `json:"id"`
	WorkflowID  int64      `json:"workflowId"`
	StepOrder   int        `json:"stepOrder"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Assignee    string     `json:"assignee"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Created     time.Time  `json:"created"`
	Modified    time.Time  `json:"modified"`
}

// WorkflowDetailResponse is a workflow snapshot with its task set.
type WorkflowDetailResponse struct {
	WorkflowApiResponse
	Tasks []TaskApiResponse `json:"tasks"`
}

// TransitionTaskRequest asks for a task status change on behalf of the
// authenticated actor.
type TransitionTaskRequest struct {
	Status string `json:"status"`
}

type TransitionTaskResponse struct {
	OK   bool            `json:"ok"`
	Task TaskApiResponse `json:"task"`
}

type CancelWorkflowResponse struct {
	OK     bool   `json:"ok"`
	Status string `json:"status"`
}
