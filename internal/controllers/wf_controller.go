package controllers

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/neokatalyst/approvalflow/internal/engine"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/models"
)

// WorkflowsController holds dependencies for workflow HTTP endpoints.
type WorkflowsController struct {
	AuthController
	WorkflowManager *engine.WorkflowManager
}

func NewWorkflowsController(workflowManager *engine.WorkflowManager, userRepo engine.UserRepo) *WorkflowsController {
	return &WorkflowsController{WorkflowManager: workflowManager, AuthController: AuthController{
		UserRepo: userRepo,
	}}
}

func (c *WorkflowsController) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req models.CreateWorkflowRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	actor := actorFromContext(r.Context())
	slog.InfoContext(r.Context(), "Creating workflow", "name", req.Name, "steps", len(req.Steps), "actor", actor)

	steps := make([]domain.StepDefinition, 0, len(req.Steps))
	for _, s := range req.Steps {
		step := domain.StepDefinition{
			StepOrder:         s.Order,
			Name:              s.Name,
			Description:       s.Description,
			Assignee:          s.Assignee,
			RequiredApprovals: s.RequiredApprovals,
		}
		if s.DueInDays != nil {
			step.DueInDays = sql.NullInt64{Int64: int64(*s.DueInDays), Valid: true}
		}
		steps = append(steps, step)
	}

	wf, err := c.WorkflowManager.CreateDraft(r.Context(), req.Name, req.Description, steps, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.CreateWorkflowResponse{ID: wf.ID})
}

func (c *WorkflowsController) handleActivateWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowIDFromPath(w, r)
	if !ok {
		return
	}
	wf, err := c.WorkflowManager.Activate(r.Context(), id, actorFromContext(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(mapWorkflowToApiWorkflow(wf))
}

func (c *WorkflowsController) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowIDFromPath(w, r)
	if !ok {
		return
	}
	wf, err := c.WorkflowManager.Cancel(r.Context(), id, actorFromContext(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.CancelWorkflowResponse{OK: true, Status: string(wf.Status)})
}

func (c *WorkflowsController) handleGetWorkflowById(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowIDFromPath(w, r)
	if !ok {
		return
	}
	detail, err := c.WorkflowManager.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := models.WorkflowDetailResponse{
		WorkflowApiResponse: mapWorkflowToApiWorkflow(&detail.Workflow),
		Tasks:               make([]models.TaskApiResponse, 0, len(detail.Tasks)),
	}
	for i := range detail.Tasks {
		resp.Tasks = append(resp.Tasks, mapTaskToApiTask(&detail.Tasks[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (c *WorkflowsController) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 || parsed > 1000 {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	workflows, err := c.WorkflowManager.ListWorkflows(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list workflows", "error", err)
		http.Error(w, "failed to list workflows", http.StatusInternalServerError)
		return
	}
	results := make([]models.WorkflowApiResponse, 0, len(workflows))
	for i := range workflows {
		results = append(results, mapWorkflowToApiWorkflow(&workflows[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(results)
}

func workflowIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := r.PathValue("id")
	if idStr == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return 0, false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		http.Error(w, "id is an integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func mapWorkflowToApiWorkflow(wf *domain.Workflow) models.WorkflowApiResponse {
	resp := models.WorkflowApiResponse{
		ID:          wf.ID,
		Name:        wf.Name,
		Description: wf.Description,
		Status:      string(wf.Status),
		CreatedBy:   wf.CreatedBy,
		Created:     wf.Created,
		Modified:    wf.Modified,
		Steps:       make([]models.StepApiResponse, 0, len(wf.Steps)),
	}
	if wf.CurrentStepOrder.Valid {
		resp.CurrentStepOrder = int(wf.CurrentStepOrder.Int64)
	}
	for _, s := range wf.Steps {
		step := models.StepApiResponse{
			Order:             s.StepOrder,
			Name:              s.Name,
			Description:       s.Description,
			Assignee:          s.Assignee,
			RequiredApprovals: s.RequiredApprovals,
		}
		if s.DueInDays.Valid {
			step.DueInDays = int(s.DueInDays.Int64)
		}
		resp.Steps = append(resp.Steps, step)
	}
	return resp
}

func mapTaskToApiTask(t *domain.Task) models.TaskApiResponse {
	resp := models.TaskApiResponse{
		ID:          t.ID,
		WorkflowID:  t.WorkflowID,
		StepOrder:   t.StepOrder,
		Title:       t.Title,
		Description: t.Description,
		Assignee:    t.Assignee,
		Status:      string(t.Status),
		Created:     t.Created,
		Modified:    t.Modified,
	}
	if t.DueDate.Valid {
		due := t.DueDate.Time
		resp.DueDate = &due
	}
	if t.CompletedAt.Valid {
		completed := t.CompletedAt.Time
		resp.CompletedAt = &completed
	}
	return resp
}
