package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/neokatalyst/approvalflow/internal/engine"
)

// ActionsController exposes the per-workflow audit trail.
type ActionsController struct {
	AuthController
	WorkflowActionRepo engine.WorkflowActionRepo
}

func NewActionsController(workflowActionsRepo engine.WorkflowActionRepo, userRepo engine.UserRepo) *ActionsController {
	return &ActionsController{
		WorkflowActionRepo: workflowActionsRepo, AuthController: AuthController{
			UserRepo: userRepo,
		}}
}

func (c *ActionsController) handleGetActionsForWorkflow(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	results, err := c.WorkflowActionRepo.FindAllByWorkflowID(int64(id))
	if err != nil {
		slog.Error("Failed to load workflow actions", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if results != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(results)
		return
	}
}
