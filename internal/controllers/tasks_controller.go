package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/neokatalyst/approvalflow/internal/engine"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"
	"github.com/neokatalyst/approvalflow/pkg/approvalflow/models"
)

// TasksController exposes the task inbox and the transition operation.
type TasksController struct {
	AuthController
	TaskManager *engine.TaskManager
}

func NewTasksController(taskManager *engine.TaskManager, userRepo engine.UserRepo) *TasksController {
	return &TasksController{TaskManager: taskManager, AuthController: AuthController{
		UserRepo: userRepo,
	}}
}

// handleListMyTasks returns the authenticated user's tasks.
func (c *TasksController) handleListMyTasks(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	tasks, err := c.TaskManager.ListTasksForAssignee(r.Context(), actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	results := make([]models.TaskApiResponse, 0, len(tasks))
	for i := range tasks {
		results = append(results, mapTaskToApiTask(&tasks[i]))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(results)
}

func (c *TasksController) handleGetTaskById(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDFromPath(w, r)
	if !ok {
		return
	}
	task, err := c.TaskManager.Get(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(mapTaskToApiTask(task))
}

func (c *TasksController) handleTransitionTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskIDFromPath(w, r)
	if !ok {
		return
	}

	var req models.TransitionTaskRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	newStatus := domain.TaskStatus(req.Status)
	if !newStatus.IsValid() {
		http.Error(w, "status must be one of pending, in_progress, completed, rejected", http.StatusBadRequest)
		return
	}

	task, err := c.TaskManager.Transition(r.Context(), id, newStatus, actorFromContext(r.Context()))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(models.TransitionTaskResponse{OK: true, Task: mapTaskToApiTask(task)})
}

func taskIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
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
