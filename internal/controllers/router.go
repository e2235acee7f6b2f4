package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *WorkflowsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/workflows", c.RequireAuth(c.handleCreateWorkflow))
	mux.HandleFunc("GET /api/workflows", c.RequireAuth(c.handleListWorkflows))
	mux.HandleFunc("GET /api/workflows/{id}", c.RequireAuth(c.handleGetWorkflowById))
	mux.HandleFunc("POST /api/workflows/{id}/activate", c.RequireAuth(c.handleActivateWorkflow))
	mux.HandleFunc("POST /api/workflows/{id}/cancel", c.RequireAuth(c.handleCancelWorkflow))
}

func (c *TasksController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks", c.RequireAuth(c.handleListMyTasks))
	mux.HandleFunc("GET /api/tasks/{id}", c.RequireAuth(c.handleGetTaskById))
	mux.HandleFunc("POST /api/tasks/{id}/transition", c.RequireAuth(c.handleTransitionTask))
}

func (c *ActionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/actions/byWorkflowId/{id}", c.RequireAuth(c.handleGetActionsForWorkflow))
}

func (c *UsersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users", c.RequireAuth(c.handleGetUsers))
	mux.HandleFunc("POST /api/users", c.RequireAuth(c.handleCreateUser))
	mux.HandleFunc("GET /api/users/{id}", c.RequireAuth(c.handleGetUserById))
	mux.HandleFunc("DELETE /api/users/{id}", c.RequireAuth(c.handleDeleteUser))
}

func (c *SessionController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /login", c.handleLogin)
	mux.HandleFunc("POST /logout", c.handleLogout)
}
