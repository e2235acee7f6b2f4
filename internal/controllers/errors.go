package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/neokatalyst/approvalflow/internal/engine"
)

// writeEngineError maps engine error kinds to HTTP status codes. Every
// rejected operation gets a specific message so callers can tell a wrong
// actor from a wrong state.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrEmptySteps),
		errors.Is(err, engine.ErrInvalidStepSequence),
		errors.Is(err, engine.ErrInvalidStepDefinition):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, engine.ErrTaskNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, engine.ErrInvalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrWorkflowBusy):
		http.Error(w, "unable to acquire lock; workflow busy", http.StatusConflict)
	default:
		// Includes ErrStepNotFound: an internal-consistency bug, surfaced opaque.
		slog.Error("Internal engine error", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
