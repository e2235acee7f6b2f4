package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/neokatalyst/approvalflow/pkg/approvalflow/domain"
)

// Notifier receives engine events for external fan-out (e.g. alerting the
// next assignee). Implementations must be fire-and-forget: a failed
// notification never rolls back the state change that produced it.
type Notifier interface {
	TasksAssigned(ctx context.Context, wf *domain.Workflow, stepOrder int, tasks []domain.Task)
	WorkflowFinalized(ctx context.Context, wf *domain.Workflow, status domain.WorkflowStatus)
}

// LogNotifier writes events to the structured log. It is the default when
// no webhook is configured.
type LogNotifier struct{}

func (LogNotifier) TasksAssigned(ctx context.Context, wf *domain.Workflow, stepOrder int, tasks []domain.Task) {
	slog.InfoContext(ctx, "Tasks assigned", "workflow_id", wf.ID, "step_order", stepOrder, "count", len(tasks))
}

func (LogNotifier) WorkflowFinalized(ctx context.Context, wf *domain.Workflow, status domain.WorkflowStatus) {
	slog.InfoContext(ctx, "Workflow finalized", "workflow_id", wf.ID, "status", string(status))
}

// WebhookNotifier POSTs events as JSON to a configured URL. Delivery runs
// on its own goroutine with a short timeout; failures are logged and
// dropped.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

type webhookEvent struct {
	Event      string    `json:"event"`
	WorkflowID int64     `json:"workflowId"`
	Workflow   string    `json:"workflow"`
	Status     string    `json:"status,omitempty"`
	StepOrder  int       `json:"stepOrder,omitempty"`
	Assignee   string    `json:"assignee,omitempty"`
	TaskIDs    []int64   `json:"taskIds,omitempty"`
	DateTime   time.Time `json:"dateTime"`
}

func (n *WebhookNotifier) TasksAssigned(ctx context.Context, wf *domain.Workflow, stepOrder int, tasks []domain.Task) {
	ev := webhookEvent{
		Event:      "tasks_assigned",
		WorkflowID: wf.ID,
		Workflow:   wf.Name,
		StepOrder:  stepOrder,
		DateTime:   time.Now().UTC(),
	}
	if len(tasks) > 0 {
		ev.Assignee = tasks[0].Assignee
		for _, t := range tasks {
			ev.TaskIDs = append(ev.TaskIDs, t.ID)
		}
	}
	n.post(ev)
}

func (n *WebhookNotifier) WorkflowFinalized(ctx context.Context, wf *domain.Workflow, status domain.WorkflowStatus) {
	n.post(webhookEvent{
		Event:      "workflow_finalized",
		WorkflowID: wf.ID,
		Workflow:   wf.Name,
		Status:     string(status),
		DateTime:   time.Now().UTC(),
	})
}

func (n *WebhookNotifier) post(ev webhookEvent) {
	go func() {
		body, err := json.Marshal(ev)
		if err != nil {
			slog.Error("Failed to marshal webhook event", "error", err)
			return
		}
		resp, err := n.Client.Post(n.URL, "application/json", bytes.NewReader(body))
		if err != nil {
			slog.Warn("Webhook delivery failed", "event", ev.Event, "workflow_id", ev.WorkflowID, "error", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			slog.Warn("Webhook delivery rejected", "event", ev.Event, "workflow_id", ev.WorkflowID, "status", resp.StatusCode)
		}
	}()
}
