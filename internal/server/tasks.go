package server

import (
	"context"
	"net/http"
	"slices"

	"github.com/BaSui01/humanloop/persistence"
	"github.com/BaSui01/humanloop/types"
	"go.uber.org/zap"
)

// TaskSource exposes the manager's task history.
type TaskSource interface {
	Tasks() []string
	Snapshot(ctx context.Context, taskID string) (*persistence.TaskSnapshot, error)
	SyncTask(ctx context.Context, taskID string) error
}

// TaskHandler serves read-only task views plus a manual sync trigger.
type TaskHandler struct {
	source TaskSource
	logger *zap.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(source TaskSource, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{source: source, logger: logger}
}

// HandleList returns every known task id, sorted.
func (h *TaskHandler) HandleList(w http.ResponseWriter, _ *http.Request) {
	ids := h.source.Tasks()
	slices.Sort(ids)
	WriteSuccess(w, map[string]any{"tasks": ids, "count": len(ids)})
}

// HandleGet returns the snapshot of one task.
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	snap, err := h.source.Snapshot(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, snap)
}

// HandleSync pushes the task to the configured sink.
func (h *TaskHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !slices.Contains(h.source.Tasks(), id) {
		WriteError(w, types.NewError(types.ErrTaskNotFound, "task '"+id+"' not found"), h.logger)
		return
	}
	if err := h.source.SyncTask(r.Context(), id); err != nil {
		WriteError(w, types.NewError(types.ErrUpstreamError, "sync failed").WithCause(err).WithRetryable(true), h.logger)
		return
	}
	WriteSuccess(w, map[string]string{"task_id": id, "status": "synced"})
}
