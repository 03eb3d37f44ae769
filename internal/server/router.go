package server

import (
	"net/http"

	"go.uber.org/zap"
)

// RouterConfig wires the ops endpoints.
type RouterConfig struct {
	Health  *HealthHandler
	Tasks   TaskSource
	Metrics http.Handler
	Logger  *zap.Logger
}

// NewRouter builds the ops mux:
//
//	GET  /healthz
//	GET  /readyz
//	GET  /metrics
//	GET  /api/v1/tasks
//	GET  /api/v1/tasks/{id}
//	POST /api/v1/tasks/{id}/sync
func NewRouter(rc RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	health := rc.Health
	if health == nil {
		health = NewHealthHandler("", rc.Logger)
	}
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /readyz", health.HandleReady)

	if rc.Metrics != nil {
		mux.Handle("GET /metrics", rc.Metrics)
	}
	if rc.Tasks != nil {
		th := NewTaskHandler(rc.Tasks, rc.Logger)
		mux.HandleFunc("GET /api/v1/tasks", th.HandleList)
		mux.HandleFunc("GET /api/v1/tasks/{id}", th.HandleGet)
		mux.HandleFunc("POST /api/v1/tasks/{id}/sync", th.HandleSync)
	}
	return mux
}
