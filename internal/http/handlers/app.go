package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"genserver/internal/domain"
	"genserver/internal/infra"
	"genserver/internal/jobs"
	"genserver/internal/middleware"
)

// FileReader reads persisted artifact bytes back for download endpoints.
type FileReader interface {
	Read(ctx context.Context, key string) ([]byte, error)
}

// App bundles the dependencies shared by the HTTP handlers.
type App struct {
	Jobs      *jobs.Service
	JobRepo   domain.JobRepository
	Artifacts domain.ArtifactRepository
	Finalizer *jobs.Finalizer
	Files     FileReader
	Logger    infra.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, map[string]any{
		"success": false,
		"error":   errCode,
		"message": msg,
	})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
