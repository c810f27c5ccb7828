package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"genserver/internal/domain"
	"genserver/pkg/zip"
)

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJobForUser(w, r)
	if !ok {
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":           job.ID,
		"type":         job.Type,
		"backend":      job.Backend,
		"status":       job.Status,
		"progress":     job.Progress,
		"result_urls":  job.ResultURLs,
		"error":        job.ErrorMessage,
		"attempts":     job.Attempts,
		"max_attempts": job.MaxAttempts,
		"created_at":   job.CreatedAt,
		"updated_at":   job.UpdatedAt,
	})
}

func (a *App) JobArtifacts(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJobForUser(w, r)
	if !ok {
		return
	}
	artifacts, err := a.Artifacts.ListByJob(r.Context(), job.ID, job.UserID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("http: list artifacts failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load artifacts")
		return
	}
	items := make([]map[string]any, 0, len(artifacts))
	for _, art := range artifacts {
		items = append(items, map[string]any{
			"id":          art.ID,
			"storage_key": art.StorageKey,
			"source_url":  art.SourceURL,
			"mime":        art.MIME,
			"width":       art.Width,
			"height":      art.Height,
			"metadata":    art.Metadata,
			"created_at":  art.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

func (a *App) JobDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := a.loadJobForUser(w, r)
	if !ok {
		return
	}
	artifacts, err := a.Artifacts.ListByJob(r.Context(), job.ID, job.UserID)
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", job.ID).Msg("http: list artifacts failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load artifacts")
		return
	}
	assets := make([]zip.Asset, 0, len(artifacts))
	for _, art := range artifacts {
		data := a.artifactData(r.Context(), art)
		if len(data) == 0 {
			continue
		}
		assets = append(assets, zip.Asset{
			Filename: fmt.Sprintf("%s-%s", job.ID, path.Base(art.StorageKey)),
			MIME:     art.MIME,
			Data:     data,
		})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "no downloadable artifacts")
		return
	}
	archive := zip.ArchiveAssets(assets)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job-%s.zip", job.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}

func (a *App) artifactData(ctx context.Context, art domain.Artifact) []byte {
	if art.StorageKey == "" || a.Files == nil {
		return nil
	}
	data, err := a.Files.Read(ctx, art.StorageKey)
	if err != nil {
		a.Logger.Warn().Err(err).Str("artifact_id", art.ID).Msg("http: artifact read failed")
		return nil
	}
	return data
}

// loadJobForUser resolves the job_id route param to a job owned by the
// caller. It writes the error response itself when the lookup fails.
func (a *App) loadJobForUser(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return nil, false
	}
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return nil, false
	}
	job, err := a.JobRepo.GetByID(r.Context(), jobID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.Logger.Error().Err(err).Str("job_id", jobID).Msg("http: job lookup failed")
		}
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return nil, false
	}
	if job.UserID != userID {
		// Do not leak existence of other users' jobs.
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return nil, false
	}
	return job, true
}
