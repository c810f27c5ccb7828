package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"genserver/internal/domain"
	"genserver/internal/jobs"
)

type generateRequest struct {
	Workflow json.RawMessage `json:"workflow"`
	Params   json.RawMessage `json:"params"`
	Provider string          `json:"provider"` // comfy (default) | serverless
	Model    string          `json:"model"`
}

type generateResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

func (a *App) ImagesGenerate(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, domain.JobTypeImage)
}

func (a *App) VideosGenerate(w http.ResponseWriter, r *http.Request) {
	a.generate(w, r, domain.JobTypeVideo)
}

func (a *App) generate(w http.ResponseWriter, r *http.Request, jobType domain.JobType) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	backend, ok := backendFor(req.Provider)
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "unsupported provider")
		return
	}

	job, err := a.Jobs.Submit(r.Context(), jobs.SubmitRequest{
		UserID:   userID,
		Type:     jobType,
		Backend:  backend,
		Workflow: req.Workflow,
		Params:   req.Params,
		ModelID:  req.Model,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnauthorized):
			a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		case errors.Is(err, domain.ErrInvalidRequest):
			a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		default:
			a.Logger.Error().Err(err).Str("user_id", userID).Msg("http: job submission failed")
			a.error(w, http.StatusInternalServerError, "internal", "failed to queue job")
		}
		return
	}

	// Dispatch failures are recorded on the job row; the response is a
	// success either way so clients always have an id to poll.
	a.json(w, http.StatusAccepted, generateResponse{
		Success: true,
		JobID:   job.ID,
		Message: "generation started",
	})
}

func backendFor(provider string) (domain.JobBackend, bool) {
	switch provider {
	case "", "comfy", "comfyui":
		return domain.BackendComfy, true
	case "serverless", "runpod":
		return domain.BackendServerless, true
	default:
		return "", false
	}
}
