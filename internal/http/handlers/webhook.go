package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"genserver/internal/domain"
)

type serverlessWebhookRequest struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// ServerlessWebhook receives completion callbacks from the serverless
// provider. The job is matched by the provider-assigned id recorded at
// dispatch time. Unknown ids are acknowledged so the provider stops
// retrying; the poller has no hand in serverless jobs, so this is the only
// completion path for them.
func (a *App) ServerlessWebhook(w http.ResponseWriter, r *http.Request) {
	var req serverlessWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}

	job, err := a.JobRepo.GetByPromptID(r.Context(), req.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.Logger.Warn().Str("provider_id", req.ID).Msg("http: webhook for unknown job")
			a.json(w, http.StatusOK, map[string]any{"success": true})
			return
		}
		a.Logger.Error().Err(err).Str("provider_id", req.ID).Msg("http: webhook job lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "lookup failed")
		return
	}

	switch strings.ToUpper(req.Status) {
	case "COMPLETED":
		urls := outputURLs(req.Output)
		if len(urls) == 0 {
			a.Finalizer.Fail(r.Context(), job, "backend completed without outputs", "empty_outputs")
			break
		}
		a.Finalizer.FinalizeServerless(r.Context(), job, urls)
	case "FAILED", "CANCELLED", "TIMED_OUT":
		msg := req.Error
		if msg == "" {
			msg = "generation failed on backend"
		}
		a.Finalizer.Fail(r.Context(), job, msg, "webhook")
	default:
		// IN_QUEUE / IN_PROGRESS notifications carry no outputs yet.
		a.Logger.Debug().Str("job_id", job.ID).Str("status", req.Status).Msg("http: webhook progress notification")
	}

	a.json(w, http.StatusOK, map[string]any{"success": true, "job_id": job.ID})
}

// outputURLs tolerates the payload shapes serverless workers emit: a bare
// URL array, {"images": [...]}, {"urls": [...]}, or objects with a url field.
func outputURLs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return compactURLs(plain)
	}
	var wrapped struct {
		Images []string `json:"images"`
		URLs   []string `json:"urls"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if urls := compactURLs(append(wrapped.Images, wrapped.URLs...)); len(urls) > 0 {
			return urls
		}
	}
	var objects []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &objects); err == nil {
		urls := make([]string, 0, len(objects))
		for _, o := range objects {
			urls = append(urls, o.URL)
		}
		return compactURLs(urls)
	}
	return nil
}

func compactURLs(urls []string) []string {
	out := urls[:0]
	for _, u := range urls {
		if strings.TrimSpace(u) != "" {
			out = append(out, u)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
