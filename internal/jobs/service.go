package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"genserver/internal/comfy"
	"genserver/internal/domain"
	"genserver/internal/events"
	"genserver/internal/infra"
	"genserver/internal/metrics"
)

// ComfyBackend is the queue-backend surface the lifecycle logic needs.
type ComfyBackend interface {
	SubmitPrompt(ctx context.Context, workflow json.RawMessage, clientID string) (string, error)
	RunningPromptIDs(ctx context.Context) ([]string, error)
	History(ctx context.Context) (map[string]comfy.HistoryEntry, error)
	ViewURL(d comfy.OutputDescriptor) string
	FetchOutput(ctx context.Context, d comfy.OutputDescriptor) ([]byte, error)
}

// ServerlessBackend submits work that completes via webhook.
type ServerlessBackend interface {
	Run(ctx context.Context, input json.RawMessage, webhookURL string) (string, error)
}

// ArtifactStore persists raw artifact bytes under a storage key.
type ArtifactStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// SubmitRequest carries one validated generation request into the service.
type SubmitRequest struct {
	UserID   string
	Type     domain.JobType
	Backend  domain.JobBackend
	Workflow json.RawMessage
	Params   json.RawMessage
	// ModelID optionally names a reusable model reference whose usage
	// counter is bumped best-effort.
	ModelID string
}

// ServiceOptions wires the submission service's collaborators.
type ServiceOptions struct {
	Jobs       domain.JobRepository
	Comfy      ComfyBackend
	Serverless ServerlessBackend
	Usage      domain.ModelUsageRepository
	Events     events.Publisher
	Config     *infra.Config
	Logger     infra.Logger
}

// Service implements job submission: persist first, dispatch second, and
// never surface a dispatch failure synchronously. The caller always gets a
// job id once a row exists and learns of downstream failures by polling
// job status.
type Service struct {
	jobs       domain.JobRepository
	comfy      ComfyBackend
	serverless ServerlessBackend
	usage      domain.ModelUsageRepository
	events     events.Publisher
	cfg        *infra.Config
	logger     infra.Logger
}

// NewService constructs the submission service.
func NewService(opts ServiceOptions) *Service {
	publisher := opts.Events
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		jobs:       opts.Jobs,
		comfy:      opts.Comfy,
		serverless: opts.Serverless,
		usage:      opts.Usage,
		events:     publisher,
		cfg:        opts.Config,
		logger:     opts.Logger,
	}
}

// Submit validates the request, persists the job, and dispatches it to the
// selected backend. The returned job reflects the post-dispatch state; a
// dispatch failure is recorded on the job, not returned as an error.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, domain.ErrUnauthorized
	}
	if len(req.Workflow) == 0 {
		return nil, fmt.Errorf("%w: workflow is required", domain.ErrInvalidRequest)
	}
	backend := req.Backend
	if backend == "" {
		backend = domain.BackendComfy
	}

	params, err := encodeParams(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	job := &domain.Job{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Type:        req.Type,
		Backend:     backend,
		Status:      domain.JobStatusPending,
		Progress:    0,
		Params:      params,
		MaxAttempts: s.cfg.MaxAttemptsFor(req.Type == domain.JobTypeVideo),
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	// Read-back verification against write failures in the store.
	if _, err := s.jobs.GetByID(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("verify job persistence: %w", err)
	}

	metrics.JobsSubmitted.WithLabelValues(string(job.Type), string(job.Backend)).Inc()
	s.dispatch(ctx, job, req)
	s.bumpUsage(ctx, req.ModelID)

	return job, nil
}

func (s *Service) dispatch(ctx context.Context, job *domain.Job, req SubmitRequest) {
	timeout := s.cfg.ComfySubmitTimeout
	if job.Backend == domain.BackendServerless && s.cfg.ServerlessSubmitTimeout > 0 {
		timeout = s.cfg.ServerlessSubmitTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var promptID string
	var err error
	switch job.Backend {
	case domain.BackendServerless:
		promptID, err = s.serverless.Run(dctx, req.Workflow, s.webhookURL())
		if err != nil {
			err = fmt.Errorf("serverless dispatch failed: %w", err)
		}
	default:
		promptID, err = s.comfy.SubmitPrompt(dctx, req.Workflow, job.ID)
		if err != nil {
			err = fmt.Errorf("ComfyUI submission failed: %w", err)
		}
	}

	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("jobs: dispatch failed")
		s.failJob(ctx, job, err.Error(), "dispatch")
		return
	}

	moved, markErr := s.jobs.MarkProcessing(ctx, job.ID, promptID)
	if markErr != nil {
		s.logger.Error().Err(markErr).Str("job_id", job.ID).Msg("jobs: mark processing failed")
		return
	}
	if moved {
		job.Status = domain.JobStatusProcessing
		job.PromptID = promptID
	}
	s.logger.Info().Str("job_id", job.ID).Str("prompt_id", promptID).Str("backend", string(job.Backend)).Msg("jobs: dispatched")
}

func (s *Service) failJob(ctx context.Context, job *domain.Job, msg, reason string) {
	moved, err := s.jobs.MarkFailed(ctx, job.ID, msg)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("jobs: mark failed errored")
		return
	}
	if !moved {
		return
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = msg
	metrics.JobsFailed.WithLabelValues(reason).Inc()
	if err := s.events.PublishJobEvent(ctx, events.JobEvent{
		JobID:      job.ID,
		UserID:     job.UserID,
		Type:       job.Type,
		Status:     domain.JobStatusFailed,
		Error:      msg,
		OccurredAt: time.Now().UTC(),
	}); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("jobs: publish failed event")
	}
}

func (s *Service) bumpUsage(ctx context.Context, modelID string) {
	if s.usage == nil || strings.TrimSpace(modelID) == "" {
		return
	}
	if err := s.usage.IncrementUsage(ctx, modelID); err != nil {
		s.logger.Warn().Err(err).Str("model_id", modelID).Msg("jobs: usage counter increment failed")
	}
}

func (s *Service) webhookURL() string {
	base := strings.TrimRight(s.cfg.WebhookBaseURL, "/")
	if base == "" {
		return ""
	}
	return base + "/v1/webhooks/serverless"
}

func encodeParams(req SubmitRequest) (json.RawMessage, error) {
	payload := map[string]json.RawMessage{"workflow": req.Workflow}
	if len(req.Params) > 0 {
		payload["params"] = req.Params
	}
	return json.Marshal(payload)
}
