package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"genserver/internal/comfy"
	"genserver/internal/domain"
	"genserver/internal/events"
	"genserver/internal/infra"
	"genserver/internal/metrics"
)

// Finalizer turns backend output descriptors into durable artifacts and
// moves jobs to their terminal status. Per-descriptor failures are skipped
// (partial success still completes the job); only a failure of the whole
// pass marks the job failed.
type Finalizer struct {
	jobs      domain.JobRepository
	artifacts domain.ArtifactRepository
	store     ArtifactStore
	backend   ComfyBackend
	events    events.Publisher
	logger    infra.Logger
}

// NewFinalizer constructs a finalizer.
func NewFinalizer(
	jobs domain.JobRepository,
	artifacts domain.ArtifactRepository,
	store ArtifactStore,
	backend ComfyBackend,
	publisher events.Publisher,
	logger infra.Logger,
) *Finalizer {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Finalizer{
		jobs:      jobs,
		artifacts: artifacts,
		store:     store,
		backend:   backend,
		events:    publisher,
		logger:    logger,
	}
}

// FinalizeComfy persists the outputs of a resolved queue-backend job. A
// legacy view URL is built for every descriptor regardless of whether its
// artifact persisted, preserving backward-compatible link shape.
func (f *Finalizer) FinalizeComfy(ctx context.Context, job *domain.Job, descriptors []comfy.OutputDescriptor) error {
	if job.Status.Terminal() {
		return nil
	}

	urls, passErr := f.persistDescriptors(ctx, job, descriptors)
	if passErr != nil {
		f.logger.Error().Err(passErr).Str("job_id", job.ID).Msg("finalizer: result processing failed")
		f.Fail(ctx, job, "result processing failed: "+passErr.Error(), "result_processing")
		return passErr
	}

	f.complete(ctx, job, urls)
	return nil
}

// FinalizeServerless records webhook-delivered output URLs as artifacts and
// completes the job. The serverless provider hosts the outputs itself, so
// artifact rows carry the source URL with no local storage key.
func (f *Finalizer) FinalizeServerless(ctx context.Context, job *domain.Job, outputURLs []string) {
	if job.Status.Terminal() {
		return
	}
	for _, u := range outputURLs {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		artifact := &domain.Artifact{
			ID:        uuid.NewString(),
			UserID:    job.UserID,
			JobID:     job.ID,
			SourceURL: u,
			MIME:      mimeForFilename(u),
			Metadata:  map[string]any{"backend": string(domain.BackendServerless)},
		}
		if err := f.artifacts.Insert(ctx, artifact); err != nil {
			f.logger.Error().Err(err).Str("job_id", job.ID).Str("url", u).Msg("finalizer: artifact insert failed")
			continue
		}
		metrics.ArtifactsPersisted.Inc()
	}
	f.complete(ctx, job, outputURLs)
}

// Fail conditionally moves the job to failed and emits the terminal event.
func (f *Finalizer) Fail(ctx context.Context, job *domain.Job, msg, reason string) {
	moved, err := f.jobs.MarkFailed(ctx, job.ID, msg)
	if err != nil {
		f.logger.Error().Err(err).Str("job_id", job.ID).Msg("finalizer: mark failed errored")
		return
	}
	if !moved {
		return
	}
	job.Status = domain.JobStatusFailed
	job.ErrorMessage = msg
	metrics.JobsFailed.WithLabelValues(reason).Inc()
	f.publish(ctx, job)
}

// persistDescriptors stores each output and returns the legacy URLs for all
// of them. A single descriptor failing to download, store, or insert is
// logged and skipped; its URL is still returned.
func (f *Finalizer) persistDescriptors(ctx context.Context, job *domain.Job, descriptors []comfy.OutputDescriptor) (urls []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("persistence pass panicked: %v", r)
		}
	}()

	for idx, d := range descriptors {
		legacyURL := f.backend.ViewURL(d)
		urls = append(urls, legacyURL)

		if err := ctx.Err(); err != nil {
			return urls, err
		}

		data, fetchErr := f.backend.FetchOutput(ctx, d)
		if fetchErr != nil {
			f.logger.Error().Err(fetchErr).Str("job_id", job.ID).Str("filename", d.Filename).Msg("finalizer: fetch output failed")
			continue
		}
		key := storageKeyFor(job, d, idx)
		savedKey, writeErr := f.store.Write(ctx, key, data)
		if writeErr != nil {
			f.logger.Error().Err(writeErr).Str("job_id", job.ID).Str("key", key).Msg("finalizer: store write failed")
			continue
		}
		artifact := &domain.Artifact{
			ID:         uuid.NewString(),
			UserID:     job.UserID,
			JobID:      job.ID,
			StorageKey: savedKey,
			SourceURL:  legacyURL,
			MIME:       mimeForFilename(d.Filename),
			Metadata: map[string]any{
				"subfolder": d.Subfolder,
				"type":      d.Type,
			},
		}
		if insertErr := f.artifacts.Insert(ctx, artifact); insertErr != nil {
			f.logger.Error().Err(insertErr).Str("job_id", job.ID).Str("filename", d.Filename).Msg("finalizer: artifact insert failed")
			continue
		}
		metrics.ArtifactsPersisted.Inc()
	}
	return urls, nil
}

func (f *Finalizer) complete(ctx context.Context, job *domain.Job, urls []string) {
	moved, err := f.jobs.MarkCompleted(ctx, job.ID, urls)
	if err != nil {
		// No rollback: the job row stays in its current state.
		f.logger.Error().Err(err).Str("job_id", job.ID).Msg("finalizer: completion update failed")
		return
	}
	if !moved {
		f.logger.Info().Str("job_id", job.ID).Msg("finalizer: job already terminal, completion skipped")
		return
	}
	job.Status = domain.JobStatusCompleted
	job.Progress = 100
	job.ResultURLs = urls
	metrics.JobsCompleted.Inc()
	f.publish(ctx, job)
}

func (f *Finalizer) publish(ctx context.Context, job *domain.Job) {
	event := events.JobEvent{
		JobID:      job.ID,
		UserID:     job.UserID,
		Type:       job.Type,
		Status:     job.Status,
		Error:      job.ErrorMessage,
		ResultURLs: job.ResultURLs,
		OccurredAt: time.Now().UTC(),
	}
	if err := f.events.PublishJobEvent(ctx, event); err != nil {
		f.logger.Warn().Err(err).Str("job_id", job.ID).Msg("finalizer: publish terminal event failed")
	}
}

func storageKeyFor(job *domain.Job, d comfy.OutputDescriptor, idx int) string {
	name := strings.TrimSpace(d.Filename)
	if name == "" {
		name = fmt.Sprintf("output-%02d", idx+1)
	}
	return path.Join("generated", string(job.Type), job.ID, name)
}

func mimeForFilename(name string) string {
	switch strings.ToLower(path.Ext(strings.Split(name, "?")[0])) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	default:
		return "application/octet-stream"
	}
}

func unmarshalRaw(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}
