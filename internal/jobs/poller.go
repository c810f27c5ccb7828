package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"genserver/internal/comfy"
	"genserver/internal/domain"
	"genserver/internal/infra"
	"genserver/internal/metrics"
)

const (
	progressBase = 10
	progressCap  = 90

	backendErrorMessage = "generation failed on backend"
	noOutputsMessage    = "backend completed without outputs"
)

// Poller executes poll ticks for leased jobs. A tick is one pass over the
// backend's running queue and history log; the lease itself (ClaimDue)
// already recorded the attempt and last-checked timestamp, so a crashed
// worker leaves the job claimable by any other worker after the interval.
type Poller struct {
	jobs      domain.JobRepository
	backend   ComfyBackend
	finalizer *Finalizer
	logger    infra.Logger
}

// NewPoller constructs a poller over the queue backend.
func NewPoller(jobs domain.JobRepository, backend ComfyBackend, finalizer *Finalizer, logger infra.Logger) *Poller {
	return &Poller{
		jobs:      jobs,
		backend:   backend,
		finalizer: finalizer,
		logger:    logger,
	}
}

// Tick runs one poll cycle for a claimed job. It returns done=true when the
// job reached a terminal status. Network failures of individual steps are
// logged and swallowed; only a failure of the tick itself (panic or a store
// error) is returned, and the caller reschedules with backoff.
func (p *Poller) Tick(ctx context.Context, job *domain.Job) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll tick panicked: %v", r)
		}
	}()
	metrics.PollTicks.Inc()

	p.checkQueue(ctx, job)

	matched, terminal, tickErr := p.checkHistory(ctx, job)
	if tickErr != nil {
		return false, tickErr
	}
	if matched {
		return terminal, nil
	}

	if job.Attempts >= job.MaxAttempts {
		msg := fmt.Sprintf(
			"generation timed out after %d status checks; the backend may still be processing the work",
			job.Attempts,
		)
		p.failJob(ctx, job, msg, "timeout")
		return true, nil
	}
	return false, nil
}

// checkQueue bumps progress when the job's correlation id is in the running
// queue. The formula min(base+attempts, cap) keeps progress monotone and
// bounded below 100 until real completion.
func (p *Poller) checkQueue(ctx context.Context, job *domain.Job) {
	running, err := p.backend.RunningPromptIDs(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("poller: queue check failed")
		return
	}
	for _, id := range running {
		if id != "" && id == job.PromptID {
			progress := progressBase + job.Attempts
			if progress > progressCap {
				progress = progressCap
			}
			if _, err := p.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
				p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("poller: progress update failed")
			}
			return
		}
	}
}

// checkHistory looks for the job in the backend's resolved log. The match is
// tried against three candidate fields because backend versions expose the
// correlation differently: the history key, the entry's own prompt id, and
// the client id the submitter embedded.
func (p *Poller) checkHistory(ctx context.Context, job *domain.Job) (matched, terminal bool, err error) {
	history, herr := p.backend.History(ctx)
	if herr != nil {
		p.logger.Warn().Err(herr).Str("job_id", job.ID).Msg("poller: history check failed")
		return false, false, nil
	}
	key, entry, ok := matchHistoryEntry(history, job)
	if !ok {
		return false, false, nil
	}

	if entry.Status.StatusStr == "error" {
		p.failJob(ctx, job, backendErrorMessage, "backend_error")
		return true, true, nil
	}

	descriptors := entry.Descriptors()
	if len(descriptors) == 0 {
		p.failJob(ctx, job, noOutputsMessage, "backend_error")
		return true, true, nil
	}

	p.logger.Info().Str("job_id", job.ID).Str("history_key", key).Int("outputs", len(descriptors)).Msg("poller: job resolved")
	if err := p.finalizer.FinalizeComfy(ctx, job, descriptors); err != nil {
		return true, true, err
	}
	return true, true, nil
}

func (p *Poller) failJob(ctx context.Context, job *domain.Job, msg, reason string) {
	p.finalizer.Fail(ctx, job, msg, reason)
}

func matchHistoryEntry(history map[string]comfy.HistoryEntry, job *domain.Job) (string, comfy.HistoryEntry, bool) {
	if job.PromptID != "" {
		if entry, ok := history[job.PromptID]; ok {
			return job.PromptID, entry, true
		}
	}
	for key, entry := range history {
		if entry.ClientID() == job.ID {
			return key, entry, true
		}
		if job.PromptID != "" && entryPromptID(entry) == job.PromptID {
			return key, entry, true
		}
	}
	return "", comfy.HistoryEntry{}, false
}

// entryPromptID reads the prompt id stored inside the entry's positional
// prompt tuple (index 1).
func entryPromptID(entry comfy.HistoryEntry) string {
	if len(entry.Prompt) < 2 {
		return ""
	}
	var id string
	if err := unmarshalRaw(entry.Prompt[1], &id); err != nil {
		return ""
	}
	return id
}

// RunWorker claims due jobs in a loop until ctx is done. Each claim yields
// exactly one tick; a tick error reschedules with one extra second of
// backoff on top of the poll interval.
func RunWorker(ctx context.Context, jobs domain.JobRepository, poller *Poller, interval time.Duration, logger infra.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := jobs.ClaimDue(ctx, domain.BackendComfy, interval)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			if !errors.Is(err, domain.ErrNoJobAvailable) {
				logger.Error().Err(err).Msg("worker: claim failed")
			}
			sleepCtx(ctx, interval)
			continue
		}

		done, tickErr := poller.Tick(ctx, job)
		if tickErr != nil {
			logger.Error().Err(tickErr).Str("job_id", job.ID).Msg("worker: tick failed, backing off")
			sleepCtx(ctx, time.Second)
			continue
		}
		if done {
			logger.Info().Str("job_id", job.ID).Msg("worker: job reached terminal state")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
